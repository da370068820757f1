package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend stores records in a single-table SQLite database. Relevance
// ranking is computed in Go at read time (the decay model needs pow, which
// the driver does not expose as a SQL function everywhere).
type SQLiteBackend struct {
	db    *sql.DB
	alpha float64 // relevance blend weight for decayed confidence
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS memories (
	id            TEXT NOT NULL,
	key           TEXT PRIMARY KEY,
	content       TEXT NOT NULL,
	kind          TEXT NOT NULL,
	tier          TEXT NOT NULL,
	origin        TEXT NOT NULL DEFAULT '',
	context_id    TEXT NOT NULL DEFAULT '',
	tool_tag      TEXT NOT NULL DEFAULT '',
	confidence    REAL NOT NULL DEFAULT 1.0,
	created_at    INTEGER NOT NULL,
	last_accessed INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_memories_kind ON memories(kind);
`

// NewSQLiteBackend opens (creating if needed) the database at path.
// alpha is the CombinedRelevance blend weight; 0 defaults to 0.7.
func NewSQLiteBackend(path string, alpha float64) (*SQLiteBackend, error) {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.7
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init memory schema: %w", err)
	}
	return &SQLiteBackend{db: db, alpha: alpha}, nil
}

// Close closes the underlying database.
func (b *SQLiteBackend) Close() error { return b.db.Close() }

// Store inserts or replaces a record by key.
func (b *SQLiteBackend) Store(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	var accessed int64
	if !rec.LastAccessed.IsZero() {
		accessed = rec.LastAccessed.UnixNano()
	}
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO memories (id, key, content, kind, tier, origin, context_id, tool_tag, confidence, created_at, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			id = excluded.id,
			content = excluded.content,
			kind = excluded.kind,
			tier = excluded.tier,
			origin = excluded.origin,
			context_id = excluded.context_id,
			tool_tag = excluded.tool_tag,
			confidence = excluded.confidence,
			last_accessed = excluded.last_accessed
	`, rec.ID, rec.Key, rec.Content, string(rec.Kind), string(rec.Tier),
		rec.Source.Origin, rec.Source.ContextID, rec.Source.ToolTag,
		rec.Confidence, created.UnixNano(), accessed)
	if err != nil {
		return fmt.Errorf("store memory: %w", err)
	}
	return nil
}

// List returns all records, most relevant first.
func (b *SQLiteBackend) List(ctx context.Context) ([]*Record, error) {
	return b.query(ctx, `SELECT id, key, content, kind, tier, origin, context_id, tool_tag, confidence, created_at, last_accessed FROM memories`)
}

// Count returns the number of stored records.
func (b *SQLiteBackend) Count(ctx context.Context) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return n, nil
}

// Recall returns up to limit records matching the query on key or content,
// most relevant first. A touched record's last_accessed is updated.
func (b *SQLiteBackend) Recall(ctx context.Context, query string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 10
	}
	like := "%" + query + "%"
	recs, err := b.query(ctx, `
		SELECT id, key, content, kind, tier, origin, context_id, tool_tag, confidence, created_at, last_accessed
		FROM memories WHERE key LIKE ? OR content LIKE ?`, like, like)
	if err != nil {
		return nil, err
	}
	if len(recs) > limit {
		recs = recs[:limit]
	}
	now := time.Now().UnixNano()
	for _, rec := range recs {
		_, _ = b.db.ExecContext(ctx, `UPDATE memories SET last_accessed = ? WHERE key = ?`, now, rec.Key)
	}
	return recs, nil
}

// Forget deletes a record by key.
func (b *SQLiteBackend) Forget(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM memories WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("forget memory: %w", err)
	}
	return nil
}

// PruneEphemeral removes ephemeral records whose effective confidence has
// decayed to the floor. Returns the number pruned.
func (b *SQLiteBackend) PruneEphemeral(ctx context.Context, now time.Time) (int, error) {
	recs, err := b.query(ctx, `
		SELECT id, key, content, kind, tier, origin, context_id, tool_tag, confidence, created_at, last_accessed
		FROM memories WHERE tier = ?`, string(TierEphemeral))
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, rec := range recs {
		elapsed := now.Sub(rec.CreatedAt).Hours()
		if EffectiveConfidence(rec.Kind, rec.Tier, rec.Confidence, elapsed) <= decayFloor+1e-9 {
			if err := b.Forget(ctx, rec.Key); err != nil {
				return pruned, err
			}
			pruned++
		}
	}
	return pruned, nil
}

func (b *SQLiteBackend) query(ctx context.Context, stmt string, args ...any) ([]*Record, error) {
	rows, err := b.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		var rec Record
		var kind, tier string
		var created, accessed int64
		if err := rows.Scan(&rec.ID, &rec.Key, &rec.Content, &kind, &tier,
			&rec.Source.Origin, &rec.Source.ContextID, &rec.Source.ToolTag,
			&rec.Confidence, &created, &accessed); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		rec.Kind = RecordKind(kind)
		rec.Tier = Tier(tier)
		rec.CreatedAt = time.Unix(0, created)
		if accessed > 0 {
			rec.LastAccessed = time.Unix(0, accessed)
		}
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	b.rank(recs, time.Now())
	return recs, nil
}

// rank orders records by combined relevance descending. Recency uses the
// record's own kind/tier half-life against last access (or creation when
// never accessed).
func (b *SQLiteBackend) rank(recs []*Record, now time.Time) {
	score := func(rec *Record) float64 {
		hl := DefaultHalfLife(rec.Kind) * TierMultiplier(rec.Tier)
		decayed := DecayConfidence(rec.Confidence, now.Sub(rec.CreatedAt).Hours(), hl)
		touched := rec.LastAccessed
		if touched.IsZero() {
			touched = rec.CreatedAt
		}
		recency := RecencyScore(now.Sub(touched).Hours(), hl)
		return CombinedRelevance(decayed, recency, b.alpha)
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return score(recs[i]) > score(recs[j])
	})
}
