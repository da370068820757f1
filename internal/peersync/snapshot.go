package peersync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/nullclaw/internal/memory"
)

// SnapshotFormatMagic identifies a hub snapshot document.
const SnapshotFormatMagic = "nullclaw-hub-snapshot"

// SnapshotMeta describes a hub snapshot.
type SnapshotMeta struct {
	SchemaVersion int    `json:"schema_version"`
	Format        string `json:"format"`
	SourceNode    string `json:"source_node"`
	CreatedAt     int64  `json:"created_at"`
	EntryCount    int    `json:"entry_count"`
}

// SnapshotEntry is one exported memory record. Category carries the record
// kind; tier, confidence and source metadata ride alongside.
type SnapshotEntry struct {
	Key        string  `json:"key"`
	Content    string  `json:"content"`
	Category   string  `json:"category"`
	Tier       string  `json:"tier"`
	Confidence float64 `json:"confidence"`
	Origin     string  `json:"origin,omitempty"`
	ContextID  string  `json:"context_id,omitempty"`
	ToolTag    string  `json:"tool_tag,omitempty"`
}

// Snapshot is the schema-versioned hub export exchanged between nodes.
type Snapshot struct {
	Meta    SnapshotMeta    `json:"meta"`
	Entries []SnapshotEntry `json:"entries"`
}

// snapshotSchemaJSON is the structural contract checked before import.
// Magic and version values are checked separately so their mismatches can
// be reported precisely.
const snapshotSchemaJSON = `{
	"type": "object",
	"required": ["meta", "entries"],
	"properties": {
		"meta": {
			"type": "object",
			"required": ["schema_version", "format", "source_node", "created_at", "entry_count"],
			"properties": {
				"schema_version": {"type": "integer"},
				"format": {"type": "string"},
				"source_node": {"type": "string"},
				"created_at": {"type": "integer"},
				"entry_count": {"type": "integer"}
			}
		},
		"entries": {"type": "array"}
	}
}`

var snapshotSchema = mustCompileSnapshotSchema()

func mustCompileSnapshotSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(snapshotSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("peersync: snapshot schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("snapshot.json", doc); err != nil {
		panic(fmt.Sprintf("peersync: snapshot schema: %v", err))
	}
	sch, err := c.Compile("snapshot.json")
	if err != nil {
		panic(fmt.Sprintf("peersync: snapshot schema: %v", err))
	}
	return sch
}

// ExportHubSnapshot serializes every memory record for transfer to a peer.
func ExportHubSnapshot(ctx context.Context, backend memory.Backend, sourceNode string, nowMS int64) (*Snapshot, error) {
	recs, err := backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("export snapshot: %w", err)
	}
	snap := &Snapshot{
		Meta: SnapshotMeta{
			SchemaVersion: SchemaVersion,
			Format:        SnapshotFormatMagic,
			SourceNode:    sourceNode,
			CreatedAt:     nowMS,
			EntryCount:    len(recs),
		},
	}
	for _, rec := range recs {
		snap.Entries = append(snap.Entries, SnapshotEntry{
			Key:        rec.Key,
			Content:    rec.Content,
			Category:   string(rec.Kind),
			Tier:       string(rec.Tier),
			Confidence: rec.Confidence,
			Origin:     rec.Source.Origin,
			ContextID:  rec.Source.ContextID,
			ToolTag:    rec.Source.ToolTag,
		})
	}
	return snap, nil
}

// Serialize renders the snapshot as JSON.
func (s *Snapshot) Serialize() ([]byte, error) {
	return json.Marshal(s)
}

// ImportReport summarizes an import attempt.
type ImportReport struct {
	Imported      int
	Skipped       int
	SchemaVersion int  // as received, whatever it was
	Rejected      bool // document-level rejection (magic/version/shape)
	Reason        string
}

// ImportHubSnapshot applies a snapshot document to the backend. Documents
// failing the structural schema, the format magic, or the schema version
// are rejected whole; malformed entries in an accepted document are counted
// in Skipped.
func ImportHubSnapshot(ctx context.Context, backend memory.Backend, data []byte) (ImportReport, error) {
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return ImportReport{Rejected: true, Reason: "not JSON"}, fmt.Errorf("import snapshot: %w", err)
	}
	if err := snapshotSchema.Validate(generic); err != nil {
		return ImportReport{Rejected: true, Reason: "schema validation failed"}, fmt.Errorf("import snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return ImportReport{Rejected: true, Reason: "malformed document"}, fmt.Errorf("import snapshot: %w", err)
	}

	report := ImportReport{SchemaVersion: snap.Meta.SchemaVersion}
	if snap.Meta.Format != SnapshotFormatMagic {
		report.Rejected = true
		report.Reason = fmt.Sprintf("bad format magic %q", snap.Meta.Format)
		return report, nil
	}
	if snap.Meta.SchemaVersion != SchemaVersion {
		report.Rejected = true
		report.Reason = fmt.Sprintf("unsupported schema version %d", snap.Meta.SchemaVersion)
		return report, nil
	}

	for _, entry := range snap.Entries {
		rec := entryToRecord(entry)
		if rec == nil {
			report.Skipped++
			continue
		}
		if err := backend.Store(ctx, rec); err != nil {
			report.Skipped++
			continue
		}
		report.Imported++
	}
	return report, nil
}

// entryToRecord converts one snapshot entry, or nil for a malformed one.
func entryToRecord(entry SnapshotEntry) *memory.Record {
	if entry.Key == "" {
		return nil
	}
	kind := memory.RecordKind(entry.Category)
	if !memory.ValidKind(kind) {
		return nil
	}
	tier := memory.Tier(entry.Tier)
	if entry.Tier == "" {
		tier = memory.TierStandard
	}
	if !memory.ValidTier(tier) {
		return nil
	}
	if entry.Confidence < 0 || entry.Confidence > 1 {
		return nil
	}
	return &memory.Record{
		ID:         uuid.NewString(),
		Key:        entry.Key,
		Content:    entry.Content,
		Kind:       kind,
		Tier:       tier,
		Confidence: entry.Confidence,
		Source: memory.Source{
			Origin:    entry.Origin,
			ContextID: entry.ContextID,
			ToolTag:   entry.ToolTag,
		},
		CreatedAt: time.Now(),
	}
}
