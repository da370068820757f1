package peersync

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/nullclaw/internal/memory"
)

func snapshotBackend(t *testing.T) *memory.SQLiteBackend {
	t.Helper()
	b, err := memory.NewSQLiteBackend(filepath.Join(t.TempDir(), "mem.db"), 0.7)
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func seedRecord(t *testing.T, b *memory.SQLiteBackend, key, content string, kind memory.RecordKind) {
	t.Helper()
	err := b.Store(context.Background(), &memory.Record{
		ID:         "id-" + key,
		Key:        key,
		Content:    content,
		Kind:       kind,
		Tier:       memory.TierStandard,
		Source:     memory.Source{Origin: "test", ContextID: "ctx-1"},
		Confidence: 0.8,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("seed %s: %v", key, err)
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := snapshotBackend(t)
	seedRecord(t, src, "lang", "prefers Go", memory.KindSemantic)
	seedRecord(t, src, "deploy", "make release", memory.KindProcedural)
	seedRecord(t, src, "lunch", "had soup", memory.KindEpisodic)

	snap, err := ExportHubSnapshot(ctx, src, "huginn", 1700000000000)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if snap.Meta.Format != SnapshotFormatMagic || snap.Meta.SchemaVersion != SchemaVersion {
		t.Fatalf("meta = %+v", snap.Meta)
	}
	if snap.Meta.EntryCount != 3 || len(snap.Entries) != 3 {
		t.Fatalf("entry count = %d/%d", snap.Meta.EntryCount, len(snap.Entries))
	}

	data, err := snap.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	dst := snapshotBackend(t)
	report, err := ImportHubSnapshot(ctx, dst, data)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Imported != 3 || report.Skipped != 0 || report.Rejected {
		t.Fatalf("report = %+v", report)
	}

	// Content and categories preserved.
	recs, err := dst.List(ctx)
	if err != nil || len(recs) != 3 {
		t.Fatalf("list: %v (%d)", err, len(recs))
	}
	byKey := map[string]*memory.Record{}
	for _, r := range recs {
		byKey[r.Key] = r
	}
	if byKey["lang"] == nil || byKey["lang"].Content != "prefers Go" || byKey["lang"].Kind != memory.KindSemantic {
		t.Fatalf("lang = %+v", byKey["lang"])
	}
	if byKey["deploy"].Kind != memory.KindProcedural {
		t.Fatalf("deploy kind = %s", byKey["deploy"].Kind)
	}
	if byKey["lang"].Source.Origin != "test" || byKey["lang"].Source.ContextID != "ctx-1" {
		t.Fatalf("source not preserved: %+v", byKey["lang"].Source)
	}
}

func TestImport_WrongMagicRejected(t *testing.T) {
	dst := snapshotBackend(t)
	snap := &Snapshot{
		Meta: SnapshotMeta{SchemaVersion: SchemaVersion, Format: "wrong", SourceNode: "x", CreatedAt: 1, EntryCount: 0},
	}
	data, _ := json.Marshal(snap)

	report, err := ImportHubSnapshot(context.Background(), dst, data)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !report.Rejected || report.Imported != 0 || report.Skipped != 0 {
		t.Fatalf("report = %+v", report)
	}
}

func TestImport_WrongVersionReported(t *testing.T) {
	dst := snapshotBackend(t)
	snap := &Snapshot{
		Meta: SnapshotMeta{SchemaVersion: 99, Format: SnapshotFormatMagic, SourceNode: "x", CreatedAt: 1, EntryCount: 0},
	}
	data, _ := json.Marshal(snap)

	report, err := ImportHubSnapshot(context.Background(), dst, data)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !report.Rejected || report.Imported != 0 || report.Skipped != 0 {
		t.Fatalf("report = %+v", report)
	}
	if report.SchemaVersion != 99 {
		t.Fatalf("schema version reported = %d, want 99 (as received)", report.SchemaVersion)
	}
}

func TestImport_MalformedEntriesSkipped(t *testing.T) {
	dst := snapshotBackend(t)
	snap := &Snapshot{
		Meta: SnapshotMeta{SchemaVersion: SchemaVersion, Format: SnapshotFormatMagic, SourceNode: "x", CreatedAt: 1, EntryCount: 4},
		Entries: []SnapshotEntry{
			{Key: "good", Content: "ok", Category: "semantic", Tier: "standard", Confidence: 0.5},
			{Key: "", Content: "no key", Category: "semantic", Confidence: 0.5},
			{Key: "badkind", Content: "x", Category: "vibes", Confidence: 0.5},
			{Key: "badconf", Content: "x", Category: "episodic", Confidence: 7},
		},
	}
	data, _ := json.Marshal(snap)

	report, err := ImportHubSnapshot(context.Background(), dst, data)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Imported != 1 || report.Skipped != 3 || report.Rejected {
		t.Fatalf("report = %+v", report)
	}
}

func TestImport_NonDocumentRejected(t *testing.T) {
	dst := snapshotBackend(t)
	if _, err := ImportHubSnapshot(context.Background(), dst, []byte(`"just a string"`)); err == nil {
		t.Fatal("non-object accepted")
	}
	if _, err := ImportHubSnapshot(context.Background(), dst, []byte(`{"entries": []}`)); err == nil {
		t.Fatal("missing meta accepted")
	}
	if _, err := ImportHubSnapshot(context.Background(), dst, []byte("{garbage")); err == nil {
		t.Fatal("garbage accepted")
	}
}

func TestImport_EmptyTierDefaultsStandard(t *testing.T) {
	dst := snapshotBackend(t)
	snap := &Snapshot{
		Meta: SnapshotMeta{SchemaVersion: SchemaVersion, Format: SnapshotFormatMagic, SourceNode: "x", CreatedAt: 1, EntryCount: 1},
		Entries: []SnapshotEntry{
			{Key: "tierless", Content: "x", Category: "semantic", Confidence: 0.5},
		},
	}
	data, _ := json.Marshal(snap)
	report, err := ImportHubSnapshot(context.Background(), dst, data)
	if err != nil || report.Imported != 1 {
		t.Fatalf("report = %+v err=%v", report, err)
	}
	recs, _ := dst.List(context.Background())
	if len(recs) != 1 || recs[0].Tier != memory.TierStandard {
		t.Fatalf("recs = %+v", recs)
	}
}
