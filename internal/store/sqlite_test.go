package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rcliao/memkeeper/internal/embedding"
	"github.com/rcliao/memkeeper/internal/model"
)

func newTestStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"), opts...)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr(f float64) *float64 { return &f }

func TestWriteAndRead(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec, err := s.Write(ctx, WriteParams{Content: "the deploy runs nightly", MemoryType: model.TypeFact})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if rec.Revision != 1 {
		t.Errorf("expected revision 1, got %d", rec.Revision)
	}
	if rec.ID == "" {
		t.Error("expected generated ID")
	}
	if rec.Importance != 0.65 {
		t.Errorf("expected profile importance 0.65, got %v", rec.Importance)
	}

	got, err := s.Read(ctx, rec.ID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Content != "the deploy runs nightly" {
		t.Errorf("unexpected content %q", got.Content)
	}

	got2, _ := s.Peek(ctx, rec.ID)
	if got2.AccessCount != 1 {
		t.Errorf("expected access_count 1 after one read, got %d", got2.AccessCount)
	}
}

func TestWriteAppendsRevisions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, _ := s.Write(ctx, WriteParams{ID: "k", Content: "v1"})
	second, err := s.Write(ctx, WriteParams{ID: "k", Content: "v2"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if second.Revision != 2 {
		t.Errorf("expected revision 2, got %d", second.Revision)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Error("created_at must be kept across revisions")
	}

	got, _ := s.Read(ctx, "k")
	if got.Content != "v2" {
		t.Errorf("expected 'v2', got %q", got.Content)
	}

	hist, err := s.History(ctx, "k")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(hist))
	}
	if hist[0].Content != "v2" || hist[1].Content != "v1" {
		t.Errorf("expected newest first, got %q then %q", hist[0].Content, hist[1].Content)
	}
}

func TestWriteValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	cases := []struct {
		name string
		p    WriteParams
	}{
		{"empty content", WriteParams{Content: "  "}},
		{"unknown type", WriteParams{Content: "x", MemoryType: "gossip"}},
		{"importance above one", WriteParams{Content: "x", Importance: ptr(1.5)}},
		{"negative importance", WriteParams{Content: "x", Importance: ptr(-0.1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Write(ctx, tc.p)
			if !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("expected ErrInvalidRecord, got %v", err)
			}
		})
	}

	st, _ := s.Stats(ctx)
	if st.TotalRevisions != 0 {
		t.Errorf("expected nothing persisted, got %d revisions", st.TotalRevisions)
	}
}

func TestIdentityTypeSetsFlag(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec, _ := s.Write(ctx, WriteParams{Content: "I am the release bot", MemoryType: model.TypeIdentity})
	if !rec.IsIdentity {
		t.Error("identity type must set is_identity")
	}
	if rec.Importance != 1.0 {
		t.Errorf("expected identity importance 1.0, got %v", rec.Importance)
	}
}

func TestSoftDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Write(ctx, WriteParams{ID: "gone", Content: "temporary"})

	if err := s.SoftDelete(ctx, "gone", ""); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if _, err := s.Read(ctx, "gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// second delete is a no-op
	if err := s.SoftDelete(ctx, "gone", model.DeletedPruned); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
	hist, _ := s.History(ctx, "gone")
	if len(hist) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(hist))
	}
	if !hist[0].SoftDeleted || hist[0].DeletedReason != model.DeletedManual {
		t.Errorf("expected manual soft delete, got deleted=%v reason=%q", hist[0].SoftDeleted, hist[0].DeletedReason)
	}
	if hist[1].SoftDeleted {
		t.Error("original revision must be untouched")
	}

	if err := s.SoftDelete(ctx, "never-existed", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	s.Write(ctx, WriteParams{ID: "kept", Content: "still here"})
	if err := s.SoftDelete(ctx, "kept", "bored"); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("expected ErrInvalidRecord for unknown reason, got %v", err)
	}
	if _, err := s.Peek(ctx, "kept"); err != nil {
		t.Errorf("record must survive a rejected delete: %v", err)
	}
}

func TestWriteRevivesDeleted(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Write(ctx, WriteParams{ID: "r", Content: "one"})
	s.SoftDelete(ctx, "r", "")
	rec, err := s.Write(ctx, WriteParams{ID: "r", Content: "two"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if rec.Revision != 3 {
		t.Errorf("expected revision 3, got %d", rec.Revision)
	}
	if _, err := s.Read(ctx, "r"); err != nil {
		t.Errorf("expected revived record, got %v", err)
	}
}

func TestAppendRevision(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec, _ := s.Write(ctx, WriteParams{ID: "a", Content: "x", Importance: ptr(0.5)})
	rec.Importance = 0.4
	next, err := s.AppendRevision(ctx, *rec)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if next.Revision != 2 || next.Importance != 0.4 {
		t.Errorf("unexpected revision %d importance %v", next.Revision, next.Importance)
	}

	rec.Importance = 2
	if _, err := s.AppendRevision(ctx, *rec); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("expected ErrInvalidRecord, got %v", err)
	}
	if _, err := s.AppendRevision(ctx, model.Record{ID: "missing", Content: "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendRevisionConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	stale, _ := s.Write(ctx, WriteParams{ID: "a", Content: "original", Importance: ptr(0.5)})
	if _, err := s.Write(ctx, WriteParams{ID: "a", Content: "rewritten", Importance: ptr(0.5)}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	stale.Importance = 0.4
	if _, err := s.AppendRevision(ctx, *stale); !errors.Is(err, ErrRevisionConflict) {
		t.Fatalf("expected ErrRevisionConflict for stale base, got %v", err)
	}
	latest, _ := s.Peek(ctx, "a")
	if latest.Revision != 2 || latest.Content != "rewritten" {
		t.Errorf("stale append must not land, got revision %d content %q", latest.Revision, latest.Content)
	}

	if err := s.SoftDelete(ctx, "a", model.DeletedManual); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	hist, _ := s.History(ctx, "a")
	deleted := hist[0]
	deleted.SoftDeleted = false
	if _, err := s.AppendRevision(ctx, deleted); !errors.Is(err, ErrRevisionConflict) {
		t.Fatalf("expected ErrRevisionConflict for deleted base, got %v", err)
	}
	if _, err := s.Peek(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted record must stay deleted, got %v", err)
	}
}

func TestWriteStoresEmbedding(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec, err := s.Write(ctx, WriteParams{ID: "e", Content: "deploy checklist", Tags: []string{"ops"}})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if rec.EmbeddingSource != embedding.SourceHash || len(rec.Embedding) != embedding.DefaultDimensions {
		t.Fatalf("unexpected embedding source %q len %d", rec.EmbeddingSource, len(rec.Embedding))
	}

	got, _ := s.Peek(ctx, "e")
	want := embedding.Hash("deploy checklist ops", embedding.DefaultDimensions)
	if embedding.CosineSimilarity(got.Embedding, want) < 0.999 {
		t.Errorf("stored embedding does not match search text")
	}

	got.Importance = 0.3
	next, err := s.AppendRevision(ctx, *got)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(next.Embedding) != embedding.DefaultDimensions || next.EmbeddingSource != embedding.SourceHash {
		t.Errorf("maintenance revision must keep the embedding")
	}
}

func TestCorruptRowsSurfaceErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Write(ctx, WriteParams{ID: "tags", Content: "x", Tags: []string{"a"}})
	s.Write(ctx, WriteParams{ID: "clock", Content: "y"})
	if _, err := s.db.ExecContext(ctx, `UPDATE memory_revisions SET tags = '{not json' WHERE id = 'tags'`); err != nil {
		t.Fatalf("corrupt tags: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE memory_revisions SET created_at = 'yesterday' WHERE id = 'clock'`); err != nil {
		t.Fatalf("corrupt created_at: %v", err)
	}

	if _, err := s.Peek(ctx, "tags"); err == nil {
		t.Error("expected malformed tags to be reported")
	}
	if _, err := s.Peek(ctx, "clock"); err == nil {
		t.Error("expected malformed timestamp to be reported")
	}
	if _, err := s.List(ctx, ListParams{}); err == nil {
		t.Error("expected list to report the corrupt rows")
	}
}

func TestTouchUpdatesLastTouched(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newTestStore(t, WithClock(func() time.Time { return clock }))

	s.Write(ctx, WriteParams{ID: "t", Content: "x"})
	clock = clock.Add(48 * time.Hour)
	if err := s.Touch(ctx, "t"); err != nil {
		t.Fatalf("touch: %v", err)
	}

	got, _ := s.Peek(ctx, "t")
	if !got.LastTouchedAt.Equal(clock) {
		t.Errorf("expected last touched %v, got %v", clock, got.LastTouchedAt)
	}
	if got.UpdatedAt.Equal(clock) {
		t.Error("touch must not create a revision")
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Write(ctx, WriteParams{ID: "a", Content: "a", MemoryType: model.TypeGoal, Tags: []string{"q3"}})
	s.Write(ctx, WriteParams{ID: "b", Content: "b", MemoryType: model.TypeFact})
	s.Write(ctx, WriteParams{ID: "c", Content: "c", MemoryType: model.TypeFact, Tags: []string{"q3"}})
	s.SoftDelete(ctx, "b", "")

	all, _ := s.List(ctx, ListParams{})
	if len(all) != 2 {
		t.Errorf("expected 2 active, got %d", len(all))
	}

	withDeleted, _ := s.List(ctx, ListParams{IncludeDeleted: true})
	if len(withDeleted) != 3 {
		t.Errorf("expected 3 including deleted, got %d", len(withDeleted))
	}

	facts, _ := s.List(ctx, ListParams{MemoryType: model.TypeFact})
	if len(facts) != 1 || facts[0].ID != "c" {
		t.Errorf("expected only c, got %+v", facts)
	}

	tagged, _ := s.List(ctx, ListParams{Tags: []string{"q3"}})
	if len(tagged) != 2 {
		t.Errorf("expected 2 tagged, got %d", len(tagged))
	}
}

func TestCheckpoints(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ok, err := s.HasCheckpoint(ctx, "ingestion:chunk:abc")
	if err != nil || ok {
		t.Fatalf("expected no checkpoint, got %v %v", ok, err)
	}

	cp := model.Checkpoint{Key: "ingestion:chunk:abc", Digest: "abc", SourcePath: "/tmp/f.txt", ChunkIndex: 0}
	if err := s.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("save: %v", err)
	}
	cp.Digest = "abc2"
	if err := s.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("save again: %v", err)
	}

	ok, _ = s.HasCheckpoint(ctx, "ingestion:chunk:abc")
	if !ok {
		t.Error("expected checkpoint to exist")
	}
	cps, _ := s.Checkpoints(ctx, "/tmp/f.txt")
	if len(cps) != 1 {
		t.Fatalf("expected 1 checkpoint, got %d", len(cps))
	}
	if cps[0].Digest != "abc2" || cps[0].Status != model.CheckpointIngested {
		t.Errorf("expected last writer to win, got %+v", cps[0])
	}
}

func TestSnapshotExcludesDeleted(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Write(ctx, WriteParams{ID: "a", Content: "a"})
	s.Write(ctx, WriteParams{ID: "b", Content: "b", Relations: []RelationInput{{TargetID: "a"}}})
	s.Write(ctx, WriteParams{ID: "c", Content: "c"})
	s.SoftDelete(ctx, "c", "")

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Records) != 2 {
		t.Fatalf("expected 2 active records, got %d", len(snap.Records))
	}
	if snap.Records[0].ID != "a" || snap.Records[1].ID != "b" {
		t.Errorf("expected records ordered by id, got %s %s", snap.Records[0].ID, snap.Records[1].ID)
	}
	if len(snap.Edges) != 1 {
		t.Errorf("expected 1 edge, got %d", len(snap.Edges))
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Write(ctx, WriteParams{ID: "a", Content: "a", MemoryType: model.TypeGoal})
	s.Write(ctx, WriteParams{ID: "a", Content: "a2", MemoryType: model.TypeGoal})
	s.Write(ctx, WriteParams{ID: "b", Content: "b", Relations: []RelationInput{{TargetID: "a"}}})
	s.SoftDelete(ctx, "b", "")

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalRevisions != 4 || st.TotalRecords != 2 || st.ActiveRecords != 1 || st.DeletedRecords != 1 {
		t.Errorf("unexpected counts %+v", st)
	}
	if st.Relations != 1 {
		t.Errorf("expected 1 relation, got %d", st.Relations)
	}
	if len(st.ByType) != 1 || st.ByType[0].MemoryType != "goal" {
		t.Errorf("unexpected type stats %+v", st.ByType)
	}
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)

	src.Write(ctx, WriteParams{ID: "a", Content: "alpha", MemoryType: model.TypeDecision, Tags: []string{"x"}})
	src.Write(ctx, WriteParams{ID: "b", Content: "beta", Relations: []RelationInput{{TargetID: "a", Kind: model.RelDependsOn, Weight: 0.5}}})
	src.Write(ctx, WriteParams{ID: "c", Content: "gamma"})
	src.SoftDelete(ctx, "c", "")

	exp, err := src.ExportAll(ctx, "")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(exp.Records) != 2 || len(exp.Relations) != 1 {
		t.Fatalf("expected 2 records and 1 relation, got %d and %d", len(exp.Records), len(exp.Relations))
	}

	dst := newTestStore(t)
	res, err := dst.Import(ctx, exp)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Records != 2 || res.Relations != 1 {
		t.Errorf("unexpected import result %+v", res)
	}

	got, _ := dst.Peek(ctx, "a")
	if got.MemoryType != model.TypeDecision || got.Importance != 0.85 {
		t.Errorf("expected type and importance preserved, got %s %v", got.MemoryType, got.Importance)
	}
	rels, _ := dst.Relations(ctx, "b")
	if len(rels) != 1 || rels[0].Weight != 0.5 {
		t.Errorf("expected imported weighted edge, got %+v", rels)
	}
}
