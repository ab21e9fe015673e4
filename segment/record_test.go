package segment

import (
	"context"
	"testing"

	"github.com/vekterdb/corekv/blockfile"
	"github.com/vekterdb/corekv/materialize"
	"github.com/vekterdb/corekv/objectstore"
)

func newTestProvider(t *testing.T) *blockfile.Provider {
	t.Helper()
	store, err := objectstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return blockfile.NewProvider(store, blockfile.DefaultProviderConfig)
}

func strp(s string) *string { return &s }

func TestRecordSegmentEmptySegmentOpensAndCommits(t *testing.T) {
	ctx := context.Background()
	provider := newTestProvider(t)

	seg, err := OpenRecordSegment(ctx, provider, RecordSegmentPaths{}, "rec1", 1<<16)
	if err != nil {
		t.Fatalf("OpenRecordSegment: %v", err)
	}
	max, err := seg.MaxOffsetID(ctx)
	if err != nil {
		t.Fatalf("MaxOffsetID: %v", err)
	}
	if max != 0 {
		t.Fatalf("MaxOffsetID on empty segment = %d, want 0", max)
	}

	w, err := seg.NewWriter(ctx)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Apply([]materialize.MaterializedLogRecord{
		{OffsetID: 0, UserID: "u1", FinalOperation: materialize.OpAdd, Embedding: []float32{1, 2}, Document: strp("doc1")},
	})
	paths, err := w.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if paths.UserToOffsetRootID == "" || paths.OffsetToUserRootID == "" || paths.OffsetToRecordRootID == "" {
		t.Fatalf("expected all three roots published, got %+v", paths)
	}
}

func TestRecordSegmentLookupRoundTrip(t *testing.T) {
	ctx := context.Background()
	provider := newTestProvider(t)

	seg, err := OpenRecordSegment(ctx, provider, RecordSegmentPaths{}, "rec2", 1<<16)
	if err != nil {
		t.Fatalf("OpenRecordSegment: %v", err)
	}
	w, err := seg.NewWriter(ctx)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Apply([]materialize.MaterializedLogRecord{
		{OffsetID: 0, UserID: "alice", FinalOperation: materialize.OpAdd, Embedding: []float32{1, 2, 3}, Document: strp("hello")},
		{OffsetID: 1, UserID: "bob", FinalOperation: materialize.OpAdd, Embedding: []float32{4, 5, 6}},
	})
	paths, err := w.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	seg2, err := OpenRecordSegment(ctx, provider, paths, "rec2", 1<<16)
	if err != nil {
		t.Fatalf("OpenRecordSegment (reopen): %v", err)
	}
	offsetID, rec, found, err := seg2.Lookup(ctx, "alice")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !found || offsetID != 0 || rec.Embedding[0] != 1 || *rec.Document != "hello" {
		t.Fatalf("unexpected lookup result: offsetID=%d found=%v rec=%+v", offsetID, found, rec)
	}

	_, _, found, err = seg2.Lookup(ctx, "nobody")
	if err != nil {
		t.Fatalf("Lookup(nobody): %v", err)
	}
	if found {
		t.Fatalf("expected nobody to be absent")
	}

	max, err := seg2.MaxOffsetID(ctx)
	if err != nil {
		t.Fatalf("MaxOffsetID: %v", err)
	}
	if max != 2 {
		t.Fatalf("MaxOffsetID = %d, want 2", max)
	}
}

func TestRecordSegmentDeleteRemovesAllThreeEntries(t *testing.T) {
	ctx := context.Background()
	provider := newTestProvider(t)

	seg, err := OpenRecordSegment(ctx, provider, RecordSegmentPaths{}, "rec3", 1<<16)
	if err != nil {
		t.Fatalf("OpenRecordSegment: %v", err)
	}
	w, err := seg.NewWriter(ctx)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Apply([]materialize.MaterializedLogRecord{
		{OffsetID: 0, UserID: "alice", FinalOperation: materialize.OpAdd, Embedding: []float32{1}},
	})
	paths, err := w.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	seg2, err := OpenRecordSegment(ctx, provider, paths, "rec3", 1<<16)
	if err != nil {
		t.Fatalf("OpenRecordSegment (reopen): %v", err)
	}
	w2, err := seg2.NewWriter(ctx)
	if err != nil {
		t.Fatalf("NewWriter (2): %v", err)
	}
	w2.Apply([]materialize.MaterializedLogRecord{
		{OffsetID: 0, UserID: "alice", FinalOperation: materialize.OpDelete, DeleteExisting: true},
	})
	paths2, err := w2.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit (2): %v", err)
	}

	seg3, err := OpenRecordSegment(ctx, provider, paths2, "rec3", 1<<16)
	if err != nil {
		t.Fatalf("OpenRecordSegment (reopen 2): %v", err)
	}
	_, _, found, err := seg3.Lookup(ctx, "alice")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if found {
		t.Fatalf("expected alice removed after delete")
	}

	entries, err := blockfile.NewReader(provider, mustRoot(ctx, t, provider, paths2.OffsetToUserRootID)).ScanPrefix(ctx, "")
	if err != nil {
		t.Fatalf("ScanPrefix offsetToUser: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected offset_to_user empty after delete, got %d entries", len(entries))
	}
}

func mustRoot(ctx context.Context, t *testing.T, provider *blockfile.Provider, rootID string) *blockfile.Root {
	t.Helper()
	root, err := provider.GetRoot(ctx, rootID)
	if err != nil {
		t.Fatalf("GetRoot(%s): %v", rootID, err)
	}
	return root
}
