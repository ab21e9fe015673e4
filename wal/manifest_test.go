package wal

import (
	"context"
	"testing"

	"github.com/vekterdb/corekv/errs"
	"github.com/vekterdb/corekv/objectstore"
)

func recs(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte{byte(i)}
	}
	return out
}

func TestLogBootstrapIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, err := objectstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	l := NewLog(store, "log1", "writer-a", DefaultRolloverConfig)

	m1, _, err := l.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("first Bootstrap: %v", err)
	}
	m2, _, err := l.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	if m1.Writer != m2.Writer {
		t.Fatalf("expected the second Bootstrap to observe the first writer's manifest")
	}
}

func TestLogAppendSingleFragmentThenScan(t *testing.T) {
	ctx := context.Background()
	store, err := objectstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	l := NewLog(store, "log2", "writer-a", DefaultRolloverConfig)

	if err := l.Append(ctx, recs(3), 1000); err != nil {
		t.Fatalf("Append: %v", err)
	}

	m, _, err := l.loadManifest(ctx)
	if err != nil {
		t.Fatalf("loadManifest: %v", err)
	}
	if len(m.Fragments) != 1 {
		t.Fatalf("expected 1 fragment, got %d", len(m.Fragments))
	}
	if m.NextWriteTimestamp != 3 {
		t.Fatalf("expected NextWriteTimestamp 3, got %d", m.NextWriteTimestamp)
	}

	entries, err := ReadFragment(ctx, store, m.Fragments[0].Path)
	if err != nil {
		t.Fatalf("ReadFragment: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.LogOffset != uint64(i) {
			t.Fatalf("entry %d: expected LogOffset %d, got %d", i, i, e.LogOffset)
		}
	}
}

func TestLogAppendAccumulatesAcrossFragments(t *testing.T) {
	ctx := context.Background()
	store, err := objectstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	l := NewLog(store, "log3", "writer-a", DefaultRolloverConfig)

	if err := l.Append(ctx, recs(2), 100); err != nil {
		t.Fatalf("first Append: %v", err)
	}
	if err := l.Append(ctx, recs(5), 200); err != nil {
		t.Fatalf("second Append: %v", err)
	}

	m, _, err := l.loadManifest(ctx)
	if err != nil {
		t.Fatalf("loadManifest: %v", err)
	}
	if len(m.Fragments) != 2 {
		t.Fatalf("expected 2 fragments, got %d", len(m.Fragments))
	}
	if m.Fragments[1].Start != 2 {
		t.Fatalf("expected second fragment to start at offset 2, got %d", m.Fragments[1].Start)
	}
	if m.NextWriteTimestamp != 7 {
		t.Fatalf("expected NextWriteTimestamp 7, got %d", m.NextWriteTimestamp)
	}
}

func TestLogAppendContendedWritersBothSucceed(t *testing.T) {
	ctx := context.Background()
	store, err := objectstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	l := NewLog(store, "log4", "writer-a", DefaultRolloverConfig)
	if _, _, err := l.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	a := NewLog(store, "log4", "writer-a", DefaultRolloverConfig)
	b := NewLog(store, "log4", "writer-b", DefaultRolloverConfig)

	if err := a.Append(ctx, recs(1), 1); err != nil {
		t.Fatalf("writer a append: %v", err)
	}
	if err := b.Append(ctx, recs(1), 2); err != nil {
		t.Fatalf("writer b append: %v", err)
	}

	m, _, err := l.loadManifest(ctx)
	if err != nil {
		t.Fatalf("loadManifest: %v", err)
	}
	if len(m.Fragments) != 2 {
		t.Fatalf("expected both contended appends to land as distinct fragments, got %d", len(m.Fragments))
	}
	if m.NextWriteTimestamp != 2 {
		t.Fatalf("expected cumulative NextWriteTimestamp 2, got %d", m.NextWriteTimestamp)
	}
}

func TestLogAppendRollsUpOnThreshold(t *testing.T) {
	ctx := context.Background()
	store, err := objectstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	cfg := RolloverConfig{FragmentRolloverThreshold: 2, SnapshotRolloverThreshold: 16}
	l := NewLog(store, "log5", "writer-a", cfg)

	for i := 0; i < 3; i++ {
		if err := l.Append(ctx, recs(1), uint64(i)); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	m, _, err := l.loadManifest(ctx)
	if err != nil {
		t.Fatalf("loadManifest: %v", err)
	}
	if len(m.Snapshots) == 0 {
		t.Fatalf("expected a rollup to have produced at least one snapshot pointer")
	}
	if len(m.Fragments) >= 3 {
		t.Fatalf("expected rollup to have reduced the flat fragment count, got %d", len(m.Fragments))
	}

	doc, err := l.readSnapshot(ctx, m.Snapshots[0])
	if err != nil {
		t.Fatalf("readSnapshot: %v", err)
	}
	if len(doc.Fragments) == 0 {
		t.Fatalf("expected rolled-up snapshot to retain its absorbed fragment list")
	}
}

func TestLogCopyPrefixAndContinueAppending(t *testing.T) {
	ctx := context.Background()
	store, err := objectstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	src := NewLog(store, "log6-src", "writer-a", DefaultRolloverConfig)
	if err := src.Append(ctx, recs(4), 1); err != nil {
		t.Fatalf("Append: %v", err)
	}

	m, _, err := src.loadManifest(ctx)
	if err != nil {
		t.Fatalf("loadManifest: %v", err)
	}
	for _, f := range m.Fragments {
		dst := "log6-dst" + f.Path[len("log6-src"):]
		if err := store.Copy(ctx, f.Path, dst); err != nil {
			t.Fatalf("Copy fragment: %v", err)
		}
	}
	for i, f := range m.Fragments {
		m.Fragments[i].Path = "log6-dst" + f.Path[len("log6-src"):]
	}
	data, err := src.bytesOf(m)
	if err != nil {
		t.Fatalf("marshal rewritten manifest: %v", err)
	}
	if _, err := store.Put(ctx, manifestPath("log6-dst"), data, objectstore.Options{Mode: objectstore.IfNotExists}); err != nil {
		t.Fatalf("Put copied manifest: %v", err)
	}

	dst := NewLog(store, "log6-dst", "writer-a", DefaultRolloverConfig)
	if err := dst.Append(ctx, recs(2), 2); err != nil {
		t.Fatalf("Append to copied log: %v", err)
	}

	final, _, err := dst.loadManifest(ctx)
	if err != nil {
		t.Fatalf("loadManifest on copy: %v", err)
	}
	if final.NextWriteTimestamp != 6 {
		t.Fatalf("expected copied log to continue from offset 4, got NextWriteTimestamp=%d", final.NextWriteTimestamp)
	}
}

func TestLogGCRefusesWithoutCursors(t *testing.T) {
	ctx := context.Background()
	store, err := objectstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	l := NewLog(store, "log7", "writer-a", DefaultRolloverConfig)
	if err := l.Append(ctx, recs(1), 1); err != nil {
		t.Fatalf("Append: %v", err)
	}

	_, err = l.GC(ctx)
	if errs.KindOf(err) != errs.KindNoSuchCursor {
		t.Fatalf("expected KindNoSuchCursor, got %v", err)
	}
}

func TestLogGCReclaimsBelowSlowestCursor(t *testing.T) {
	ctx := context.Background()
	store, err := objectstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	l := NewLog(store, "log8", "writer-a", DefaultRolloverConfig)

	if err := l.Append(ctx, recs(2), 1); err != nil {
		t.Fatalf("first Append: %v", err)
	}
	if err := l.Append(ctx, recs(2), 2); err != nil {
		t.Fatalf("second Append: %v", err)
	}

	if err := l.CreateCursor(ctx, "consumer_a", 2); err != nil {
		t.Fatalf("CreateCursor: %v", err)
	}

	before, _, err := l.loadManifest(ctx)
	if err != nil {
		t.Fatalf("loadManifest: %v", err)
	}
	if len(before.Fragments) != 2 {
		t.Fatalf("expected 2 fragments before GC, got %d", len(before.Fragments))
	}

	result, err := l.GC(ctx)
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if len(result.FragmentsDeleted) != 1 {
		t.Fatalf("expected exactly 1 fragment reclaimed, got %d", len(result.FragmentsDeleted))
	}

	after, _, err := l.loadManifest(ctx)
	if err != nil {
		t.Fatalf("loadManifest after GC: %v", err)
	}
	if len(after.Fragments) != 1 {
		t.Fatalf("expected 1 fragment remaining after GC, got %d", len(after.Fragments))
	}
	if after.Fragments[0].Start != 2 {
		t.Fatalf("expected the remaining fragment to start at offset 2, got %d", after.Fragments[0].Start)
	}
	if after.OldestTimestamp != result.Watermark {
		t.Fatalf("expected GC to advance OldestTimestamp to the watermark %d, got %d", result.Watermark, after.OldestTimestamp)
	}
}

func TestLogGCLeavesOldestTimestampUntouchedWhenNothingReclaimed(t *testing.T) {
	ctx := context.Background()
	store, err := objectstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	l := NewLog(store, "log9", "writer-a", DefaultRolloverConfig)
	if err := l.Append(ctx, recs(2), 1); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.CreateCursor(ctx, "consumer_a", 0); err != nil {
		t.Fatalf("CreateCursor: %v", err)
	}

	before, _, err := l.loadManifest(ctx)
	if err != nil {
		t.Fatalf("loadManifest: %v", err)
	}

	result, err := l.GC(ctx)
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if len(result.FragmentsDeleted) != 0 || len(result.SnapshotsDeleted) != 0 {
		t.Fatalf("expected nothing reclaimed at watermark 0, got %+v", result)
	}

	after, _, err := l.loadManifest(ctx)
	if err != nil {
		t.Fatalf("loadManifest after GC: %v", err)
	}
	if after.OldestTimestamp != before.OldestTimestamp {
		t.Fatalf("expected OldestTimestamp unchanged when GC reclaims nothing, before=%d after=%d",
			before.OldestTimestamp, after.OldestTimestamp)
	}
}
