package wal

import (
	"context"
	"testing"

	"github.com/vekterdb/corekv/errs"
	"github.com/vekterdb/corekv/objectstore"
)

func TestLogScanResolvesAcrossFragmentsAndSnapshots(t *testing.T) {
	ctx := context.Background()
	store, err := objectstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	cfg := RolloverConfig{FragmentRolloverThreshold: 2, SnapshotRolloverThreshold: 16}
	l := NewLog(store, "log-scan", "writer-a", cfg)

	for i := 0; i < 3; i++ {
		if err := l.Append(ctx, recs(1), uint64(i)); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if err := l.Append(ctx, recs(2), 10); err != nil {
		t.Fatalf("final Append: %v", err)
	}

	m, _, err := l.loadManifest(ctx)
	if err != nil {
		t.Fatalf("loadManifest: %v", err)
	}
	if len(m.Snapshots) == 0 {
		t.Fatalf("expected the rollover threshold to have produced a snapshot")
	}

	frags, err := l.Scan(ctx, 0, ScanLimits{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(frags) == 0 {
		t.Fatalf("expected Scan to return fragments covering the whole log")
	}
	for i := 1; i < len(frags); i++ {
		if frags[i-1].Start > frags[i].Start {
			t.Fatalf("expected Scan's result sorted by Start, got %+v", frags)
		}
	}
	var total uint64
	for _, f := range frags {
		total += f.Limit - f.Start
	}
	if total != 5 {
		t.Fatalf("expected Scan(0) to cover all 5 appended records, covered %d", total)
	}

	mid, err := l.Scan(ctx, 2, ScanLimits{})
	if err != nil {
		t.Fatalf("Scan(2): %v", err)
	}
	for _, f := range mid {
		if f.Limit <= 2 {
			t.Fatalf("Scan(2) returned a fragment entirely before the floor: %+v", f)
		}
	}
}

func TestLogScanAppliesMaxFilesLimit(t *testing.T) {
	ctx := context.Background()
	store, err := objectstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	l := NewLog(store, "log-scan-limit", "writer-a", DefaultRolloverConfig)
	for i := 0; i < 4; i++ {
		if err := l.Append(ctx, recs(1), uint64(i)); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	frags, err := l.Scan(ctx, 0, ScanLimits{MaxFiles: 2})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(frags) != 2 {
		t.Fatalf("expected MaxFiles to cap the result at 2, got %d", len(frags))
	}
}

func TestLogScanRefusesUninitializedLog(t *testing.T) {
	ctx := context.Background()
	store, err := objectstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	l := NewLog(store, "log-scan-fresh", "writer-a", DefaultRolloverConfig)
	if _, err := l.Scan(ctx, 0, ScanLimits{}); errs.KindOf(err) != errs.KindUninitializedLog {
		t.Fatalf("expected KindUninitializedLog, got %v", err)
	}
}
