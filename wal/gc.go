package wal

import (
	"context"

	"github.com/vekterdb/corekv/errs"
	"github.com/vekterdb/corekv/objectstore"
)

// GCResult reports what a GC pass reclaimed.
type GCResult struct {
	Watermark        uint64
	FragmentsDeleted []string
	SnapshotsDeleted []string
}

// GC reclaims fragments and snapshots entirely below the slowest cursor's
// position. A log with zero cursors refuses to GC at all — with nothing
// durably recording how far any reader has consumed, there is no safe
// watermark to reclaim below, so GC returns KindNoSuchCursor rather than
// silently keeping (or silently deleting) everything.
func (l *Log) GC(ctx context.Context) (GCResult, error) {
	cursors, err := l.ListCursors(ctx)
	if err != nil {
		return GCResult{}, err
	}
	if len(cursors) == 0 {
		return GCResult{}, errs.New(errs.KindNoSuchCursor, "wal.GC", l.prefix, errNoCursors)
	}

	watermark := cursors[0].Position
	for _, c := range cursors[1:] {
		if c.Position < watermark {
			watermark = c.Position
		}
	}

	m, etag, err := l.loadManifest(ctx)
	if err != nil {
		return GCResult{}, err
	}
	if m == nil {
		return GCResult{}, errs.New(errs.KindUninitializedLog, "wal.GC", l.prefix, errUninitialized)
	}

	result := GCResult{Watermark: watermark}
	next := cloneManifest(m)

	keptFragments := next.Fragments[:0:0]
	for _, f := range next.Fragments {
		if f.Limit <= watermark {
			if delErr := l.store.Delete(ctx, f.Path); delErr != nil && errs.KindOf(delErr) != errs.KindNotFound {
				return GCResult{}, delErr
			}
			result.FragmentsDeleted = append(result.FragmentsDeleted, f.Path)
			continue
		}
		keptFragments = append(keptFragments, f)
	}
	next.Fragments = keptFragments

	keptSnapshots := next.Snapshots[:0:0]
	for _, s := range next.Snapshots {
		if s.Limit <= watermark {
			if delErr := l.store.Delete(ctx, s.Path); delErr != nil && errs.KindOf(delErr) != errs.KindNotFound {
				return GCResult{}, delErr
			}
			result.SnapshotsDeleted = append(result.SnapshotsDeleted, s.Path)
			continue
		}
		keptSnapshots = append(keptSnapshots, s)
	}
	next.Snapshots = keptSnapshots

	if len(result.FragmentsDeleted) == 0 && len(result.SnapshotsDeleted) == 0 {
		return result, nil
	}

	next.OldestTimestamp = watermark

	data, err := l.bytesOf(next)
	if err != nil {
		return GCResult{}, err
	}
	if _, err := l.store.Put(ctx, manifestPath(l.prefix), data, objectstore.Options{Mode: objectstore.IfMatches, ETag: etag}); err != nil {
		if errs.KindOf(err) == errs.KindPrecondition {
			return GCResult{}, errs.New(errs.KindContentionRetry, "wal.GC", l.prefix, err)
		}
		return GCResult{}, err
	}
	return result, nil
}

var errNoCursors = errSentinel("wal: cannot GC a log with zero registered cursors")
var errUninitialized = errSentinel("wal: log has not been bootstrapped yet")
