package wal

import (
	"context"
	"sort"

	"github.com/vekterdb/corekv/errs"
)

// ScanLimits bounds a Scan call's result: MaxFiles caps the number of
// fragments returned, MaxBytes caps their cumulative NumBytes. Either,
// both, or neither may be set (zero means unbounded); each is a
// independent truncating cap.
type ScanLimits struct {
	MaxFiles int
	MaxBytes uint64
}

// Scan returns the contiguous list of fragments whose offsets cover
// [from, ...): it starts from the manifest's flat fragment list, then
// expands every snapshot pointer whose [start,limit) range intersects the
// scan into the fragments its snapshot document lists (one level: snapshot
// documents hold fragments only), merges the two into ascending Start order, and
// applies limits, truncating the tail once either cap is reached.
func (l *Log) Scan(ctx context.Context, from uint64, limits ScanLimits) ([]FragmentMeta, error) {
	m, _, err := l.loadManifest(ctx)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errs.New(errs.KindUninitializedLog, "wal.Scan", l.prefix, errUninitialized)
	}

	var covering []FragmentMeta
	for _, s := range m.Snapshots {
		if s.Limit <= from {
			continue
		}
		frags, err := l.resolveSnapshot(ctx, s, from)
		if err != nil {
			return nil, err
		}
		covering = append(covering, frags...)
	}
	for _, f := range m.Fragments {
		if f.Limit <= from {
			continue
		}
		covering = append(covering, f)
	}

	sort.Slice(covering, func(i, j int) bool { return covering[i].Start < covering[j].Start })
	return applyScanLimits(covering, limits), nil
}

// resolveSnapshot expands a snapshot pointer into the flat fragments it
// absorbed that still intersect the scan floor.
func (l *Log) resolveSnapshot(ctx context.Context, ptr SnapshotPointer, from uint64) ([]FragmentMeta, error) {
	doc, err := l.readSnapshot(ctx, ptr)
	if err != nil {
		return nil, err
	}
	var out []FragmentMeta
	for _, f := range doc.Fragments {
		if f.Limit <= from {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// applyScanLimits truncates frags (already in ascending Start order) once
// either the file-count or cumulative-byte cap is reached. The first
// fragment is always kept even if it alone exceeds MaxBytes, so a scan
// never returns an empty result purely because one fragment is large.
func applyScanLimits(frags []FragmentMeta, limits ScanLimits) []FragmentMeta {
	if limits.MaxFiles <= 0 && limits.MaxBytes == 0 {
		return frags
	}
	out := make([]FragmentMeta, 0, len(frags))
	var bytesSoFar uint64
	for _, f := range frags {
		if limits.MaxFiles > 0 && len(out) >= limits.MaxFiles {
			break
		}
		if limits.MaxBytes > 0 && len(out) > 0 && bytesSoFar+f.NumBytes > limits.MaxBytes {
			break
		}
		out = append(out, f)
		bytesSoFar += f.NumBytes
	}
	return out
}
