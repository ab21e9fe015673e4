package wal

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Throttle bounds the number of fragment uploads in flight at once against a
// single log prefix, so a burst of concurrent Append callers doesn't open an
// unbounded number of simultaneous object-store PUTs. A nil *Throttle is a
// valid, no-op throttle (acquire/release are free), matching a Log that was
// constructed without one.
type Throttle struct {
	sem *semaphore.Weighted
}

// NewThrottle bounds concurrent uploads to maxConcurrent. maxConcurrent <= 0
// means unbounded (an always-acquirable throttle).
func NewThrottle(maxConcurrent int) *Throttle {
	if maxConcurrent <= 0 {
		return &Throttle{}
	}
	return &Throttle{sem: semaphore.NewWeighted(int64(maxConcurrent))}
}

func (t *Throttle) acquire(ctx context.Context) error {
	if t == nil || t.sem == nil {
		return nil
	}
	return t.sem.Acquire(ctx, 1)
}

func (t *Throttle) release() {
	if t == nil || t.sem == nil {
		return
	}
	t.sem.Release(1)
}
