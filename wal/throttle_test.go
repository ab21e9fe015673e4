package wal

import (
	"context"
	"testing"
	"time"
)

func TestThrottleBoundsConcurrentAcquires(t *testing.T) {
	th := NewThrottle(1)
	ctx := context.Background()

	if err := th.acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		if err := th.acquire(ctx); err != nil {
			t.Errorf("second acquire: %v", err)
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatalf("expected the second acquire to block while the first holds the slot")
	case <-time.After(50 * time.Millisecond):
	}

	th.release()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the second acquire to unblock after release")
	}
	th.release()
}

func TestNilThrottleIsANoOp(t *testing.T) {
	var th *Throttle
	if err := th.acquire(context.Background()); err != nil {
		t.Fatalf("expected a nil throttle to never block or error, got %v", err)
	}
	th.release()
}

func TestZeroThrottleIsUnbounded(t *testing.T) {
	th := NewThrottle(0)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		if err := th.acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
}
