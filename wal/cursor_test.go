package wal

import (
	"context"
	"testing"

	"github.com/vekterdb/corekv/errs"
	"github.com/vekterdb/corekv/objectstore"
)

func TestCursorCreateOpenAdvance(t *testing.T) {
	ctx := context.Background()
	store, err := objectstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	l := NewLog(store, "curlog", "writer-a", DefaultRolloverConfig)

	if err := l.CreateCursor(ctx, "consumer_a", 0); err != nil {
		t.Fatalf("CreateCursor: %v", err)
	}

	c, etag, err := l.OpenCursor(ctx, "consumer_a")
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	if c.Position != 0 {
		t.Fatalf("expected initial position 0, got %d", c.Position)
	}

	if err := l.AdvanceCursor(ctx, "consumer_a", etag, 10); err != nil {
		t.Fatalf("AdvanceCursor: %v", err)
	}

	c2, _, err := l.OpenCursor(ctx, "consumer_a")
	if err != nil {
		t.Fatalf("OpenCursor after advance: %v", err)
	}
	if c2.Position != 10 {
		t.Fatalf("expected position 10 after advance, got %d", c2.Position)
	}
}

func TestCursorAdvanceWithStaleETagIsRejected(t *testing.T) {
	ctx := context.Background()
	store, err := objectstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	l := NewLog(store, "curlog2", "writer-a", DefaultRolloverConfig)

	if err := l.CreateCursor(ctx, "consumer_a", 0); err != nil {
		t.Fatalf("CreateCursor: %v", err)
	}
	_, etag, err := l.OpenCursor(ctx, "consumer_a")
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	if err := l.AdvanceCursor(ctx, "consumer_a", etag, 5); err != nil {
		t.Fatalf("first AdvanceCursor: %v", err)
	}

	// Retry with the now-stale etag from before the first advance.
	err = l.AdvanceCursor(ctx, "consumer_a", etag, 6)
	if errs.KindOf(err) != errs.KindContentionRetry {
		t.Fatalf("expected KindContentionRetry on stale etag, got %v", err)
	}
}

func TestCursorRejectsBadName(t *testing.T) {
	ctx := context.Background()
	store, err := objectstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	l := NewLog(store, "curlog3", "writer-a", DefaultRolloverConfig)

	err = l.CreateCursor(ctx, "bad name!", 0)
	if errs.KindOf(err) != errs.KindInvalidArgument {
		t.Fatalf("expected KindInvalidArgument for a cursor name with spaces/punctuation, got %v", err)
	}
}

func TestListCursorsReturnsAllRegistered(t *testing.T) {
	ctx := context.Background()
	store, err := objectstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	l := NewLog(store, "curlog4", "writer-a", DefaultRolloverConfig)

	if err := l.CreateCursor(ctx, "a", 1); err != nil {
		t.Fatalf("CreateCursor(a): %v", err)
	}
	if err := l.CreateCursor(ctx, "b", 2); err != nil {
		t.Fatalf("CreateCursor(b): %v", err)
	}

	cursors, err := l.ListCursors(ctx)
	if err != nil {
		t.Fatalf("ListCursors: %v", err)
	}
	if len(cursors) != 2 {
		t.Fatalf("expected 2 cursors, got %d", len(cursors))
	}
}
