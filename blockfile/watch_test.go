package blockfile

import (
	"context"
	"testing"
	"time"

	"github.com/vekterdb/corekv/objectstore"
)

func TestWatchInvalidateDropsCachedRootOnOutOfBandChange(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := objectstore.NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	provider := NewProvider(store, DefaultProviderConfig)

	idx := NewSparseIndex("block-1", 3)
	root := NewRoot(idx, "bf1", 0, 0, 0, 1<<20, "seg1")
	data, err := root.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if _, err := store.Put(ctx, rootPath("r1"), data, objectstore.Options{Mode: objectstore.IfNotExists}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := provider.GetRoot(ctx, "r1"); err != nil {
		t.Fatalf("GetRoot (priming cache): %v", err)
	}
	if _, cached := provider.roots.Get(rootPath("r1")); !cached {
		t.Fatalf("expected the root to be cached after the first GetRoot")
	}

	w, err := objectstore.WatchLocal(dir)
	if err != nil {
		t.Fatalf("WatchLocal: %v", err)
	}
	defer w.Close()
	provider.WatchInvalidate(w)

	// Simulate an out-of-band restore bypassing Provider entirely.
	if err := store.Delete(ctx, rootPath("r1")); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		if _, cached := provider.roots.Get(rootPath("r1")); !cached {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for WatchInvalidate to drop the cached root")
		case <-time.After(50 * time.Millisecond):
		}
	}
}
