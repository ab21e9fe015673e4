package wal

import (
	"context"
	"testing"

	"github.com/vekterdb/corekv/objectstore"
)

func TestUploadFragmentRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := objectstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	records := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	path, sum, size, err := UploadFragment(ctx, store, "p", 0, 0, 0, records, 42)
	if err != nil {
		t.Fatalf("UploadFragment: %v", err)
	}
	if sum.IsEmpty() {
		t.Fatalf("expected a non-empty setsum for non-empty records")
	}
	if size == 0 {
		t.Fatalf("expected non-zero byte size")
	}

	entries, err := ReadFragment(ctx, store, path)
	if err != nil {
		t.Fatalf("ReadFragment: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range records {
		if string(entries[i].Body) != string(want) {
			t.Fatalf("entry %d: got %q, want %q", i, entries[i].Body, want)
		}
		if entries[i].TimestampUs != 42 {
			t.Fatalf("entry %d: expected timestamp 42, got %d", i, entries[i].TimestampUs)
		}
	}
}

func TestUploadFragmentIsIdempotentOnRetry(t *testing.T) {
	ctx := context.Background()
	store, err := objectstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	records := [][]byte{[]byte("a"), []byte("b")}
	path1, sum1, _, err := UploadFragment(ctx, store, "p", 0, 7, 100, records, 1)
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}

	// Re-uploading the identical fragment (same seq_no, same records) must
	// succeed and report the same path/setsum rather than erroring.
	path2, sum2, _, err := UploadFragment(ctx, store, "p", 0, 7, 100, records, 1)
	if err != nil {
		t.Fatalf("retried upload: %v", err)
	}
	if path1 != path2 {
		t.Fatalf("expected identical fragment path on retry, got %q vs %q", path1, path2)
	}
	if !sum1.Equal(sum2) {
		t.Fatalf("expected identical setsum on retry")
	}
}

func TestUploadFragmentRejectsDivergentRetry(t *testing.T) {
	ctx := context.Background()
	store, err := objectstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	if _, _, _, err := UploadFragment(ctx, store, "p", 0, 3, 50, [][]byte{[]byte("a")}, 1); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	_, _, _, err = UploadFragment(ctx, store, "p", 0, 3, 50, [][]byte{[]byte("different")}, 1)
	if err == nil {
		t.Fatalf("expected an error when a different record set reuses the same seq_no")
	}
}
