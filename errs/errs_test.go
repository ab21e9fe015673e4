package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfUnwrapsWrappedError(t *testing.T) {
	base := New(KindNotFound, "objectstore.Get", "roots/r1", fmt.Errorf("no such file"))
	wrapped := fmt.Errorf("reading root: %w", base)

	if KindOf(wrapped) != KindNotFound {
		t.Fatalf("expected KindOf to see through fmt.Errorf wrapping, got %v", KindOf(wrapped))
	}
	if !Is(wrapped, KindNotFound) {
		t.Fatalf("expected Is to report true for a wrapped matching Kind")
	}
	if Is(wrapped, KindCorruption) {
		t.Fatalf("expected Is to report false for a non-matching Kind")
	}
}

func TestKindOfReturnsUnknownForForeignErrors(t *testing.T) {
	if KindOf(errors.New("plain error")) != KindUnknown {
		t.Fatalf("expected KindUnknown for an error not constructed via errs.New")
	}
}

func TestErrorMessageIncludesPathWhenPresent(t *testing.T) {
	withPath := New(KindPrecondition, "wal.Append", "log/manifest/MANIFEST", fmt.Errorf("etag mismatch"))
	if got := withPath.Error(); got == "" {
		t.Fatalf("expected a non-empty error message")
	}

	withoutPath := New(KindInternal, "wal.UploadFragment", "", fmt.Errorf("write failed"))
	if got := withoutPath.Error(); got == "" {
		t.Fatalf("expected a non-empty error message")
	}
}

func TestUnwrapExposesUnderlyingCause(t *testing.T) {
	cause := fmt.Errorf("underlying cause")
	e := New(KindTransient, "objectstore.Put", "p", cause)
	if !errors.Is(e, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause via Unwrap")
	}
}
