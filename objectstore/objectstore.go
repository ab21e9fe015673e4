// Package objectstore is the byte-range GET / conditional PUT / DELETE / LIST
// abstraction the rest of the module is built on. Every backend
// (local, S3, Ceph) implements the same narrow Store interface so the
// blockfile and wal packages never know which object backend they're talking
// to.
package objectstore

import (
	"context"
	"io"

	"github.com/vekterdb/corekv/errs"
)

// PutMode selects the conditional-write precondition for Put.
type PutMode int

const (
	// Unconditional overwrites whatever is at path, if anything.
	Unconditional PutMode = iota
	// IfNotExists succeeds only if path has no current object.
	IfNotExists
	// IfMatches succeeds only if path's current ETag equals Options.ETag.
	IfMatches
)

// Options controls a Put call's precondition.
type Options struct {
	Mode PutMode
	ETag string // required when Mode == IfMatches
}

// Object is a GET result: its bytes plus the ETag that names this exact
// version, so a subsequent conditional Put can race-check against it.
type Object struct {
	Body []byte
	ETag string
}

// PutResult is returned by a successful Put.
type PutResult struct {
	ETag string
}

// ListedObject is one entry returned by ListPrefix.
type ListedObject struct {
	Path string
	Size int64
}

// Store is the narrow, backend-agnostic contract every object storage
// implementation (local disk, S3, Ceph RADOS) satisfies. All operations are
// suspension points and should be called with a context carrying the
// caller's timeout.
type Store interface {
	// Get returns the full object at path.
	Get(ctx context.Context, path string) (Object, error)
	// GetRange returns length bytes starting at offset.
	GetRange(ctx context.Context, path string, offset, length int64) ([]byte, error)
	// Put writes body to path under the given precondition, returning the
	// new ETag. On precondition failure it returns an *errs.Error with
	// Kind == errs.KindPrecondition (or KindAlreadyExists for IfNotExists).
	Put(ctx context.Context, path string, body []byte, opts Options) (PutResult, error)
	// Delete removes path. Deleting an absent path is not an error.
	Delete(ctx context.Context, path string) error
	// ListPrefix lists every object whose path starts with prefix.
	// LIST is eventually consistent; callers must not use it to infer
	// liveness of objects referenced by a manifest.
	ListPrefix(ctx context.Context, prefix string) ([]ListedObject, error)
	// Copy duplicates src to dst, unconditionally.
	Copy(ctx context.Context, src, dst string) error
}

// WriteCloser-style streaming is intentionally not part of Store: every
// backend buffers whole objects (blocks, roots, fragments, manifests are all
// bounded-size), matching the teacher's io.ReadCloser/io.WriteCloser column
// interface collapsed down to byte slices since none of this module's
// objects are unbounded streams.

// ReadAll is a small helper for callers that only have an io.Reader (e.g. a
// freshly built block) and want the []byte form Put expects.
func ReadAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}

func notFound(op, path string, err error) error {
	return errs.New(errs.KindNotFound, op, path, err)
}

func precondition(op, path string, err error) error {
	return errs.New(errs.KindPrecondition, op, path, err)
}

func alreadyExists(op, path string, err error) error {
	return errs.New(errs.KindAlreadyExists, op, path, err)
}

func transient(op, path string, err error) error {
	return errs.New(errs.KindTransient, op, path, err)
}
