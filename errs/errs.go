// Package errs defines the closed error taxonomy shared by every package in
// this module (objectstore, blockcodec, blockfile, segment, materialize, wal).
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error kinds a caller may switch on.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAlreadyExists
	KindPrecondition
	KindCorruption
	KindContentionRetry
	KindContentionDurable
	KindContentionFailure
	KindUninitializedLog
	KindNoSuchCursor
	KindTransient
	KindUnavailable
	KindInvalidArgument
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindPrecondition:
		return "Precondition"
	case KindCorruption:
		return "Corruption"
	case KindContentionRetry:
		return "ContentionRetry"
	case KindContentionDurable:
		return "ContentionDurable"
	case KindContentionFailure:
		return "ContentionFailure"
	case KindUninitializedLog:
		return "UninitializedLog"
	case KindNoSuchCursor:
		return "NoSuchCursor"
	case KindTransient:
		return "Transient"
	case KindUnavailable:
		return "Unavailable"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with a taxonomy Kind.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "blockfile.Flush"
	Path string // object/key path involved, if any
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a taxonomy error.
func New(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or KindUnknown if err is not one of ours.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
