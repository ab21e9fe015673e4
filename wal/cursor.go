package wal

import (
	"context"
	"encoding/json"
	"regexp"

	"github.com/vekterdb/corekv/errs"
	"github.com/vekterdb/corekv/objectstore"
)

var cursorNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

func cursorPath(prefix, name string) string {
	return prefix + "/cursor/" + name + ".json"
}

// Cursor is a named, durable read position into a log, advanced by
// consumers so GC knows how far back it is safe to reclaim fragments.
type Cursor struct {
	Name     string `json:"name"`
	Position uint64 `json:"position"`
}

// OpenCursor reads a named cursor's current position and CAS token
// (ETag), or ("",0,"") with KindNotFound if it has never been created.
func (l *Log) OpenCursor(ctx context.Context, name string) (Cursor, string, error) {
	if !cursorNamePattern.MatchString(name) {
		return Cursor{}, "", errs.New(errs.KindInvalidArgument, "wal.OpenCursor", name, errBadCursorName)
	}
	obj, err := l.store.Get(ctx, cursorPath(l.prefix, name))
	if err != nil {
		return Cursor{}, "", err
	}
	var c Cursor
	if err := json.Unmarshal(obj.Body, &c); err != nil {
		return Cursor{}, "", errs.New(errs.KindCorruption, "wal.OpenCursor", name, err)
	}
	return c, obj.ETag, nil
}

// CreateCursor publishes a brand-new cursor at the given starting
// position, failing with KindAlreadyExists if one is already present.
func (l *Log) CreateCursor(ctx context.Context, name string, position uint64) error {
	if !cursorNamePattern.MatchString(name) {
		return errs.New(errs.KindInvalidArgument, "wal.CreateCursor", name, errBadCursorName)
	}
	data, err := json.Marshal(Cursor{Name: name, Position: position})
	if err != nil {
		return err
	}
	_, err = l.store.Put(ctx, cursorPath(l.prefix, name), data, objectstore.Options{Mode: objectstore.IfNotExists})
	return err
}

// AdvanceCursor moves a cursor forward to newPosition using compare-and-
// swap on etag (as returned by OpenCursor). A stale etag is not retried: it
// is returned as KindContentionRetry so the caller can reload the cursor and
// decide whether the update is still a forward move.
func (l *Log) AdvanceCursor(ctx context.Context, name string, etag string, newPosition uint64) error {
	if !cursorNamePattern.MatchString(name) {
		return errs.New(errs.KindInvalidArgument, "wal.AdvanceCursor", name, errBadCursorName)
	}
	data, err := json.Marshal(Cursor{Name: name, Position: newPosition})
	if err != nil {
		return err
	}
	_, putErr := l.store.Put(ctx, cursorPath(l.prefix, name), data, objectstore.Options{Mode: objectstore.IfMatches, ETag: etag})
	if putErr == nil {
		return nil
	}
	if errs.KindOf(putErr) != errs.KindPrecondition {
		return putErr
	}
	return errs.New(errs.KindContentionRetry, "wal.AdvanceCursor", name, putErr)
}

// ListCursors returns every named cursor under this log's prefix.
func (l *Log) ListCursors(ctx context.Context) ([]Cursor, error) {
	listed, err := l.store.ListPrefix(ctx, l.prefix+"/cursor/")
	if err != nil {
		return nil, err
	}
	out := make([]Cursor, 0, len(listed))
	for _, entry := range listed {
		obj, err := l.store.Get(ctx, entry.Path)
		if err != nil {
			if errs.KindOf(err) == errs.KindNotFound {
				continue
			}
			return nil, err
		}
		var c Cursor
		if err := json.Unmarshal(obj.Body, &c); err != nil {
			return nil, errs.New(errs.KindCorruption, "wal.ListCursors", entry.Path, err)
		}
		out = append(out, c)
	}
	return out, nil
}

var errBadCursorName = errSentinel("wal: cursor name must match [A-Za-z0-9_]+")
