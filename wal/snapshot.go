package wal

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/ulikunitz/xz"

	"github.com/vekterdb/corekv/errs"
	"github.com/vekterdb/corekv/objectstore"
	"github.com/vekterdb/corekv/setsum"
)

// snapshotDoc is the JSON body stored at a snapshot pointer's path: the
// flattened list of fragments it replaces, plus the combined setsum and
// rollup depth (one more than the deepest fragment/snapshot it absorbs, so
// nested rollups can tell how many generations of history they cover).
type snapshotDoc struct {
	Depth     uint8          `json:"depth"`
	Setsum    setsum.Setsum  `json:"setsum"`
	Start     uint64         `json:"start"`
	Limit     uint64         `json:"limit"`
	Fragments []FragmentMeta `json:"fragments"`
}

// writeSnapshot rolls a run of fragments into one immutable snapshot object
// and returns the pointer the manifest should record in its place.
func (l *Log) writeSnapshot(ctx context.Context, fragments []FragmentMeta) (SnapshotPointer, error) {
	if len(fragments) == 0 {
		return SnapshotPointer{}, errs.New(errs.KindInvalidArgument, "wal.writeSnapshot", l.prefix, errEmptyRollup)
	}

	sum := setsum.Empty()
	for _, f := range fragments {
		sum = sum.Combine(f.Setsum)
	}

	doc := snapshotDoc{
		Depth:     1,
		Setsum:    sum,
		Start:     fragments[0].Start,
		Limit:     fragments[len(fragments)-1].Limit,
		Fragments: fragments,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return SnapshotPointer{}, err
	}
	compressed, err := compressSnapshot(data)
	if err != nil {
		return SnapshotPointer{}, errs.New(errs.KindInternal, "wal.writeSnapshot", l.prefix, err)
	}

	path := newSnapshotPath(l.prefix)
	if _, err := l.store.Put(ctx, path, compressed, objectstore.Options{Mode: objectstore.IfNotExists}); err != nil {
		if errs.KindOf(err) != errs.KindAlreadyExists {
			return SnapshotPointer{}, err
		}
	}

	return SnapshotPointer{Path: path, Depth: doc.Depth, Setsum: sum, Start: doc.Start, Limit: doc.Limit}, nil
}

// readSnapshot fetches and decodes a snapshot pointer's backing document.
func (l *Log) readSnapshot(ctx context.Context, ptr SnapshotPointer) (snapshotDoc, error) {
	obj, err := l.store.Get(ctx, ptr.Path)
	if err != nil {
		return snapshotDoc{}, err
	}
	data, err := decompressSnapshot(obj.Body)
	if err != nil {
		return snapshotDoc{}, errs.New(errs.KindCorruption, "wal.readSnapshot", ptr.Path, err)
	}
	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return snapshotDoc{}, errs.New(errs.KindCorruption, "wal.readSnapshot", ptr.Path, err)
	}
	return doc, nil
}

// compressSnapshot xz-compresses a snapshot document. Snapshots are rolled
// up rarely (only once a manifest's flat fragment/pointer counts cross the
// rollover threshold) and read back even less often, so xz's higher ratio
// is worth its slower compression compared to the hot-path lz4 blockcodec
// uses for every block.
func compressSnapshot(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressSnapshot(data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

var errEmptyRollup = errSentinel("wal: cannot snapshot an empty fragment run")

type errSentinel string

func (e errSentinel) Error() string { return string(e) }
