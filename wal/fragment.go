// Package wal implements the append log built on top of objectstore: fragment
// upload, the manifest/snapshot state machine, and named cursors with
// garbage collection.
package wal

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/vekterdb/corekv/errs"
	"github.com/vekterdb/corekv/objectstore"
	"github.com/vekterdb/corekv/setsum"
)

// fragmentRow is one row of a fragment's parquet schema: sorted by
// LogOffset, not-null columns throughout.
type fragmentRow struct {
	LogOffset   uint64 `parquet:"log_offset"`
	TimestampUs uint64 `parquet:"timestamp_us"`
	Body        []byte `parquet:"body"`
}

// FragmentPath returns the path a fragment with the given bucket and
// sequence number is stored at: log/Bucket=<hex16>/FragmentSeqNo=<hex16>.parquet.
func FragmentPath(prefix string, bucket, seqNo uint64) string {
	return fmt.Sprintf("%s/log/Bucket=%016x/FragmentSeqNo=%016x.parquet", prefix, bucket, seqNo)
}

// UploadFragment parquet-encodes records as a sorted run starting at
// startPosition with a shared upload timestamp, and idempotently PUTs it
// at its fragment path: if-not-exists, and on precondition failure verifies
// the already-present object carries the same setsum before proceeding.
func UploadFragment(ctx context.Context, store objectstore.Store, prefix string, bucket, seqNo uint64, startPosition uint64, records [][]byte, timestampUs uint64) (path string, sum setsum.Setsum, byteSize int64, err error) {
	path = FragmentPath(prefix, bucket, seqNo)

	rows := make([]fragmentRow, len(records))
	for i, body := range records {
		offset := startPosition + uint64(i)
		rows[i] = fragmentRow{LogOffset: offset, TimestampUs: timestampUs, Body: body}
		sum = sum.Add(canonicalFragmentRow(offset, timestampUs, body))
	}

	var buf bytes.Buffer
	writer := parquet.NewGenericWriter[fragmentRow](&buf)
	if _, werr := writer.Write(rows); werr != nil {
		return "", setsum.Empty(), 0, errs.New(errs.KindInternal, "wal.UploadFragment", path, werr)
	}
	if werr := writer.Close(); werr != nil {
		return "", setsum.Empty(), 0, errs.New(errs.KindInternal, "wal.UploadFragment", path, werr)
	}
	body := buf.Bytes()

	_, putErr := store.Put(ctx, path, body, objectstore.Options{Mode: objectstore.IfNotExists})
	if putErr == nil {
		return path, sum, int64(len(body)), nil
	}
	if errs.KindOf(putErr) != errs.KindAlreadyExists && errs.KindOf(putErr) != errs.KindPrecondition {
		return "", setsum.Empty(), 0, putErr
	}

	existingSum, existingLen, verifyErr := verifyExistingFragment(ctx, store, path)
	if verifyErr != nil {
		return "", setsum.Empty(), 0, verifyErr
	}
	if !existingSum.Equal(sum) {
		return "", setsum.Empty(), 0, errs.New(errs.KindContentionDurable, "wal.UploadFragment", path,
			fmt.Errorf("existing fragment at seq_no %d has a different setsum", seqNo))
	}
	return path, sum, existingLen, nil
}

func canonicalFragmentRow(offset, timestampUs uint64, body []byte) []byte {
	buf := make([]byte, 16+len(body))
	binary.BigEndian.PutUint64(buf[0:8], offset)
	binary.BigEndian.PutUint64(buf[8:16], timestampUs)
	copy(buf[16:], body)
	return buf
}

func verifyExistingFragment(ctx context.Context, store objectstore.Store, path string) (setsum.Setsum, int64, error) {
	obj, err := store.Get(ctx, path)
	if err != nil {
		return setsum.Empty(), 0, err
	}
	rows, err := decodeFragment(obj.Body)
	if err != nil {
		return setsum.Empty(), 0, errs.New(errs.KindCorruption, "wal.verifyExistingFragment", path, err)
	}
	sum := setsum.Empty()
	for _, r := range rows {
		sum = sum.Add(canonicalFragmentRow(r.LogOffset, r.TimestampUs, r.Body))
	}
	return sum, int64(len(obj.Body)), nil
}

// ReadFragment decodes a fragment object into its log records, in
// ascending log_offset order.
func ReadFragment(ctx context.Context, store objectstore.Store, path string) ([]LogEntry, error) {
	obj, err := store.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	rows, err := decodeFragment(obj.Body)
	if err != nil {
		return nil, errs.New(errs.KindCorruption, "wal.ReadFragment", path, err)
	}
	out := make([]LogEntry, len(rows))
	for i, r := range rows {
		out[i] = LogEntry{LogOffset: r.LogOffset, TimestampUs: r.TimestampUs, Body: r.Body}
	}
	return out, nil
}

// LogEntry is one decoded record from a fragment.
type LogEntry struct {
	LogOffset   uint64
	TimestampUs uint64
	Body        []byte
}

func decodeFragment(data []byte) ([]fragmentRow, error) {
	reader := parquet.NewGenericReader[fragmentRow](bytes.NewReader(data))
	defer reader.Close()
	rows := make([]fragmentRow, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return rows[:n], nil
}
