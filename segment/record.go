// Package segment implements the three segment scopes blockfile readers and
// writers serve: record, metadata, and vector.
package segment

import (
	"context"
	"path"

	"github.com/google/uuid"

	"github.com/vekterdb/corekv/blockcodec"
	"github.com/vekterdb/corekv/blockfile"
	"github.com/vekterdb/corekv/errs"
	"github.com/vekterdb/corekv/materialize"
)

// RecordSegmentPaths names the three blockfile roots that make up a record
// segment. An empty string means that blockfile has
// never been published (a brand-new, empty segment).
type RecordSegmentPaths struct {
	UserToOffsetRootID   string
	OffsetToUserRootID   string
	OffsetToRecordRootID string
}

// RecordSegment is a read-only, opened view over one record segment
// version, grounded on storage/table.go's Insert/shard bookkeeping: one
// blockfile per direction of the user<->offset mapping, plus one keyed by
// offset holding the full DataRecord.
type RecordSegment struct {
	provider     *blockfile.Provider
	paths        RecordSegmentPaths
	prefixPath   string
	maxBlockSize int64

	userToOffset *blockfile.Reader
	offsetToUser *blockfile.Reader
	offsetToRec  *blockfile.Reader
}

// OpenRecordSegment opens readers for whichever of paths' blockfiles are
// already published; an entirely fresh segment (all three ids empty) opens
// with no readers and behaves as empty.
func OpenRecordSegment(ctx context.Context, provider *blockfile.Provider, paths RecordSegmentPaths, prefixPath string, maxBlockSize int64) (*RecordSegment, error) {
	seg := &RecordSegment{provider: provider, paths: paths, prefixPath: prefixPath, maxBlockSize: maxBlockSize}

	if paths.UserToOffsetRootID != "" {
		root, err := provider.GetRoot(ctx, paths.UserToOffsetRootID)
		if err != nil {
			return nil, err
		}
		seg.userToOffset = blockfile.NewReader(provider, root)
	}
	if paths.OffsetToUserRootID != "" {
		root, err := provider.GetRoot(ctx, paths.OffsetToUserRootID)
		if err != nil {
			return nil, err
		}
		seg.offsetToUser = blockfile.NewReader(provider, root)
	}
	if paths.OffsetToRecordRootID != "" {
		root, err := provider.GetRoot(ctx, paths.OffsetToRecordRootID)
		if err != nil {
			return nil, err
		}
		seg.offsetToRec = blockfile.NewReader(provider, root)
	}
	return seg, nil
}

// Lookup implements materialize.RecordLookup.
func (s *RecordSegment) Lookup(ctx context.Context, userID string) (offsetID uint32, record blockcodec.DataRecord, found bool, err error) {
	if s.userToOffset == nil {
		return 0, blockcodec.DataRecord{}, false, nil
	}
	v, err := s.userToOffset.Get(ctx, "", blockcodec.StringKey(userID))
	if err != nil {
		if errs.KindOf(err) == errs.KindNotFound {
			return 0, blockcodec.DataRecord{}, false, nil
		}
		return 0, blockcodec.DataRecord{}, false, err
	}
	offsetID = v.U32
	if s.offsetToRec == nil {
		return offsetID, blockcodec.DataRecord{}, true, nil
	}
	rv, err := s.offsetToRec.Get(ctx, "", blockcodec.U32Key(offsetID))
	if err != nil {
		if errs.KindOf(err) == errs.KindNotFound {
			return offsetID, blockcodec.DataRecord{}, true, nil
		}
		return 0, blockcodec.DataRecord{}, false, err
	}
	return offsetID, rv.Record, true, nil
}

// MaxOffsetID returns one past the largest offset id live in this segment,
// seeding the materializer's tentative-offset-id counter.
func (s *RecordSegment) MaxOffsetID(ctx context.Context) (uint32, error) {
	if s.offsetToUser == nil {
		return 0, nil
	}
	entries, err := s.offsetToUser.ScanPrefix(ctx, "")
	if err != nil {
		return 0, err
	}
	var max uint32
	for _, e := range entries {
		if e.Key.U32 >= max {
			max = e.Key.U32 + 1
		}
	}
	return max, nil
}

// NewWriter opens an uncommitted writer over this segment's current state,
// materializing the base state into memory up front (the teacher's
// rebuild-from-scratch shard pattern: a record segment version is small
// enough per compaction window to hold entirely in memory while folding a
// chunk against it).
func (s *RecordSegment) NewWriter(ctx context.Context) (*RecordSegmentWriter, error) {
	w := &RecordSegmentWriter{
		seg:     s,
		users:   make(map[string]uint32),
		offsets: make(map[uint32]string),
		recs:    make(map[uint32]blockcodec.DataRecord),
	}
	if s.userToOffset != nil {
		entries, err := s.userToOffset.ScanPrefix(ctx, "")
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			w.users[e.Key.Str] = e.Value.U32
		}
	}
	if s.offsetToUser != nil {
		entries, err := s.offsetToUser.ScanPrefix(ctx, "")
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			w.offsets[e.Key.U32] = e.Value.Str
		}
	}
	if s.offsetToRec != nil {
		entries, err := s.offsetToRec.ScanPrefix(ctx, "")
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			w.recs[e.Key.U32] = e.Value.Record
		}
	}
	return w, nil
}

// RecordSegmentWriter is an in-memory overlay over a RecordSegment's base
// state; Apply folds a materialized chunk onto it, Commit publishes fresh
// blockfiles for the merged result.
type RecordSegmentWriter struct {
	seg *RecordSegment

	users   map[string]uint32
	offsets map[uint32]string
	recs    map[uint32]blockcodec.DataRecord
}

// Apply folds a materialized log chunk onto the writer's in-memory state,
// maintaining the user<->offset inverse invariant and the offset->record
// population invariant.
func (w *RecordSegmentWriter) Apply(chunk []materialize.MaterializedLogRecord) {
	for _, m := range chunk {
		if m.DeleteExisting {
			if user, ok := w.offsets[m.OffsetID]; ok {
				delete(w.users, user)
			}
			delete(w.users, m.UserID)
			delete(w.offsets, m.OffsetID)
			delete(w.recs, m.OffsetID)
			continue
		}

		w.users[m.UserID] = m.OffsetID
		w.offsets[m.OffsetID] = m.UserID

		rec := w.recs[m.OffsetID]
		rec.ID = m.UserID
		switch m.FinalOperation {
		case materialize.OpUpsert:
			rec.Embedding = m.Embedding
			rec.Metadata = flattenMeta(m.Metadata)
			rec.Document = m.Document
		default: // OpAdd, OpUpdate
			if m.Embedding != nil {
				rec.Embedding = m.Embedding
			}
			if m.Metadata != nil {
				if rec.Metadata == nil {
					rec.Metadata = make(map[string]blockcodec.MetadataValue, len(m.Metadata))
				}
				for k, v := range m.Metadata {
					if v == nil {
						delete(rec.Metadata, k)
					} else {
						rec.Metadata[k] = *v
					}
				}
			}
			if m.Document != nil {
				rec.Document = m.Document
			}
		}
		w.recs[m.OffsetID] = rec
	}
}

func flattenMeta(m map[string]*blockcodec.MetadataValue) map[string]blockcodec.MetadataValue {
	if m == nil {
		return nil
	}
	out := make(map[string]blockcodec.MetadataValue, len(m))
	for k, v := range m {
		if v != nil {
			out[k] = *v
		}
	}
	return out
}

// Commit publishes fresh blockfiles for the writer's full merged state and
// returns the new segment's file paths.
func (w *RecordSegmentWriter) Commit(ctx context.Context) (RecordSegmentPaths, error) {
	u2oCfg := blockfile.WriterConfig{
		KeyType: blockcodec.KeyTypeString, ValueType: blockcodec.ValueTypeU32,
		MaxBlockSize: w.seg.maxBlockSize, PrefixPath: path.Join(w.seg.prefixPath, "user_to_offset"),
	}
	u2oWriter := blockfile.NewUnorderedWriter(w.seg.provider, u2oCfg)
	for user, off := range w.users {
		if err := u2oWriter.Add("", blockcodec.StringKey(user), blockcodec.Value{Type: blockcodec.ValueTypeU32, U32: off}); err != nil {
			return RecordSegmentPaths{}, err
		}
	}
	u2oIdx, err := u2oWriter.Finish(ctx)
	if err != nil {
		return RecordSegmentPaths{}, err
	}

	o2uCfg := blockfile.WriterConfig{
		KeyType: blockcodec.KeyTypeU32, ValueType: blockcodec.ValueTypeString,
		MaxBlockSize: w.seg.maxBlockSize, PrefixPath: path.Join(w.seg.prefixPath, "offset_to_user"),
	}
	o2uWriter := blockfile.NewUnorderedWriter(w.seg.provider, o2uCfg)
	for off, user := range w.offsets {
		if err := o2uWriter.Add("", blockcodec.U32Key(off), blockcodec.Value{Type: blockcodec.ValueTypeString, Str: user}); err != nil {
			return RecordSegmentPaths{}, err
		}
	}
	o2uIdx, err := o2uWriter.Finish(ctx)
	if err != nil {
		return RecordSegmentPaths{}, err
	}

	o2rCfg := blockfile.WriterConfig{
		KeyType: blockcodec.KeyTypeU32, ValueType: blockcodec.ValueTypeDataRecord,
		MaxBlockSize: w.seg.maxBlockSize, PrefixPath: path.Join(w.seg.prefixPath, "offset_to_record"),
		Compress: true,
	}
	o2rWriter := blockfile.NewUnorderedWriter(w.seg.provider, o2rCfg)
	for off, rec := range w.recs {
		if err := o2rWriter.Add("", blockcodec.U32Key(off), blockcodec.Value{Type: blockcodec.ValueTypeDataRecord, Record: rec}); err != nil {
			return RecordSegmentPaths{}, err
		}
	}
	o2rIdx, err := o2rWriter.Finish(ctx)
	if err != nil {
		return RecordSegmentPaths{}, err
	}

	u2oRootID, err := publishRoot(ctx, w.seg.provider, u2oIdx, u2oCfg)
	if err != nil {
		return RecordSegmentPaths{}, err
	}
	o2uRootID, err := publishRoot(ctx, w.seg.provider, o2uIdx, o2uCfg)
	if err != nil {
		return RecordSegmentPaths{}, err
	}
	o2rRootID, err := publishRoot(ctx, w.seg.provider, o2rIdx, o2rCfg)
	if err != nil {
		return RecordSegmentPaths{}, err
	}

	return RecordSegmentPaths{
		UserToOffsetRootID:   u2oRootID,
		OffsetToUserRootID:   o2uRootID,
		OffsetToRecordRootID: o2rRootID,
	}, nil
}

func publishRoot(ctx context.Context, provider *blockfile.Provider, idx *blockfile.SparseIndex, cfg blockfile.WriterConfig) (string, error) {
	blockfileID := uuid.NewString()
	root := blockfile.NewRoot(idx, blockfileID, cfg.KeyType, cfg.ValueType, cfg.Dimension, cfg.MaxBlockSize, cfg.PrefixPath)
	rootID := uuid.NewString()
	if err := provider.PutRoot(ctx, rootID, root); err != nil {
		return "", err
	}
	return rootID, nil
}
