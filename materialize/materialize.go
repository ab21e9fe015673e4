// Package materialize implements the log materializer: folding an ordered
// chunk of WAL operations against an existing record segment into a
// collapsed, offset-ordered batch of effective mutations.
package materialize

import (
	"context"

	"github.com/vekterdb/corekv/blockcodec"
	"github.com/vekterdb/corekv/errs"
)

// Operation is one of the four WAL mutation kinds a LogRecord can carry.
type Operation uint8

const (
	OpAdd Operation = iota + 1
	OpUpdate
	OpUpsert
	OpDelete
)

func (o Operation) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpUpdate:
		return "update"
	case OpUpsert:
		return "upsert"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// LogRecord is one WAL entry as presented to the materializer. A nil
// Embedding/Document/Metadata field means "not provided by this record";
// distinguishing "provided as empty" from "not provided" is the caller's
// job when constructing the record from the wire format.
type LogRecord struct {
	Offset    uint64
	UserID    string
	Operation Operation
	Embedding []float32
	// Metadata entries map a key to its new value; a nil value pointer
	// tombstones that key.
	Metadata map[string]*blockcodec.MetadataValue
	Document *string
}

// MaterializedLogRecord is the materializer's output: the effective,
// collapsed mutation for one user id.
type MaterializedLogRecord struct {
	OffsetID       uint32
	UserID         string
	FinalOperation Operation
	Embedding      []float32
	Metadata       map[string]*blockcodec.MetadataValue
	Document       *string
	// DeleteExisting marks a record whose offset id must be removed from
	// every derived index; preserved through materialization so downstream
	// index cleanup doesn't need to re-derive it.
	DeleteExisting bool
}

// RecordLookup is the narrow view the materializer needs of a record
// segment: whether a user id is already present, its offset id, and its
// currently-persisted fields (needed for field-wise Update merges). Kept as
// an interface rather than importing the segment package directly, since
// segment.RecordSegment in turn needs this package's types to apply a
// materialized chunk — importing segment here would cycle back.
type RecordLookup interface {
	Lookup(ctx context.Context, userID string) (offsetID uint32, record blockcodec.DataRecord, found bool, err error)
}

type chunkState struct {
	idx int
}

// Materialize folds records (already in log-offset order) against lookup,
// assigning tentative offset ids for newly-added users by drawing from
// *nextOffsetID (which the caller seeds from the record segment's current
// maximum). Errors from lookup propagate immediately; no partial result is
// ever returned.
func Materialize(ctx context.Context, records []LogRecord, lookup RecordLookup, nextOffsetID *uint32) ([]MaterializedLogRecord, error) {
	var output []MaterializedLogRecord
	pending := make(map[string]chunkState)

	for _, rec := range records {
		if st, ok := pending[rec.UserID]; ok {
			applyInChunk(&output[st.idx], rec)
			continue
		}

		offsetID, oldRec, found, err := lookup.Lookup(ctx, rec.UserID)
		if err != nil {
			return nil, errs.New(errs.KindInternal, "materialize.Materialize", rec.UserID, err)
		}

		switch {
		case !found && rec.Operation == OpAdd:
			id := allocate(nextOffsetID)
			output = append(output, MaterializedLogRecord{
				OffsetID: id, UserID: rec.UserID, FinalOperation: OpAdd,
				Embedding: rec.Embedding, Metadata: cloneMeta(rec.Metadata), Document: rec.Document,
			})
			pending[rec.UserID] = chunkState{idx: len(output) - 1}

		case !found && rec.Operation == OpUpsert:
			id := allocate(nextOffsetID)
			output = append(output, MaterializedLogRecord{
				OffsetID: id, UserID: rec.UserID, FinalOperation: OpUpsert,
				Embedding: rec.Embedding, Metadata: cloneMeta(rec.Metadata), Document: rec.Document,
			})
			pending[rec.UserID] = chunkState{idx: len(output) - 1}

		case !found:
			// Update or Delete against a user id that doesn't exist yet: no-op.
			continue

		case found && rec.Operation == OpAdd:
			// Already exists: treat the Add as a no-op.
			continue

		case found && rec.Operation == OpUpsert:
			output = append(output, MaterializedLogRecord{
				OffsetID: offsetID, UserID: rec.UserID, FinalOperation: OpUpsert,
				Embedding: rec.Embedding, Metadata: cloneMeta(rec.Metadata), Document: rec.Document,
			})
			pending[rec.UserID] = chunkState{idx: len(output) - 1}

		case found && rec.Operation == OpUpdate:
			embedding, metadata, document := mergeFieldwise(oldRec, rec)
			output = append(output, MaterializedLogRecord{
				OffsetID: offsetID, UserID: rec.UserID, FinalOperation: OpUpdate,
				Embedding: embedding, Metadata: metadata, Document: document,
			})
			pending[rec.UserID] = chunkState{idx: len(output) - 1}

		case found && rec.Operation == OpDelete:
			output = append(output, MaterializedLogRecord{
				OffsetID: offsetID, UserID: rec.UserID, FinalOperation: OpDelete, DeleteExisting: true,
			})
			pending[rec.UserID] = chunkState{idx: len(output) - 1}
		}
	}

	return output, nil
}

// applyInChunk folds a second (or later) operation against a user id that
// already produced an output entry earlier in this same chunk (a pending
// insert merged against in-memory state).
func applyInChunk(out *MaterializedLogRecord, rec LogRecord) {
	switch rec.Operation {
	case OpAdd:
		// no-op: already resolved to an existing/pending id this chunk.
	case OpUpsert:
		out.FinalOperation = OpUpsert
		out.Embedding = rec.Embedding
		out.Metadata = cloneMeta(rec.Metadata)
		out.Document = rec.Document
		out.DeleteExisting = false
	case OpUpdate:
		out.FinalOperation = OpUpdate
		if rec.Embedding != nil {
			out.Embedding = rec.Embedding
		}
		out.Metadata = mergeMetaInPlace(out.Metadata, rec.Metadata)
		if rec.Document != nil {
			out.Document = rec.Document
		}
		out.DeleteExisting = false
	case OpDelete:
		out.FinalOperation = OpDelete
		out.DeleteExisting = true
	}
}

func allocate(next *uint32) uint32 {
	id := *next
	*next++
	return id
}

func cloneMeta(m map[string]*blockcodec.MetadataValue) map[string]*blockcodec.MetadataValue {
	if m == nil {
		return nil
	}
	out := make(map[string]*blockcodec.MetadataValue, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// mergeMetaInPlace applies incoming's field-wise tombstone/overwrite rule
// onto base, returning base (mutated).
func mergeMetaInPlace(base, incoming map[string]*blockcodec.MetadataValue) map[string]*blockcodec.MetadataValue {
	if incoming == nil {
		return base
	}
	if base == nil {
		base = make(map[string]*blockcodec.MetadataValue, len(incoming))
	}
	for k, v := range incoming {
		if v == nil {
			delete(base, k)
		} else {
			base[k] = v
		}
	}
	return base
}

// mergeFieldwise merges a LogRecord's Update fields onto a previously
// persisted DataRecord: nil Embedding/Document in rec means "keep old",
// Metadata merges field-wise with nil-valued entries tombstoning a key.
func mergeFieldwise(old blockcodec.DataRecord, rec LogRecord) (embedding []float32, metadata map[string]*blockcodec.MetadataValue, document *string) {
	embedding = old.Embedding
	if rec.Embedding != nil {
		embedding = rec.Embedding
	}
	document = old.Document
	if rec.Document != nil {
		document = rec.Document
	}
	metadata = metadataFromRecord(old)
	metadata = mergeMetaInPlace(metadata, rec.Metadata)
	return embedding, metadata, document
}

func metadataFromRecord(r blockcodec.DataRecord) map[string]*blockcodec.MetadataValue {
	if r.Metadata == nil {
		return nil
	}
	out := make(map[string]*blockcodec.MetadataValue, len(r.Metadata))
	for k, v := range r.Metadata {
		v := v
		out[k] = &v
	}
	return out
}

// FreedOffsetIDs returns the offset ids a chunk marks DeleteExisting, which
// downstream GC may reclaim.
func FreedOffsetIDs(chunk []MaterializedLogRecord) []uint32 {
	var out []uint32
	for _, r := range chunk {
		if r.DeleteExisting {
			out = append(out, r.OffsetID)
		}
	}
	return out
}
