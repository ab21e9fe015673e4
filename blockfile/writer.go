package blockfile

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/vekterdb/corekv/blockcodec"
	"github.com/vekterdb/corekv/errs"
)

// WriterConfig fixes the block type and size target a writer rolls blocks
// at, matching the blockfile's Root-level MaxBlockSize hint.
type WriterConfig struct {
	KeyType      blockcodec.KeyType
	ValueType    blockcodec.ValueType
	Dimension    int
	MaxBlockSize int64
	PrefixPath   string
	Compress     bool
}

// OrderedWriter accepts entries that arrive already in composite-key order
// (the common case: segment writers folding a sorted materialized batch
// against an existing, sorted segment) and rolls a new block each time the
// accumulated size tracker crosses MaxBlockSize.
type OrderedWriter struct {
	cfg      WriterConfig
	provider *Provider

	builder *Builder
	tracker sizeAccumulator
	last    *blockcodec.CompositeKey

	pendingEntries []blockcodec.Entry
	blockIDs       []string
	splitKeys      []blockcodec.CompositeKey
	counts         []int
	firstBlockID   string
	firstCount     int
	haveFirst      bool

	// base is non-nil for a writer constructed via NewOrderedWriterFromFork:
	// a copy-on-write fork of a parent root's sparse index. Add is then
	// restricted to keys strictly greater than every key the parent already
	// covers (append-only growth past a forked index), and Finish layers the
	// newly rolled blocks onto base rather than building a fresh index,
	// leaving every untouched parent entry pointing at its original block id.
	base        *SparseIndex
	appendFloor *blockcodec.CompositeKey
}

// Builder is a thin alias so writer.go doesn't need to import blockcodec's
// Builder type under two names; it is the same type as blockcodec.Builder.
type Builder = blockcodec.Builder

func NewOrderedWriter(provider *Provider, cfg WriterConfig) *OrderedWriter {
	w := &OrderedWriter{cfg: cfg, provider: provider}
	w.resetBuilder()
	return w
}

// NewOrderedWriterFromFork starts an OrderedWriter seeded from a
// copy-on-write fork of parentRootID's sparse index. It only accepts Add
// calls for keys strictly past the parent's highest covered key: every
// entry the parent already has survives untouched in Finish's result,
// sharing its block id with the parent, and the writer only uploads
// blocks for the new, appended tail.
func NewOrderedWriterFromFork(ctx context.Context, provider *Provider, cfg WriterConfig, parentRootID string) (*OrderedWriter, error) {
	base, err := provider.ForkRoot(ctx, parentRootID)
	if err != nil {
		return nil, err
	}
	w := &OrderedWriter{cfg: cfg, provider: provider, base: base}
	w.resetBuilder()
	w.firstBlockID, w.firstCount = base.First()
	w.haveFirst = true
	entries := base.Entries()
	lastID, lastCount := w.firstBlockID, w.firstCount
	if len(entries) > 0 {
		lastID, lastCount = entries[len(entries)-1].BlockID, entries[len(entries)-1].Count
	}
	if lastCount > 0 {
		blk, err := provider.GetBlock(ctx, cfg.PrefixPath, lastID)
		if err != nil {
			return nil, err
		}
		last, err := blk.Get(blk.Len() - 1)
		if err != nil {
			return nil, err
		}
		w.appendFloor = &blockcodec.CompositeKey{Prefix: last.Prefix, Key: last.Key}
	}
	return w, nil
}

// sizeAccumulator is the subset of SizeTracker/DataRecordSizeTracker's API
// an OrderedWriter needs to decide when to roll a block, letting it swap in
// DataRecordSizeTracker's per-column breakdown for DataRecord-valued
// writers without two separate code paths in Add.
type sizeAccumulator interface {
	AddPrefixSize(int)
	AddKeySize(int)
	AddValueSize(int)
	AddOffsetSize(int)
	AddValiditySize(int)
	Total() int
}

func (w *OrderedWriter) resetBuilder() {
	w.builder = blockcodec.NewBuilder(w.cfg.KeyType, w.cfg.ValueType, w.cfg.Dimension, w.cfg.Compress)
	if w.cfg.ValueType == blockcodec.ValueTypeDataRecord {
		w.tracker = blockcodec.NewDataRecordSizeTracker()
	} else {
		w.tracker = blockcodec.NewSizeTracker()
	}
	w.pendingEntries = nil
}

// Add appends the next entry, which must be strictly greater than the
// previous one.
func (w *OrderedWriter) Add(ctx context.Context, prefix string, key blockcodec.Key, value blockcodec.Value) error {
	ck := blockcodec.CompositeKey{Prefix: prefix, Key: key}
	if w.last != nil && !w.last.Less(ck) {
		return errs.New(errs.KindInvalidArgument, "blockfile.OrderedWriter.Add", prefix,
			errOutOfOrder)
	}
	if w.base != nil && w.appendFloor != nil && !w.appendFloor.Less(ck) {
		return errs.New(errs.KindInvalidArgument, "blockfile.OrderedWriter.Add", prefix,
			errForkNotAppend)
	}
	last := ck
	w.last = &last

	if err := w.builder.Add(prefix, key, value); err != nil {
		return err
	}
	w.pendingEntries = append(w.pendingEntries, blockcodec.Entry{Prefix: prefix, Key: key, Value: value})
	w.tracker.AddKeySize(entryKeySize(key))
	w.tracker.AddPrefixSize(len(prefix))
	offsets := 4 // the prefix column's offsets array
	if key.Type == blockcodec.KeyTypeString {
		offsets += 4
	}
	switch w.cfg.ValueType {
	case blockcodec.ValueTypeString, blockcodec.ValueTypePostingList, blockcodec.ValueTypeRoaringBitmap, blockcodec.ValueTypeDataRecord:
		offsets += 4
	}
	w.tracker.AddOffsetSize(offsets)
	if w.builder.Len()%8 == 1 {
		w.tracker.AddValiditySize(1)
	}
	if dt, ok := w.tracker.(*blockcodec.DataRecordSizeTracker); ok {
		dt.AddValueSize(len(value.Record.ID))
		dt.AddEmbeddingSize(4 * len(value.Record.Embedding))
		dt.AddDocumentSize(dataRecordDocumentSize(value.Record.Document))
		dt.AddMetadataSize(dataRecordMetadataSize(value.Record.Metadata))
	} else {
		w.tracker.AddValueSize(entryValueSize(value, w.cfg.Dimension))
	}

	if int64(w.tracker.Total()) >= w.cfg.MaxBlockSize {
		return w.rollBlock(ctx)
	}
	return nil
}

// rollBlock finishes the current builder into a block, persists it, and
// records its split key (the first entry's composite key) in the pending
// root entries.
func (w *OrderedWriter) rollBlock(ctx context.Context) error {
	if w.builder.Len() == 0 {
		return nil
	}
	splitKey := blockcodec.CompositeKey{Prefix: w.pendingEntries[0].Prefix, Key: w.pendingEntries[0].Key}
	count := w.builder.Len()
	data, err := w.builder.Finish()
	if err != nil {
		return err
	}
	blockID := uuid.NewString()
	if err := w.provider.PutBlock(ctx, w.cfg.PrefixPath, blockID, data); err != nil {
		return err
	}

	if !w.haveFirst {
		w.firstBlockID = blockID
		w.firstCount = count
		w.haveFirst = true
	} else {
		w.blockIDs = append(w.blockIDs, blockID)
		w.splitKeys = append(w.splitKeys, splitKey)
		w.counts = append(w.counts, count)
	}

	w.resetBuilder()
	return nil
}

// Finish flushes any partial block and returns a SparseIndex describing
// every block this writer produced. A writer that never had Add called
// still publishes a single empty first block, so every blockfile version
// (including a freshly created, entirely empty one) has a valid root.
func (w *OrderedWriter) Finish(ctx context.Context) (*SparseIndex, error) {
	if w.builder.Len() > 0 {
		if err := w.rollBlock(ctx); err != nil {
			return nil, err
		}
	}

	if w.base != nil {
		for i, id := range w.blockIDs {
			w.base.Insert(w.splitKeys[i], id, w.counts[i])
		}
		return w.base, nil
	}

	if !w.haveFirst {
		data, err := w.builder.Finish()
		if err != nil {
			return nil, err
		}
		blockID := uuid.NewString()
		if err := w.provider.PutBlock(ctx, w.cfg.PrefixPath, blockID, data); err != nil {
			return nil, err
		}
		w.firstBlockID = blockID
		w.firstCount = 0
		w.haveFirst = true
	}
	idx := NewSparseIndex(w.firstBlockID, w.firstCount)
	for i, id := range w.blockIDs {
		idx.Insert(w.splitKeys[i], id, w.counts[i])
	}
	return idx, nil
}

// UnorderedWriter buffers entries in arrival order from potentially many
// concurrent producers, sorts them once at Finish time, and builds blocks
// from the sorted run exactly as OrderedWriter would. Concurrent Add calls
// are safe; Finish must be called only after every producer has stopped
// adding.
type UnorderedWriter struct {
	cfg      WriterConfig
	provider *Provider

	mu      chanMutex
	entries []blockcodec.Entry

	// forkParentRootID is non-empty for a writer constructed via
	// NewUnorderedWriterFromFork; Finish resolves it into a forked
	// OrderedWriter instead of a plain one.
	forkParentRootID string
}

type chanMutex chan struct{}

func newChanMutex() chanMutex {
	m := make(chanMutex, 1)
	m <- struct{}{}
	return m
}

func (m chanMutex) Lock()   { <-m }
func (m chanMutex) Unlock() { m <- struct{}{} }

func NewUnorderedWriter(provider *Provider, cfg WriterConfig) *UnorderedWriter {
	return &UnorderedWriter{cfg: cfg, provider: provider, mu: newChanMutex()}
}

// NewUnorderedWriterFromFork is NewUnorderedWriter's copy-on-write
// counterpart: at Finish time, the sorted entries are applied against a
// fork of parentRootID's sparse index via NewOrderedWriterFromFork, so
// every added key must sort past the parent's highest covered key.
func NewUnorderedWriterFromFork(provider *Provider, cfg WriterConfig, parentRootID string) *UnorderedWriter {
	return &UnorderedWriter{cfg: cfg, provider: provider, mu: newChanMutex(), forkParentRootID: parentRootID}
}

// Add is safe for concurrent use by multiple goroutines.
func (w *UnorderedWriter) Add(prefix string, key blockcodec.Key, value blockcodec.Value) error {
	if err := checkKeyTypeMatches(key, w.cfg.KeyType); err != nil {
		return err
	}
	w.mu.Lock()
	w.entries = append(w.entries, blockcodec.Entry{Prefix: prefix, Key: key, Value: value})
	w.mu.Unlock()
	return nil
}

func checkKeyTypeMatches(k blockcodec.Key, want blockcodec.KeyType) error {
	if k.Type != want {
		return errs.New(errs.KindInvalidArgument, "blockfile.UnorderedWriter.Add", "", errKeyTypeMismatch)
	}
	return nil
}

// Finish sorts everything added so far by composite key and builds blocks
// from the sorted run via an OrderedWriter, deduplicating nothing: callers
// (the segment layer, post-materialization) are responsible for ensuring
// entries are already deduplicated by key before Finish is called.
func (w *UnorderedWriter) Finish(ctx context.Context) (*SparseIndex, error) {
	w.mu.Lock()
	entries := w.entries
	w.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		a := blockcodec.CompositeKey{Prefix: entries[i].Prefix, Key: entries[i].Key}
		b := blockcodec.CompositeKey{Prefix: entries[j].Prefix, Key: entries[j].Key}
		return a.Less(b)
	})

	var ow *OrderedWriter
	if w.forkParentRootID != "" {
		var err error
		ow, err = NewOrderedWriterFromFork(ctx, w.provider, w.cfg, w.forkParentRootID)
		if err != nil {
			return nil, err
		}
	} else {
		ow = NewOrderedWriter(w.provider, w.cfg)
	}
	for _, e := range entries {
		if err := ow.Add(ctx, e.Prefix, e.Key, e.Value); err != nil {
			return nil, err
		}
	}
	return ow.Finish(ctx)
}

func entryKeySize(k blockcodec.Key) int {
	switch k.Type {
	case blockcodec.KeyTypeString:
		return len(k.Str)
	case blockcodec.KeyTypeBool:
		return 1
	default:
		return 4
	}
}

func entryValueSize(v blockcodec.Value, dimension int) int {
	switch v.Type {
	case blockcodec.ValueTypeString:
		return len(v.Str)
	case blockcodec.ValueTypeVector:
		return 4 * dimension
	case blockcodec.ValueTypePostingList:
		return 4 * len(v.Postings)
	case blockcodec.ValueTypeRoaringBitmap:
		return len(v.Bitmap)
	case blockcodec.ValueTypeBool:
		return 1
	case blockcodec.ValueTypeU64:
		return 8
	case blockcodec.ValueTypeDataRecord:
		size := len(v.Record.ID) + 4*len(v.Record.Embedding) + dataRecordDocumentSize(v.Record.Document)
		return size + dataRecordMetadataSize(v.Record.Metadata)
	default:
		return 4
	}
}

func dataRecordDocumentSize(doc *string) int {
	if doc == nil {
		return 0
	}
	return len(*doc)
}

// dataRecordMetadataSize sums each metadata entry's key plus an estimate of
// its value's width: MetaString counts its own byte length, every other kind
// counts as 4 bytes.
func dataRecordMetadataSize(m map[string]blockcodec.MetadataValue) int {
	size := 0
	for k, v := range m {
		size += len(k)
		if v.Kind == blockcodec.MetaString {
			size += len(v.Str)
		} else {
			size += 4
		}
	}
	return size
}
