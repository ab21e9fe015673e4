package segment

import (
	"context"
	"sort"
	"strings"

	"github.com/google/btree"
	"golang.org/x/text/unicode/norm"

	"github.com/vekterdb/corekv/blockcodec"
	"github.com/vekterdb/corekv/blockfile"
)

// Tokenizer splits a document into the tokens its full-text index stores
// postings under. Write-time and query-time tokenization must use the same
// Tokenizer, or lookups silently diverge.
type Tokenizer interface {
	Tokenize(s string) []string
}

// NGramTokenizer is the default tokenizer: NFC-normalize then shingle into
// fixed-width, lower-cased character n-grams.
type NGramTokenizer struct {
	N int
}

func NewNGramTokenizer() NGramTokenizer { return NGramTokenizer{N: 3} }

func (t NGramTokenizer) Tokenize(s string) []string {
	s = strings.ToLower(norm.NFC.String(s))
	runes := []rune(s)
	n := t.N
	if n <= 0 {
		n = 3
	}
	if len(runes) < n {
		if len(runes) == 0 {
			return nil
		}
		return []string{string(runes)}
	}
	out := make([]string, 0, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		out = append(out, string(runes[i:i+n]))
	}
	return out
}

// metaIndexItem is one (value, offsetID) pair held by a per-key ordered
// btree, mirroring storage/index.go's deltaBtree indexPair shape.
type metaIndexItem struct {
	value    blockcodec.MetadataValue
	offsetID uint32
}

func lessMetaValue(a, b blockcodec.MetadataValue) bool {
	switch a.Kind {
	case blockcodec.MetaString:
		return a.Str < b.Str
	case blockcodec.MetaF32:
		return a.F32 < b.F32
	case blockcodec.MetaBool:
		return !a.Bool && b.Bool
	case blockcodec.MetaU32:
		return a.U32 < b.U32
	default:
		return false
	}
}

func metaIndexLess(a, b metaIndexItem) bool {
	if lessMetaValue(a.value, b.value) {
		return true
	}
	if lessMetaValue(b.value, a.value) {
		return false
	}
	return a.offsetID < b.offsetID
}

// MetadataIndex is one metadata key's in-memory inverted index: an ordered
// btree of (value, offsetID) pairs supporting equality and range queries,
// the same role storage/index.go's deltaBtree plays for relational columns.
type MetadataIndex struct {
	key  string
	tree *btree.BTreeG[metaIndexItem]
}

func newMetadataIndex(key string) *MetadataIndex {
	return &MetadataIndex{key: key, tree: btree.NewG(32, metaIndexLess)}
}

func (idx *MetadataIndex) insert(value blockcodec.MetadataValue, offsetID uint32) {
	idx.tree.ReplaceOrInsert(metaIndexItem{value: value, offsetID: offsetID})
}

func (idx *MetadataIndex) remove(value blockcodec.MetadataValue, offsetID uint32) {
	idx.tree.Delete(metaIndexItem{value: value, offsetID: offsetID})
}

// Equals returns every offset id whose value for this key equals value.
func (idx *MetadataIndex) Equals(value blockcodec.MetadataValue) []uint32 {
	var out []uint32
	pivot := metaIndexItem{value: value}
	idx.tree.AscendGreaterOrEqual(pivot, func(item metaIndexItem) bool {
		if lessMetaValue(value, item.value) {
			return false
		}
		out = append(out, item.offsetID)
		return true
	})
	return out
}

// Range returns every offset id whose value for this key falls in [lo, hi].
func (idx *MetadataIndex) Range(lo, hi blockcodec.MetadataValue) []uint32 {
	var out []uint32
	pivot := metaIndexItem{value: lo}
	idx.tree.AscendGreaterOrEqual(pivot, func(item metaIndexItem) bool {
		if lessMetaValue(hi, item.value) {
			return false
		}
		out = append(out, item.offsetID)
		return true
	})
	return out
}

// MetadataSegmentPaths names the persisted full-text blockfiles; the
// per-key value indexes (MetadataIndex) are never persisted: OpenMetadataSegment
// starts them empty and only MetadataSegmentWriter.Index fills them, matching the teacher's
// deltaBtree being a rebuildable, in-memory-only structure.
type MetadataSegmentPaths struct {
	PostingsRootID  string // token -> posting list of offset ids
	FrequencyRootID string // (token, offsetID) -> term frequency, encoded as "token\x00offsetID"
}

// MetadataSegment holds the per-key value indexes plus the persisted
// full-text posting/frequency blockfiles for one document field.
type MetadataSegment struct {
	tokenizer Tokenizer
	indexes   map[string]*MetadataIndex

	provider     *blockfile.Provider
	paths        MetadataSegmentPaths
	prefixPath   string
	maxBlockSize int64

	postings  *blockfile.Reader
	frequency *blockfile.Reader
}

func OpenMetadataSegment(ctx context.Context, provider *blockfile.Provider, paths MetadataSegmentPaths, prefixPath string, maxBlockSize int64, tokenizer Tokenizer) (*MetadataSegment, error) {
	if tokenizer == nil {
		tokenizer = NewNGramTokenizer()
	}
	seg := &MetadataSegment{
		tokenizer: tokenizer, indexes: make(map[string]*MetadataIndex),
		provider: provider, paths: paths, prefixPath: prefixPath, maxBlockSize: maxBlockSize,
	}
	if paths.PostingsRootID != "" {
		root, err := provider.GetRoot(ctx, paths.PostingsRootID)
		if err != nil {
			return nil, err
		}
		seg.postings = blockfile.NewReader(provider, root)
	}
	if paths.FrequencyRootID != "" {
		root, err := provider.GetRoot(ctx, paths.FrequencyRootID)
		if err != nil {
			return nil, err
		}
		seg.frequency = blockfile.NewReader(provider, root)
	}
	return seg, nil
}

// indexFor returns (creating if needed) the per-key value index.
func (s *MetadataSegment) indexFor(key string) *MetadataIndex {
	idx, ok := s.indexes[key]
	if !ok {
		idx = newMetadataIndex(key)
		s.indexes[key] = idx
	}
	return idx
}

// Equals looks up offset ids whose metadata[key] equals value.
func (s *MetadataSegment) Equals(key string, value blockcodec.MetadataValue) []uint32 {
	idx, ok := s.indexes[key]
	if !ok {
		return nil
	}
	return idx.Equals(value)
}

// Range looks up offset ids whose metadata[key] falls within [lo, hi].
func (s *MetadataSegment) Range(key string, lo, hi blockcodec.MetadataValue) []uint32 {
	idx, ok := s.indexes[key]
	if !ok {
		return nil
	}
	return idx.Range(lo, hi)
}

// SearchToken returns offset ids containing the exact token (a pre-tokenized
// query term), reading through the persisted postings blockfile.
func (s *MetadataSegment) SearchToken(ctx context.Context, token string) ([]uint32, error) {
	if s.postings == nil {
		return nil, nil
	}
	v, err := s.postings.Get(ctx, "", blockcodec.StringKey(token))
	if err != nil {
		return nil, nil
	}
	return v.Postings, nil
}

// Search tokenizes query with the segment's tokenizer and returns the union
// of postings across every token, each paired with its term frequency.
func (s *MetadataSegment) Search(ctx context.Context, query string) (map[uint32]int, error) {
	tokens := s.tokenizer.Tokenize(query)
	scores := make(map[uint32]int)
	for _, tok := range tokens {
		ids, err := s.SearchToken(ctx, tok)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			freq, err := s.termFrequency(ctx, tok, id)
			if err != nil {
				return nil, err
			}
			scores[id] += freq
		}
	}
	return scores, nil
}

func (s *MetadataSegment) termFrequency(ctx context.Context, token string, offsetID uint32) (int, error) {
	if s.frequency == nil {
		return 0, nil
	}
	v, err := s.frequency.Get(ctx, "", blockcodec.StringKey(frequencyKey(token, offsetID)))
	if err != nil {
		return 0, nil
	}
	return int(v.U32), nil
}

func frequencyKey(token string, offsetID uint32) string {
	return token + "\x00" + rawU32Key(offsetID)
}

// MetadataSegmentWriter rebuilds per-key value indexes and full-text
// postings from scratch against the full merged record set, the same
// full-rewrite-per-compaction shape as RecordSegmentWriter.
type MetadataSegmentWriter struct {
	seg *MetadataSegment

	docFreq  map[string]map[uint32]int // token -> offsetID -> frequency
	metadata map[uint32]map[string]blockcodec.MetadataValue
}

func (s *MetadataSegment) NewWriter() *MetadataSegmentWriter {
	return &MetadataSegmentWriter{
		seg:      s,
		docFreq:  make(map[string]map[uint32]int),
		metadata: make(map[uint32]map[string]blockcodec.MetadataValue),
	}
}

// Index folds one record's current metadata/document fields into the
// writer's working indexes, replacing whatever that offset id previously
// contributed (callers re-index every live offset id on each compaction).
func (w *MetadataSegmentWriter) Index(offsetID uint32, metadata map[string]blockcodec.MetadataValue, document *string) {
	w.Remove(offsetID)
	if metadata != nil {
		w.metadata[offsetID] = metadata
		for key, v := range metadata {
			w.seg.indexFor(key).insert(v, offsetID)
		}
	}
	if document != nil {
		for _, tok := range w.seg.tokenizer.Tokenize(*document) {
			m, ok := w.docFreq[tok]
			if !ok {
				m = make(map[uint32]int)
				w.docFreq[tok] = m
			}
			m[offsetID]++
		}
	}
}

// Remove retracts a previously-indexed offset id from every value index and
// the full-text postings, used when a record is deleted or re-indexed.
func (w *MetadataSegmentWriter) Remove(offsetID uint32) {
	if old, ok := w.metadata[offsetID]; ok {
		for key, v := range old {
			if idx, ok := w.seg.indexes[key]; ok {
				idx.remove(v, offsetID)
			}
		}
		delete(w.metadata, offsetID)
	}
	for tok, m := range w.docFreq {
		delete(m, offsetID)
		if len(m) == 0 {
			delete(w.docFreq, tok)
		}
	}
}

// Commit publishes fresh postings/frequency blockfiles from the writer's
// accumulated full-text state.
func (w *MetadataSegmentWriter) Commit(ctx context.Context) (MetadataSegmentPaths, error) {
	postingsCfg := blockfile.WriterConfig{
		KeyType: blockcodec.KeyTypeString, ValueType: blockcodec.ValueTypePostingList,
		MaxBlockSize: w.seg.maxBlockSize, PrefixPath: w.seg.prefixPath + "/postings",
	}
	postingsWriter := blockfile.NewUnorderedWriter(w.seg.provider, postingsCfg)

	freqCfg := blockfile.WriterConfig{
		KeyType: blockcodec.KeyTypeString, ValueType: blockcodec.ValueTypeU32,
		MaxBlockSize: w.seg.maxBlockSize, PrefixPath: w.seg.prefixPath + "/frequency",
	}
	freqWriter := blockfile.NewUnorderedWriter(w.seg.provider, freqCfg)

	tokens := make([]string, 0, len(w.docFreq))
	for tok := range w.docFreq {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)

	for _, tok := range tokens {
		byOffset := w.docFreq[tok]
		ids := make([]uint32, 0, len(byOffset))
		for id := range byOffset {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		if err := postingsWriter.Add("", blockcodec.StringKey(tok), blockcodec.Value{Type: blockcodec.ValueTypePostingList, Postings: ids}); err != nil {
			return MetadataSegmentPaths{}, err
		}
		for _, id := range ids {
			key := tok + "\x00" + rawU32Key(id)
			if err := freqWriter.Add("", blockcodec.StringKey(key), blockcodec.Value{Type: blockcodec.ValueTypeU32, U32: uint32(byOffset[id])}); err != nil {
				return MetadataSegmentPaths{}, err
			}
		}
	}

	postingsIdx, err := postingsWriter.Finish(ctx)
	if err != nil {
		return MetadataSegmentPaths{}, err
	}
	freqIdx, err := freqWriter.Finish(ctx)
	if err != nil {
		return MetadataSegmentPaths{}, err
	}

	postingsRootID, err := publishRoot(ctx, w.seg.provider, postingsIdx, postingsCfg)
	if err != nil {
		return MetadataSegmentPaths{}, err
	}
	freqRootID, err := publishRoot(ctx, w.seg.provider, freqIdx, freqCfg)
	if err != nil {
		return MetadataSegmentPaths{}, err
	}

	return MetadataSegmentPaths{PostingsRootID: postingsRootID, FrequencyRootID: freqRootID}, nil
}

func rawU32Key(id uint32) string {
	b := make([]byte, 4)
	b[0] = byte(id >> 24)
	b[1] = byte(id >> 16)
	b[2] = byte(id >> 8)
	b[3] = byte(id)
	return string(b)
}
