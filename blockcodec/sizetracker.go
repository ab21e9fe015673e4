package blockcodec

// roundUpTo64 rounds n up to the next multiple of 64, matching Arrow's
// buffer alignment convention that every block section (keys, values,
// offsets, validity bitmap) is padded to a 64-byte boundary.
func roundUpTo64(n int) int {
	const align = 64
	if n < 0 {
		return 0
	}
	return (n + align - 1) &^ (align - 1)
}

// SizeTracker accumulates the unpadded byte counts of a block's prefix, key,
// value, offset-array and validity-bitmap sections as cells are added to a
// Builder, and reports both the raw and the 64-byte-aligned padded size of
// each section. Every section is padded, including the offset array
// and validity bitmap: a block with an all-fixed-width value type still pays
// for offset-array padding once any variable-length section is present.
type SizeTracker struct {
	prefixSize   int
	keySize      int
	valueSize    int
	offsetSize   int
	validitySize int
}

func NewSizeTracker() *SizeTracker {
	return &SizeTracker{}
}

func (t *SizeTracker) AddPrefixSize(n int)   { t.prefixSize += n }
func (t *SizeTracker) AddKeySize(n int)      { t.keySize += n }
func (t *SizeTracker) AddValueSize(n int)    { t.valueSize += n }
func (t *SizeTracker) AddOffsetSize(n int)   { t.offsetSize += n }
func (t *SizeTracker) AddValiditySize(n int) { t.validitySize += n }

func (t *SizeTracker) SubtractPrefixSize(n int) { t.prefixSize -= n }
func (t *SizeTracker) SubtractKeySize(n int)    { t.keySize -= n }
func (t *SizeTracker) SubtractValueSize(n int)  { t.valueSize -= n }

func (t *SizeTracker) PrefixSize() int   { return t.prefixSize }
func (t *SizeTracker) KeySize() int      { return t.keySize }
func (t *SizeTracker) ValueSize() int    { return t.valueSize }
func (t *SizeTracker) OffsetSize() int   { return t.offsetSize }
func (t *SizeTracker) ValiditySize() int { return t.validitySize }

func (t *SizeTracker) PaddedPrefixSize() int   { return roundUpTo64(t.prefixSize) }
func (t *SizeTracker) PaddedKeySize() int      { return roundUpTo64(t.keySize) }
func (t *SizeTracker) PaddedValueSize() int    { return roundUpTo64(t.valueSize) }
func (t *SizeTracker) PaddedOffsetSize() int   { return roundUpTo64(t.offsetSize) }
func (t *SizeTracker) PaddedValiditySize() int { return roundUpTo64(t.validitySize) }

// Total is the padded size of the block body this tracker describes,
// excluding the fixed header/footer, which are accounted separately.
func (t *SizeTracker) Total() int {
	return t.PaddedPrefixSize() + t.PaddedKeySize() + t.PaddedValueSize() +
		t.PaddedOffsetSize() + t.PaddedValiditySize()
}

// DataRecordSizeTracker extends SizeTracker with the extra sections a
// DataRecord value needs: the embedding, the metadata map and the optional
// document blob each get independent accounting, mirroring
// data_record_size_tracker.rs's per-column breakdown of the composite type.
type DataRecordSizeTracker struct {
	SizeTracker
	embeddingSize int
	metadataSize  int
	documentSize  int
}

func NewDataRecordSizeTracker() *DataRecordSizeTracker {
	return &DataRecordSizeTracker{}
}

func (t *DataRecordSizeTracker) AddEmbeddingSize(n int) { t.embeddingSize += n }
func (t *DataRecordSizeTracker) AddMetadataSize(n int)  { t.metadataSize += n }
func (t *DataRecordSizeTracker) AddDocumentSize(n int)  { t.documentSize += n }

func (t *DataRecordSizeTracker) SubtractEmbeddingSize(n int) { t.embeddingSize -= n }
func (t *DataRecordSizeTracker) SubtractMetadataSize(n int)  { t.metadataSize -= n }
func (t *DataRecordSizeTracker) SubtractDocumentSize(n int)  { t.documentSize -= n }

func (t *DataRecordSizeTracker) EmbeddingSize() int { return t.embeddingSize }
func (t *DataRecordSizeTracker) MetadataSize() int  { return t.metadataSize }
func (t *DataRecordSizeTracker) DocumentSize() int  { return t.documentSize }

func (t *DataRecordSizeTracker) PaddedEmbeddingSize() int { return roundUpTo64(t.embeddingSize) }
func (t *DataRecordSizeTracker) PaddedMetadataSize() int  { return roundUpTo64(t.metadataSize) }
func (t *DataRecordSizeTracker) PaddedDocumentSize() int  { return roundUpTo64(t.documentSize) }

func (t *DataRecordSizeTracker) Total() int {
	return t.SizeTracker.Total() + t.PaddedEmbeddingSize() + t.PaddedMetadataSize() + t.PaddedDocumentSize()
}
