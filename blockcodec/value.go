package blockcodec

// ValueType is one of the closed set of value types a blockfile can hold.
// Fixed per blockfile.
type ValueType uint8

const (
	ValueTypeF32 ValueType = iota + 1
	ValueTypeU64
	ValueTypeU32
	ValueTypeBool
	ValueTypeString
	ValueTypeVector       // Vec<f32>, fixed dimensionality within a blockfile
	ValueTypePostingList  // Vec<u32>
	ValueTypeRoaringBitmap
	ValueTypeDataRecord
)

func (t ValueType) String() string {
	switch t {
	case ValueTypeF32:
		return "f32"
	case ValueTypeU64:
		return "u64"
	case ValueTypeU32:
		return "u32"
	case ValueTypeBool:
		return "bool"
	case ValueTypeString:
		return "string"
	case ValueTypeVector:
		return "vector"
	case ValueTypePostingList:
		return "posting_list"
	case ValueTypeRoaringBitmap:
		return "roaring_bitmap"
	case ValueTypeDataRecord:
		return "data_record"
	default:
		return "unknown"
	}
}

// fixedWidth reports the on-disk width in bytes for value types that don't
// need an offsets array (0 means variable-length).
func (t ValueType) fixedWidth(dimension int) int {
	switch t {
	case ValueTypeF32, ValueTypeU32:
		return 4
	case ValueTypeU64:
		return 8
	case ValueTypeBool:
		return 1
	case ValueTypeVector:
		return 4 * dimension
	default:
		return 0 // variable-length: string, posting list, roaring bitmap, data record
	}
}

// DataRecord is the composite value type for record-segment blockfiles:
// {id, embedding, metadata, document}.
type DataRecord struct {
	ID        string
	Embedding []float32
	// Metadata is an optional encoded map; nil means "no metadata attached",
	// which is distinct from an explicitly-empty map.
	Metadata map[string]MetadataValue
	// Document is an optional associated text blob.
	Document *string
}

// MetadataValue is a tagged union over the metadata value types the
// metadata segment's inverted indices can hold.
type MetadataValue struct {
	Kind MetadataValueKind
	Str  string
	F32  float32
	Bool bool
	U32  uint32
}

type MetadataValueKind uint8

const (
	MetaString MetadataValueKind = iota + 1
	MetaF32
	MetaBool
	MetaU32
)

// Value is the tagged union of all ValueType payloads a block cell may hold.
type Value struct {
	Type ValueType

	F32    float32
	U64    uint64
	U32    uint32
	Bool   bool
	Str    string
	Vector []float32
	Postings []uint32
	Bitmap   []byte // serialized roaring bitmap bytes
	Record   DataRecord
}
