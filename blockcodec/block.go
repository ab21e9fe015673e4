package blockcodec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pierrec/lz4/v4"

	"github.com/vekterdb/corekv/errs"
)

// blockMagic identifies a corekv block. Any other leading 4 bytes is Corruption.
var blockMagic = [4]byte{'C', 'K', 'V', 'B'}

const blockVersion = 1

// headerSize is the fixed, padded-to-64-bytes header.
const headerSize = 64

const (
	flagValueCompressed = 1 << 0
)

// Entry is a single (prefix, key, value) cell as presented to a Builder.
// Cells must arrive in composite-key order; Builder.Add enforces this and
// enforces that every Key carries the same KeyType within one block.
type Entry struct {
	Prefix string
	Key    Key
	Value  Value
}

// Builder accumulates sorted entries and produces a single encoded block.
// One Builder produces exactly one block; callers roll over to a new
// Builder once MaxBlockSize (tracked externally via SizeTracker) is reached.
type Builder struct {
	keyType   KeyType
	valueType ValueType
	dimension int
	compress  bool

	entries []Entry
	last    *CompositeKey
}

// NewBuilder starts a block of the given key/value type. dimension is only
// meaningful for ValueTypeVector and is otherwise ignored. compress enables
// lz4 framing of the value column.
func NewBuilder(keyType KeyType, valueType ValueType, dimension int, compress bool) *Builder {
	return &Builder{keyType: keyType, valueType: valueType, dimension: dimension, compress: compress}
}

// Add appends one entry. Entries must be strictly increasing by composite
// key; out-of-order or mixed-key-type input is rejected rather than silently
// accepted, since a block's binary search assumes sortedness.
func (b *Builder) Add(prefix string, key Key, value Value) error {
	if err := checkKeyType(key, b.keyType); err != nil {
		return err
	}
	ck := CompositeKey{Prefix: prefix, Key: key}
	if b.last != nil && !b.last.Less(ck) {
		return errs.New(errs.KindInvalidArgument, "blockcodec.Builder.Add", prefix,
			fmt.Errorf("entries must be added in strictly increasing composite-key order"))
	}
	last := ck
	b.last = &last
	b.entries = append(b.entries, Entry{Prefix: prefix, Key: key, Value: value})
	return nil
}

// Len reports the number of entries added so far.
func (b *Builder) Len() int { return len(b.entries) }

// Finish encodes the accumulated entries into a single block's bytes.
func (b *Builder) Finish() ([]byte, error) {
	prefixBytes, prefixOffsets := encodeStringColumn(mapEntries(b.entries, func(e Entry) string { return e.Prefix }))
	keyBytes, keyOffsets, err := b.encodeKeyColumn()
	if err != nil {
		return nil, err
	}
	valueBytes, valueOffsets, validity, err := b.encodeValueColumn()
	if err != nil {
		return nil, err
	}

	flags := byte(0)
	if b.compress && len(valueBytes) > 0 {
		compressed := make([]byte, lz4.CompressBlockBound(len(valueBytes)))
		var c lz4.Compressor
		n, err := c.CompressBlock(valueBytes, compressed)
		if err == nil && n > 0 && n < len(valueBytes) {
			valueBytes = compressed[:n]
			flags |= flagValueCompressed
		}
	}

	sections := [][]byte{prefixBytes, prefixOffsets, keyBytes, keyOffsets, valueBytes, valueOffsets, validity}
	footer := encodeFooter(sections)

	out := make([]byte, 0, headerSize+sumLens(sections)+len(footer))
	out = append(out, encodeHeader(b.keyType, b.valueType, b.dimension, len(b.entries), flags, len(valueBytes))...)
	for _, s := range sections {
		out = append(out, s...)
	}
	out = append(out, footer...)
	return out, nil
}

func sumLens(sections [][]byte) int {
	n := 0
	for _, s := range sections {
		n += len(s)
	}
	return n
}

func mapEntries[T any](entries []Entry, f func(Entry) T) []T {
	out := make([]T, len(entries))
	for i, e := range entries {
		out[i] = f(e)
	}
	return out
}

func encodeHeader(keyType KeyType, valueType ValueType, dimension, count int, flags byte, compressedValueLen int) []byte {
	h := make([]byte, headerSize)
	copy(h[0:4], blockMagic[:])
	h[4] = blockVersion
	h[5] = byte(keyType)
	h[6] = byte(valueType)
	h[7] = flags
	binary.LittleEndian.PutUint32(h[8:12], uint32(count))
	binary.LittleEndian.PutUint32(h[12:16], uint32(dimension))
	binary.LittleEndian.PutUint32(h[16:20], uint32(compressedValueLen))
	return h
}

// encodeStringColumn packs variable-length strings as a concatenated byte
// blob plus a cumulative uint32 offsets array of length n+1.
func encodeStringColumn(values []string) (data []byte, offsets []byte) {
	off := make([]byte, 4*(len(values)+1))
	binary.LittleEndian.PutUint32(off[0:4], 0)
	var buf []byte
	for i, v := range values {
		buf = append(buf, v...)
		binary.LittleEndian.PutUint32(off[4*(i+1):4*(i+2)], uint32(len(buf)))
	}
	return buf, off
}

func decodeStringColumn(data, offsets []byte, i int) string {
	start := binary.LittleEndian.Uint32(offsets[4*i : 4*i+4])
	end := binary.LittleEndian.Uint32(offsets[4*(i+1) : 4*(i+1)+4])
	return string(data[start:end])
}

func (b *Builder) encodeKeyColumn() (data []byte, offsets []byte, err error) {
	switch b.keyType {
	case KeyTypeString:
		vals := mapEntries(b.entries, func(e Entry) string { return e.Key.Str })
		data, offsets = encodeStringColumn(vals)
		return data, offsets, nil
	case KeyTypeF32:
		data = make([]byte, 4*len(b.entries))
		for i, e := range b.entries {
			binary.LittleEndian.PutUint32(data[4*i:4*i+4], f32TotalOrderBits(e.Key.F32))
		}
		return data, nil, nil
	case KeyTypeU32:
		data = make([]byte, 4*len(b.entries))
		for i, e := range b.entries {
			binary.LittleEndian.PutUint32(data[4*i:4*i+4], e.Key.U32)
		}
		return data, nil, nil
	case KeyTypeBool:
		data = make([]byte, len(b.entries))
		for i, e := range b.entries {
			if e.Key.Bool {
				data[i] = 1
			}
		}
		return data, nil, nil
	default:
		return nil, nil, errs.New(errs.KindInternal, "blockcodec.Builder", "", fmt.Errorf("unknown key type %s", b.keyType))
	}
}

// encodeValueColumn dispatches to a fixed- or variable-width encoding
// depending on ValueType, and always emits a validity bitmap (one bit per
// entry, padded to a byte) even though every cell in a fresh block is valid:
// the bitmap section exists so the footer layout is uniform across blocks
// and callers never branch on its presence.
func (b *Builder) encodeValueColumn() (data []byte, offsets []byte, validity []byte, err error) {
	validity = make([]byte, (len(b.entries)+7)/8)
	for i := range b.entries {
		validity[i/8] |= 1 << uint(i%8)
	}

	switch b.valueType {
	case ValueTypeF32:
		data = make([]byte, 4*len(b.entries))
		for i, e := range b.entries {
			binary.LittleEndian.PutUint32(data[4*i:4*i+4], f32TotalOrderBits(e.Value.F32))
		}
	case ValueTypeU32:
		data = make([]byte, 4*len(b.entries))
		for i, e := range b.entries {
			binary.LittleEndian.PutUint32(data[4*i:4*i+4], e.Value.U32)
		}
	case ValueTypeU64:
		data = make([]byte, 8*len(b.entries))
		for i, e := range b.entries {
			binary.LittleEndian.PutUint64(data[8*i:8*i+8], e.Value.U64)
		}
	case ValueTypeBool:
		data = make([]byte, len(b.entries))
		for i, e := range b.entries {
			if e.Value.Bool {
				data[i] = 1
			}
		}
	case ValueTypeVector:
		data = make([]byte, 4*b.dimension*len(b.entries))
		for i, e := range b.entries {
			if len(e.Value.Vector) != b.dimension {
				return nil, nil, nil, errs.New(errs.KindInvalidArgument, "blockcodec.Builder", "",
					fmt.Errorf("vector length %d does not match block dimension %d", len(e.Value.Vector), b.dimension))
			}
			for j, f := range e.Value.Vector {
				binary.LittleEndian.PutUint32(data[4*(i*b.dimension+j):4*(i*b.dimension+j)+4], math.Float32bits(f))
			}
		}
	case ValueTypeString:
		vals := mapEntries(b.entries, func(e Entry) string { return e.Value.Str })
		data, offsets = encodeStringColumn(vals)
	case ValueTypePostingList:
		raw := mapEntries(b.entries, func(e Entry) []byte { return encodePostingList(e.Value.Postings) })
		data, offsets = encodeBytesColumn(raw)
	case ValueTypeRoaringBitmap:
		raw := mapEntries(b.entries, func(e Entry) []byte { return e.Value.Bitmap })
		data, offsets = encodeBytesColumn(raw)
	case ValueTypeDataRecord:
		raw := make([][]byte, len(b.entries))
		for i, e := range b.entries {
			raw[i] = encodeDataRecord(e.Value.Record)
		}
		data, offsets = encodeBytesColumn(raw)
	default:
		return nil, nil, nil, errs.New(errs.KindInternal, "blockcodec.Builder", "", fmt.Errorf("unknown value type %s", b.valueType))
	}
	return data, offsets, validity, nil
}

func encodeBytesColumn(values [][]byte) (data []byte, offsets []byte) {
	off := make([]byte, 4*(len(values)+1))
	var buf []byte
	for i, v := range values {
		buf = append(buf, v...)
		binary.LittleEndian.PutUint32(off[4*(i+1):4*(i+1)+4], uint32(len(buf)))
	}
	return buf, off
}

func encodeFooter(sections [][]byte) []byte {
	footer := make([]byte, 0, 8*len(sections)+8)
	offset := 0
	for _, s := range sections {
		b8 := make([]byte, 8)
		binary.LittleEndian.PutUint32(b8[0:4], uint32(offset))
		binary.LittleEndian.PutUint32(b8[4:8], uint32(len(s)))
		footer = append(footer, b8...)
		offset += len(s)
	}
	total := make([]byte, 8)
	binary.LittleEndian.PutUint64(total, uint64(offset))
	footer = append(footer, total...)
	return footer
}

// Block is a decoded, read-only view over a block's bytes.
// Decode validates the header and footer up front so Get/GetRange/
// BinarySearch never need to re-check bounds against malformed input.
type Block struct {
	raw []byte

	keyType   KeyType
	valueType ValueType
	dimension int
	count     int
	flags     byte

	prefixData, prefixOffsets []byte
	keyData, keyOffsets       []byte
	valueData, valueOffsets   []byte
	validity                  []byte

	valueDataDecompressed []byte
}

const footerEntries = 7

// Decode parses and validates a block's bytes, refusing unknown versions or
// a mismatched magic/footer as Corruption rather than guessing at a layout.
func Decode(raw []byte) (*Block, error) {
	if len(raw) < headerSize+8*footerEntries+8 {
		return nil, errs.New(errs.KindCorruption, "blockcodec.Decode", "", fmt.Errorf("block too small: %d bytes", len(raw)))
	}
	if string(raw[0:4]) != string(blockMagic[:]) {
		return nil, errs.New(errs.KindCorruption, "blockcodec.Decode", "", fmt.Errorf("bad magic"))
	}
	if raw[4] != blockVersion {
		return nil, errs.New(errs.KindCorruption, "blockcodec.Decode", "", fmt.Errorf("unsupported block version %d", raw[4]))
	}

	keyType := KeyType(raw[5])
	valueType := ValueType(raw[6])
	flags := raw[7]
	count := int(binary.LittleEndian.Uint32(raw[8:12]))
	dimension := int(binary.LittleEndian.Uint32(raw[12:16]))

	footerLen := 8*footerEntries + 8
	footer := raw[len(raw)-footerLen:]
	body := raw[headerSize : len(raw)-footerLen]

	ranges := make([][2]int, footerEntries)
	for i := 0; i < footerEntries; i++ {
		off := binary.LittleEndian.Uint32(footer[8*i : 8*i+4])
		ln := binary.LittleEndian.Uint32(footer[8*i+4 : 8*i+8])
		ranges[i] = [2]int{int(off), int(ln)}
	}
	totalBody := binary.LittleEndian.Uint64(footer[8*footerEntries:])
	if int(totalBody) != len(body) {
		return nil, errs.New(errs.KindCorruption, "blockcodec.Decode", "", fmt.Errorf("footer total size mismatch: %d != %d", totalBody, len(body)))
	}
	section := func(i int) []byte {
		r := ranges[i]
		if r[0] < 0 || r[1] < 0 || r[0]+r[1] > len(body) {
			return nil
		}
		return body[r[0] : r[0]+r[1]]
	}

	blk := &Block{
		raw:            raw,
		keyType:        keyType,
		valueType:      valueType,
		dimension:      dimension,
		count:          count,
		flags:          flags,
		prefixData:     section(0),
		prefixOffsets:  section(1),
		keyData:        section(2),
		keyOffsets:     section(3),
		valueData:      section(4),
		valueOffsets:   section(5),
		validity:       section(6),
	}

	if flags&flagValueCompressed != 0 {
		dst := make([]byte, expectedValueRawLen(valueType, dimension, count, blk.valueOffsets))
		n, err := lz4.UncompressBlock(blk.valueData, dst)
		if err != nil {
			return nil, errs.New(errs.KindCorruption, "blockcodec.Decode", "", fmt.Errorf("lz4 decompress: %w", err))
		}
		blk.valueDataDecompressed = dst[:n]
	} else {
		blk.valueDataDecompressed = blk.valueData
	}

	return blk, nil
}

func expectedValueRawLen(valueType ValueType, dimension, count int, offsets []byte) int {
	if w := valueType.fixedWidth(dimension); w > 0 {
		return w * count
	}
	if len(offsets) >= 4 {
		return int(binary.LittleEndian.Uint32(offsets[len(offsets)-4:]))
	}
	return 0
}

func (blk *Block) Len() int { return blk.count }

// Get decodes the i'th entry of the block.
func (blk *Block) Get(i int) (Entry, error) {
	if i < 0 || i >= blk.count {
		return Entry{}, errs.New(errs.KindInvalidArgument, "blockcodec.Block.Get", "", fmt.Errorf("index %d out of range [0,%d)", i, blk.count))
	}
	prefix := decodeStringColumn(blk.prefixData, blk.prefixOffsets, i)
	key, err := blk.decodeKey(i)
	if err != nil {
		return Entry{}, err
	}
	value, err := blk.decodeValue(i)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Prefix: prefix, Key: key, Value: value}, nil
}

// GetRange returns the entries in [offset, offset+length).
func (blk *Block) GetRange(offset, length int) ([]Entry, error) {
	if offset < 0 || length < 0 || offset+length > blk.count {
		return nil, errs.New(errs.KindInvalidArgument, "blockcodec.Block.GetRange", "", fmt.Errorf("range [%d,%d) out of bounds for count %d", offset, offset+length, blk.count))
	}
	out := make([]Entry, length)
	for i := 0; i < length; i++ {
		e, err := blk.Get(offset + i)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// BinarySearch finds the index of the entry whose composite key equals
// target, or the insertion point if absent.
func (blk *Block) BinarySearch(target CompositeKey) (index int, found bool, err error) {
	lo, hi := 0, blk.count
	for lo < hi {
		mid := (lo + hi) / 2
		key, gerr := blk.decodeKey(mid)
		if gerr != nil {
			return 0, false, gerr
		}
		ck := CompositeKey{Prefix: decodeStringColumn(blk.prefixData, blk.prefixOffsets, mid), Key: key}
		switch {
		case ck.Less(target):
			lo = mid + 1
		case target.Less(ck):
			hi = mid
		default:
			return mid, true, nil
		}
	}
	return lo, false, nil
}

func (blk *Block) decodeKey(i int) (Key, error) {
	switch blk.keyType {
	case KeyTypeString:
		return StringKey(decodeStringColumn(blk.keyData, blk.keyOffsets, i)), nil
	case KeyTypeF32:
		bits := binary.LittleEndian.Uint32(blk.keyData[4*i : 4*i+4])
		return F32Key(f32FromTotalOrderBits(bits)), nil
	case KeyTypeU32:
		return U32Key(binary.LittleEndian.Uint32(blk.keyData[4*i : 4*i+4])), nil
	case KeyTypeBool:
		return BoolKey(blk.keyData[i] != 0), nil
	default:
		return Key{}, errs.New(errs.KindCorruption, "blockcodec.Block", "", fmt.Errorf("unknown key type tag %d", blk.keyType))
	}
}

func (blk *Block) decodeValue(i int) (Value, error) {
	switch blk.valueType {
	case ValueTypeF32:
		bits := binary.LittleEndian.Uint32(blk.valueDataDecompressed[4*i : 4*i+4])
		return Value{Type: ValueTypeF32, F32: f32FromTotalOrderBits(bits)}, nil
	case ValueTypeU32:
		return Value{Type: ValueTypeU32, U32: binary.LittleEndian.Uint32(blk.valueDataDecompressed[4*i : 4*i+4])}, nil
	case ValueTypeU64:
		return Value{Type: ValueTypeU64, U64: binary.LittleEndian.Uint64(blk.valueDataDecompressed[8*i : 8*i+8])}, nil
	case ValueTypeBool:
		return Value{Type: ValueTypeBool, Bool: blk.valueDataDecompressed[i] != 0}, nil
	case ValueTypeVector:
		dim := blk.dimension
		vec := make([]float32, dim)
		for j := 0; j < dim; j++ {
			off := 4 * (i*dim + j)
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(blk.valueDataDecompressed[off : off+4]))
		}
		return Value{Type: ValueTypeVector, Vector: vec}, nil
	case ValueTypeString:
		return Value{Type: ValueTypeString, Str: decodeStringColumn(blk.valueDataDecompressed, blk.valueOffsets, i)}, nil
	case ValueTypePostingList:
		raw := bytesColumnSlice(blk.valueDataDecompressed, blk.valueOffsets, i)
		return Value{Type: ValueTypePostingList, Postings: decodePostingList(raw)}, nil
	case ValueTypeRoaringBitmap:
		raw := bytesColumnSlice(blk.valueDataDecompressed, blk.valueOffsets, i)
		cp := make([]byte, len(raw))
		copy(cp, raw)
		return Value{Type: ValueTypeRoaringBitmap, Bitmap: cp}, nil
	case ValueTypeDataRecord:
		raw := bytesColumnSlice(blk.valueDataDecompressed, blk.valueOffsets, i)
		rec, err := decodeDataRecord(raw)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: ValueTypeDataRecord, Record: rec}, nil
	default:
		return Value{}, errs.New(errs.KindCorruption, "blockcodec.Block", "", fmt.Errorf("unknown value type tag %d", blk.valueType))
	}
}

func bytesColumnSlice(data, offsets []byte, i int) []byte {
	start := binary.LittleEndian.Uint32(offsets[4*i : 4*i+4])
	end := binary.LittleEndian.Uint32(offsets[4*(i+1) : 4*(i+1)+4])
	return data[start:end]
}
