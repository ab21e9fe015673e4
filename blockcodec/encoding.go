package blockcodec

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/vekterdb/corekv/errs"
)

var errShortBuffer = errors.New("blockcodec: truncated data record buffer")

func float32bitsOf(f float32) uint32        { return math.Float32bits(f) }
func float32FromBitsOf(b uint32) float32    { return math.Float32frombits(b) }

// encodePostingList packs a uint32 posting list as a flat little-endian
// byte run; posting lists are small enough per-cell that a dedicated varint
// scheme isn't worth the complexity the segment layer's callers would pay.
func encodePostingList(postings []uint32) []byte {
	out := make([]byte, 4*len(postings))
	for i, p := range postings {
		binary.LittleEndian.PutUint32(out[4*i:4*i+4], p)
	}
	return out
}

func decodePostingList(raw []byte) []uint32 {
	n := len(raw) / 4
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = binary.LittleEndian.Uint32(raw[4*i : 4*i+4])
	}
	return out
}

// DataRecord wire layout: id (len-prefixed string), embedding (len-prefixed
// f32 array), metadata (presence byte; if present, a 4-byte entry count,
// then per-entry len-prefixed key + kind byte + typed value), document
// (presence byte + len-prefixed string).
func encodeDataRecord(r DataRecord) []byte {
	var buf []byte
	buf = appendLenString(buf, r.ID)

	embLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(embLen, uint32(len(r.Embedding)))
	buf = append(buf, embLen...)
	for _, f := range r.Embedding {
		var b4 [4]byte
		binary.LittleEndian.PutUint32(b4[:], float32bitsOf(f))
		buf = append(buf, b4[:]...)
	}

	if r.Metadata == nil {
		buf = append(buf, 0) // presence: no metadata map at all
	} else {
		buf = append(buf, 1)
		cnt := make([]byte, 4)
		binary.LittleEndian.PutUint32(cnt, uint32(len(r.Metadata)))
		buf = append(buf, cnt...)
		for k, v := range r.Metadata {
			buf = appendLenString(buf, k)
			buf = append(buf, byte(v.Kind))
			switch v.Kind {
			case MetaString:
				buf = appendLenString(buf, v.Str)
			case MetaF32:
				var b4 [4]byte
				binary.LittleEndian.PutUint32(b4[:], float32bitsOf(v.F32))
				buf = append(buf, b4[:]...)
			case MetaBool:
				if v.Bool {
					buf = append(buf, 1)
				} else {
					buf = append(buf, 0)
				}
			case MetaU32:
				var b4 [4]byte
				binary.LittleEndian.PutUint32(b4[:], v.U32)
				buf = append(buf, b4[:]...)
			}
		}
	}

	if r.Document == nil {
		buf = append(buf, 0)
	} else {
		buf = append(buf, 1)
		buf = appendLenString(buf, *r.Document)
	}
	return buf
}

func decodeDataRecord(raw []byte) (DataRecord, error) {
	var rec DataRecord
	pos := 0
	id, n, err := readLenString(raw, pos)
	if err != nil {
		return rec, err
	}
	rec.ID = id
	pos = n

	if pos+4 > len(raw) {
		return rec, errs.New(errs.KindCorruption, "blockcodec.DataRecord", "", errShortBuffer)
	}
	embN := int(binary.LittleEndian.Uint32(raw[pos : pos+4]))
	pos += 4
	rec.Embedding = make([]float32, embN)
	for i := 0; i < embN; i++ {
		if pos+4 > len(raw) {
			return rec, errs.New(errs.KindCorruption, "blockcodec.DataRecord", "", errShortBuffer)
		}
		rec.Embedding[i] = float32FromBitsOf(binary.LittleEndian.Uint32(raw[pos : pos+4]))
		pos += 4
	}

	if pos >= len(raw) {
		return rec, errs.New(errs.KindCorruption, "blockcodec.DataRecord", "", errShortBuffer)
	}
	hasMeta := raw[pos]
	pos++
	if hasMeta == 1 {
		if pos+4 > len(raw) {
			return rec, errs.New(errs.KindCorruption, "blockcodec.DataRecord", "", errShortBuffer)
		}
		cnt := int(binary.LittleEndian.Uint32(raw[pos : pos+4]))
		pos += 4
		rec.Metadata = make(map[string]MetadataValue, cnt)
		for i := 0; i < cnt; i++ {
			key, n2, err := readLenString(raw, pos)
			if err != nil {
				return rec, err
			}
			pos = n2
			if pos >= len(raw) {
				return rec, errs.New(errs.KindCorruption, "blockcodec.DataRecord", "", errShortBuffer)
			}
			kind := MetadataValueKind(raw[pos])
			pos++
			var mv MetadataValue
			mv.Kind = kind
			switch kind {
			case MetaString:
				s, n3, err := readLenString(raw, pos)
				if err != nil {
					return rec, err
				}
				mv.Str = s
				pos = n3
			case MetaF32:
				if pos+4 > len(raw) {
					return rec, errs.New(errs.KindCorruption, "blockcodec.DataRecord", "", errShortBuffer)
				}
				mv.F32 = float32FromBitsOf(binary.LittleEndian.Uint32(raw[pos : pos+4]))
				pos += 4
			case MetaBool:
				if pos >= len(raw) {
					return rec, errs.New(errs.KindCorruption, "blockcodec.DataRecord", "", errShortBuffer)
				}
				mv.Bool = raw[pos] != 0
				pos++
			case MetaU32:
				if pos+4 > len(raw) {
					return rec, errs.New(errs.KindCorruption, "blockcodec.DataRecord", "", errShortBuffer)
				}
				mv.U32 = binary.LittleEndian.Uint32(raw[pos : pos+4])
				pos += 4
			}
			rec.Metadata[key] = mv
		}
	}

	if pos >= len(raw) {
		return rec, errs.New(errs.KindCorruption, "blockcodec.DataRecord", "", errShortBuffer)
	}
	hasDoc := raw[pos]
	pos++
	if hasDoc == 1 {
		doc, n4, err := readLenString(raw, pos)
		if err != nil {
			return rec, err
		}
		rec.Document = &doc
		pos = n4
	}
	_ = pos
	return rec, nil
}

func appendLenString(buf []byte, s string) []byte {
	var b4 [4]byte
	binary.LittleEndian.PutUint32(b4[:], uint32(len(s)))
	buf = append(buf, b4[:]...)
	return append(buf, s...)
}

func readLenString(raw []byte, pos int) (string, int, error) {
	if pos+4 > len(raw) {
		return "", 0, errs.New(errs.KindCorruption, "blockcodec.DataRecord", "", errShortBuffer)
	}
	n := int(binary.LittleEndian.Uint32(raw[pos : pos+4]))
	pos += 4
	if pos+n > len(raw) {
		return "", 0, errs.New(errs.KindCorruption, "blockcodec.DataRecord", "", errShortBuffer)
	}
	return string(raw[pos : pos+n]), pos + n, nil
}
