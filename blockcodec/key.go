// Package blockcodec implements the self-describing columnar block format:
// encode/decode of a single sorted (prefix, key, value) run, with size
// accounting for the block builder.
package blockcodec

import (
	"fmt"
	"math"

	"github.com/vekterdb/corekv/errs"
)

// KeyType is one of the closed set of composite-key types.
type KeyType uint8

const (
	KeyTypeString KeyType = iota + 1
	KeyTypeF32
	KeyTypeBool
	KeyTypeU32
)

func (t KeyType) String() string {
	switch t {
	case KeyTypeString:
		return "string"
	case KeyTypeF32:
		return "f32"
	case KeyTypeBool:
		return "bool"
	case KeyTypeU32:
		return "u32"
	default:
		return "unknown"
	}
}

// Key is the typed half of a composite key; exactly one field is meaningful,
// selected by the blockfile's declared KeyType. Mixing KeyType variants under
// the same prefix is forbidden and is enforced by Builder.Add.
type Key struct {
	Type KeyType
	Str  string
	F32  float32
	Bool bool
	U32  uint32
}

func StringKey(s string) Key { return Key{Type: KeyTypeString, Str: s} }
func F32Key(f float32) Key   { return Key{Type: KeyTypeF32, F32: f} }
func BoolKey(b bool) Key     { return Key{Type: KeyTypeBool, Bool: b} }
func U32Key(u uint32) Key    { return Key{Type: KeyTypeU32, U32: u} }

// CompositeKey is (prefix, key) — the substrate's total-ordered key.
type CompositeKey struct {
	Prefix string
	Key    Key
}

// F32TotalOrderBits maps an f32 to a uint32 whose unsigned ordering matches
// IEEE754's total_ordering predicate: NaNs sort to one end and -0 sorts
// immediately before +0. Positives get their sign bit set; negatives have
// every bit inverted, so larger magnitudes sort lower. Exported so
// other packages (e.g. blockfile's sparse index) can derive byte-comparable
// sort keys consistent with Key.Compare.
func F32TotalOrderBits(f float32) uint32 {
	bits := math.Float32bits(f)
	if bits&0x80000000 != 0 {
		return ^bits
	}
	return bits | 0x80000000
}

func f32TotalOrderBits(f float32) uint32 { return F32TotalOrderBits(f) }

// Compare implements the strict total order over Key values of the same
// Type. Comparing across differing Types panics: the substrate forbids
// mixing K variants under one prefix, and a mismatch here means a caller
// bypassed that check.
func (k Key) Compare(other Key) int {
	if k.Type != other.Type {
		panic(fmt.Sprintf("blockcodec: cannot compare mixed key types %s and %s", k.Type, other.Type))
	}
	switch k.Type {
	case KeyTypeString:
		switch {
		case k.Str < other.Str:
			return -1
		case k.Str > other.Str:
			return 1
		default:
			return 0
		}
	case KeyTypeF32:
		a, b := f32TotalOrderBits(k.F32), f32TotalOrderBits(other.F32)
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	case KeyTypeBool:
		a, b := boolToInt(k.Bool), boolToInt(other.Bool)
		return a - b
	case KeyTypeU32:
		switch {
		case k.U32 < other.U32:
			return -1
		case k.U32 > other.U32:
			return 1
		default:
			return 0
		}
	default:
		panic("blockcodec: unknown key type")
	}
}

// f32FromTotalOrderBits inverts f32TotalOrderBits.
func f32FromTotalOrderBits(bits uint32) float32 {
	if bits&0x80000000 != 0 {
		return math.Float32frombits(bits &^ 0x80000000)
	}
	return math.Float32frombits(^bits)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Compare orders composite keys lexically on Prefix first, then by Key
// within an equal prefix.
func (c CompositeKey) Compare(other CompositeKey) int {
	if c.Prefix != other.Prefix {
		if c.Prefix < other.Prefix {
			return -1
		}
		return 1
	}
	return c.Key.Compare(other.Key)
}

// Less reports strict ordering, the form most callers (sort.Slice, binary
// search) want.
func (c CompositeKey) Less(other CompositeKey) bool {
	return c.Compare(other) < 0
}

func checkKeyType(k Key, want KeyType) error {
	if k.Type != want {
		return errs.New(errs.KindInvalidArgument, "blockcodec.Key", "",
			fmt.Errorf("expected key type %s, got %s", want, k.Type))
	}
	return nil
}
