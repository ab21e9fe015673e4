// Package blockfile implements the sparse index and block-oriented reader
// and writer: a versioned, forkable mapping from composite keys to the
// blocks that contain them, published as immutable root objects over an
// objectstore.Store.
package blockfile

import (
	"encoding/binary"
	"sync"

	"github.com/launix-de/NonLockingReadMap"

	"github.com/vekterdb/corekv/blockcodec"
)

// indexItem is one sparse-index entry: split_key -> (block_id, count).
// SortKey is a derived, order-preserving string used only to slot the entry
// into the underlying NonLockingReadMap, whose generic key constraint
// requires an Ordered scalar rather than a CompositeKey struct.
type indexItem struct {
	SortKey  string
	SplitKey blockcodec.CompositeKey
	BlockID  string
	Count    int
}

func (i indexItem) GetKey() string { return i.SortKey }

func (i indexItem) ComputeSize() uint {
	return uint(48 + len(i.SortKey) + len(i.BlockID))
}

// sortKeyOf derives a byte string whose lexicographic order matches
// CompositeKey.Compare. Prefixes are joined to their key encoding with a NUL
// separator; this module's prefixes (tenant/database/collection path
// segments) never contain NUL bytes, so the join is unambiguous.
func sortKeyOf(ck blockcodec.CompositeKey) string {
	buf := make([]byte, 0, len(ck.Prefix)+1+5)
	buf = append(buf, ck.Prefix...)
	buf = append(buf, 0)
	buf = append(buf, byte(ck.Key.Type))
	switch ck.Key.Type {
	case blockcodec.KeyTypeString:
		buf = append(buf, ck.Key.Str...)
	case blockcodec.KeyTypeF32:
		var b4 [4]byte
		binary.BigEndian.PutUint32(b4[:], f32SortBits(ck.Key.F32))
		buf = append(buf, b4[:]...)
	case blockcodec.KeyTypeU32:
		var b4 [4]byte
		binary.BigEndian.PutUint32(b4[:], ck.Key.U32)
		buf = append(buf, b4[:]...)
	case blockcodec.KeyTypeBool:
		if ck.Key.Bool {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	return string(buf)
}

// f32SortBits reuses blockcodec's IEEE754 total-ordering trick so
// big-endian unsigned comparison of the result matches total_ordering on
// the floats.
func f32SortBits(f float32) uint32 {
	return blockcodec.F32TotalOrderBits(f)
}

// SparseIndex is the in-memory, forkable mapping over a blockfile's blocks:
// a sorted map plus a distinguished "first" entry covering keys strictly
// below the lowest split key.
type SparseIndex struct {
	m NonLockingReadMap.NonLockingReadMap[indexItem, string]

	mu    sync.Mutex // guards swapping `first`; the map itself is lock-free
	first indexItem
}

// NewSparseIndex starts an index whose full key range is covered by a
// single block (the common case immediately after a fresh blockfile is
// created).
func NewSparseIndex(firstBlockID string, firstCount int) *SparseIndex {
	idx := &SparseIndex{m: NonLockingReadMap.New[indexItem, string]()}
	idx.first = indexItem{BlockID: firstBlockID, Count: firstCount}
	return idx
}

// Insert adds or replaces the split-key entry covering [splitKey, nextSplitKey).
func (idx *SparseIndex) Insert(splitKey blockcodec.CompositeKey, blockID string, count int) {
	item := indexItem{SortKey: sortKeyOf(splitKey), SplitKey: splitKey, BlockID: blockID, Count: count}
	idx.m.Set(&item)
}

// SetFirst replaces the distinguished first entry.
func (idx *SparseIndex) SetFirst(blockID string, count int) {
	idx.mu.Lock()
	idx.first = indexItem{BlockID: blockID, Count: count}
	idx.mu.Unlock()
}

// Lookup finds the block that must contain ck: the entry with the greatest
// split key <= ck, or the distinguished first entry if ck precedes every
// split key.
func (idx *SparseIndex) Lookup(ck blockcodec.CompositeKey) (blockID string, count int) {
	items := idx.m.GetAll()
	sk := sortKeyOf(ck)
	lo, hi := 0, len(items)
	for lo < hi {
		mid := (lo + hi) / 2
		if (*items[mid]).SortKey <= sk {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		idx.mu.Lock()
		f := idx.first
		idx.mu.Unlock()
		return f.BlockID, f.Count
	}
	found := items[lo-1]
	return found.BlockID, found.Count
}

// Entries returns the split-key entries in ascending order, not including
// the distinguished first entry.
func (idx *SparseIndex) Entries() []RootEntry {
	items := idx.m.GetAll()
	out := make([]RootEntry, len(items))
	for i, it := range items {
		out[i] = RootEntry{SplitKey: it.SplitKey, BlockID: it.BlockID, Count: it.Count}
	}
	return out
}

// First returns the distinguished first entry.
func (idx *SparseIndex) First() (blockID string, count int) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.first.BlockID, idx.first.Count
}

// Fork copies the in-memory sparse index: individual block ids are shared
// with the parent until a block is mutated in the fork, at which point
// Insert replaces that entry in the fork's copy only.
func (idx *SparseIndex) Fork() *SparseIndex {
	firstID, firstCount := idx.First()
	out := NewSparseIndex(firstID, firstCount)
	for _, e := range idx.Entries() {
		out.Insert(e.SplitKey, e.BlockID, e.Count)
	}
	return out
}

// BlockCount reports the number of distinct blocks named by the index
// (including the distinguished first entry), used by callers sizing a scan.
func (idx *SparseIndex) BlockCount() int {
	return len(idx.m.GetAll()) + 1
}
