package blockfile

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vekterdb/corekv/blockcodec"
	"github.com/vekterdb/corekv/errs"
)

// maxConcurrentBlockLoads bounds how many distinct blocks GetMulti resolves
// at once, so a wide key batch against a large blockfile doesn't open an
// unbounded number of concurrent block fetches against the object store.
const maxConcurrentBlockLoads = 8

// Reader answers point lookups and range scans against one published root.
// It is immutable and safe for concurrent use; each call resolves
// the target block via the root's sparse index and reads through the
// shared Provider cache.
type Reader struct {
	provider *Provider
	root     *Root
	idx      *SparseIndex
}

func NewReader(provider *Provider, root *Root) *Reader {
	return &Reader{provider: provider, root: root, idx: root.ToSparseIndex()}
}

// Get resolves the composite key to its value, or a NotFound error if no
// entry matches exactly.
func (r *Reader) Get(ctx context.Context, prefix string, key blockcodec.Key) (blockcodec.Value, error) {
	ck := blockcodec.CompositeKey{Prefix: prefix, Key: key}
	blockID, _ := r.idx.Lookup(ck)
	blk, err := r.provider.GetBlock(ctx, r.root.PrefixPath, blockID)
	if err != nil {
		return blockcodec.Value{}, err
	}
	idx, found, err := blk.BinarySearch(ck)
	if err != nil {
		return blockcodec.Value{}, err
	}
	if !found {
		return blockcodec.Value{}, errs.New(errs.KindNotFound, "blockfile.Reader.Get", prefix, errNotFound)
	}
	e, err := blk.Get(idx)
	if err != nil {
		return blockcodec.Value{}, err
	}
	return e.Value, nil
}

// ScanPrefix returns every entry whose composite key's prefix equals
// prefix, in ascending key order, by loading every block the sparse index
// names and filtering its entries by prefix.
func (r *Reader) ScanPrefix(ctx context.Context, prefix string) ([]blockcodec.Entry, error) {
	var out []blockcodec.Entry

	firstID, _ := r.idx.First()
	entries := r.idx.Entries()
	blockIDs := make([]string, 0, len(entries)+1)
	blockIDs = append(blockIDs, firstID)
	for _, e := range entries {
		blockIDs = append(blockIDs, e.BlockID)
	}

	for _, id := range blockIDs {
		blk, err := r.provider.GetBlock(ctx, r.root.PrefixPath, id)
		if err != nil {
			return nil, err
		}
		all, err := blk.GetRange(0, blk.Len())
		if err != nil {
			return nil, err
		}
		for _, e := range all {
			if e.Prefix == prefix {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

// GetMulti resolves every (prefix, key) pair in keys, grouping lookups that
// land in the same block and loading distinct blocks concurrently (bounded
// by maxConcurrentBlockLoads) rather than one block fetch per key.
// A key with no matching entry is simply absent from the returned map.
func (r *Reader) GetMulti(ctx context.Context, keys []blockcodec.CompositeKey) (map[blockcodec.CompositeKey]blockcodec.Value, error) {
	blockToKeys := make(map[string][]blockcodec.CompositeKey)
	for _, ck := range keys {
		blockID, _ := r.idx.Lookup(ck)
		blockToKeys[blockID] = append(blockToKeys[blockID], ck)
	}

	var mu sync.Mutex
	out := make(map[blockcodec.CompositeKey]blockcodec.Value, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentBlockLoads)
	for blockID, blockKeys := range blockToKeys {
		blockID, blockKeys := blockID, blockKeys
		g.Go(func() error {
			blk, err := r.provider.GetBlock(gctx, r.root.PrefixPath, blockID)
			if err != nil {
				return err
			}
			resolved := make(map[blockcodec.CompositeKey]blockcodec.Value, len(blockKeys))
			for _, ck := range blockKeys {
				idx, found, err := blk.BinarySearch(ck)
				if err != nil {
					return err
				}
				if !found {
					continue
				}
				e, err := blk.Get(idx)
				if err != nil {
					return err
				}
				resolved[ck] = e.Value
			}
			mu.Lock()
			for ck, v := range resolved {
				out[ck] = v
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Count is the total number of entries across every block, as recorded in
// the sparse index without reading block bodies.
func (r *Reader) Count() int {
	total := 0
	_, firstCount := r.idx.First()
	total += firstCount
	for _, e := range r.idx.Entries() {
		total += e.Count
	}
	return total
}

// Contains reports whether an exact entry exists for the composite key,
// without decoding the matching value.
func (r *Reader) Contains(ctx context.Context, prefix string, key blockcodec.Key) (bool, error) {
	ck := blockcodec.CompositeKey{Prefix: prefix, Key: key}
	blockID, _ := r.idx.Lookup(ck)
	blk, err := r.provider.GetBlock(ctx, r.root.PrefixPath, blockID)
	if err != nil {
		return false, err
	}
	_, found, err := blk.BinarySearch(ck)
	if err != nil {
		return false, err
	}
	return found, nil
}

// GetAtIndex returns the i-th entry (0-indexed) in strict ascending
// composite-key order across the whole blockfile, resolving which block
// covers position i from the sparse index's cumulative per-block counts.
func (r *Reader) GetAtIndex(ctx context.Context, i int) (blockcodec.Entry, error) {
	if i < 0 {
		return blockcodec.Entry{}, errs.New(errs.KindInvalidArgument, "blockfile.Reader.GetAtIndex", "", errNegativeIndex)
	}
	firstID, firstCount := r.idx.First()
	if i < firstCount {
		return r.entryAt(ctx, firstID, i)
	}
	i -= firstCount
	for _, e := range r.idx.Entries() {
		if i < e.Count {
			return r.entryAt(ctx, e.BlockID, i)
		}
		i -= e.Count
	}
	return blockcodec.Entry{}, errs.New(errs.KindInvalidArgument, "blockfile.Reader.GetAtIndex", "", errIndexOutOfRange)
}

func (r *Reader) entryAt(ctx context.Context, blockID string, i int) (blockcodec.Entry, error) {
	blk, err := r.provider.GetBlock(ctx, r.root.PrefixPath, blockID)
	if err != nil {
		return blockcodec.Entry{}, err
	}
	return blk.Get(i)
}

var errNotFound = errNotFoundErr{}

type errNotFoundErr struct{}

func (errNotFoundErr) Error() string { return "blockfile: no entry for key" }

var errNegativeIndex = errReaderErr("blockfile: GetAtIndex given a negative index")
var errIndexOutOfRange = errReaderErr("blockfile: GetAtIndex index exceeds the blockfile's entry count")

type errReaderErr string

func (e errReaderErr) Error() string { return string(e) }
