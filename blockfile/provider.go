package blockfile

import (
	"context"
	"path"

	"github.com/vekterdb/corekv/blockcodec"
	"github.com/vekterdb/corekv/errs"
	"github.com/vekterdb/corekv/objectstore"
)

// ProviderConfig bounds the block and root caches a Provider maintains.
type ProviderConfig struct {
	BlockCacheBytes int64
	RootCacheBytes  int64
}

// DefaultProviderConfig matches the teacher's table cache default order of
// magnitude: enough to hold a working set of hot blocks without bounding
// memory use on the caller's behalf beyond that.
var DefaultProviderConfig = ProviderConfig{
	BlockCacheBytes: 256 << 20,
	RootCacheBytes:  16 << 20,
}

// Provider resolves block ids and root ids to decoded blocks/roots, reading
// through an objectstore.Store and caching decoded results.
type Provider struct {
	store  objectstore.Store
	blocks *blockCache
	roots  *blockCache
}

func NewProvider(store objectstore.Store, cfg ProviderConfig) *Provider {
	return &Provider{
		store:  store,
		blocks: newBlockCache(cfg.BlockCacheBytes),
		roots:  newBlockCache(cfg.RootCacheBytes),
	}
}

// Invalidate drops any cached block or root at path, for callers that learn
// a path changed underneath the store out of band (see
// objectstore.WatchLocal). Content-addressed blocks/roots never legitimately
// change after being published, so this exists purely for local-dev
// workflows (manual file edits, restoring from a backup) rather than normal
// operation.
func (p *Provider) Invalidate(path string) {
	p.blocks.Delete(path)
	p.roots.Delete(path)
}

// WatchInvalidate subscribes the provider to a local-store watcher, dropping
// the cached block or root for every path w reports until w's channel closes.
// Intended for the same local-dev workflows Invalidate documents: pair with
// objectstore.WatchLocal over a Provider's backing LocalStore.
func (p *Provider) WatchInvalidate(w *objectstore.Watcher) {
	go func() {
		for changed := range w.C {
			p.Invalidate(changed)
		}
	}()
}

func blockPath(prefixPath, blockID string) string { return path.Join(prefixPath, "blocks", blockID) }

// GetBlock returns the decoded block named blockID under prefixPath,
// reading through the block cache.
func (p *Provider) GetBlock(ctx context.Context, prefixPath, blockID string) (*blockcodec.Block, error) {
	cacheKey := blockPath(prefixPath, blockID)
	if v, ok := p.blocks.Get(cacheKey); ok {
		return v.(*blockcodec.Block), nil
	}
	obj, err := p.store.Get(ctx, cacheKey)
	if err != nil {
		return nil, err
	}
	blk, err := blockcodec.Decode(obj.Body)
	if err != nil {
		return nil, err
	}
	p.blocks.Put(cacheKey, blk, int64(len(obj.Body)))
	return blk, nil
}

// ForkRoot loads rootID and returns a copy-on-write fork of its sparse
// index: the fork shares every existing block id with the parent until
// a writer built against it replaces one, and mutating the fork never
// touches the cached parent Root returned by a concurrent GetRoot.
func (p *Provider) ForkRoot(ctx context.Context, rootID string) (*SparseIndex, error) {
	root, err := p.GetRoot(ctx, rootID)
	if err != nil {
		return nil, err
	}
	return root.ToSparseIndex().Fork(), nil
}

func rootPath(rootID string) string { return path.Join("roots", rootID) }

// GetRoot returns the decoded root named rootID, reading through the root
// cache. Roots are immutable once published, so caching them forever (until
// evicted for space) is always safe.
func (p *Provider) GetRoot(ctx context.Context, rootID string) (*Root, error) {
	cacheKey := rootPath(rootID)
	if v, ok := p.roots.Get(cacheKey); ok {
		return v.(*Root), nil
	}
	obj, err := p.store.Get(ctx, cacheKey)
	if err != nil {
		return nil, err
	}
	root, err := DecodeRoot(obj.Body)
	if err != nil {
		return nil, err
	}
	p.roots.Put(cacheKey, root, int64(len(obj.Body)))
	return root, nil
}

// PutBlock persists a new block under prefixPath with a random-looking id
// (the caller supplies blockID, generated via google/uuid in callers one
// layer up) using if-not-exists semantics: blocks are content-addressed by
// assignment, never overwritten.
func (p *Provider) PutBlock(ctx context.Context, prefixPath, blockID string, data []byte) error {
	_, err := p.store.Put(ctx, blockPath(prefixPath, blockID), data, objectstore.Options{Mode: objectstore.IfNotExists})
	if err != nil && errs.KindOf(err) != errs.KindAlreadyExists {
		return err
	}
	p.blocks.Put(blockPath(prefixPath, blockID), mustDecode(data), int64(len(data)))
	return nil
}

func mustDecode(data []byte) *blockcodec.Block {
	blk, err := blockcodec.Decode(data)
	if err != nil {
		// A block we just built ourselves failing to decode means the
		// builder and decoder have drifted out of sync; that is a bug, not
		// a runtime condition callers can recover from.
		panic(err)
	}
	return blk
}

// PutRoot persists a new root under a random id (again, assigned by the
// caller) with if-not-exists semantics; a root already present at that id
// is left as it is and reported as success.
func (p *Provider) PutRoot(ctx context.Context, rootID string, root *Root) error {
	data, err := root.Bytes()
	if err != nil {
		return err
	}
	if _, err := p.store.Put(ctx, rootPath(rootID), data, objectstore.Options{Mode: objectstore.IfNotExists}); err != nil {
		if errs.KindOf(err) == errs.KindAlreadyExists {
			return nil
		}
		return err
	}
	p.roots.Put(rootPath(rootID), root, int64(len(data)))
	return nil
}
