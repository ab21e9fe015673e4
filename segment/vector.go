package segment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/vekterdb/corekv/errs"
	"github.com/vekterdb/corekv/objectstore"
)

// GraphHandle is the persistence contract a vector index graph must satisfy
// to be managed by VectorSegment. The graph algorithm itself (HNSW or
// otherwise) is out of scope here; this defines only the lifecycle the
// storage layer drives it through.
type GraphHandle interface {
	Save(w io.Writer) error
	Load(r io.Reader) error
	Close() error
}

// GraphFactory constructs an empty, unloaded GraphHandle for a given vector
// dimension, to be populated by Load.
type GraphFactory func(dimension int) GraphHandle

// hnswPath is the object one HNSW index id occupies: hnsw/<id>/graph.bin. A real
// GraphHandle implementation may subdivide its serialized form into
// multiple named files under this directory (header/data_level0/length/
// link_lists, matching common HNSW library layouts); this contract treats
// whatever Save writes as one opaque, atomically-published blob so a
// publish can never leave a partially-written graph behind.
func hnswPath(prefixPath, indexID string) string {
	return path.Join(prefixPath, "hnsw", indexID, "graph.bin")
}

// VectorSegment manages a bounded set of open GraphHandles backed by an
// object store, keyed by vector index id. It is the vector-segment analogue
// of blockfile's block cache, except the cached value owns an open
// resource (the graph's working memory / any OS handles a real
// implementation acquires) that must be explicitly released on eviction —
// grounded on storage/cache.go's CacheManager, whose AddItem takes a
// `cleanup func(pointer any)` called when an item is evicted.
type VectorSegment struct {
	store      objectstore.Store
	prefixPath string
	factory    GraphFactory

	mu         sync.Mutex
	maxHandles int
	handles    map[string]*cachedHandle
}

type cachedHandle struct {
	handle   GraphHandle
	lastUsed time.Time
}

// NewVectorSegment creates a vector segment bounded to maxHandles concurrently
// open graphs; opening a handle beyond the bound evicts and closes the
// least-recently-used one first.
func NewVectorSegment(store objectstore.Store, prefixPath string, factory GraphFactory, maxHandles int) *VectorSegment {
	if maxHandles <= 0 {
		maxHandles = 16
	}
	return &VectorSegment{
		store: store, prefixPath: prefixPath, factory: factory,
		maxHandles: maxHandles, handles: make(map[string]*cachedHandle),
	}
}

// Open returns the graph handle for indexID, loading it from the object
// store on first access and caching it for subsequent calls; on every open
// that misses the cache the factory is called with dimension, and the new
// handle is then loaded from the store if a saved graph exists.
func (v *VectorSegment) Open(ctx context.Context, indexID string, dimension int) (GraphHandle, error) {
	v.mu.Lock()
	if c, ok := v.handles[indexID]; ok {
		c.lastUsed = time.Now()
		v.mu.Unlock()
		return c.handle, nil
	}
	v.mu.Unlock()

	handle := v.factory(dimension)
	// A brand-new index has nothing on disk yet; loadFromStore leaves handle
	// empty in that case rather than erroring.
	if _, err := v.loadFromStore(ctx, indexID, handle); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.handles) >= v.maxHandles {
		v.evictLocked()
	}
	v.handles[indexID] = &cachedHandle{handle: handle, lastUsed: time.Now()}
	return handle, nil
}

func (v *VectorSegment) loadFromStore(ctx context.Context, indexID string, handle GraphHandle) (bool, error) {
	obj, err := v.store.Get(ctx, hnswPath(v.prefixPath, indexID))
	if err != nil {
		if errs.KindOf(err) == errs.KindNotFound {
			return false, nil
		}
		return false, err
	}
	if err := handle.Load(bytes.NewReader(obj.Body)); err != nil {
		return false, errs.New(errs.KindCorruption, "segment.VectorSegment.Open", indexID, err)
	}
	return true, nil
}

// evictLocked closes and removes the least-recently-used handle; caller
// must hold v.mu.
func (v *VectorSegment) evictLocked() {
	var oldestID string
	var oldest time.Time
	first := true
	for id, c := range v.handles {
		if first || c.lastUsed.Before(oldest) {
			oldestID, oldest = id, c.lastUsed
			first = false
		}
	}
	if oldestID == "" {
		return
	}
	v.handles[oldestID].handle.Close()
	delete(v.handles, oldestID)
}

// Save persists indexID's current handle state, if-not-exists (each index
// version is immutable once published, matching the blockfile/root CAS
// discipline elsewhere in this module; callers that need to update an index
// publish under a fresh indexID and have sysdb record the new one).
func (v *VectorSegment) Save(ctx context.Context, indexID string) error {
	v.mu.Lock()
	c, ok := v.handles[indexID]
	v.mu.Unlock()
	if !ok {
		return errs.New(errs.KindNotFound, "segment.VectorSegment.Save", indexID, errHandleNotOpen)
	}

	var buf bytes.Buffer
	if err := c.handle.Save(&buf); err != nil {
		return err
	}
	p := hnswPath(v.prefixPath, indexID)
	if _, err := v.store.Put(ctx, p, buf.Bytes(), objectstore.Options{Mode: objectstore.IfNotExists}); err != nil {
		if errs.KindOf(err) == errs.KindAlreadyExists {
			return nil
		}
		return err
	}
	return nil
}

// Close evicts and closes every open handle (graceful shutdown).
func (v *VectorSegment) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	ids := make([]string, 0, len(v.handles))
	for id := range v.handles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		v.handles[id].handle.Close()
		delete(v.handles, id)
	}
}

var errHandleNotOpen = fmt.Errorf("segment: vector index handle is not open")
