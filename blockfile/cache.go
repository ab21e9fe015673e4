package blockfile

import (
	"sort"
	"sync"
	"time"
)

// cacheEntry is a memory-budgeted soft reference, adapted from the table
// cache manager's softItem: the cache tracks a size and a last-used clock
// per entry and evicts the coldest entries once over budget.
type cacheEntry struct {
	key           string
	value         any
	size          int64
	lastUsed      time.Time
}

// blockCache is a memory-limited, LRU-ish cache for decoded blocks and
// roots, adapted from the teacher's table CacheManager: single-goroutine
// ownership of the eviction decision (via an internal mutex rather than a
// channel, since blockfile's cache never needs to run a background
// goroutine) keeps bookkeeping simple and race-free.
type blockCache struct {
	mu            sync.Mutex
	memoryBudget  int64
	currentMemory int64
	entries       map[string]*cacheEntry
}

func newBlockCache(memoryBudget int64) *blockCache {
	return &blockCache{
		memoryBudget: memoryBudget,
		entries:      make(map[string]*cacheEntry),
	}
}

func (c *blockCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e.lastUsed = time.Now()
	return e.value, true
}

func (c *blockCache) Put(key string, value any, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.entries[key]; ok {
		c.currentMemory -= old.size
	}
	c.entries[key] = &cacheEntry{key: key, value: value, size: size, lastUsed: time.Now()}
	c.currentMemory += size
	if c.currentMemory > c.memoryBudget {
		c.evict()
	}
}

func (c *blockCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.entries[key]; ok {
		c.currentMemory -= old.size
		delete(c.entries, key)
	}
}

// evict frees memory down to 75% of budget, oldest-used first. Caller
// holds c.mu.
func (c *blockCache) evict() {
	target := c.memoryBudget * 75 / 100
	all := make([]*cacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].lastUsed.Before(all[j].lastUsed) })
	for _, e := range all {
		if c.currentMemory <= target {
			break
		}
		delete(c.entries, e.key)
		c.currentMemory -= e.size
	}
}
