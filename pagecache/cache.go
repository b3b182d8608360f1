// Package pagecache implements the bounded page cache the page loader
// memoizes through. Adapted from buffermgr's clock-sweep BufferPool:
// this library is read-only, so there is no dirty tracking or disk
// writeback, and eviction is strict least-recently-used rather than
// clock-sweep, since the Tree Walker's per-frame caches never hold more
// than a single page (capacity 1) and the clock hand's "second chance"
// has nothing to approximate at that size.
package pagecache

import (
	"container/list"
	"sync"

	"go.uber.org/zap"

	"esedb/page"
)

// Cache is a bounded map from page number to *page.Page. A capacity-1
// Cache is what the Tree Walker allocates per recursion frame; a larger
// Cache may be shared by a caller above the core (the core treats it as
// opaque and never relies on a specific entry surviving across calls).
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[uint32]*list.Element
	order    *list.List // front = most recently used

	hits      uint64
	misses    uint64
	evictions uint64

	logger *zap.SugaredLogger

	// OnEvict, if set, is invoked synchronously with the page number of
	// every entry evicted to make room for a new one. Tests use this to
	// verify the cache-isolation property: no page is evicted while its
	// owning frame is still iterating it.
	OnEvict func(pageNumber uint32)
}

type entry struct {
	pageNumber uint32
	page       *page.Page
}

// New returns a Cache holding at most capacity pages. capacity <= 0 is
// treated as 1, the size the Tree Walker always asks for.
func New(capacity int, logger *zap.SugaredLogger) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[uint32]*list.Element, capacity),
		order:    list.New(),
		logger:   logger,
	}
}

// Get returns the cached page for pageNumber, if present.
func (c *Cache) Get(pageNumber uint32) (*page.Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[pageNumber]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(el)
	return el.Value.(*entry).page, true
}

// Put inserts p, evicting the least-recently-used entry if the cache is
// already at capacity.
func (c *Cache) Put(pageNumber uint32, p *page.Page) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[pageNumber]; ok {
		el.Value.(*entry).page = p
		c.order.MoveToFront(el)
		return
	}

	for len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}

	el := c.order.PushFront(&entry{pageNumber: pageNumber, page: p})
	c.entries[pageNumber] = el
}

func (c *Cache) evictOldestLocked() {
	back := c.order.Back()
	if back == nil {
		return
	}
	victim := back.Value.(*entry)
	c.order.Remove(back)
	delete(c.entries, victim.pageNumber)
	c.evictions++
	c.logger.Debugw("evicting cached page", "page", victim.pageNumber)
	if c.OnEvict != nil {
		c.OnEvict(victim.pageNumber)
	}
}

// Evict removes pageNumber from the cache, if present, without invoking
// OnEvict (it is not an eviction under pressure, just a deliberate
// drop).
func (c *Cache) Evict(pageNumber uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[pageNumber]
	if !ok {
		return
	}
	c.order.Remove(el)
	delete(c.entries, pageNumber)
}

// Free releases every entry. The Cache remains usable afterward (it is
// simply empty), mirroring the teacher's allocate-per-frame,
// free-on-return discipline without requiring a fresh Cache object each
// time.
func (c *Cache) Free() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[uint32]*list.Element, c.capacity)
	c.order.Init()
}

// Stats is a snapshot of cache counters, used by diagnostics and tests.
type Stats struct {
	Capacity  int
	Len       int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Stats returns a snapshot of the cache's hit/miss/eviction counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Capacity:  c.capacity,
		Len:       len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
