package pagevault

import "container/list"

// CacheStats counts cache activity for diagnostics.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache is a bounded associative store of Pages keyed by address. Ordering
// is tracked with a container/list-backed LRU over the unpinned subset,
// with pages holding a positive refcount exempt from eviction regardless
// of their list position.
type Cache struct {
	capacity int
	items    map[int64]*list.Element // address -> element wrapping *Page
	order    *list.List              // front = MRU, back = LRU
	stats    CacheStats
}

// NewCache creates a Cache with the given page capacity.
func NewCache(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		items:    make(map[int64]*list.Element),
		order:    list.New(),
	}
}

// Get returns the page at address, moving it to the MRU position if it is
// currently unpinned. A pinned page's position is left untouched since it
// is exempt from eviction order regardless.
func (c *Cache) Get(address int64) (*Page, bool) {
	elem, ok := c.items[address]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	page := elem.Value.(*Page)
	if page.refcount == 0 {
		c.order.MoveToFront(elem)
	}
	return page, true
}

// Put inserts page, keyed by its address. Returns ErrAlreadyPresent if the
// address collides with a live entry.
func (c *Cache) Put(page *Page) error {
	if _, exists := c.items[page.address]; exists {
		return ErrAlreadyPresent
	}
	elem := c.order.PushFront(page)
	page.cacheElem = elem
	c.items[page.address] = elem
	return nil
}

// Remove extracts and returns the page at address. No-op (returns nil,
// false) if absent.
func (c *Cache) Remove(address int64) (*Page, bool) {
	elem, ok := c.items[address]
	if !ok {
		return nil, false
	}
	page := elem.Value.(*Page)
	c.order.Remove(elem)
	page.cacheElem = nil
	delete(c.items, address)
	return page, true
}

// ForEach visits every live page in an unspecified order.
func (c *Cache) ForEach(fn func(*Page)) {
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		fn(elem.Value.(*Page))
	}
}

// Size returns the number of resident pages.
func (c *Cache) Size() int {
	return len(c.items)
}

// Capacity returns the configured page capacity.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() CacheStats {
	return c.stats
}

// Purge evicts unpinned pages from the LRU end until size is at or below
// targetCapacity. A dirty page eligible for eviction is flushed through
// flush first; pinned pages (refcount > 0) are skipped without being moved.
// Eviction is strictly least-recently-used over the unpinned subset: pinned
// entries are passed over in place, so the next unpinned entry found
// walking from the back is always the true LRU candidate.
func (c *Cache) Purge(targetCapacity int, flush func(*Page) error) error {
	for c.Size() > targetCapacity {
		elem := c.findEvictable()
		if elem == nil {
			// Everything remaining is pinned; nothing more to do.
			return nil
		}
		page := elem.Value.(*Page)
		if page.dirty {
			if err := flush(page); err != nil {
				return err
			}
		}
		c.order.Remove(elem)
		page.cacheElem = nil
		delete(c.items, page.address)
		c.stats.Evictions++
	}
	return nil
}

// findEvictable walks from the LRU end forward looking for the first
// unpinned entry.
func (c *Cache) findEvictable() *list.Element {
	for elem := c.order.Back(); elem != nil; elem = elem.Prev() {
		if elem.Value.(*Page).refcount == 0 {
			return elem
		}
	}
	return nil
}
