// Package lru implements a bounded key/value cache with least-recently-used
// eviction and a sliding time-to-live.
//
// A Cache is not safe for concurrent use. It is owned by a single engine
// instance which serialises all access.
package lru

import (
	"container/list"
	"time"
)

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

// Option customises a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(lc *Cache) {
		if c != nil {
			lc.now = c
		}
	}
}

// Stats are lifetime counters for a Cache.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Expired   uint64
}

// entry is one cached value. The list element's Value is always *entry.
type entry struct {
	key        string
	value      any
	ttl        time.Duration
	lastAccess time.Time
}

// Cache is a bounded LRU store. The front of the list is the most recently
// used entry.
type Cache struct {
	capacity   int
	defaultTTL time.Duration
	entries    map[string]*list.Element
	order      *list.List
	now        Clock
	stats      Stats
}

// New creates a Cache holding at most capacity entries. A capacity below one
// is raised to one. A non-positive defaultTTL disables expiry for entries
// stored without an explicit TTL.
func New(capacity int, defaultTTL time.Duration, opts ...Option) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	c := &Cache{
		capacity:   capacity,
		defaultTTL: defaultTTL,
		entries:    make(map[string]*list.Element, capacity),
		order:      list.New(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key if it is present and was last touched no more
// than its TTL ago. A hit refreshes the access time and recency. An expired
// entry is evicted and reported as a miss.
func (c *Cache) Get(key string) (any, bool) {
	el, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}

	e := el.Value.(*entry)
	now := c.now()
	if e.ttl > 0 && now.Sub(e.lastAccess) > e.ttl {
		c.removeElement(el)
		c.stats.Expired++
		c.stats.Misses++
		return nil, false
	}

	e.lastAccess = now
	c.order.MoveToFront(el)
	c.stats.Hits++
	return e.value, true
}

// Set stores value under key. An optional ttl overrides the default for this
// entry. Storing a new key at capacity evicts the least recently used entry
// first; re-setting an existing key moves it to most recently used.
func (c *Cache) Set(key string, value any, ttl ...time.Duration) {
	effective := c.defaultTTL
	if len(ttl) > 0 && ttl[0] > 0 {
		effective = ttl[0]
	}
	now := c.now()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.ttl = effective
		e.lastAccess = now
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.removeElement(oldest)
			c.stats.Evictions++
		}
	}

	el := c.order.PushFront(&entry{
		key:        key,
		value:      value,
		ttl:        effective,
		lastAccess: now,
	})
	c.entries[key] = el
}

// Delete removes key. It reports whether the key was present.
func (c *Cache) Delete(key string) bool {
	el, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	return true
}

// Len returns the number of stored entries, including any not yet found to be
// expired.
func (c *Cache) Len() int {
	return c.order.Len()
}

// Capacity returns the configured bound.
func (c *Cache) Capacity() int {
	return c.capacity
}

// DefaultTTL returns the TTL used when Set is called without one.
func (c *Cache) DefaultTTL() time.Duration {
	return c.defaultTTL
}

// Clear drops every entry. Stats are kept.
func (c *Cache) Clear() {
	c.entries = make(map[string]*list.Element, c.capacity)
	c.order.Init()
}

// Stats returns a copy of the lifetime counters.
func (c *Cache) Stats() Stats {
	return c.stats
}

func (c *Cache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	delete(c.entries, e.key)
	c.order.Remove(el)
}
