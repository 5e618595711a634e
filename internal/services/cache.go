package services

import (
	"sync"
	"time"
)

type cacheEntry struct {
	value      interface{}
	insertedAt time.Time
}

// QueryCache is a TTL + capacity bounded cache for computed aggregation
// responses, keyed by the canonical resolved query. It is an explicit
// injected object rather than package state so tests can build isolated
// instances; its lifecycle is process start to process end, nothing is
// persisted.
type QueryCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	entries  map[string]cacheEntry
	order    []string
}

func NewQueryCache(ttl time.Duration, capacity int) *QueryCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if capacity <= 0 {
		capacity = 128
	}
	return &QueryCache{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]cacheEntry, capacity),
	}
}

// Get returns the cached value for key, dropping it when past its TTL.
func (c *QueryCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(entry.insertedAt) > c.ttl {
		c.remove(key)
		return nil, false
	}
	return entry.value, true
}

// Set stores a value, evicting the oldest insertion when the cache is full.
// Re-setting an existing key counts as a fresh insertion.
func (c *QueryCache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		c.remove(key)
	}
	for len(c.entries) >= c.capacity && len(c.order) > 0 {
		c.remove(c.order[0])
	}
	c.entries[key] = cacheEntry{value: value, insertedAt: time.Now()}
	c.order = append(c.order, key)
}

// Clear empties the cache. Ingestion and price changes call this so served
// aggregates never lag behind the stored facts for longer than one request.
func (c *QueryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry, c.capacity)
	c.order = c.order[:0]
}

// Len reports the number of live entries, counting expired ones not yet
// collected.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// remove must be called with c.mu held.
func (c *QueryCache) remove(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
