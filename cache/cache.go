// Package cache provides the shared bounded cache used by the answer
// cache and the per-client rate limiter.
package cache

import (
	"sync"
)

const shardCount = 256

// Cache is a sharded map keyed by 64-bit hashes. Concurrent Get, Add and
// Remove are individually atomic; eviction keeps the total size bounded.
type Cache struct {
	shards  [shardCount]shard
	maxSize int
}

type shard struct {
	mu      sync.RWMutex
	entries map[uint64]any
}

// New returns a new cache holding at most size entries.
func New(size int) *Cache {
	if size < shardCount {
		size = shardCount
	}

	c := &Cache{maxSize: size}
	for i := range c.shards {
		c.shards[i].entries = make(map[uint64]any)
	}

	return c
}

func (c *Cache) shard(key uint64) *shard {
	return &c.shards[key&(shardCount-1)]
}

// Get looks up the element stored under key.
func (c *Cache) Get(key uint64) (any, bool) {
	s := c.shard(key)

	s.mu.RLock()
	el, ok := s.entries[key]
	s.mu.RUnlock()

	return el, ok
}

// Add stores an element under key. An existing element is overwritten,
// last write wins. When the shard exceeds its share of the size budget,
// arbitrary entries are evicted to make room.
func (c *Cache) Add(key uint64, el any) {
	s := c.shard(key)
	budget := c.maxSize / shardCount

	s.mu.Lock()
	s.entries[key] = el

	if len(s.entries) > budget {
		over := len(s.entries) - budget
		// random eviction via map iteration order
		for k := range s.entries {
			if over <= 0 {
				break
			}
			if k == key {
				continue
			}
			delete(s.entries, k)
			over--
		}
	}
	s.mu.Unlock()
}

// Remove removes the element stored under key.
func (c *Cache) Remove(key uint64) {
	s := c.shard(key)

	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Len returns the number of elements in the cache.
func (c *Cache) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}

	return n
}
