// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embeddings

import (
	"container/list"
	"sync"
	"time"
)

// =============================================================================
// Cache Interface
// =============================================================================

// Cache stores embedding vectors keyed by normalized input.
//
// # Description
//
// Injected into Client so that lifecycle, size and TTL are explicit
// constructor parameters instead of process-global state.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the cached vector and true, or nil and false on a miss or
	// an expired entry.
	Get(key string) ([]float32, bool)

	// Set stores a vector, evicting as needed to honor capacity.
	Set(key string, vector []float32)

	// Evict removes a key. Missing keys are ignored.
	Evict(key string)

	// Len returns the number of live entries.
	Len() int
}

// =============================================================================
// LRU + TTL Implementation
// =============================================================================

const (
	// DefaultCacheCapacity is the default maximum number of cached vectors.
	DefaultCacheCapacity = 100

	// DefaultCacheTTL is the default lifetime of a cached vector.
	DefaultCacheTTL = 5 * time.Minute
)

type cacheEntry struct {
	key       string
	vector    []float32
	expiresAt time.Time
}

// LRUCache is a size- and time-bounded cache with least-recently-used
// eviction.
//
// # Description
//
// Entries expire TTL after insertion; an expired entry is treated as a miss
// and removed on access. When capacity is exceeded the least recently used
// entry is evicted. Both policies run under one mutex so eviction stays
// consistent under concurrent insertion.
//
// # Thread Safety
//
// Safe for concurrent use.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	ll       *list.List
	items    map[string]*list.Element
	now      func() time.Time
}

// NewLRUCache creates a cache. Non-positive capacity or ttl select the
// defaults (100 entries, 5 minutes).
func NewLRUCache(capacity int, ttl time.Duration) *LRUCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &LRUCache{
		capacity: capacity,
		ttl:      ttl,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
		now:      time.Now,
	}
}

// Get implements Cache. The returned slice is a copy.
func (c *LRUCache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)
	if !c.now().Before(entry.expiresAt) {
		c.removeElement(elem)
		return nil, false
	}
	c.ll.MoveToFront(elem)
	return cloneVector(entry.vector), true
}

// Set implements Cache.
func (c *LRUCache) Set(key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)
	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.vector = cloneVector(vector)
		entry.expiresAt = expiresAt
		c.ll.MoveToFront(elem)
		return
	}

	elem := c.ll.PushFront(&cacheEntry{key: key, vector: cloneVector(vector), expiresAt: expiresAt})
	c.items[key] = elem

	for c.ll.Len() > c.capacity {
		c.removeElement(c.ll.Back())
	}
}

// Evict implements Cache.
func (c *LRUCache) Evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Len implements Cache. Expired entries that have not been touched since
// expiry are purged first.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for elem := c.ll.Back(); elem != nil; {
		prev := elem.Prev()
		if !now.Before(elem.Value.(*cacheEntry).expiresAt) {
			c.removeElement(elem)
		}
		elem = prev
	}
	return c.ll.Len()
}

// removeElement must be called with mu held.
func (c *LRUCache) removeElement(elem *list.Element) {
	c.ll.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry).key)
}

func cloneVector(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

var _ Cache = (*LRUCache)(nil)
