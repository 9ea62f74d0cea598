// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package restore

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bureau-foundation/dedupvault/lib/container"
)

// Cache is a bounded read-through container cache. Eviction is least
// recently used, where both Read and Insert count as a use. Cache is
// safe for concurrent use.
type Cache struct {
	containers *lru.Cache[container.ID, []byte]

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCache returns a cache holding at most capacity containers.
func NewCache(capacity int) (*Cache, error) {
	containers, err := lru.New[container.ID, []byte](capacity)
	if err != nil {
		return nil, fmt.Errorf("creating container cache: %w", err)
	}
	return &Cache{containers: containers}, nil
}

// Exists reports whether id is cached without affecting recency.
func (c *Cache) Exists(id container.ID) bool {
	return c.containers.Contains(id)
}

// Read returns the cached container. The returned slice is shared and
// must not be modified.
func (c *Cache) Read(id container.ID) ([]byte, bool) {
	raw, ok := c.containers.Get(id)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return raw, ok
}

// Insert caches raw under id, evicting the least recently used
// container if the cache is full.
func (c *Cache) Insert(id container.ID, raw []byte) {
	c.containers.Add(id, raw)
}

// Len returns the number of cached containers.
func (c *Cache) Len() int { return c.containers.Len() }

// HitRate returns the cache hit and miss counts since creation.
func (c *Cache) HitRate() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
