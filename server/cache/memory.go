package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryCache is a size-bounded LRU cache whose entries expire after the
// cache-wide TTL given at construction.
type MemoryCache struct {
	lru *expirable.LRU[string, []byte]
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache returns a cache holding at most maxSize entries for ttl.
// A non-positive maxSize means unbounded, a non-positive ttl never expires.
func NewMemoryCache(maxSize int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{lru: expirable.NewLRU[string, []byte](maxSize, nil, ttl)}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, ok := c.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

// Set stores a copy of value. Entries live for the cache-wide TTL; the ttl
// argument is ignored.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.lru.Add(key, append([]byte(nil), value...))
	return nil
}

// Len returns the number of stored entries.
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}
