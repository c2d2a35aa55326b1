package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryCache implements an in-memory cache. It is used when no shared
// backing is configured and as a test double.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	data       []byte
	counter    int64
	expiration time.Time
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

func (c *MemoryCache) expired(item memoryItem) bool {
	return !item.expiration.IsZero() && c.now().After(item.expiration)
}

// Get retrieves data from the cache
func (c *MemoryCache) Get(ctx context.Context, key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists || c.expired(item) {
		delete(c.items, key)
		return ErrNotFound
	}
	return json.Unmarshal(item.data, value)
}

// Set stores data in the cache
func (c *MemoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	item := memoryItem{data: data}
	if ttl > 0 {
		item.expiration = c.now().Add(ttl)
	}
	c.items[key] = item
	return nil
}

// Incr atomically increments a counter key
func (c *MemoryCache) Incr(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists || c.expired(item) {
		item = memoryItem{}
	}
	item.counter++
	c.items[key] = item
	return item.counter, nil
}

// Expire sets the TTL on an existing key
func (c *MemoryCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, exists := c.items[key]; exists {
		item.expiration = c.now().Add(ttl)
		c.items[key] = item
	}
	return nil
}

// Close is a no-op for the in-memory cache
func (c *MemoryCache) Close() error { return nil }
