package cache

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"
)

// AssetCache stores rasterized static assets (icons) keyed by asset id and size.
// Get returns the image if present and not expired; Set stores it with a TTL (0 = no expiry).
type AssetCache interface {
	Get(ctx context.Context, key string) (image.Image, bool, error)
	Set(ctx context.Context, key string, value image.Image, ttl time.Duration) error
}

// AssetKey builds the cache key for asset id rasterized at w x h pixels.
func AssetKey(id string, w, h int) string {
	return fmt.Sprintf("icon:%s:%dx%d", id, w, h)
}

// InMemoryCache implements AssetCache using an in-memory map with TTL-based expiration.
// Expired entries are removed on access. Safe for concurrent use.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
}

// cacheEntry stores a cached image with its expiration timestamp; zero means no expiry.
type cacheEntry struct {
	value     image.Image
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
	}
}

// Get retrieves the cached image for key if present and not expired.
// Returns (img, true, nil) on hit, (nil, false, nil) on miss or expiration.
func (c *InMemoryCache) Get(ctx context.Context, key string) (image.Image, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}

	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(c.data, key)
		return nil, false, nil
	}

	return entry.value, true, nil
}

// Set stores value under key. A ttl <= 0 keeps the entry for the life of the process.
func (c *InMemoryCache) Set(ctx context.Context, key string, value image.Image, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: expiresAt,
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
