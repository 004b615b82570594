package cache

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const keyPrefix = "panel:"

// MemcachedCache implements AssetCache using memcached. Images are stored PNG-encoded so
// several panels on one network can share rasterized icons.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (c *MemcachedCache) key(k string) string {
	return keyPrefix + k
}

// Get implements AssetCache.Get. Returns false, nil on cache miss; false, err on error.
func (c *MemcachedCache) Get(ctx context.Context, key string) (image.Image, bool, error) {
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return nil, false, nil
		}
		return nil, false, err
	}
	img, err := png.Decode(bytes.NewReader(item.Value))
	if err != nil {
		return nil, false, fmt.Errorf("decode cached asset %s: %w", key, err)
	}
	return img, true, nil
}

// Set implements AssetCache.Set.
func (c *MemcachedCache) Set(ctx context.Context, key string, value image.Image, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, value); err != nil {
		return fmt.Errorf("encode asset %s: %w", key, err)
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      buf.Bytes(),
		Expiration: expiration(ttl),
	})
}

// expiration converts ttl to memcached seconds. 0 means never expire; values beyond
// the 30-day relative limit are clamped.
func expiration(ttl time.Duration) int32 {
	const maxRelativeExp = 30 * 24 * 60 * 60 // 30 days
	if ttl <= 0 {
		return 0
	}
	expSec := int32(ttl / time.Second)
	if expSec < 1 {
		expSec = 1
	}
	if expSec > maxRelativeExp {
		expSec = maxRelativeExp
	}
	return expSec
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
