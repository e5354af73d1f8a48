// Package proxy implements the per-user worker that serves a Zotero library
// as BibTeX over HTTP.
package proxy

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CollectionCache stores the owner's collection-path mapping between fetches
// so every request does not pay a full collection listing.
type CollectionCache interface {
	// Get returns the cached mapping; ok is false on miss or expiry.
	Get(ctx context.Context) (paths map[string]string, ok bool, err error)
	Set(ctx context.Context, paths map[string]string) error
	Invalidate(ctx context.Context) error
}

// MemoryCollectionCache is the in-process default.
type MemoryCollectionCache struct {
	mu      sync.RWMutex
	paths   map[string]string
	expires time.Time
	ttl     time.Duration
}

func NewMemoryCollectionCache(ttl time.Duration) *MemoryCollectionCache {
	return &MemoryCollectionCache{ttl: ttl}
}

func (c *MemoryCollectionCache) Get(ctx context.Context) (map[string]string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.paths == nil || time.Now().After(c.expires) {
		return nil, false, nil
	}
	out := make(map[string]string, len(c.paths))
	for k, v := range c.paths {
		out[k] = v
	}
	return out, true, nil
}

func (c *MemoryCollectionCache) Set(ctx context.Context, paths map[string]string) error {
	cp := make(map[string]string, len(paths))
	for k, v := range paths {
		cp[k] = v
	}
	c.mu.Lock()
	c.paths = cp
	c.expires = time.Now().Add(c.ttl)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCollectionCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	c.paths = nil
	c.mu.Unlock()
	return nil
}

// RedisCollectionCache shares the mapping across proxy restarts.
type RedisCollectionCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisCollectionCache namespaces the cache entry by library owner.
func NewRedisCollectionCache(client *redis.Client, ownerID string, ttl time.Duration) *RedisCollectionCache {
	return &RedisCollectionCache{client: client, key: "proxy:collections:" + ownerID, ttl: ttl}
}

func (c *RedisCollectionCache) Get(ctx context.Context) (map[string]string, bool, error) {
	raw, err := c.client.Get(ctx, c.key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var paths map[string]string
	if err := json.Unmarshal([]byte(raw), &paths); err != nil {
		return nil, false, err
	}
	return paths, true, nil
}

func (c *RedisCollectionCache) Set(ctx context.Context, paths map[string]string) error {
	raw, err := json.Marshal(paths)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key, raw, c.ttl).Err()
}

func (c *RedisCollectionCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, c.key).Err()
}
