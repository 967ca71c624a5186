package marvin

import (
	"context"
	"errors"
	"time"

	"marvinmcp/internal/kvstore"
	"marvinmcp/pkg/logging"
)

// Cache TTLs. Day-scoped reads embed the current date in their key, so a
// stale entry can never leak into the next day regardless of TTL.
const (
	defaultCacheTTL = 10 * time.Minute
	slowCacheTTL    = time.Hour // account info and goals change rarely
)

// Cache is a read-through cache for upstream responses, keyed by operation
// plus relevant parameters.
//
// Invalidation contract: the underlying store supports no key enumeration,
// so writes evict a fixed allowlist of keys plausibly affected by the write
// (see taskWriteEvictions). Eviction is best-effort — a write the allowlist did
// not anticipate can leave stale reads for at most one TTL window. Callers
// must treat cache staleness as bounded by the TTL, not as zero.
type Cache struct {
	kv kvstore.Store
}

// NewCache creates a cache over the given key-value store.
func NewCache(kv kvstore.Store) *Cache {
	return &Cache{kv: kv}
}

const cacheKeyPrefix = "cache:"

// Get returns the serialized payload for key, or false if absent/expired.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	value, err := c.kv.Get(ctx, cacheKeyPrefix+key)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			logging.Warn("Marvin", "Cache read for %s failed: %v", key, err)
		}
		return "", false
	}
	return value, true
}

// Put stores a serialized payload under key. Cache write failures are
// logged and swallowed: the caller already has the data.
func (c *Cache) Put(ctx context.Context, key, payload string, ttl time.Duration) {
	if err := c.kv.Set(ctx, cacheKeyPrefix+key, payload, ttl); err != nil {
		logging.Warn("Marvin", "Cache write for %s failed: %v", key, err)
	}
}

// Evict removes the given keys. Best-effort; see the type comment.
func (c *Cache) Evict(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := c.kv.Delete(ctx, cacheKeyPrefix+key); err != nil {
			logging.Warn("Marvin", "Cache eviction for %s failed: %v", key, err)
		}
	}
}

// today returns the current date in the format used by day-scoped cache keys
// and by Marvin day fields.
func today() string {
	return time.Now().Format("2006-01-02")
}

// taskWriteEvictions is the allowlist of cache keys a task write may have
// invalidated.
func taskWriteEvictions() []string {
	day := today()
	return []string{
		"tasks:" + day,
		"due_items:" + day,
		"all_tasks:" + day,
		"overview:" + day,
	}
}

// projectWriteEvictions is the allowlist for project writes.
func projectWriteEvictions() []string {
	return append(taskWriteEvictions(), "projects", "categories")
}
