package metering

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"api_gateway/internal/storage"
)

// Deduper remembers call ids so a retried recording is counted once.
type Deduper interface {
	// FirstSeen marks id and reports whether it was not marked before.
	FirstSeen(ctx context.Context, id string) (bool, error)
	// Forget removes a mark, used when the increment itself failed.
	Forget(ctx context.Context, id string) error
}

// RedisDeduper marks ids with SET NX so every replica sees them.
type RedisDeduper struct {
	redis  *redis.Client
	window time.Duration
}

// NewRedisDeduper creates a deduper remembering ids for window
func NewRedisDeduper(client *redis.Client, window time.Duration) *RedisDeduper {
	return &RedisDeduper{redis: client, window: window}
}

func dedupeKey(id string) string {
	return "usage-dedupe:" + id
}

func (d *RedisDeduper) FirstSeen(ctx context.Context, id string) (bool, error) {
	ok, err := d.redis.SetNX(ctx, dedupeKey(id), 1, d.window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark request id: %w", err)
	}
	return ok, nil
}

func (d *RedisDeduper) Forget(ctx context.Context, id string) error {
	return d.redis.Del(ctx, dedupeKey(id)).Err()
}

// CacheDeduper marks ids in a bounded in-process LRU. Ids evicted early or
// seen by another replica are counted again.
type CacheDeduper struct {
	cache  *storage.LRUCache
	window time.Duration
}

// NewCacheDeduper creates a deduper holding up to size ids
func NewCacheDeduper(size int, window time.Duration) *CacheDeduper {
	return &CacheDeduper{cache: storage.NewLRUCache(size, window), window: window}
}

func (d *CacheDeduper) FirstSeen(ctx context.Context, id string) (bool, error) {
	return d.cache.SetIfAbsent(id, struct{}{}, d.window), nil
}

func (d *CacheDeduper) Forget(ctx context.Context, id string) error {
	d.cache.Delete(id)
	return nil
}

// Cleanup drops expired ids
func (d *CacheDeduper) Cleanup() int {
	return d.cache.CleanupExpired()
}
