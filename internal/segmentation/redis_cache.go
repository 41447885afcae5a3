package segmentation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCacheKeyPrefix namespaces segment entries in Redis.
const DefaultCacheKeyPrefix = "audience:segment:"

// RedisCache stores member sets as JSON strings with a Redis TTL, so expiry
// is enforced by the server.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCache creates a RedisCache using DefaultCacheKeyPrefix.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client, prefix: DefaultCacheKeyPrefix}
}

func (c *RedisCache) key(segmentID string) string {
	return c.prefix + segmentID
}

func (c *RedisCache) Get(ctx context.Context, segmentID string) (*CacheEntry, bool, error) {
	data, err := c.client.Get(ctx, c.key(segmentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", segmentID, err)
	}
	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// A corrupt entry is a miss; the next Put overwrites it.
		return nil, false, nil
	}
	return &entry, true, nil
}

func (c *RedisCache) Put(ctx context.Context, segmentID string, entry CacheEntry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if entry.Members == nil {
		entry.Members = []string{}
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.client.Set(ctx, c.key(segmentID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", segmentID, err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, segmentID string) error {
	if err := c.client.Del(ctx, c.key(segmentID)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", segmentID, err)
	}
	return nil
}
