package segmentation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Put(ctx, "s1", CacheEntry{Members: []string{"a"}, Fingerprint: "f"}, time.Minute))

	got, ok, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, got.Members)

	now = now.Add(time.Minute)
	_, ok, err = c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_EmptySetIsAHit(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	require.NoError(t, c.Put(ctx, "s1", CacheEntry{Members: nil, Fingerprint: "f"}, time.Minute))

	got, ok, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got.Members)

	require.NoError(t, c.Invalidate(ctx, "s1"))
	_, ok, _ = c.Get(ctx, "s1")
	assert.False(t, ok)
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	c := NewRedisCache(client)

	_, ok, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "s1", CacheEntry{Members: []string{"a", "b"}, Fingerprint: "f1"}, time.Minute))
	assert.True(t, mr.Exists(DefaultCacheKeyPrefix+"s1"))

	got, ok, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, got.Members)
	assert.Equal(t, "f1", got.Fingerprint)

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must read as a miss")

	require.NoError(t, c.Put(ctx, "s2", CacheEntry{Fingerprint: "f"}, time.Minute))
	require.NoError(t, c.Invalidate(ctx, "s2"))
	assert.False(t, mr.Exists(DefaultCacheKeyPrefix+"s2"))
}

func TestRedisCache_CorruptEntryIsAMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	require.NoError(t, mr.Set(DefaultCacheKeyPrefix+"s1", "{not json"))
	_, ok, err := NewRedisCache(client).Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_ServerDownIsAnError(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	_, ok, err := NewRedisCache(client).Get(context.Background(), "s1")
	assert.Error(t, err)
	assert.False(t, ok)
}
