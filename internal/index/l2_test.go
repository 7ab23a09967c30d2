package index

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisCache(t *testing.T, config RedisCacheConfig) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache, err := NewRedisCache(client, config)
	require.NoError(t, err)
	return cache, mr
}

func TestRedisCachePutGet(t *testing.T) {
	cache, _ := newTestRedisCache(t, DefaultRedisCacheConfig())
	ctx := context.Background()

	_, found, _, err := cache.Get(ctx, "t1", "h1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.Put(ctx, "t1", "h1", testEntries(2)))

	got, found, stale, err := cache.Get(ctx, "t1", "h1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, stale)
	assert.Len(t, got, 2)
}

func TestRedisCacheKeyLayout(t *testing.T) {
	cache, mr := newTestRedisCache(t, DefaultRedisCacheConfig())
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "acme", "deadbeef", testEntries(1)))
	assert.True(t, mr.Exists("strata:idx:acme:deadbeef"))
}

func TestRedisCacheStaleWindow(t *testing.T) {
	cache, _ := newTestRedisCache(t, RedisCacheConfig{TTL: 10 * time.Millisecond, StaleTTL: time.Hour})
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "t1", "h1", testEntries(1)))
	time.Sleep(20 * time.Millisecond)

	got, found, stale, err := cache.Get(ctx, "t1", "h1")
	require.NoError(t, err)
	// Past TTL but inside the stale window: still served, flagged stale.
	assert.True(t, found)
	assert.True(t, stale)
	assert.Len(t, got, 1)
}

func TestRedisCacheCorruptEntryIsAMiss(t *testing.T) {
	cache, mr := newTestRedisCache(t, DefaultRedisCacheConfig())
	ctx := context.Background()

	require.NoError(t, mr.Set("strata:idx:t1:h1", "{not json"))

	_, found, _, err := cache.Get(ctx, "t1", "h1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, mr.Exists("strata:idx:t1:h1"))
}

func TestRedisCacheInvalidateTenant(t *testing.T) {
	cache, mr := newTestRedisCache(t, DefaultRedisCacheConfig())
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "t1", "h1", testEntries(1)))
	require.NoError(t, cache.Put(ctx, "t1", "h2", testEntries(1)))
	require.NoError(t, cache.Put(ctx, "t2", "h1", testEntries(1)))

	require.NoError(t, cache.InvalidateTenant(ctx, "t1"))

	assert.False(t, mr.Exists("strata:idx:t1:h1"))
	assert.False(t, mr.Exists("strata:idx:t1:h2"))
	assert.True(t, mr.Exists("strata:idx:t2:h1"))
}

func TestRedisCacheConfigValidation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, err := NewRedisCache(client, RedisCacheConfig{TTL: 0})
	assert.Error(t, err)
	_, err = NewRedisCache(client, RedisCacheConfig{TTL: time.Minute, StaleTTL: -1})
	assert.Error(t, err)
}
