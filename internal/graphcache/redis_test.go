package graphcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskdeps/api/internal/depgraph"
	"taskdeps/api/internal/tenant"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	cache, err := NewRedisCache("redis://"+s.Addr(), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, s
}

func TestNewRedisCache(t *testing.T) {
	cache, _ := setupTestRedis(t)
	assert.NoError(t, cache.Ping(context.Background()))
}

func TestNewRedisCacheRejectsBadURL(t *testing.T) {
	_, err := NewRedisCache("not-a-url", time.Minute)
	assert.Error(t, err)
}

func TestGetMiss(t *testing.T) {
	cache, _ := setupTestRedis(t)

	adj, ok, err := cache.Get(context.Background(), tenant.Workspace("ws_1"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, adj)
}

func TestSetAndGet(t *testing.T) {
	cache, s := setupTestRedis(t)
	ctx := context.Background()
	scope := tenant.Workspace("ws_1")

	want := depgraph.Adjacency{"a": {"b", "c"}, "b": {"c"}}
	require.NoError(t, cache.Set(ctx, scope, want))

	got, ok, err := cache.Get(ctx, scope)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	assert.True(t, s.Exists("graph:workspace:ws_1"))
	assert.Equal(t, time.Minute, s.TTL("graph:workspace:ws_1"))
}

func TestEmptySnapshotIsAHit(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()
	scope := tenant.User("u_1")

	require.NoError(t, cache.Set(ctx, scope, nil))

	got, ok, err := cache.Get(ctx, scope)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestScopesDoNotShareEntries(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, tenant.Workspace("shared"), depgraph.Adjacency{"a": {"b"}}))

	_, ok, err := cache.Get(ctx, tenant.User("shared"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()
	scope := tenant.Workspace("ws_1")

	require.NoError(t, cache.Set(ctx, scope, depgraph.Adjacency{"a": {"b"}}))
	require.NoError(t, cache.Invalidate(ctx, scope))

	_, ok, err := cache.Get(ctx, scope)
	require.NoError(t, err)
	assert.False(t, ok)

	// Invalidating a missing key is fine.
	assert.NoError(t, cache.Invalidate(ctx, scope))
}

func TestSnapshotExpires(t *testing.T) {
	cache, s := setupTestRedis(t)
	ctx := context.Background()
	scope := tenant.Workspace("ws_1")

	require.NoError(t, cache.Set(ctx, scope, depgraph.Adjacency{"a": {"b"}}))
	s.FastForward(2 * time.Minute)

	_, ok, err := cache.Get(ctx, scope)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCorruptSnapshotIsAnError(t *testing.T) {
	cache, s := setupTestRedis(t)
	require.NoError(t, s.Set("graph:workspace:ws_1", "{not json"))

	_, ok, err := cache.Get(context.Background(), tenant.Workspace("ws_1"))
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestDefaultTTL(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	cache := NewRedisCacheWithClient(client, 0)
	t.Cleanup(func() { _ = cache.Close() })

	require.NoError(t, cache.Set(context.Background(), tenant.User("u_1"), depgraph.Adjacency{}))
	assert.Equal(t, defaultTTL, s.TTL("graph:user:u_1"))
}
