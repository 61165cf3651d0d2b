// Package graphcache stores per-scope adjacency snapshots in Redis so the
// cycle check can walk the graph without a query per node.
package graphcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"taskdeps/api/internal/depgraph"
	"taskdeps/api/internal/tenant"
)

const (
	keyPrefix  = "graph:"
	defaultTTL = 10 * time.Minute
)

// RedisCache implements depgraph.Cache.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ depgraph.Cache = (*RedisCache)(nil)

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, ttl), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisCache{
		client: client,
		prefix: keyPrefix,
		ttl:    ttl,
	}
}

func (c *RedisCache) key(scope tenant.ScopeKey) string {
	return c.prefix + scope.String()
}

// Get returns the cached snapshot for scope. ok is false on a miss.
func (c *RedisCache) Get(ctx context.Context, scope tenant.ScopeKey) (depgraph.Adjacency, bool, error) {
	raw, err := c.client.Get(ctx, c.key(scope)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read graph snapshot: %w", err)
	}

	var adj depgraph.Adjacency
	if err := json.Unmarshal(raw, &adj); err != nil {
		return nil, false, fmt.Errorf("decode graph snapshot: %w", err)
	}
	if adj == nil {
		adj = depgraph.Adjacency{}
	}
	return adj, true, nil
}

func (c *RedisCache) Set(ctx context.Context, scope tenant.ScopeKey, adj depgraph.Adjacency) error {
	if adj == nil {
		adj = depgraph.Adjacency{}
	}
	raw, err := json.Marshal(adj)
	if err != nil {
		return fmt.Errorf("encode graph snapshot: %w", err)
	}
	if err := c.client.Set(ctx, c.key(scope), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("write graph snapshot: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, scope tenant.ScopeKey) error {
	if err := c.client.Del(ctx, c.key(scope)).Err(); err != nil {
		return fmt.Errorf("invalidate graph snapshot: %w", err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
