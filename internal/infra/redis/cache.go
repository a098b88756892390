package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/agencyhub/api/internal/metrics"
)

// Cache stores JSON encoded values of one type under a key prefix. Concurrent
// misses on one key in this process share a single load.
type Cache[T any] struct {
	client *Client
	prefix string
	ttl    time.Duration
	loads  singleflight.Group
}

// NewCache creates a cache for values of type T.
func NewCache[T any](client *Client, prefix string, ttl time.Duration) (*Cache[T], error) {
	switch {
	case client == nil:
		return nil, errors.New("redis client is required")
	case prefix == "":
		return nil, errors.New("key prefix is required")
	case ttl <= 0:
		return nil, errors.New("TTL must be positive")
	}
	return &Cache[T]{client: client, prefix: prefix, ttl: ttl}, nil
}

func (c *Cache[T]) key(k string) string {
	return c.prefix + ":" + k
}

func (c *Cache[T]) observe(op string, start time.Time) {
	metrics.RedisOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Get returns the cached value or ErrCacheMiss.
func (c *Cache[T]) Get(ctx context.Context, k string) (*T, error) {
	if k == "" {
		return nil, errors.New("key is required")
	}

	start := time.Now()
	data, err := c.client.client.Get(ctx, c.key(k)).Bytes()
	c.observe("cache_get", start)

	result := "hit"
	defer func() { metrics.CacheRequests.WithLabelValues(c.prefix, result).Inc() }()

	if errors.Is(err, redis.Nil) {
		result = "miss"
		return nil, ErrCacheMiss
	}
	if err != nil {
		result = "error"
		return nil, fmt.Errorf("cache get: %w", err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		result = "error"
		return nil, fmt.Errorf("cache decode %s: %w", k, err)
	}
	return &v, nil
}

// Set stores v for the cache TTL.
func (c *Cache[T]) Set(ctx context.Context, k string, v T) error {
	if k == "" {
		return errors.New("key is required")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", k, err)
	}

	start := time.Now()
	defer c.observe("cache_set", start)
	if err := c.client.client.Set(ctx, c.key(k), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// GetOrLoad returns the cached value or loads, stores and returns it. Redis
// failures are logged and fall through to load, so an unavailable cache
// only costs latency.
func (c *Cache[T]) GetOrLoad(ctx context.Context, k string, load func(ctx context.Context) (*T, error)) (*T, error) {
	if load == nil {
		return nil, errors.New("loader function is required")
	}

	v, err := c.Get(ctx, k)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.client.logger.Warn("cache read failed, loading from source", "key", c.key(k), "error", err)
	}

	shared, err, _ := c.loads.Do(k, func() (any, error) {
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Set(ctx, k, *loaded); err != nil {
			c.client.logger.Warn("cache write failed", "key", c.key(k), "error", err)
		}
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return shared.(*T), nil
}
