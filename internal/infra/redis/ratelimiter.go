package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/agencyhub/api/internal/metrics"
	"github.com/agencyhub/api/pkg/logger"
)

// allowScript checks and consumes one slot of a sliding window atomically.
var allowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local window_ms = tonumber(ARGV[3])
	local limit = tonumber(ARGV[4])
	local request_id = ARGV[5]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
	local count = redis.call('ZCARD', key)

	if count < limit then
		redis.call('ZADD', key, now, request_id)
		redis.call('PEXPIRE', key, window_ms)
		return {1, limit - count - 1, now + window_ms}
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local retry_at = oldest[2] and (tonumber(oldest[2]) + window_ms) or (now + window_ms)
	return {0, 0, retry_at}
`)

// RateLimiter is a sliding window log limiter shared by all API instances.
// It caps analysis submissions per agency.
type RateLimiter struct {
	client    *Client
	keyPrefix string
	limit     int
	window    time.Duration
	logger    *logger.Logger
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// NewRateLimiter creates a new distributed rate limiter.
func NewRateLimiter(client *Client, prefix string, limit int, window time.Duration, log *logger.Logger) (*RateLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		return nil, errors.New("key prefix is required")
	}
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	if window <= 0 {
		return nil, errors.New("window must be positive")
	}
	return &RateLimiter{
		client:    client,
		keyPrefix: prefix,
		limit:     limit,
		window:    window,
		logger:    log.With("component", "rate_limiter", "prefix", prefix),
	}, nil
}

func (rl *RateLimiter) buildKey(key string) string {
	return fmt.Sprintf("%s:%s", rl.keyPrefix, key)
}

// Allow consumes one slot for key if the window has room.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	if key == "" {
		return nil, errors.New("key is required")
	}

	now := time.Now()
	start := now
	result, err := allowScript.Run(ctx, rl.client.client, []string{rl.buildKey(key)},
		now.UnixMilli(),
		now.Add(-rl.window).UnixMilli(),
		rl.window.Milliseconds(),
		rl.limit,
		uuid.NewString(),
	).Int64Slice()
	metrics.RedisOperationDuration.WithLabelValues("ratelimit_allow").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if len(result) != 3 {
		return nil, fmt.Errorf("rate limit check: unexpected reply of %d values", len(result))
	}

	res := &RateLimitResult{
		Allowed:   result[0] == 1,
		Remaining: int(result[1]),
		ResetAt:   time.UnixMilli(result[2]),
	}
	if !res.Allowed {
		rl.logger.Debug("rate limit exceeded", "key", key, "retry_at", res.ResetAt)
	}
	return res, nil
}

// Limit returns the number of requests allowed per window.
func (rl *RateLimiter) Limit() int {
	return rl.limit
}

// Window returns the window length.
func (rl *RateLimiter) Window() time.Duration {
	return rl.window
}
