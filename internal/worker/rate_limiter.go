package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/deliverability-engine/internal/pkg/logger"
)

// RateLimiter enforces the global work-queue rate cap using an atomic
// Redis Lua script, avoiding the races a GET-then-INCR pattern would allow
// under concurrent workers.
type RateLimiter struct {
	redis  *redis.Client
	script *redis.Script
}

const rateLimitLuaScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if current + 1 > limit then
    return {0, current}
end

local newVal = redis.call("INCR", key)
if newVal == 1 then
    redis.call("EXPIRE", key, ttl)
end
return {1, newVal}
`

// NewRateLimiter wraps an existing Redis client with the global-cap script.
func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient, script: redis.NewScript(rateLimitLuaScript)}
}

// NewRateLimiterFromURL connects to Redis and returns a ready RateLimiter.
func NewRateLimiterFromURL(redisURL string) (*RateLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRateLimiter(client), nil
}

// Allow atomically checks and increments the per-second counter. It does
// not block; callers that want to wait for capacity should use WaitGlobal.
func (r *RateLimiter) Allow(ctx context.Context) (bool, error) {
	key := fmt.Sprintf("ratelimit:queue:sec:%d", time.Now().Unix())
	result, err := r.script.Run(ctx, r.redis, []string{key}, GlobalRateCapPerSec, 2).Slice()
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}
	return result[0].(int64) == 1, nil
}

// WaitGlobal blocks, retrying Allow every 50ms, until capacity is available
// or ctx is cancelled.
func (r *RateLimiter) WaitGlobal(ctx context.Context) error {
	for {
		allowed, err := r.Allow(ctx)
		if err != nil {
			logger.Warn("rate limiter: allow check error, proceeding without cap", "error", err.Error())
			return nil
		}
		if allowed {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Close closes the underlying Redis connection.
func (r *RateLimiter) Close() error {
	return r.redis.Close()
}
