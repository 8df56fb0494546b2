package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript runs the bucket atomically in Redis so every node
// sees the same state.
// KEYS[1] = bucket key ("ratelimit:<orgID>")
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = cost (tokens to consume)
// ARGV[4] = current unix timestamp (seconds, fractional)
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 120)

return {allowed, tostring(tokens)}
`)

// RedisLimiter shares one token bucket per organization across nodes.
type RedisLimiter struct {
	client *redis.Client
	policy Policy
}

// NewRedisLimiter connects to Redis and returns the shared limiter.
func NewRedisLimiter(addr, password string, db int, policy Policy) *RedisLimiter {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisLimiter{client: rdb, policy: policy}
}

// Ping verifies the Redis connection, for startup checks.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

// Allow runs the bucket script for the org and derives the wait from
// the remaining token deficit when denied.
func (l *RedisLimiter) Allow(ctx context.Context, orgID string) (Decision, error) {
	key := fmt.Sprintf("ratelimit:%s", orgID)
	ratePerSec := l.policy.ratePerSec()
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := tokenBucketScript.Run(ctx, l.client, []string{key},
		ratePerSec, l.policy.burst(), 1, now).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("redis limiter: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return Decision{}, fmt.Errorf("redis limiter: unexpected script response %T", res)
	}
	allowed, _ := results[0].(int64)
	if allowed == 1 {
		return Decision{Allowed: true}, nil
	}

	tokens := 0.0
	if s, ok := results[1].(string); ok {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			tokens = v
		}
	}
	deficit := 1 - tokens
	if deficit < 0 {
		deficit = 0
	}
	wait := time.Duration(deficit / ratePerSec * float64(time.Second))
	return Decision{Allowed: false, RetryAfter: retryAfterSeconds(wait)}, nil
}
