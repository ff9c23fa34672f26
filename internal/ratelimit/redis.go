package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "predex:rl:"

// The INCR, the expiry, and the limit compare run as one Lua script so
// the whole admission decision is a single atomic step on the server.
var allowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])

local current = redis.call("INCR", key)
if current == 1 then
  redis.call("PEXPIRE", key, window_ms)
end

local ttl = redis.call("PTTL", key)
if ttl < 0 then
  ttl = window_ms
end

if current > limit then
  return {0, ttl}
end
return {1, ttl}
`)

// RedisLimiter counts calls in Redis, shared across instances.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	limits map[string]int // per-operation overrides
	window time.Duration
}

// NewRedisLimiter creates a Redis-backed limiter admitting limit calls
// per window.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		limits: make(map[string]int),
		window: window,
	}
}

// SetOperationLimit overrides the admitted call count for one operation.
// Call before serving traffic; the map is not guarded after that.
func (l *RedisLimiter) SetOperationLimit(operation string, limit int) {
	l.limits[operation] = limit
}

func (l *RedisLimiter) Allow(ctx context.Context, principalID, operation string) (bool, time.Duration, error) {
	windowMS := int64(l.window / time.Millisecond)
	if windowMS <= 0 {
		return false, 0, fmt.Errorf("ratelimit: invalid window %s", l.window)
	}

	limit := l.limit
	if override, ok := l.limits[operation]; ok {
		limit = override
	}

	key := redisKeyPrefix + limiterKey(principalID, operation)
	res, err := allowScript.Run(ctx, l.client, []string{key}, limit, windowMS).Result()
	if err != nil {
		return false, 0, err
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return false, 0, fmt.Errorf("ratelimit: unexpected redis response %v", res)
	}

	allowedInt, ok := vals[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("ratelimit: unexpected redis response %v", res)
	}
	ttlMS, ok := vals[1].(int64)
	if !ok {
		return false, 0, fmt.Errorf("ratelimit: unexpected redis response %v", res)
	}

	retryAfter := time.Duration(ttlMS) * time.Millisecond
	if retryAfter < 0 {
		retryAfter = 0
	}

	return allowedInt == 1, retryAfter, nil
}
