package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNoRedisClient = errors.New("redis rate limiter has no client")

// redisFixedWindowScript counts a request in the current fixed window and
// reports how many milliseconds remain when the limit is exceeded. INCR and
// PEXPIRE must be atomic so the first request in a window always sets the
// window's expiry.
var redisFixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])

local count = redis.call("INCR", key)
if count == 1 then
  redis.call("PEXPIRE", key, window_ms)
end
if count <= limit then
  return {1, 0}
end
local ttl = redis.call("PTTL", key)
if ttl < 0 then
  ttl = window_ms
end
return {0, ttl}
`)

// RedisFixedWindowLimiter shares one window counter per key across all
// processes.
type RedisFixedWindowLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisFixedWindowLimiter(client redis.UniversalClient, prefix string) *RedisFixedWindowLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisFixedWindowLimiter{client: client, prefix: prefix}
}

func (l *RedisFixedWindowLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	if l.client == nil {
		return false, 0, ErrNoRedisClient
	}
	raw, err := redisFixedWindowScript.Run(ctx, l.client,
		[]string{fmt.Sprintf("%s:%s", l.prefix, key)},
		limit,
		window.Milliseconds(),
	).Result()
	if err != nil {
		return false, 0, err
	}
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected rate limit script result %T", raw)
	}
	allowed, _ := values[0].(int64)
	retryMs, _ := values[1].(int64)
	return allowed == 1, time.Duration(retryMs) * time.Millisecond, nil
}
