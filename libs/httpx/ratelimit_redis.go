package httpx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter is a fixed-window limiter shared by every booking-service
// instance pointing at the same Redis. Keys live under prefix and expire with
// their window.
type RedisRateLimiter struct {
	rdb    *redis.Client
	limit  int64
	window time.Duration
	prefix string
}

// windowScript increments the counter, starts the window on first use and
// returns {count, remaining ttl in ms}.
var windowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

func NewRedisRateLimiter(rdb *redis.Client, limit int, window time.Duration, prefix string) *RedisRateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window < time.Millisecond {
		window = time.Minute
	}
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = "rl"
	}
	return &RedisRateLimiter{rdb: rdb, limit: int64(limit), window: window, prefix: prefix}
}

func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	vals, err := windowScript.Run(ctx, rl.rdb, []string{rl.prefix + ":" + key}, rl.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(vals) != 2 {
		return Decision{}, fmt.Errorf("rate limit %s: unexpected script reply %v", key, vals)
	}
	return rl.decide(vals[0], vals[1]), nil
}

// decide maps the script reply to a Decision. A negative ttl means the key has
// no expiry, which only happens if PEXPIRE failed; the full window is assumed.
func (rl *RedisRateLimiter) decide(count, ttlMillis int64) Decision {
	if count <= rl.limit {
		return Decision{Allowed: true}
	}
	retry := time.Duration(ttlMillis) * time.Millisecond
	if ttlMillis < 0 {
		retry = rl.window
	}
	return Decision{RetryAfter: retry}
}

var (
	_ Limiter = (*RedisRateLimiter)(nil)
	_ Limiter = (*MemoryLimiter)(nil)
)
