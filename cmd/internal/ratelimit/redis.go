package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"taskchat/cmd/internal/ids"
	"taskchat/cmd/security/token"
)

// slidingWindowScript trims, counts and conditionally records one event atomically.
// Returns {allowed (0|1), retry_after_ms}.
var slidingWindowScript = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local n = redis.call('ZCARD', key)
if n >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local retry = window
  if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
  end
  return {0, retry}
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return {1, 0}
`)

// RedisLimiter is a sliding-window limiter whose state lives in Redis,
// so every instance behind a load balancer shares one budget per key.
type RedisLimiter struct {
	rdb    redis.Scripter
	prefix string
	limit  int
	window time.Duration
}

// NewRedisLimiter constructs a RedisLimiter with safe defaults when inputs are invalid.
func NewRedisLimiter(rdb redis.Scripter, limit int, window time.Duration) (*RedisLimiter, error) {
	if rdb == nil {
		return nil, errors.New("ratelimit: nil redis client")
	}
	if limit <= 0 {
		limit = DefaultEvents
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisLimiter{rdb: rdb, prefix: "taskchat:rl:", limit: limit, window: window}, nil
}

// Allow records one event for key if the window has room.
func (r *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error) {
	nonce, err := ids.NewRandomHex(8)
	if err != nil {
		return false, 0, err
	}
	nowMS := now.UnixMilli()
	member := strconv.FormatInt(nowMS, 10) + "-" + nonce

	// Hashing keeps client identifiers out of Redis and bounds key length.
	rkey := r.prefix + token.HashSHA256Hex(key)

	res, err := slidingWindowScript.Run(ctx, r.rdb, []string{rkey},
		nowMS, r.window.Milliseconds(), r.limit, member,
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: redis: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}
	if res[0] == 1 {
		return true, 0, nil
	}
	return false, time.Duration(res[1]) * time.Millisecond, nil
}
