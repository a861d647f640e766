package ratelimiter

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript is the atomic equivalent of MemoryStore.ConsumeTokens.
// KEYS[1] bucket hash; ARGV: tokens, capacity, refill rate, interval ms, now ms, ttl ms.
// Returns {remaining, last_refill_ms}.
var consumeScript = redis.NewScript(`
local tokens   = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local rate     = tonumber(ARGV[3])
local interval = tonumber(ARGV[4])
local now      = tonumber(ARGV[5])
local ttl      = tonumber(ARGV[6])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'last')
local current = tonumber(state[1])
local last = tonumber(state[2])
if current == nil or last == nil then
  current = capacity
  last = now
end

local elapsed = now - last
if elapsed >= interval then
  local intervals = math.floor(elapsed / interval)
  local cap = math.floor(capacity / rate) + 1
  if intervals > cap then intervals = cap end
  current = math.min(current + intervals * rate, capacity)
  last = now
end

local remaining = current - tokens
if remaining >= 0 or tokens == 0 then
  current = remaining
end

redis.call('HSET', KEYS[1], 'tokens', current, 'last', last)
redis.call('PEXPIRE', KEYS[1], ttl)
return {remaining, last}
`)

// RedisStore shares buckets between replicas through Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithRedisClock overrides the time source passed to the bucket script.
func WithRedisClock(now func() time.Time) RedisStoreOption {
	return func(s *RedisStore) {
		s.now = now
	}
}

// NewRedisStore creates a Redis-backed store. Keys are namespaced with prefix.
func NewRedisStore(client redis.UniversalClient, prefix string, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{client: client, prefix: prefix + "ratelimit:", ttl: 25 * time.Hour, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ConsumeTokens runs the bucket update atomically on the server.
func (s *RedisStore) ConsumeTokens(ctx context.Context, key string, tokens int, config Config) (*Result, error) {
	now := time.UnixMilli(s.now().UnixMilli())
	res, err := consumeScript.Run(ctx, s.client, []string{s.prefix + key},
		tokens,
		config.Capacity,
		config.RefillRate,
		config.RefillInterval.Milliseconds(),
		now.UnixMilli(),
		max(s.ttl, config.RefillInterval+time.Hour).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return nil, ErrStoreUnavailable
	}

	return &Result{
		Limit:     config.Capacity,
		Remaining: int(res[0]),
		ResetAt:   time.UnixMilli(res[1]).Add(config.RefillInterval),
		CheckedAt: now,
	}, nil
}

// Reset deletes the bucket for key.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}
