package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript admits one request against a fixed window stored as a counter with a
// millisecond TTL. A missing or TTL-less key starts a new window. A full window
// returns without incrementing so rejected requests never consume permits.
// Returns {allowed, count, ttl_ms}.
var takeScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local ttl = redis.call('PTTL', KEYS[1])
if ttl <= 0 then
  redis.call('SET', KEYS[1], 1, 'PX', window)
  return {1, 1, window}
end
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
if count >= limit then
  return {0, count, ttl}
end
count = redis.call('INCR', KEYS[1])
return {1, count, ttl}
`)

// RedisStore shares windows across replicas through Redis. Each Take is one atomic
// script evaluation.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	policy Policy
	now    func() time.Time
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix sets the key namespace (default "forecast:ratelimit:").
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisStore returns a RedisStore using rdb. The caller owns rdb and closes it.
func NewRedisStore(rdb redis.UniversalClient, policy Policy, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "forecast:ratelimit:",
		policy: policy,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Name() string   { return "redis" }
func (s *RedisStore) Policy() Policy { return s.policy }

func (s *RedisStore) Take(ctx context.Context, key string) (Decision, error) {
	now := s.now()
	res, err := takeScript.Run(ctx, s.rdb, []string{s.prefix + key},
		s.policy.PermitLimit, s.policy.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis take: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("redis take: unexpected reply length %d", len(res))
	}
	allowed, count, ttl := res[0] == 1, int(res[1]), time.Duration(res[2])*time.Millisecond
	remaining := s.policy.PermitLimit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   allowed,
		Limit:     s.policy.PermitLimit,
		Remaining: remaining,
		ResetAt:   now.Add(ttl),
	}, nil
}

// Reset deletes every key under the store's prefix.
func (s *RedisStore) Reset(ctx context.Context) error {
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis reset scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis reset delete: %w", err)
	}
	return nil
}

// Ping checks that Redis is reachable. Used by /health.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
