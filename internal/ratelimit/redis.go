package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisConsumeScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current >= tonumber(ARGV[1]) then
  return {0, current}
end
current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIREAT", KEYS[1], ARGV[2])
end
return {1, current}
`)

// RedisStore implements CounterStore on Redis keys.
type RedisStore struct {
	client *redis.Client
	prefix string
	nowFn  func() time.Time
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: strings.TrimSpace(prefix),
		nowFn:  time.Now,
	}
}

// Consume reserves one request in the window when it is below limit.
func (s *RedisStore) Consume(ctx context.Context, key CounterKey, limit int, expiresAt time.Time) (int, bool, error) {
	if s == nil || s.client == nil {
		return 0, false, errors.New("rate limit redis: nil client")
	}
	res, errEval := redisConsumeScript.Run(ctx, s.client, []string{s.buildKey(key)}, limit, expiresAt.Unix()).Result()
	if errEval != nil {
		return 0, false, fmt.Errorf("rate limit redis: consume: %w", errEval)
	}
	return parseConsumeResult(res)
}

// Get returns the stored count of the window.
func (s *RedisStore) Get(ctx context.Context, key CounterKey) (int, error) {
	if s == nil || s.client == nil {
		return 0, errors.New("rate limit redis: nil client")
	}
	count, errGet := s.client.Get(ctx, s.buildKey(key)).Int()
	if errGet != nil {
		if errors.Is(errGet, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("rate limit redis: get: %w", errGet)
	}
	return count, nil
}

// Init creates a zero counter when the window has none.
func (s *RedisStore) Init(ctx context.Context, key CounterKey, expiresAt time.Time) error {
	if s == nil || s.client == nil {
		return errors.New("rate limit redis: nil client")
	}
	ttl := expiresAt.Sub(s.nowFn())
	if ttl <= 0 {
		return nil
	}
	if errSet := s.client.SetNX(ctx, s.buildKey(key), 0, ttl).Err(); errSet != nil {
		return fmt.Errorf("rate limit redis: init: %w", errSet)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) buildKey(key CounterKey) string {
	return redisKeyFor(s.prefix, key)
}

func parseConsumeResult(res any) (int, bool, error) {
	values, ok := res.([]any)
	if !ok || len(values) != 2 {
		return 0, false, errors.New("rate limit redis: unexpected response type")
	}
	allowed, okAllowed := toInt64(values[0])
	count, okCount := toInt64(values[1])
	if !okAllowed || !okCount {
		return 0, false, errors.New("rate limit redis: unexpected response type")
	}
	return int(count), allowed == 1, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}
