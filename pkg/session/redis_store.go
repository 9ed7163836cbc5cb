package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// raiseScript stores ARGV[1] only if it is greater than the current value.
// IDs exceed the exact integer range of Lua numbers, so the canonical decimal
// strings are compared by length and then lexically.
var raiseScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
local id = ARGV[1]
if cur and (#cur > #id or (#cur == #id and cur >= id)) then
	return cur
end
redis.call('SET', KEYS[1], id)
return id
`)

// RedisStore is a WatermarkStore shared across processes through Redis.
type RedisStore struct {
	redis *redis.Client
}

var _ WatermarkStore = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed watermark store.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	return &RedisStore{redis: redisClient}
}

// Load implements WatermarkStore.
func (s *RedisStore) Load(ctx context.Context, key string) (int64, error) {
	id, err := s.redis.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", key, err)
	}
	return id, nil
}

// Save implements WatermarkStore. Non-positive IDs are ignored.
func (s *RedisStore) Save(ctx context.Context, key string, id int64) error {
	if id <= 0 {
		return nil
	}
	if err := raiseScript.Run(ctx, s.redis, []string{key}, strconv.FormatInt(id, 10)).Err(); err != nil {
		return fmt.Errorf("redis raise %s: %w", key, err)
	}
	return nil
}
