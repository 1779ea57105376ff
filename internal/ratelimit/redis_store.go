package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "ratelimit:"

// RedisStore keeps rate-limit windows in Redis as a JSON-encoded list of
// Unix-nano timestamps with a TTL, so the window survives restarts and is
// shared between request handlers.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed window store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get implements WindowStore.
func (s *RedisStore) Get(ctx context.Context, key string) ([]time.Time, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var nanos []int64
	if err := json.Unmarshal([]byte(data), &nanos); err != nil {
		return nil, fmt.Errorf("corrupt rate-limit window for %s: %w", key, err)
	}

	stamps := make([]time.Time, len(nanos))
	for i, n := range nanos {
		stamps[i] = time.Unix(0, n)
	}
	return stamps, nil
}

// Set implements WindowStore.
func (s *RedisStore) Set(ctx context.Context, key string, stamps []time.Time, ttl time.Duration) error {
	nanos := make([]int64, len(stamps))
	for i, t := range stamps {
		nanos[i] = t.UnixNano()
	}
	data, err := json.Marshal(nanos)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}
