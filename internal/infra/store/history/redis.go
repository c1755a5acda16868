package historystore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisKV adapts a Redis client to the history package's blob storage.
type redisKV struct {
	rdb redis.Cmdable
}

func NewRedisKV(rdb redis.Cmdable) *redisKV {
	return &redisKV{rdb: rdb}
}

func (s *redisKV) Load(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return data, true, nil
}

func (s *redisKV) Store(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (s *redisKV) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}
