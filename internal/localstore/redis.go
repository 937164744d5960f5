package localstore

import (
	"context"

	"github.com/redis/go-redis/v9"
)

type (
	// RedisStore persists client-local values in redis so key material
	// survives process restarts.
	RedisStore struct {
		rdb *redis.Client
	}
)

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{
		rdb: rdb,
	}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}

	if err != nil {
		return "", err
	}

	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return s.rdb.Set(ctx, key, value, 0).Err()
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
