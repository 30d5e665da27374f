package keydir

import (
	"context"
	"time"

	"github.com/tapanjo92/v4-getcomplical-sub000/internal/storage"
)

// RedisCache adapts the shared redis client to the directory's Cache
// contract.
type RedisCache struct {
	redis *storage.RedisClient
}

func NewRedisCache(redis *storage.RedisClient) *RedisCache {
	return &RedisCache{redis: redis}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.redis.Get(ctx, key)
	if storage.IsNil(err) {
		return "", ErrCacheMiss
	}
	return val, err
}

func (c *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return c.redis.Set(ctx, key, value, ttl)
}
