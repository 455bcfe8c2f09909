package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"minitwitter/internal/domain"
	"minitwitter/internal/infra/metrics"
)

// RedisCache реализует domain.FeedCache через Redis. Снимок ленты живёт под одним ключом.
type RedisCache struct {
	client *redis.Client
	key    string
}

var _ domain.FeedCache = (*RedisCache)(nil)

// NewRedis создаёт кэш.
func NewRedis(client *redis.Client, key string) *RedisCache {
	return &RedisCache{client: client, key: key}
}

// Get возвращает снимок. Истёкший ключ Redis удаляет сам, поэтому он приходит как redis.Nil.
func (c *RedisCache) Get(ctx context.Context) ([]byte, error) {
	start := time.Now()
	data, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveNetworkRequest("redis", "get", c.key, start, nil)
		return nil, domain.ErrCacheMiss
	}
	metrics.ObserveNetworkRequest("redis", "get", c.key, start, err)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set задаёт значение с TTL.
func (c *RedisCache) Set(ctx context.Context, snapshot []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.client.Set(ctx, c.key, snapshot, ttl).Err()
	metrics.ObserveNetworkRequest("redis", "set", c.key, start, err)
	return err
}

// Delete удаляет снимок. Отсутствие ключа ошибкой не считается.
func (c *RedisCache) Delete(ctx context.Context) error {
	start := time.Now()
	err := c.client.Del(ctx, c.key).Err()
	metrics.ObserveNetworkRequest("redis", "del", c.key, start, err)
	return err
}
