package cache

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"minitwitter/internal/domain"
)

// Open создаёт кэш ленты выбранного бэкенда: redis или memory.
func Open(backend string, client *redis.Client, key string) (domain.FeedCache, func(), error) {
	switch backend {
	case "", "redis":
		if client == nil {
			return nil, nil, fmt.Errorf("кэш redis: клиент не задан")
		}
		return NewRedis(client, key), func() {}, nil
	case "memory":
		c, err := NewMemory(key)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	}
	return nil, nil, fmt.Errorf("неизвестный бэкенд кэша %q", backend)
}
