package queue

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"minitwitter/internal/domain"
)

// Options выбирает и настраивает бэкенд очереди модерации.
type Options struct {
	Backend   string
	Name      string
	Redis     *redis.Client
	RabbitURL string
	Prefetch  int
}

// Open создаёт очередь модерации. Возвращаемую функцию нужно вызвать при остановке.
func Open(opts Options) (domain.ModerationQueue, func() error, error) {
	switch opts.Backend {
	case "", "redis":
		if opts.Redis == nil {
			return nil, nil, fmt.Errorf("очередь redis: клиент не задан")
		}
		return NewRedisModerationQueue(opts.Redis, opts.Name), func() error { return nil }, nil
	case "rabbitmq":
		if opts.RabbitURL == "" {
			return nil, nil, fmt.Errorf("очередь rabbitmq: не указан RABBITMQ_URL")
		}
		q, err := NewRabbitModerationQueue(opts.RabbitURL, opts.Name, opts.Prefetch)
		if err != nil {
			return nil, nil, err
		}
		return q, q.Close, nil
	}
	return nil, nil, fmt.Errorf("неизвестный бэкенд очереди %q", opts.Backend)
}
