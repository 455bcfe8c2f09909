package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"minitwitter/internal/domain"
	"minitwitter/internal/infra/metrics"
)

// RedisModerationQueue реализует надёжную очередь на списках Redis.
// Задача при получении атомарно переносится в <key>:processing и удаляется оттуда
// только после подтверждения, поэтому падение воркера не теряет её.
type RedisModerationQueue struct {
	client      *redis.Client
	key         string
	processing  string
	dead        string
	pollTimeout time.Duration
}

var _ domain.ModerationQueue = (*RedisModerationQueue)(nil)

// NewRedisModerationQueue создаёт очередь по указанному ключу.
func NewRedisModerationQueue(client *redis.Client, key string) *RedisModerationQueue {
	return &RedisModerationQueue{
		client:      client,
		key:         key,
		processing:  key + ":processing",
		dead:        key + ":dead",
		pollTimeout: time.Second,
	}
}

// Enqueue публикует задачу в очередь.
func (q *RedisModerationQueue) Enqueue(ctx context.Context, job domain.ModerationJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди.
func (q *RedisModerationQueue) Receive(ctx context.Context) (domain.ModerationJob, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.ModerationJob{}, nil, err
		}

		raw, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", q.pollTimeout).Result()
		if err != nil {
			// при отмене контекста go-redis может вернуть и сетевой таймаут
			if ctx.Err() != nil {
				return domain.ModerationJob{}, nil, ctx.Err()
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.ModerationJob{}, nil, err
		}

		var job domain.ModerationJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return domain.ModerationJob{}, nil, &domain.UndecodableJobError{
				Payload: []byte(raw),
				Err:     err,
				Discard: func() error { return q.moveToDead(raw) },
			}
		}
		return job, q.ackFunc(job, raw), nil
	}
}

// DeadLetter кладёт задачу в <key>:dead.
func (q *RedisModerationQueue) DeadLetter(ctx context.Context, job domain.ModerationJob, reason string) error {
	payload, err := json.Marshal(deadLetter{Job: job, Reason: reason, FailedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.dead, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.dead, start, err)
	return err
}

// Recover возвращает в очередь задачи, зависшие в processing после падения воркера.
// Задачи живого воркера при этом могут быть доставлены повторно, что допустимо для at-least-once.
func (q *RedisModerationQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := q.client.LMove(ctx, q.processing, q.key, "RIGHT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}

// Len возвращает длину основной очереди и dead-letter.
func (q *RedisModerationQueue) Len(ctx context.Context) (pending, dead int64, err error) {
	pending, err = q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, 0, err
	}
	dead, err = q.client.LLen(ctx, q.dead).Result()
	return pending, dead, err
}

func (q *RedisModerationQueue) ackFunc(job domain.ModerationJob, raw string) domain.AckFunc {
	return func(success bool) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if !success {
			payload, err := json.Marshal(job.NextAttempt())
			if err != nil {
				return fmt.Errorf("marshal retry: %w", err)
			}
			pipe := q.client.TxPipeline()
			pipe.LPush(ctx, q.key, payload)
			pipe.LRem(ctx, q.processing, 1, raw)
			start := time.Now()
			_, err = pipe.Exec(ctx)
			metrics.ObserveNetworkRequest("redis", "requeue", q.key, start, err)
			return err
		}
		start := time.Now()
		err := q.client.LRem(ctx, q.processing, 1, raw).Err()
		metrics.ObserveNetworkRequest("redis", "ack", q.processing, start, err)
		return err
	}
}

func (q *RedisModerationQueue) moveToDead(raw string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, q.dead, raw)
	pipe.LRem(ctx, q.processing, 1, raw)
	_, err := pipe.Exec(ctx)
	return err
}

type deadLetter struct {
	Job      domain.ModerationJob `json:"job"`
	Reason   string               `json:"reason"`
	FailedAt time.Time            `json:"failed_at"`
}
