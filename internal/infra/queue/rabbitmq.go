package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"minitwitter/internal/domain"
	"minitwitter/internal/infra/metrics"
)

// amqpSession объединяет соединение и канал AMQP, которыми пользуется очередь.
type amqpSession interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type rabbitSession struct {
	*amqp.Channel
	conn *amqp.Connection
}

func (s rabbitSession) Close() error {
	return errors.Join(s.Channel.Close(), s.conn.Close())
}

func dialRabbit(amqpURL string) func() (amqpSession, error) {
	return func() (amqpSession, error) {
		conn, err := amqp.Dial(amqpURL)
		if err != nil {
			return nil, fmt.Errorf("dial rabbitmq: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("open channel: %w", err)
		}
		return rabbitSession{Channel: ch, conn: conn}, nil
	}
}

// RabbitModerationQueue реализует очередь через AMQP с ручным подтверждением.
// После разрыва соединения следующий вызов подключается заново, а
// неподтверждённые сообщения брокер доставит повторно.
type RabbitModerationQueue struct {
	dial     func() (amqpSession, error)
	queue    string
	dead     string
	prefetch int

	mu         sync.Mutex
	sess       amqpSession
	deliveries <-chan amqp.Delivery
}

var _ domain.ModerationQueue = (*RabbitModerationQueue)(nil)

// NewRabbitModerationQueue подключается к RabbitMQ и объявляет durable-очереди задачи и dead-letter.
// prefetch ограничивает число неподтверждённых задач на этого потребителя.
func NewRabbitModerationQueue(amqpURL, queue string, prefetch int) (*RabbitModerationQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	q, err := newRabbitQueue(dialRabbit(amqpURL), queue, prefetch)
	if err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, err := q.sessionLocked(); err != nil {
		return nil, err
	}
	return q, nil
}

func newRabbitQueue(dial func() (amqpSession, error), queue string, prefetch int) (*RabbitModerationQueue, error) {
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	return &RabbitModerationQueue{dial: dial, queue: queue, dead: queue + ".dead", prefetch: prefetch}, nil
}

// sessionLocked возвращает живую сессию, при необходимости подключаясь заново.
func (q *RabbitModerationQueue) sessionLocked() (amqpSession, error) {
	if q.sess != nil {
		return q.sess, nil
	}
	start := time.Now()
	sess, err := q.dial()
	metrics.ObserveNetworkRequest("rabbitmq", "connect", q.queue, start, err)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{q.queue, q.dead} {
		if _, err := sess.QueueDeclare(name, true, false, false, false, nil); err != nil {
			_ = sess.Close()
			return nil, fmt.Errorf("declare queue %s: %w", name, err)
		}
	}
	if err := sess.Qos(q.prefetch, 0, false); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	q.sess = sess
	return sess, nil
}

func (q *RabbitModerationQueue) consume() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	sess, err := q.sessionLocked()
	if err != nil {
		return nil, err
	}
	deliveries, err := sess.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		q.resetLocked(sess)
		return nil, fmt.Errorf("consume: %w", err)
	}
	q.deliveries = deliveries
	return deliveries, nil
}

// reset сбрасывает сессию, если её ещё не заменил другой воркер.
func (q *RabbitModerationQueue) reset(sess amqpSession) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resetLocked(sess)
}

func (q *RabbitModerationQueue) resetLocked(sess amqpSession) {
	if q.sess == nil || q.sess != sess {
		return
	}
	_ = q.sess.Close()
	q.sess = nil
	q.deliveries = nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitModerationQueue) Enqueue(ctx context.Context, job domain.ModerationJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.publish(ctx, q.queue, job.ID, payload)
}

// Receive блокирующе читает задачу из очереди.
func (q *RabbitModerationQueue) Receive(ctx context.Context) (domain.ModerationJob, domain.AckFunc, error) {
	deliveries, err := q.consume()
	if err != nil {
		return domain.ModerationJob{}, nil, err
	}
	select {
	case <-ctx.Done():
		return domain.ModerationJob{}, nil, ctx.Err()
	case d, ok := <-deliveries:
		if !ok {
			q.mu.Lock()
			if q.deliveries == deliveries {
				q.resetLocked(q.sess)
			}
			q.mu.Unlock()
			return domain.ModerationJob{}, nil, errors.New("rabbitmq: delivery channel closed, reconnecting")
		}
		var job domain.ModerationJob
		if err := json.Unmarshal(d.Body, &job); err != nil {
			return domain.ModerationJob{}, nil, &domain.UndecodableJobError{
				Payload: d.Body,
				Err:     err,
				Discard: func() error {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := q.publish(ctx, q.dead, d.MessageId, d.Body); err != nil {
						return err
					}
					return d.Ack(false)
				},
			}
		}
		return job, q.ackFunc(job, d), nil
	}
}

// DeadLetter публикует задачу в очередь <queue>.dead.
func (q *RabbitModerationQueue) DeadLetter(ctx context.Context, job domain.ModerationJob, reason string) error {
	payload, err := json.Marshal(deadLetter{Job: job, Reason: reason, FailedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	return q.publish(ctx, q.dead, job.ID, payload)
}

// Close закрывает канал и соединение.
func (q *RabbitModerationQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sess == nil {
		return nil
	}
	err := q.sess.Close()
	q.sess = nil
	q.deliveries = nil
	return err
}

// ackFunc при неуспехе публикует копию с увеличенным номером попытки и подтверждает оригинал:
// Nack с requeue не позволяет изменить тело сообщения.
func (q *RabbitModerationQueue) ackFunc(job domain.ModerationJob, d amqp.Delivery) domain.AckFunc {
	return func(success bool) error {
		if success {
			return d.Ack(false)
		}
		payload, err := json.Marshal(job.NextAttempt())
		if err != nil {
			return fmt.Errorf("marshal retry: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := q.publish(ctx, q.queue, job.ID, payload); err != nil {
			if nackErr := d.Nack(false, true); nackErr != nil {
				return errors.Join(err, nackErr)
			}
			return err
		}
		return d.Ack(false)
	}
}

func (q *RabbitModerationQueue) publish(ctx context.Context, queue, messageID string, body []byte) error {
	q.mu.Lock()
	sess, err := q.sessionLocked()
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	start := time.Now()
	err = sess.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", queue, start, err)
	if err != nil {
		if errors.Is(err, amqp.ErrClosed) {
			q.reset(sess)
		}
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}
