package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// JobKind отделяет задачи разных типов в общей очереди.
type JobKind string

const (
	// JobKindModeration: классификация текста поста.
	JobKindModeration JobKind = "moderation"
)

// ModerationJobVersion: текущая версия формата задачи модерации.
const ModerationJobVersion = 1

// ModerationJob содержит всё, что нужно воркеру для проверки поста.
// Текст копируется в задачу при постановке, чтобы воркер не читал пост из БД.
type ModerationJob struct {
	Kind       JobKind   `json:"kind"`
	Version    int       `json:"version"`
	ID         string    `json:"jobId"`
	PostID     int64     `json:"postId"`
	Text       string    `json:"text"`
	Attempt    int       `json:"attempt,omitempty"`
	Reprocess  bool      `json:"reprocess,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// NewModerationJob создаёт задачу текущей версии.
func NewModerationJob(id string, postID int64, text string, reprocess bool) ModerationJob {
	return ModerationJob{
		Kind:       JobKindModeration,
		Version:    ModerationJobVersion,
		ID:         id,
		PostID:     postID,
		Text:       text,
		Attempt:    1,
		Reprocess:  reprocess,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Validate отклоняет задачи чужого типа, неизвестной версии и без обязательных полей.
func (j ModerationJob) Validate() error {
	if j.Kind != JobKindModeration {
		return fmt.Errorf("%w: kind %q", ErrUnsupportedJob, j.Kind)
	}
	if j.Version != ModerationJobVersion {
		return fmt.Errorf("%w: version %d", ErrUnsupportedJob, j.Version)
	}
	if j.PostID <= 0 {
		return fmt.Errorf("%w: postId is required", ErrUnsupportedJob)
	}
	if strings.TrimSpace(j.Text) == "" {
		return fmt.Errorf("%w: text is required", ErrUnsupportedJob)
	}
	return nil
}

// NextAttempt возвращает копию задачи для повторной доставки.
func (j ModerationJob) NextAttempt() ModerationJob {
	next := j
	if next.Attempt < 1 {
		next.Attempt = 1
	}
	next.Attempt++
	return next
}

// AckFunc подтверждает успешную обработку или запрашивает повтор доставки задачи.
type AckFunc func(success bool) error

// ModerationQueue описывает очередь задач модерации с доставкой at-least-once.
type ModerationQueue interface {
	Enqueue(ctx context.Context, job ModerationJob) error
	Receive(ctx context.Context) (ModerationJob, AckFunc, error)
	// DeadLetter откладывает задачу для ручного разбора. Исходную доставку
	// после этого нужно подтвердить через ack(true).
	DeadLetter(ctx context.Context, job ModerationJob, reason string) error
}

// UndecodableJobError возвращается из Receive, если тело сообщения не удалось разобрать.
// Discard переносит сырое сообщение в dead-letter и убирает его из очереди.
type UndecodableJobError struct {
	Payload []byte
	Err     error
	Discard func() error
}

func (e *UndecodableJobError) Error() string {
	return fmt.Sprintf("decode job: %v", e.Err)
}

func (e *UndecodableJobError) Unwrap() error {
	return e.Err
}
