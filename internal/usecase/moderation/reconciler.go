package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"minitwitter/internal/domain"
)

// Reconciler повторно ставит в очередь посты, которые слишком долго остаются без вердикта:
// например, если процесс API упал между вставкой поста и постановкой задачи.
// Дубли безопасны, так как обычная задача не трогает уже проверенный пост.
type Reconciler struct {
	store    domain.PostStore
	enqueuer domain.ModerationEnqueuer
	minAge   time.Duration
	batch    int
	log      zerolog.Logger
	now      func() time.Time
}

// NewReconciler создаёт сверку.
func NewReconciler(store domain.PostStore, enqueuer domain.ModerationEnqueuer, minAge time.Duration, batch int, logger zerolog.Logger) *Reconciler {
	if minAge <= 0 {
		minAge = 10 * time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	return &Reconciler{store: store, enqueuer: enqueuer, minAge: minAge, batch: batch, log: logger, now: time.Now}
}

// RunOnce выполняет один проход и возвращает число поставленных задач.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	posts, err := r.store.ListUnmoderated(ctx, r.now().Add(-r.minAge), r.batch)
	if err != nil {
		return 0, fmt.Errorf("выборка постов без вердикта: %w", err)
	}
	enqueued := 0
	for _, post := range posts {
		if err := r.enqueuer.EnqueueModerationJob(ctx, post.ID, post.Text); err != nil {
			return enqueued, err
		}
		enqueued++
	}
	return enqueued, nil
}

// Run запускает сверку по расписанию cron и блокируется до отмены контекста.
func (r *Reconciler) Run(ctx context.Context, schedule string) error {
	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := scheduler.AddFunc(schedule, func() {
		n, err := r.RunOnce(ctx)
		if err != nil {
			r.log.Error().Err(err).Int("enqueued", n).Msg("reconciler: проход завершился ошибкой")
			return
		}
		if n > 0 {
			r.log.Info().Int("enqueued", n).Msg("reconciler: посты без вердикта поставлены в очередь")
		}
	})
	if err != nil {
		return fmt.Errorf("расписание %q: %w", schedule, err)
	}
	scheduler.Start()
	<-ctx.Done()
	<-scheduler.Stop().Done()
	return nil
}
