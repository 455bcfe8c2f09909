package moderation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"minitwitter/internal/domain"
	"minitwitter/internal/infra/metrics"
)

// Producer ставит посты в очередь модерации.
type Producer struct {
	queue domain.ModerationQueue
	log   zerolog.Logger
	newID func() string
}

var _ domain.ModerationEnqueuer = (*Producer)(nil)

// NewProducer создаёт продюсера задач модерации.
func NewProducer(queue domain.ModerationQueue, logger zerolog.Logger) *Producer {
	return &Producer{queue: queue, log: logger, newID: uuid.NewString}
}

// EnqueueModerationJob ставит первичную проверку поста. Вызывается только после
// того, как пост сохранён в БД.
func (p *Producer) EnqueueModerationJob(ctx context.Context, postID int64, text string) error {
	return p.enqueue(ctx, domain.NewModerationJob(p.newID(), postID, text, false))
}

// EnqueueReprocess ставит повторную проверку поста, которая перезапишет текущий вердикт.
func (p *Producer) EnqueueReprocess(ctx context.Context, postID int64, text string) error {
	return p.enqueue(ctx, domain.NewModerationJob(p.newID(), postID, text, true))
}

func (p *Producer) enqueue(ctx context.Context, job domain.ModerationJob) error {
	err := p.queue.Enqueue(ctx, job)
	metrics.IncEnqueued(err)
	if err != nil {
		return fmt.Errorf("постановка задачи модерации: %w", err)
	}
	p.log.Debug().
		Str("job_id", job.ID).
		Int64("post_id", job.PostID).
		Bool("reprocess", job.Reprocess).
		Msg("moderation: задача поставлена в очередь")
	return nil
}
