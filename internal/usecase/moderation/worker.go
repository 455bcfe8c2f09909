package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"minitwitter/internal/domain"
	"minitwitter/internal/infra/metrics"
)

// Config задаёт поведение воркера модерации.
type Config struct {
	// MaxDeliveries ограничивает число доставок задачи при ошибках записи в БД.
	MaxDeliveries int
	// FallbackSentiment записывается, если классификатор не ответил за все попытки.
	FallbackSentiment domain.Sentiment
	// FallbackCorrection подставляется для опасного текста без исправления.
	FallbackCorrection string
}

const defaultFallbackCorrection = "This post was hidden by moderation."

func (c Config) withDefaults() Config {
	if c.MaxDeliveries <= 0 {
		c.MaxDeliveries = 5
	}
	if c.FallbackSentiment == domain.SentimentUnset {
		c.FallbackSentiment = domain.SentimentAcceptable
	}
	if c.FallbackCorrection == "" {
		c.FallbackCorrection = defaultFallbackCorrection
	}
	return c
}

// Worker превращает задачу из очереди в записанный вердикт.
// Задача подтверждается только после записи в БД, поэтому при падении
// она будет доставлена повторно. Повтор безопасен: обычная задача меняет
// лишь пост без вердикта.
type Worker struct {
	log        zerolog.Logger
	queue      domain.ModerationQueue
	store      domain.PostStore
	classifier domain.Classifier
	feed       domain.FeedService
	cfg        Config
}

// NewWorker создаёт воркер. Классификатор обычно обёрнут в RetryingClassifier.
func NewWorker(queue domain.ModerationQueue, store domain.PostStore, classifier domain.Classifier, feed domain.FeedService, cfg Config, logger zerolog.Logger) *Worker {
	return &Worker{
		log:        logger,
		queue:      queue,
		store:      store,
		classifier: classifier,
		feed:       feed,
		cfg:        cfg.withDefaults(),
	}
}

type jobOutcome int

const (
	jobOutcomeCompleted jobOutcome = iota
	jobOutcomeRetry
	jobOutcomeDead
	jobOutcomeInterrupted
)

func (o jobOutcome) String() string {
	switch o {
	case jobOutcomeCompleted:
		return "completed"
	case jobOutcomeRetry:
		return "retry"
	case jobOutcomeDead:
		return "dead"
	case jobOutcomeInterrupted:
		return "interrupted"
	}
	return "unknown"
}

// Run читает очередь, пока не отменён контекст.
func (w *Worker) Run(ctx context.Context) error {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var undecodable *domain.UndecodableJobError
			if errors.As(err, &undecodable) {
				w.discard(undecodable)
				continue
			}
			w.log.Error().Err(err).Msg("moderation: ошибка чтения очереди")
			if !sleepCtx(ctx, time.Second) {
				return nil
			}
			continue
		}
		w.process(ctx, job, ack)
	}
}

func (w *Worker) process(ctx context.Context, job domain.ModerationJob, ack domain.AckFunc) {
	start := time.Now()
	jobLog := w.log.With().
		Str("job_id", job.ID).
		Int64("post_id", job.PostID).
		Int("attempt", job.Attempt).
		Bool("reprocess", job.Reprocess).
		Logger()

	outcome, reason := w.handleJob(ctx, job, jobLog)

	if outcome == jobOutcomeRetry && job.Attempt >= w.cfg.MaxDeliveries {
		jobLog.Error().Str("reason", reason).Msg("moderation: достигнут предел доставок, переносим задачу в dead-letter")
		outcome = jobOutcomeDead
		reason = fmt.Sprintf("превышен предел доставок (%d): %s", w.cfg.MaxDeliveries, reason)
	}

	switch outcome {
	case jobOutcomeCompleted:
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("moderation: не удалось подтвердить задачу")
		}
	case jobOutcomeRetry, jobOutcomeInterrupted:
		if err := ack(false); err != nil {
			jobLog.Error().Err(err).Msg("moderation: не удалось вернуть задачу в очередь")
		}
	case jobOutcomeDead:
		dlCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		err := w.queue.DeadLetter(dlCtx, job, reason)
		cancel()
		if err != nil {
			jobLog.Error().Err(err).Msg("moderation: не удалось перенести задачу в dead-letter, вернём в очередь")
			if ackErr := ack(false); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("moderation: не удалось вернуть задачу в очередь")
			}
			break
		}
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("moderation: не удалось подтвердить задачу после dead-letter")
		}
	}
	metrics.ObserveModerationJob(outcome.String(), start)
}

// handleJob проходит received → classifying → verdict → persisted → invalidated.
func (w *Worker) handleJob(ctx context.Context, job domain.ModerationJob, jobLog zerolog.Logger) (jobOutcome, string) {
	if err := job.Validate(); err != nil {
		jobLog.Error().Err(err).Msg("moderation: некорректная задача")
		return jobOutcomeDead, err.Error()
	}

	// классифицируется текущий текст поста: после правки в задаче лежит старый
	text := job.Text
	post, err := w.store.GetPost(ctx, job.PostID)
	switch {
	case errors.Is(err, domain.ErrPostNotFound):
		jobLog.Info().Msg("moderation: пост удалён, задача пропущена")
		return jobOutcomeCompleted, ""
	case err != nil && ctx.Err() != nil:
		return jobOutcomeInterrupted, "interrupted"
	case err != nil:
		// решение всё равно примет условное обновление
		jobLog.Warn().Err(err).Msg("moderation: не удалось прочитать пост перед классификацией")
	case !job.Reprocess && post.Moderated():
		jobLog.Info().Msg("moderation: пост уже проверен, задача пропущена")
		return jobOutcomeCompleted, ""
	default:
		text = post.Text
	}

	source := "classifier"
	var result domain.ModerationResult
	verdict, err := w.classifier.Classify(ctx, text)
	switch {
	case err != nil && ctx.Err() != nil:
		jobLog.Info().Msg("moderation: остановка во время классификации, вернём задачу в очередь")
		return jobOutcomeInterrupted, "interrupted"
	case err != nil && job.Reprocess:
		// вердикт по умолчанию не заменяет уже записанный
		jobLog.Warn().Err(err).Msg("moderation: классификатор недоступен при повторной проверке, вернём задачу в очередь")
		return jobOutcomeRetry, fmt.Sprintf("классификатор недоступен: %v", err)
	case err != nil:
		jobLog.Warn().Err(err).Str("fallback", string(w.cfg.FallbackSentiment)).
			Msg("moderation: классификатор недоступен, применяем вердикт по умолчанию")
		result = w.fallback()
		source = "fallback"
	default:
		result = verdict.ToModeration(w.cfg.FallbackCorrection)
	}

	applied, err := w.store.ApplyModeration(ctx, job.PostID, result, job.Reprocess)
	if err != nil {
		if ctx.Err() != nil {
			return jobOutcomeInterrupted, "interrupted"
		}
		jobLog.Error().Err(err).Msg("moderation: не удалось сохранить вердикт")
		return jobOutcomeRetry, err.Error()
	}
	if !applied {
		jobLog.Info().Msg("moderation: пост удалён или уже проверен, задача пропущена")
		return jobOutcomeCompleted, ""
	}

	metrics.IncVerdict(string(result.Sentiment), source)
	w.feed.Invalidate(context.WithoutCancel(ctx))
	jobLog.Info().Str("sentiment", string(result.Sentiment)).Str("source", source).Msg("moderation: вердикт сохранён")
	return jobOutcomeCompleted, ""
}

func (w *Worker) fallback() domain.ModerationResult {
	kind := domain.VerdictAcceptable
	if w.cfg.FallbackSentiment == domain.SentimentFlagged {
		kind = domain.VerdictDangerous
	}
	return domain.Verdict{Kind: kind}.ToModeration(w.cfg.FallbackCorrection)
}

func (w *Worker) discard(undecodable *domain.UndecodableJobError) {
	start := time.Now()
	w.log.Error().Err(undecodable.Err).Int("payload_bytes", len(undecodable.Payload)).
		Msg("moderation: не удалось разобрать задачу, переносим в dead-letter")
	if undecodable.Discard != nil {
		if err := undecodable.Discard(); err != nil {
			w.log.Error().Err(err).Msg("moderation: не удалось убрать неразборчивую задачу")
		}
	}
	metrics.ObserveModerationJob(jobOutcomeDead.String(), start)
}

// Pool запускает несколько воркеров над одной очередью.
type Pool struct {
	workers []*Worker
}

// NewPool создаёт пул из size копий воркера.
func NewPool(size int, newWorker func(i int) *Worker) *Pool {
	if size <= 0 {
		size = 1
	}
	workers := make([]*Worker, 0, size)
	for i := 0; i < size; i++ {
		workers = append(workers, newWorker(i))
	}
	return &Pool{workers: workers}
}

// Run блокируется до отмены контекста и завершения всех воркеров.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		w := w
		g.Go(func() error { return w.Run(ctx) })
	}
	return g.Wait()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
