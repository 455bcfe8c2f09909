package moderation

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"minitwitter/internal/domain"
	"minitwitter/internal/infra/metrics"
)

// RetryPolicy задаёт повторы вызова классификатора.
type RetryPolicy struct {
	MaxAttempts     int
	Timeout         time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Timeout <= 0 {
		p.Timeout = 30 * time.Second
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = time.Second
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}

// RetryingClassifier оборачивает классификатор ограниченным числом попыток
// с экспоненциальной паузой. Каждая попытка получает собственный таймаут.
type RetryingClassifier struct {
	inner  domain.Classifier
	policy RetryPolicy
	log    zerolog.Logger
}

var _ domain.Classifier = (*RetryingClassifier)(nil)

// NewRetryingClassifier создаёт обёртку с политикой повторов.
func NewRetryingClassifier(inner domain.Classifier, policy RetryPolicy, logger zerolog.Logger) *RetryingClassifier {
	return &RetryingClassifier{inner: inner, policy: policy.withDefaults(), log: logger}
}

// Classify возвращает первый успешный вердикт или ошибку последней попытки.
// Отмена родительского контекста прекращает повторы сразу.
func (c *RetryingClassifier) Classify(ctx context.Context, text string) (domain.Verdict, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.policy.InitialInterval
	exp.MaxInterval = c.policy.MaxInterval
	exp.MaxElapsedTime = 0
	schedule := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.policy.MaxAttempts-1)), ctx)

	var (
		verdict domain.Verdict
		attempt int
	)
	err := backoff.Retry(func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, c.policy.Timeout)
		defer cancel()

		v, err := c.inner.Classify(attemptCtx, text)
		metrics.IncClassifierAttempt(err)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.log.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", c.policy.MaxAttempts).
				Msg("moderation: попытка классификации не удалась")
			return err
		}
		verdict = v
		return nil
	}, schedule)
	if err != nil {
		return domain.Verdict{}, err
	}
	return verdict, nil
}
