package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"minitwitter/internal/adapters/classifier"
	"minitwitter/internal/adapters/repo"
	"minitwitter/internal/domain"
	"minitwitter/internal/infra/cache"
	"minitwitter/internal/infra/config"
	"minitwitter/internal/infra/db"
	applog "minitwitter/internal/infra/log"
	"minitwitter/internal/infra/metrics"
	"minitwitter/internal/infra/openai"
	"minitwitter/internal/infra/queue"
	"minitwitter/internal/usecase/feed"
	"minitwitter/internal/usecase/moderation"
)

func main() {
	cfg := config.Load()
	base := applog.NewLogger(cfg.AppEnv, cfg.LogLevel)
	logger := base.With().Str("component", "worker").Logger()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, base.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	var redisClient *redis.Client
	if cfg.Queue.Backend == "redis" || (cfg.Cache.Active && cfg.Cache.Backend == "redis") {
		redisClient, err = db.ConnectRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil && cfg.Queue.Backend == "redis" {
			logger.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("worker: Redis недоступен")
		}
		defer redisClient.Close()
	}

	var feedCache domain.FeedCache
	if cfg.Cache.Active {
		if cfg.Cache.Backend == "memory" {
			logger.Warn().Msg("worker: in-process кэш API недоступен воркеру, сброс ленты отключён")
		} else {
			c, closeCache, err := cache.Open(cfg.Cache.Backend, redisClient, cfg.Cache.Key)
			if err != nil {
				logger.Fatal().Err(err).Msg("worker: не удалось создать кэш ленты")
			}
			defer closeCache()
			feedCache = c
		}
	}
	feedService := feed.NewService(repoAdapter, feedCache, cfg.Cache.TTL, base.With().Str("component", "feed").Logger())

	moderationQueue, closeQueue, err := queue.Open(queue.Options{
		Backend:   cfg.Queue.Backend,
		Name:      cfg.Queue.Moderation,
		Redis:     redisClient,
		RabbitURL: cfg.Queue.RabbitURL,
		Prefetch:  cfg.Moderation.Concurrency,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось инициализировать очередь модерации")
	}
	defer func() { _ = closeQueue() }()

	if rq, ok := moderationQueue.(*queue.RedisModerationQueue); ok {
		recoverCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		moved, err := rq.Recover(recoverCtx)
		cancel()
		if err != nil {
			logger.Error().Err(err).Msg("worker: не удалось вернуть зависшие задачи")
		} else if moved > 0 {
			logger.Info().Int("jobs", moved).Msg("worker: зависшие задачи возвращены в очередь")
		}
	}

	fallbackSentiment, ok := domain.ParseSentiment(cfg.Moderation.FallbackSentiment)
	if !ok {
		logger.Fatal().Str("value", cfg.Moderation.FallbackSentiment).Msg("worker: MODERATION_FALLBACK_SENTIMENT должен быть acceptable или flagged")
	}

	classifierLog := base.With().Str("component", "classifier").Logger()
	retrying := moderation.NewRetryingClassifier(newClassifier(cfg, classifierLog), moderation.RetryPolicy{
		MaxAttempts:     cfg.Classifier.MaxAttempts,
		Timeout:         cfg.Classifier.Timeout,
		InitialInterval: cfg.Classifier.BackoffInitial,
		MaxInterval:     cfg.Classifier.BackoffMax,
	}, classifierLog)

	workerCfg := moderation.Config{
		MaxDeliveries:      cfg.Queue.MaxDeliveries,
		FallbackSentiment:  fallbackSentiment,
		FallbackCorrection: cfg.Moderation.FallbackCorrection,
	}
	workers := moderation.NewPool(cfg.Moderation.Concurrency, func(i int) *moderation.Worker {
		return moderation.NewWorker(moderationQueue, repoAdapter, retrying, feedService, workerCfg,
			logger.With().Int("worker", i).Logger())
	})

	logger.Info().
		Int("concurrency", cfg.Moderation.Concurrency).
		Str("queue", cfg.Queue.Backend).
		Str("classifier", cfg.Classifier.Provider).
		Msg("worker: запуск обработки очереди")
	if err := workers.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("worker: пул завершился с ошибкой")
	}
	logger.Info().Msg("worker: остановлен")
}

func newClassifier(cfg config.AppConfig, logger zerolog.Logger) domain.Classifier {
	switch cfg.Classifier.Provider {
	case "simple":
		logger.Info().Msg("worker: используется классификатор по списку слов")
		return classifier.NewSimple(nil)
	case "openai", "":
		client := openai.NewClient(cfg.Classifier.APIKey, cfg.Classifier.BaseURL, cfg.Classifier.Timeout)
		return classifier.NewOpenAI(client, cfg.Classifier.Model)
	}
	logger.Fatal().Str("provider", cfg.Classifier.Provider).Msg("worker: неизвестный CLASSIFIER_PROVIDER")
	return nil
}
