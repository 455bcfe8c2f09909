package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"minitwitter/internal/adapters/repo"
	"minitwitter/internal/infra/config"
	"minitwitter/internal/infra/db"
	applog "minitwitter/internal/infra/log"
	"minitwitter/internal/infra/metrics"
	"minitwitter/internal/infra/queue"
	"minitwitter/internal/usecase/moderation"
)

func main() {
	cfg := config.Load()
	base := applog.NewLogger(cfg.AppEnv, cfg.LogLevel)
	logger := base.With().Str("component", "reconciler").Logger()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, base.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("reconciler: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	var redisClient *redis.Client
	if cfg.Queue.Backend == "redis" {
		redisClient, err = db.ConnectRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("reconciler: Redis недоступен")
		}
		defer redisClient.Close()
	}

	moderationQueue, closeQueue, err := queue.Open(queue.Options{
		Backend:   cfg.Queue.Backend,
		Name:      cfg.Queue.Moderation,
		Redis:     redisClient,
		RabbitURL: cfg.Queue.RabbitURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("reconciler: не удалось инициализировать очередь модерации")
	}
	defer func() { _ = closeQueue() }()

	producer := moderation.NewProducer(moderationQueue, base.With().Str("component", "producer").Logger())
	reconciler := moderation.NewReconciler(repoAdapter, producer, cfg.Reconcile.MinAge, cfg.Reconcile.Batch, logger)

	logger.Info().Str("schedule", cfg.Reconcile.Schedule).Dur("min_age", cfg.Reconcile.MinAge).Msg("reconciler: старт")
	if err := reconciler.Run(ctx, cfg.Reconcile.Schedule); err != nil {
		logger.Fatal().Err(err).Msg("reconciler: не удалось запустить расписание")
	}
	logger.Info().Msg("reconciler: остановлен")
}
