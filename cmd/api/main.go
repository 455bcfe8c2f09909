package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"minitwitter/internal/adapters/httpapi"
	"minitwitter/internal/adapters/repo"
	"minitwitter/internal/domain"
	"minitwitter/internal/infra/cache"
	"minitwitter/internal/infra/config"
	"minitwitter/internal/infra/db"
	httpinfra "minitwitter/internal/infra/http"
	applog "minitwitter/internal/infra/log"
	"minitwitter/internal/infra/metrics"
	"minitwitter/internal/infra/queue"
	"minitwitter/internal/usecase/feed"
	"minitwitter/internal/usecase/moderation"
	"minitwitter/internal/usecase/posts"
	"minitwitter/internal/usecase/users"
)

func main() {
	cfg := config.Load()
	base := applog.NewLogger(cfg.AppEnv, cfg.LogLevel)
	logger := base.With().Str("component", "api").Logger()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, base.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	var redisClient *redis.Client
	if cfg.Queue.Backend == "redis" || (cfg.Cache.Active && cfg.Cache.Backend == "redis") {
		redisClient, err = db.ConnectRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			// кэш переживёт недоступность Redis, а постановка задач вернёт ошибку запросу
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("api: Redis недоступен на старте")
		}
		defer redisClient.Close()
	}

	var feedCache domain.FeedCache
	if cfg.Cache.Active {
		c, closeCache, err := cache.Open(cfg.Cache.Backend, redisClient, cfg.Cache.Key)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: не удалось создать кэш ленты")
		}
		defer closeCache()
		feedCache = c
	} else {
		logger.Info().Msg("api: кэш ленты отключён")
	}
	feedService := feed.NewService(repoAdapter, feedCache, cfg.Cache.TTL, base.With().Str("component", "feed").Logger())

	moderationQueue, closeQueue, err := queue.Open(queue.Options{
		Backend:   cfg.Queue.Backend,
		Name:      cfg.Queue.Moderation,
		Redis:     redisClient,
		RabbitURL: cfg.Queue.RabbitURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось инициализировать очередь модерации")
	}
	defer func() { _ = closeQueue() }()

	producer := moderation.NewProducer(moderationQueue, base.With().Str("component", "producer").Logger())
	postsService := posts.NewService(repoAdapter, producer, feedService, base.With().Str("component", "posts").Logger())
	usersService := users.NewService(repoAdapter, feedService, base.With().Str("component", "users").Logger())

	httpLogger := base.With().Str("component", "http").Logger()
	server := httpinfra.NewServer(httpLogger)
	limiter := httpinfra.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	httpapi.NewHandler(postsService, usersService, httpLogger).Routes(server.Router, repoAdapter, limiter)

	go func() {
		if err := server.Start(":" + strconv.Itoa(cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: ошибка при остановке сервера")
	}
}
