package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	FeedCacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_cache_requests_total",
		Help: "Обращения к кэшу ленты по результату",
	}, []string{"result"})

	FeedCacheInvalidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_cache_invalidations_total",
		Help: "Сбросы кэша ленты",
	}, []string{"status"})

	ModerationJobsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_jobs_enqueued_total",
		Help: "Задачи модерации, поставленные в очередь",
	}, []string{"status"})

	ModerationJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_jobs_total",
		Help: "Обработанные задачи модерации по исходу",
	}, []string{"outcome"})

	ModerationVerdicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_verdicts_total",
		Help: "Записанные вердикты модерации",
	}, []string{"sentiment", "source"})

	ModerationJobSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "moderation_job_seconds",
		Help:    "Время обработки задачи модерации",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	})

	ClassifierAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "classifier_attempts_total",
		Help: "Попытки обращения к классификатору",
	}, []string{"status"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		FeedCacheRequests,
		FeedCacheInvalidations,
		ModerationJobsEnqueued,
		ModerationJobs,
		ModerationVerdicts,
		ModerationJobSeconds,
		ClassifierAttempts,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// IncFeedCache учитывает обращение к кэшу ленты: hit, miss, error или disabled.
func IncFeedCache(result string) {
	FeedCacheRequests.WithLabelValues(result).Inc()
}

// IncFeedInvalidation учитывает сброс кэша ленты.
func IncFeedInvalidation(err error) {
	FeedCacheInvalidations.WithLabelValues(statusOf(err)).Inc()
}

// IncEnqueued учитывает постановку задачи модерации.
func IncEnqueued(err error) {
	ModerationJobsEnqueued.WithLabelValues(statusOf(err)).Inc()
}

// ObserveModerationJob записывает исход и длительность обработки задачи.
func ObserveModerationJob(outcome string, start time.Time) {
	ModerationJobs.WithLabelValues(outcome).Inc()
	ModerationJobSeconds.Observe(time.Since(start).Seconds())
}

// IncVerdict учитывает записанный вердикт. source: classifier или fallback.
func IncVerdict(sentiment, source string) {
	ModerationVerdicts.WithLabelValues(sentiment, source).Inc()
}

// IncClassifierAttempt учитывает одну попытку классификации.
func IncClassifierAttempt(err error) {
	ClassifierAttempts.WithLabelValues(statusOf(err)).Inc()
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
