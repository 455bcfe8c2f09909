package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	Port        int    `envconfig:"PORT" default:"3000"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	PGDSN string `envconfig:"PG_DSN"`

	Redis struct {
		Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
		Password string `envconfig:"REDIS_PASSWORD"`
		DB       int    `envconfig:"REDIS_DB" default:"0"`
	} `envconfig:""`

	Cache struct {
		Active  bool          `envconfig:"CACHE_ACTIVE" default:"true"`
		Backend string        `envconfig:"FEED_CACHE_BACKEND" default:"redis"`
		Key     string        `envconfig:"FEED_CACHE_KEY" default:"posts"`
		TTL     time.Duration `envconfig:"FEED_CACHE_TTL" default:"60s"`
	} `envconfig:""`

	Queue struct {
		Backend       string `envconfig:"QUEUE_BACKEND" default:"redis"`
		Moderation    string `envconfig:"MODERATION_QUEUE_KEY" default:"moderation"`
		RabbitURL     string `envconfig:"RABBITMQ_URL"`
		MaxDeliveries int    `envconfig:"QUEUE_MAX_DELIVERIES" default:"5"`
	} `envconfig:""`

	Classifier struct {
		Provider       string        `envconfig:"CLASSIFIER_PROVIDER" default:"openai"`
		BaseURL        string        `envconfig:"CLASSIFIER_BASE_URL" default:"http://localhost:11434/v1"`
		APIKey         string        `envconfig:"CLASSIFIER_API_KEY" default:"ollama"`
		Model          string        `envconfig:"CLASSIFIER_MODEL" default:"llama3.2:1b"`
		Timeout        time.Duration `envconfig:"CLASSIFIER_TIMEOUT" default:"30s"`
		MaxAttempts    int           `envconfig:"CLASSIFIER_MAX_ATTEMPTS" default:"3"`
		BackoffInitial time.Duration `envconfig:"CLASSIFIER_BACKOFF_INITIAL" default:"1s"`
		BackoffMax     time.Duration `envconfig:"CLASSIFIER_BACKOFF_MAX" default:"10s"`
	} `envconfig:""`

	Moderation struct {
		FallbackSentiment  string `envconfig:"MODERATION_FALLBACK_SENTIMENT" default:"acceptable"`
		FallbackCorrection string `envconfig:"MODERATION_FALLBACK_CORRECTION" default:"This post was hidden by moderation."`
		Concurrency        int    `envconfig:"WORKER_CONCURRENCY" default:"2"`
	} `envconfig:""`

	Reconcile struct {
		Schedule string        `envconfig:"RECONCILE_SCHEDULE" default:"@every 5m"`
		MinAge   time.Duration `envconfig:"RECONCILE_MIN_AGE" default:"10m"`
		Batch    int           `envconfig:"RECONCILE_BATCH" default:"100"`
	} `envconfig:""`

	RateLimit struct {
		RPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"5"`
		Burst int     `envconfig:"RATE_LIMIT_BURST" default:"20"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Parse читает конфиг из окружения и возвращает ошибку вместо завершения процесса.
func Parse() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}
