package config

import (
	"errors"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/dunamismax/imagekit/internal/domain"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
)

type Config struct {
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Limits    domain.Limits
	Removal   RemovalConfig
	Webhook   WebhookConfig
	RateLimit RateLimitConfig
	Telemetry TelemetryConfig
}

type APIConfig struct {
	Addr       string
	PresignTTL time.Duration
	UserHeader string
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
	MaxRetry      int
	TaskTimeout   time.Duration
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency    int
	MaxActiveJobs  int
	LocalOutputDir string
	// LocalInputDir confines local_file keys. Empty disables that source type.
	LocalInputDir string
	OutputPrefix  string
	MetricsAddr   string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
	SignedTTL time.Duration
}

type DatabaseConfig struct {
	DSN string
}

type RemovalConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	PollInterval time.Duration
	MaxAttempts  int
	Timeout      time.Duration
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type RateLimitConfig struct {
	Enabled  bool
	Capacity int
	Window   time.Duration
}

type TelemetryConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

// Load reads a .env file if present and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}

	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		API: APIConfig{
			Addr:       env("IMAGEKIT_API_ADDR", ":8080"),
			PresignTTL: envDuration("IMAGEKIT_PRESIGN_TTL", 15*time.Minute),
			UserHeader: env("IMAGEKIT_USER_HEADER", "X-User-ID"),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
			MaxRetry:      envInt("ASYNC_MAX_RETRY", 5),
			TaskTimeout:   envDuration("ASYNC_TASK_TIMEOUT", 5*time.Minute),
		},
		Worker: WorkerConfig{
			Concurrency:    envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs:  envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			LocalOutputDir: env("WORKER_LOCAL_OUTPUT_DIR", "./.imagekit-output"),
			LocalInputDir:  env("IMAGEKIT_LOCAL_INPUT_DIR", ""),
			OutputPrefix:   env("WORKER_OUTPUT_PREFIX", "outputs"),
			MetricsAddr:    env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "imagekit"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
			PublicURL: env("MINIO_PUBLIC_URL", ""),
			SignedTTL: envDuration("MINIO_SIGNED_URL_TTL", time.Hour),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Limits: domain.Limits{
			MaxFileBytes:  int64(envInt("IMAGEKIT_MAX_FILE_BYTES", domain.DefaultMaxFileBytes)),
			MaxBatchItems: envInt("IMAGEKIT_MAX_BATCH_ITEMS", domain.DefaultMaxBatchItems),
		},
		Removal: RemovalConfig{
			BaseURL:      env("REMOVAL_BASE_URL", "https://dashscope.aliyuncs.com/api/v1"),
			APIKey:       env("REMOVAL_API_KEY", ""),
			Model:        env("REMOVAL_MODEL", "wanx2.1-imageedit"),
			PollInterval: envDuration("REMOVAL_POLL_INTERVAL", 2*time.Second),
			MaxAttempts:  envInt("REMOVAL_MAX_ATTEMPTS", 30),
			Timeout:      envDuration("REMOVAL_HTTP_TIMEOUT", 30*time.Second),
		},
		Webhook: WebhookConfig{
			SigningSecret:  env("WEBHOOK_SIGNING_SECRET", ""),
			Timeout:        envDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("WEBHOOK_MAX_ATTEMPTS", 3),
			InitialBackoff: envDuration("WEBHOOK_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     envDuration("WEBHOOK_MAX_BACKOFF", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:  envBool("RATE_LIMIT_ENABLED", true),
			Capacity: envInt("RATE_LIMIT_CAPACITY", 60),
			Window:   envDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Telemetry: TelemetryConfig{
			ServiceName:  env("OTEL_SERVICE_NAME", "imagekit"),
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		},
	}, nil
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
