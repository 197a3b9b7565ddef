package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/imagekit/internal/api"
	"github.com/dunamismax/imagekit/internal/config"
	"github.com/dunamismax/imagekit/internal/pipeline"
	"github.com/dunamismax/imagekit/internal/queue"
	"github.com/dunamismax/imagekit/internal/ratelimit"
	"github.com/dunamismax/imagekit/internal/removal"
	"github.com/dunamismax/imagekit/internal/storage"
	"github.com/dunamismax/imagekit/internal/store"
	"github.com/dunamismax/imagekit/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Telemetry.ServiceName + "-api",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("setup tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	if err := pipeline.Startup(); err != nil {
		logger.Fatalf("start image runtime: %v", err)
	}
	defer pipeline.Shutdown()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), queue.Options{
		Queue:    cfg.Queue.Name,
		MaxRetry: cfg.Queue.MaxRetry,
		Timeout:  cfg.Queue.TaskTimeout,
	})
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	var jobStore store.JobStore = store.NewMemoryJobStore()
	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("connect job store: %v", err)
		}
		defer pg.Close()
		jobStore = pg
	} else {
		logger.Printf("POSTGRES_DSN not set, using in-memory job store")
	}

	deps := api.Deps{
		Queue:         queueClient,
		JobStore:      jobStore,
		Limits:        cfg.Limits,
		UserIDHeader:  cfg.API.UserHeader,
		LocalInputDir: cfg.Worker.LocalInputDir,
	}

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint:  cfg.Storage.Endpoint,
		Access:    cfg.Storage.AccessKey,
		Secret:    cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
		PublicURL: cfg.Storage.PublicURL,
		SignedTTL: cfg.Storage.SignedTTL,
	})
	switch {
	case err != nil:
		logger.Printf("object storage disabled: %v", err)
	default:
		if err := storageClient.EnsureBucket(ctx); err != nil {
			logger.Printf("ensure bucket failed, uploads may fail: %v", err)
		}
		deps.Storage = storageClient
	}

	engine, err := pipeline.NewEngine(logger)
	if err != nil {
		logger.Fatalf("initialize transform engine: %v", err)
	}
	deps.Transformer = engine

	if cfg.Removal.APIKey != "" {
		deps.Remover = removal.NewClient(removal.Config{
			BaseURL:      cfg.Removal.BaseURL,
			APIKey:       cfg.Removal.APIKey,
			Model:        cfg.Removal.Model,
			PollInterval: cfg.Removal.PollInterval,
			MaxAttempts:  cfg.Removal.MaxAttempts,
			Timeout:      cfg.Removal.Timeout,
		}, logger)
	}

	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.New(redisClient, ratelimit.Config{
			Capacity: cfg.RateLimit.Capacity,
			Window:   cfg.RateLimit.Window,
		})
		if err != nil {
			logger.Fatalf("create rate limiter: %v", err)
		}
		deps.RateLimiter = limiter
	}

	app := api.NewServer(logger, deps)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s webp=%s", cfg.API.Addr, pipeline.WebPBackend())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}
