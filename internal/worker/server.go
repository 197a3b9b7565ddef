package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/imagekit/internal/config"
	"github.com/dunamismax/imagekit/internal/domain"
	"github.com/dunamismax/imagekit/internal/pipeline"
	"github.com/dunamismax/imagekit/internal/queue"
	"github.com/dunamismax/imagekit/internal/storage"
	"github.com/dunamismax/imagekit/internal/store"
	"github.com/dunamismax/imagekit/internal/telemetry"
	"github.com/dunamismax/imagekit/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type jobProcessor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	processors    map[string]jobProcessor
	webhookClient webhookSender
	jobStore      store.JobStore
	usageStore    store.UsageStore
	metrics       *metrics
	tracer        trace.Tracer
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	limits domain.Limits,
	storageClient *storage.Client,
	webhookClient *webhook.Client,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) (*Server, error) {
	if storageClient == nil {
		return nil, fmt.Errorf("storage client is required")
	}

	engine, err := pipeline.NewEngine(logger)
	if err != nil {
		return nil, fmt.Errorf("initialize transform engine: %w", err)
	}

	s := newServer(logger, workerCfg, jobStore, usageStore)
	s.webhookClient = webhookClient

	transformer := tracedTransformer{next: engine, tracer: s.tracer, metrics: s.metrics}
	s.processors = map[string]jobProcessor{
		domain.SourceTypeLocalFile:   pipeline.NewLocalProcessor(transformer, workerCfg.LocalInputDir, workerCfg.LocalOutputDir, limits, logger),
		domain.SourceTypeObjectStore: pipeline.NewObjectStoreProcessor(transformer, storageClient, workerCfg.OutputPrefix, limits, logger),
	}

	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
			}),
		},
	)
	return s, nil
}

func newServer(logger *log.Logger, workerCfg config.WorkerConfig, jobStore store.JobStore, usageStore store.UsageStore) *Server {
	if usageStore == nil {
		if jobAndUsageStore, ok := jobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}
	return &Server{
		logger:     logger,
		sem:        make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		processors: map[string]jobProcessor{},
		jobStore:   jobStore,
		usageStore: usageStore,
		metrics:    newMetrics(),
		tracer:     telemetry.Tracer("worker"),
	}
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeTransformImage, s.handleTransform)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	if s.server != nil {
		s.server.Shutdown()
	}
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleTransform(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseTransformPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.transform_job", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.String("job.operation", string(payload.Options.Kind)),
		attribute.Int("job.items", len(payload.Items)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	processor, ok := s.processors[strings.ToLower(payload.SourceType)]
	if !ok {
		err := fmt.Errorf("%w: %s", pipeline.ErrUnsupportedSourceType, payload.SourceType)
		s.failJob(ctx, span, payload, err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := payload.Options.Validate(); err != nil {
		s.failJob(ctx, span, payload, err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"Working... job_id=%s source_type=%s operation=%s items=%d",
		payload.JobID,
		payload.SourceType,
		payload.Options.Kind,
		len(payload.Items),
	)
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	result, err := processor.Process(ctx, pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		Items:      payload.Items,
		Options:    payload.Options,
	})
	if err != nil && len(result.Items) == 0 {
		s.failJob(ctx, span, payload, err)
		return fmt.Errorf("run batch: %w", err)
	}

	outcome = domain.Job{Items: result.Items}.Outcome()
	s.saveResults(ctx, payload.JobID, outcome, result.Items)
	s.recordUsage(ctx, payload, result, time.Since(startedAt))
	s.logger.Printf(
		"Processed job_id=%s status=%s completed=%d failed=%d skipped=%d",
		payload.JobID,
		outcome,
		result.Summary.Completed,
		result.Summary.Failed,
		result.Summary.Skipped,
	)

	if err != nil {
		// Cancelled mid-batch: partial results are saved, asynq retries the rest.
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch interrupted")
		return fmt.Errorf("run batch: %w", err)
	}

	event := webhook.EventJobCompleted
	if outcome == domain.JobStatusFailed {
		event = webhook.EventJobFailed
	}
	if err := s.dispatchWebhook(ctx, payload, event, jobEventBody(payload, outcome, result.Items)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	if outcome == domain.JobStatusFailed {
		span.SetStatus(codes.Error, "every item failed")
	} else {
		span.SetStatus(codes.Ok, "processed")
	}
	return nil
}

func (s *Server) failJob(ctx context.Context, span trace.Span, payload queue.TransformJobPayload, err error) {
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusFailed)
	span.RecordError(err)
	span.SetStatus(codes.Error, "job failed")
	_ = s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusFailed,
		"source_type":  payload.SourceType,
		"requested_at": payload.RequestedAt,
		"failed_at":    time.Now().UTC(),
		"error":        err.Error(),
	})
}

func jobEventBody(payload queue.TransformJobPayload, status string, items []domain.JobItem) map[string]any {
	return map[string]any{
		"job_id":       payload.JobID,
		"status":       status,
		"source_type":  payload.SourceType,
		"operation":    payload.Options.Kind,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"items":        items,
	}
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) saveResults(ctx context.Context, jobID, status string, items []domain.JobItem) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.SaveResults(ctx, jobID, status, items); err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			s.logger.Printf("job results dropped, job not found job_id=%s", jobID)
			return
		}
		s.logger.Printf("job results save failed job_id=%s err=%v", jobID, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.TransformJobPayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func (s *Server) recordUsage(ctx context.Context, payload queue.TransformJobPayload, result pipeline.Result, computeDuration time.Duration) {
	var (
		images     int
		bytesSaved int64
	)
	for _, item := range result.Items {
		s.metrics.itemsTotal.WithLabelValues(string(payload.Options.Kind), string(item.Status)).Inc()
		if item.Status != domain.StatusCompleted {
			continue
		}
		images++
		bytesSaved += int64(item.OriginalSize - item.OutputSize)
	}
	if bytesSaved < 0 {
		bytesSaved = 0
	}

	if s.usageStore == nil || images == 0 {
		return
	}

	userID := strings.TrimSpace(payload.UserID)
	if userID == "" && s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, payload.JobID)
		if err != nil {
			s.logger.Printf("usage lookup failed job_id=%s err=%v", payload.JobID, err)
		} else if ok {
			userID = strings.TrimSpace(job.UserID)
		}
	}
	if userID == "" {
		userID = "anonymous"
	}

	computeTimeMS := computeDuration.Milliseconds()
	if computeTimeMS < 1 {
		computeTimeMS = 1
	}

	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           payload.JobID,
		Images:          images,
		PixelsProcessed: result.PixelsProcessed,
		BytesSaved:      bytesSaved,
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s err=%v", payload.JobID, err)
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(result.PixelsProcessed))
	s.metrics.bytesSavedTotal.Add(float64(bytesSaved))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}

// tracedTransformer wraps each batch item in its own span.
type tracedTransformer struct {
	next    pipeline.Transformer
	tracer  trace.Tracer
	metrics *metrics
}

func (t tracedTransformer) Transform(ctx context.Context, src domain.SourceImage, opts domain.TransformOptions) (domain.TransformResult, error) {
	ctx, span := t.tracer.Start(ctx, "worker.transform_item")
	span.SetAttributes(
		attribute.String("item.name", src.Name),
		attribute.String("item.mime_type", src.MimeType),
		attribute.Int("item.bytes", src.Size()),
		attribute.String("item.operation", string(opts.Kind)),
	)
	defer span.End()

	started := time.Now()
	result, err := t.next.Transform(ctx, src, opts)
	t.metrics.itemDuration.WithLabelValues(string(opts.Kind)).Observe(time.Since(started).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transform failed")
		return result, err
	}

	span.SetAttributes(
		attribute.Int("item.output_bytes", result.Size),
		attribute.Float64("item.compression_ratio", result.CompressionRatio),
		attribute.Int("item.passes", result.Passes),
	)
	return result, nil
}
