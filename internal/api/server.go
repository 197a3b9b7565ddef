package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/imagekit/internal/domain"
	"github.com/dunamismax/imagekit/internal/pipeline"
	"github.com/dunamismax/imagekit/internal/queue"
	"github.com/dunamismax/imagekit/internal/removal"
	"github.com/dunamismax/imagekit/internal/storage"
	"github.com/dunamismax/imagekit/internal/store"
	"github.com/dunamismax/imagekit/internal/telemetry"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger                *log.Logger
	queueClient           queueEnqueuer
	jobStore              store.JobStore
	storage               objectStorage
	transformer           pipeline.Transformer
	remover               watermarkRemover
	limits                domain.Limits
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	localInputDir         string
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
	handler               http.Handler
}

type queueEnqueuer interface {
	EnqueueTransform(ctx context.Context, payload queue.TransformJobPayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) (storage.UploadResult, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

type watermarkRemover interface {
	RemoveWatermark(ctx context.Context, imageURL, prompt string) (removal.Result, error)
}

// Deps are the collaborators behind the HTTP surface. Queue, JobStore and Transformer
// are required; the rest degrade to a 503 or are skipped when nil.
type Deps struct {
	Queue        queueEnqueuer
	JobStore     store.JobStore
	Storage      objectStorage
	Transformer  pipeline.Transformer
	Remover      watermarkRemover
	Limits       domain.Limits
	RateLimiter  RateLimiter
	UserIDHeader string
	// LocalInputDir enables local_file jobs, confined to this directory.
	LocalInputDir string
}

func NewServer(logger *log.Logger, deps Deps) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if deps.Storage == nil {
		deps.Storage = unavailableObjectStorage{}
	}
	if deps.Limits == (domain.Limits{}) {
		deps.Limits = domain.DefaultLimits()
	}
	if strings.TrimSpace(deps.UserIDHeader) == "" {
		deps.UserIDHeader = "X-User-ID"
	}

	s := &Server{
		logger:                logger,
		queueClient:           deps.Queue,
		jobStore:              deps.JobStore,
		storage:               deps.Storage,
		transformer:           deps.Transformer,
		remover:               deps.Remover,
		limits:                deps.Limits,
		rateLimiter:           deps.RateLimiter,
		rateLimitUserIDHeader: deps.UserIDHeader,
		localInputDir:         deps.LocalInputDir,
		metrics:               newMetrics(),
		tracer:                telemetry.Tracer("api"),
		mux:                   http.NewServeMux(),
	}
	s.routes()
	s.handler = s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux)))
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) Upload(context.Context, string, []byte, string) (storage.UploadResult, error) {
	return storage.UploadResult{}, errStorageUnavailable
}

func (unavailableObjectStorage) ObjectExists(context.Context, string) (bool, error) {
	return false, errStorageUnavailable
}

var errStorageUnavailable = errors.New("object storage is unavailable")

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/uploads", s.handleUpload)
	s.mux.HandleFunc("POST /v1/transform", s.handleTransform)
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("POST /v1/remove-watermark", s.handleRemoveWatermark)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := req.Validate(s.limits); err != nil {
		writeError(w, statusForError(err, http.StatusBadRequest), err)
		return
	}

	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	for i, item := range req.Items {
		if err := s.verifySourceExists(r.Context(), sourceType, item.ObjectKey); err != nil {
			writeError(w, sourceCheckStatus(err), fmt.Errorf("items[%d]: %w", i, err))
			return
		}
	}

	now := time.Now().UTC()
	items := make([]domain.JobItem, len(req.Items))
	for i, in := range req.Items {
		items[i] = domain.JobItem{
			Name:      in.Name,
			ObjectKey: in.ObjectKey,
			MimeType:  domain.NormalizeMimeType(in.MimeType),
			Status:    domain.StatusPending,
		}
	}
	job := domain.Job{
		ID:         uuid.NewString(),
		UserID:     strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader)),
		Status:     domain.JobStatusCreated,
		SourceType: sourceType,
		WebhookURL: strings.TrimSpace(req.WebhookURL),
		Options:    req.Options,
		Items:      items,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed job_id=%s err=%v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		return
	}

	taskInfo, err := s.queueClient.EnqueueTransform(r.Context(), queue.TransformJobPayload{
		JobID:       job.ID,
		UserID:      job.UserID,
		SourceType:  job.SourceType,
		WebhookURL:  job.WebhookURL,
		Items:       req.Items,
		Options:     job.Options,
		RequestedAt: now,
	})
	if err != nil {
		s.logger.Printf("enqueue failed job_id=%s err=%v", job.ID, err)
		if _, updateErr := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusFailed); updateErr != nil {
			s.logger.Printf("update status failed job_id=%s err=%v", job.ID, updateErr)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue job"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Printf("update status failed job_id=%s err=%v", job.ID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"items":       len(job.Items),
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
		"status_url":  "/v1/jobs/" + job.ID,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.PathValue("id"))
	if jobID == "" {
		writeError(w, http.StatusBadRequest, errors.New("job id is required"))
		return
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}

	writeJSON(w, http.StatusOK, job)
}

type removeWatermarkRequest struct {
	ImageURL string `json:"image_url"`
	Prompt   string `json:"prompt,omitempty"`
}

func (s *Server) handleRemoveWatermark(w http.ResponseWriter, r *http.Request) {
	if s.remover == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "watermark removal is not configured"})
		return
	}

	var req removeWatermarkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.ImageURL) == "" {
		writeError(w, http.StatusBadRequest, errors.New("image_url is required"))
		return
	}

	res, err := s.remover.RemoveWatermark(r.Context(), req.ImageURL, req.Prompt)
	if err != nil {
		s.logger.Printf("watermark removal failed image_url=%s err=%v", req.ImageURL, err)
		writeError(w, removalStatus(err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "completed",
		"result_url": res.URL,
		"task_id":    res.TaskID,
	})
}

func removalStatus(err error) int {
	switch {
	case errors.Is(err, removal.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, removal.ErrTaskTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func sourceCheckStatus(err error) int {
	if errors.Is(err, pipeline.ErrLocalFilesDisabled) || errors.Is(err, pipeline.ErrLocalPathEscapes) {
		return http.StatusBadRequest
	}
	return http.StatusConflict
}

func (s *Server) verifySourceExists(ctx context.Context, sourceType, objectKey string) error {
	switch sourceType {
	case domain.SourceTypeLocalFile:
		if err := pipeline.StatLocalInput(s.localInputDir, objectKey); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", objectKey)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	default:
		exists, err := s.storage.ObjectExists(ctx, objectKey)
		if err != nil {
			return fmt.Errorf("source object check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("source object is missing: %s", objectKey)
		}
		return nil
	}
}

// statusForError maps transform and validation sentinels to HTTP codes.
func statusForError(err error, fallback int) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, domain.ErrFileTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrInvalidFormat),
		errors.Is(err, domain.ErrInvalidOptions),
		errors.Is(err, domain.ErrCropOutOfBounds):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrOutputTooLarge),
		errors.Is(err, domain.ErrDecode),
		errors.Is(err, domain.ErrResourceLoad):
		return http.StatusUnprocessableEntity
	default:
		return fallback
	}
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
