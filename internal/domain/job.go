package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusPartial    = "partial"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeObjectStore = "object_store"
)

type CreateJobRequest struct {
	SourceType string           `json:"source_type"`
	WebhookURL string           `json:"webhook_url,omitempty"`
	Items      []JobItemRequest `json:"items"`
	Options    TransformOptions `json:"options"`
}

type JobItemRequest struct {
	Name      string `json:"name"`
	ObjectKey string `json:"object_key"`
	MimeType  string `json:"mime_type"`
}

// Job is one asynchronous batch run over already uploaded objects.
type Job struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id,omitempty"`
	Status     string           `json:"status"`
	SourceType string           `json:"source_type"`
	WebhookURL string           `json:"webhook_url,omitempty"`
	Options    TransformOptions `json:"options"`
	Items      []JobItem        `json:"items"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// JobItem is the persisted processing record of one image in a job.
type JobItem struct {
	Name             string     `json:"name"`
	ObjectKey        string     `json:"object_key"`
	MimeType         string     `json:"mime_type"`
	Status           ItemStatus `json:"status"`
	OutputKey        string     `json:"output_key,omitempty"`
	OriginalSize     int        `json:"original_size,omitempty"`
	OutputSize       int        `json:"output_size,omitempty"`
	Width            int        `json:"width,omitempty"`
	Height           int        `json:"height,omitempty"`
	CompressionRatio float64    `json:"compression_ratio,omitempty"`
	Error            string     `json:"error,omitempty"`
}

func (r CreateJobRequest) Validate(limits Limits) error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeObjectStore {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if len(r.Items) == 0 {
		return errors.New("items must contain at least one image")
	}
	if limits.MaxBatchItems > 0 && len(r.Items) > limits.MaxBatchItems {
		return fmt.Errorf("items exceeds the batch limit of %d", limits.MaxBatchItems)
	}
	for i, item := range r.Items {
		if strings.TrimSpace(item.ObjectKey) == "" {
			return fmt.Errorf("items[%d].object_key is required", i)
		}
		if !IsSupportedMimeType(item.MimeType) {
			return fmt.Errorf("items[%d]: %w: %q", i, ErrInvalidFormat, item.MimeType)
		}
	}
	if err := r.Options.Validate(); err != nil {
		return err
	}
	return nil
}

// Outcome derives the final job status from its item statuses.
func (j Job) Outcome() string {
	var completed, failed int
	for _, item := range j.Items {
		switch item.Status {
		case StatusCompleted:
			completed++
		case StatusError:
			failed++
		}
	}
	switch {
	case completed == len(j.Items) && completed > 0:
		return JobStatusSucceeded
	case completed > 0:
		return JobStatusPartial
	default:
		return JobStatusFailed
	}
}
