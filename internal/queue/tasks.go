package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/imagekit/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeTransformImage = "image:transform"

// TransformJobPayload carries everything a worker needs to run one job.
type TransformJobPayload struct {
	JobID       string                  `json:"job_id"`
	UserID      string                  `json:"user_id,omitempty"`
	SourceType  string                  `json:"source_type"`
	WebhookURL  string                  `json:"webhook_url,omitempty"`
	Items       []domain.JobItemRequest `json:"items"`
	Options     domain.TransformOptions `json:"options"`
	RequestedAt time.Time               `json:"requested_at"`
}

func NewTransformTask(payload TransformJobPayload) (*asynq.Task, error) {
	if payload.JobID == "" {
		return nil, errors.New("transform payload requires job_id")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal transform payload: %w", err)
	}
	return asynq.NewTask(TypeTransformImage, body), nil
}

func ParseTransformPayload(task *asynq.Task) (TransformJobPayload, error) {
	var payload TransformJobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return TransformJobPayload{}, fmt.Errorf("unmarshal transform payload: %w", err)
	}
	if payload.JobID == "" {
		return TransformJobPayload{}, errors.New("transform payload missing job_id")
	}
	return payload, nil
}
