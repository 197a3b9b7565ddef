package store

import (
	"context"
	"errors"

	"github.com/dunamismax/imagekit/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	// SaveResults replaces the item records and sets the final status in one write.
	SaveResults(ctx context.Context, id, status string, items []domain.JobItem) (domain.Job, error)
}

type UsageStore interface {
	CreateUsageLog(ctx context.Context, entry domain.UsageLog) error
}
