package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dunamismax/imagekit/internal/domain"
)

func testJob(id string) domain.Job {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return domain.Job{
		ID:         id,
		Status:     domain.JobStatusQueued,
		SourceType: domain.SourceTypeObjectStore,
		Options:    domain.TransformOptions{Kind: domain.OpCompress, Compress: &domain.CompressOptions{Quality: 80}},
		Items: []domain.JobItem{
			{Name: "a.png", ObjectKey: "uploads/1/a.png", MimeType: domain.MimePNG, Status: domain.StatusPending},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryJobStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()

	if err := s.Create(ctx, testJob("job-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, testJob("job-1")); err == nil {
		t.Fatal("expected duplicate create to fail")
	}

	job, ok, err := s.Get(ctx, "job-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if job.Status != domain.JobStatusQueued || len(job.Items) != 1 {
		t.Fatalf("unexpected job %+v", job)
	}

	updated, err := s.UpdateStatus(ctx, "job-1", domain.JobStatusProcessing)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.Status != domain.JobStatusProcessing || !updated.UpdatedAt.After(job.UpdatedAt) {
		t.Fatalf("unexpected updated job %+v", updated)
	}

	items := []domain.JobItem{{Name: "a.png", Status: domain.StatusCompleted, OutputKey: "outputs/job-1/a.webp"}}
	saved, err := s.SaveResults(ctx, "job-1", domain.JobStatusSucceeded, items)
	if err != nil {
		t.Fatalf("save results: %v", err)
	}
	items[0].OutputKey = "mutated"
	if saved.Items[0].OutputKey != "outputs/job-1/a.webp" {
		t.Fatal("expected saved items to be copied")
	}

	if _, ok, _ := s.Get(ctx, "missing"); ok {
		t.Fatal("expected missing job")
	}
	if _, err := s.UpdateStatus(ctx, "missing", domain.JobStatusFailed); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, err := s.SaveResults(ctx, "missing", domain.JobStatusFailed, nil); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryJobStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	_ = s.Create(ctx, testJob("job-2"))

	job, _, _ := s.Get(ctx, "job-2")
	job.Items[0].Status = domain.StatusError

	again, _, _ := s.Get(ctx, "job-2")
	if again.Items[0].Status != domain.StatusPending {
		t.Fatal("expected stored items to be isolated from callers")
	}
}

func TestMemoryUsageStore(t *testing.T) {
	s := NewMemoryUsageStore()
	_ = s.CreateUsageLog(context.Background(), domain.UsageLog{JobID: "j", Images: 2, BytesSaved: 100})
	entries := s.Entries()
	if len(entries) != 1 || entries[0].Images != 2 {
		t.Fatalf("unexpected entries %+v", entries)
	}
}
