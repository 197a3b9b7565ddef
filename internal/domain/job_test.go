package domain

import (
	"errors"
	"testing"
)

func resizeOptions() TransformOptions {
	return TransformOptions{
		Kind:   OpResize,
		Resize: &ResizeOptions{Width: 320, KeepAspectRatio: true},
	}
}

func TestCreateJobRequestValidate(t *testing.T) {
	limits := DefaultLimits()

	valid := CreateJobRequest{
		SourceType: SourceTypeObjectStore,
		Items: []JobItemRequest{
			{Name: "a.png", ObjectKey: "uploads/a/a.png", MimeType: MimePNG},
		},
		Options: resizeOptions(),
	}
	if err := valid.Validate(limits); err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}

	invalid := CreateJobRequest{}
	if err := invalid.Validate(limits); err == nil {
		t.Fatal("expected validation error for empty request")
	}

	missingObjectKey := valid
	missingObjectKey.Items = []JobItemRequest{{Name: "a.png", MimeType: MimePNG}}
	if err := missingObjectKey.Validate(limits); err == nil {
		t.Fatal("expected validation error for missing object_key")
	}

	badMime := valid
	badMime.Items = []JobItemRequest{{Name: "a.gif", ObjectKey: "k", MimeType: "image/gif"}}
	if err := badMime.Validate(limits); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}

	tooMany := valid
	tooMany.Items = make([]JobItemRequest, 3)
	for i := range tooMany.Items {
		tooMany.Items[i] = JobItemRequest{ObjectKey: "k", MimeType: MimeJPEG}
	}
	if err := tooMany.Validate(Limits{MaxBatchItems: 2}); err == nil {
		t.Fatal("expected validation error for batch limit")
	}

	unsupportedSourceType := valid
	unsupportedSourceType.SourceType = "http_url"
	if err := unsupportedSourceType.Validate(limits); err == nil {
		t.Fatal("expected validation error for unsupported source_type")
	}
}

func TestJobOutcome(t *testing.T) {
	job := Job{Items: []JobItem{{Status: StatusCompleted}, {Status: StatusCompleted}}}
	if got := job.Outcome(); got != JobStatusSucceeded {
		t.Fatalf("expected %s, got %s", JobStatusSucceeded, got)
	}

	job.Items[1].Status = StatusError
	if got := job.Outcome(); got != JobStatusPartial {
		t.Fatalf("expected %s, got %s", JobStatusPartial, got)
	}

	job.Items[0].Status = StatusError
	if got := job.Outcome(); got != JobStatusFailed {
		t.Fatalf("expected %s, got %s", JobStatusFailed, got)
	}
}
