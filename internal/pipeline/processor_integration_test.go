package pipeline

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dunamismax/imagekit/internal/domain"
)

func newTestEngine(t testing.TB) *Engine {
	t.Helper()

	engine, err := NewEngine(log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func TestLocalProcessor_IsolatesCorruptedItem(t *testing.T) {
	tmp := t.TempDir()
	outputDir := filepath.Join(tmp, "out")

	inputs := map[string][]byte{
		"first.png":  buildTestPNG(t, 240, 120),
		"second.png": []byte("\x89PNG\r\n\x1a\n this is not really a png"),
		"third.png":  buildTestPNG(t, 120, 240),
	}
	var items []domain.JobItemRequest
	for _, name := range []string{"first.png", "second.png", "third.png"} {
		p := filepath.Join(tmp, name)
		if err := os.WriteFile(p, inputs[name], 0o644); err != nil {
			t.Fatalf("write input image: %v", err)
		}
		items = append(items, domain.JobItemRequest{Name: name, ObjectKey: name, MimeType: domain.MimePNG})
	}

	processor := NewLocalProcessor(newTestEngine(t), tmp, outputDir, domain.DefaultLimits(), nil)
	result, err := processor.Process(context.Background(), Request{
		JobID:      "job-local-1",
		SourceType: domain.SourceTypeLocalFile,
		Items:      items,
		Options: domain.TransformOptions{
			Kind:   domain.OpResize,
			Resize: &domain.ResizeOptions{Width: 80, KeepAspectRatio: true},
		},
	})
	if err != nil {
		t.Fatalf("process request: %v", err)
	}

	if len(result.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(result.Items))
	}
	first, second, third := result.Items[0], result.Items[1], result.Items[2]
	if first.Status != domain.StatusCompleted || third.Status != domain.StatusCompleted {
		t.Fatalf("expected items 1 and 3 completed, got %s and %s (%s / %s)", first.Status, third.Status, first.Error, third.Error)
	}
	if second.Status != domain.StatusError || !strings.Contains(second.Error, domain.ErrDecode.Error()) {
		t.Fatalf("expected item 2 decode error, got %s %q", second.Status, second.Error)
	}
	if result.Summary.Completed != 2 || result.Summary.Failed != 1 {
		t.Fatalf("unexpected summary %+v", result.Summary)
	}

	verifyImageSize(t, first.OutputKey, 80, 40)
	verifyImageSize(t, third.OutputKey, 80, 160)
	if !strings.HasPrefix(filepath.Base(first.OutputKey), "first_resize_") {
		t.Fatalf("unexpected output name %s", first.OutputKey)
	}
	if result.PixelsProcessed != 80*40+80*160 {
		t.Fatalf("unexpected pixel count %d", result.PixelsProcessed)
	}
}

func TestLocalProcessor_UnsupportedSourceType(t *testing.T) {
	processor := NewLocalProcessor(newTestEngine(t), t.TempDir(), t.TempDir(), domain.DefaultLimits(), nil)

	result, err := processor.Process(context.Background(), Request{
		JobID:      "job-unsupported",
		SourceType: domain.SourceTypeObjectStore,
		Items:      []domain.JobItemRequest{{ObjectKey: "uploads/job/source.png", MimeType: domain.MimePNG}},
		Options: domain.TransformOptions{
			Kind:   domain.OpResize,
			Resize: &domain.ResizeOptions{Width: 120, KeepAspectRatio: true},
		},
	})
	if err != nil {
		t.Fatalf("process request: %v", err)
	}
	item := result.Items[0]
	if item.Status != domain.StatusError || !strings.Contains(item.Error, ErrUnsupportedSourceType.Error()) {
		t.Fatalf("expected unsupported source_type item error, got %s %q", item.Status, item.Error)
	}
	if item.Name != "source.png" {
		t.Fatalf("expected name derived from object key, got %q", item.Name)
	}
}

func TestProcessorRejectsInvalidOptions(t *testing.T) {
	processor := NewLocalProcessor(newTestEngine(t), t.TempDir(), t.TempDir(), domain.DefaultLimits(), nil)

	_, err := processor.Process(context.Background(), Request{
		JobID:      "job-invalid",
		SourceType: domain.SourceTypeLocalFile,
		Items:      []domain.JobItemRequest{{ObjectKey: "x.png", MimeType: domain.MimePNG}},
		Options:    domain.TransformOptions{Kind: domain.OpCrop},
	})
	if err == nil {
		t.Fatal("expected invalid options error")
	}
}

func TestLocalFileFetcherStaysInsideInputDir(t *testing.T) {
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.png")
	if err := os.WriteFile(secret, buildTestPNG(t, 4, 4), 0o644); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	inputDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(inputDir, "ok.png"), buildTestPNG(t, 4, 4), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	linked := filepath.Join(inputDir, "link.png")
	if err := os.Symlink(secret, linked); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	req := Request{SourceType: domain.SourceTypeLocalFile}
	fetcher := LocalFileFetcher{InputDir: inputDir}
	if _, err := fetcher.Fetch(context.Background(), req, domain.JobItemRequest{ObjectKey: "ok.png"}); err != nil {
		t.Fatalf("fetch inside input dir: %v", err)
	}
	for _, key := range []string{secret, "../" + filepath.Base(outside) + "/secret.png", "a/../../secret.png"} {
		if _, err := fetcher.Fetch(context.Background(), req, domain.JobItemRequest{ObjectKey: key}); !errors.Is(err, ErrLocalPathEscapes) {
			t.Fatalf("fetch %q: expected ErrLocalPathEscapes, got %v", key, err)
		}
	}
	if _, err := fetcher.Fetch(context.Background(), req, domain.JobItemRequest{ObjectKey: "link.png"}); err == nil {
		t.Fatal("expected symlink leaving the input dir to be refused")
	}

	disabled := LocalFileFetcher{}
	if _, err := disabled.Fetch(context.Background(), req, domain.JobItemRequest{ObjectKey: "ok.png"}); !errors.Is(err, ErrLocalFilesDisabled) {
		t.Fatalf("expected ErrLocalFilesDisabled, got %v", err)
	}

	if err := StatLocalInput(inputDir, "ok.png"); err != nil {
		t.Fatalf("stat inside input dir: %v", err)
	}
	if err := StatLocalInput(inputDir, "missing.png"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist, got %v", err)
	}
	if err := StatLocalInput("", "ok.png"); !errors.Is(err, ErrLocalFilesDisabled) {
		t.Fatalf("expected ErrLocalFilesDisabled, got %v", err)
	}
}

func verifyImageSize(t *testing.T, path string, wantW, wantH int) {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read image %s: %v", path, err)
	}
	img, _ := decodeFormat(t, data)
	if got := img.Bounds(); got.Dx() != wantW || got.Dy() != wantH {
		t.Fatalf("expected %dx%d, got %dx%d", wantW, wantH, got.Dx(), got.Dy())
	}
}
