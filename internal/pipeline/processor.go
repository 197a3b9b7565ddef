package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/imagekit/internal/batch"
	"github.com/dunamismax/imagekit/internal/domain"
)

var (
	ErrUnsupportedSourceType = errors.New("unsupported source_type")
	// ErrLocalFilesDisabled is returned for local_file sources when no input directory is configured.
	ErrLocalFilesDisabled = errors.New("local_file sources are disabled")
	ErrLocalPathEscapes   = errors.New("local_file key must be a relative path inside the input directory")
)

// Request is one job: a list of stored images and the transform to apply to each.
type Request struct {
	JobID      string
	SourceType string
	Items      []domain.JobItemRequest
	Options    domain.TransformOptions
}

type Result struct {
	Items           []domain.JobItem
	Summary         batch.Summary
	PixelsProcessed int64
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request, item domain.JobItemRequest) ([]byte, error)
}

// Emitter persists one transformed output and returns where it was written.
type Emitter interface {
	Emit(ctx context.Context, req Request, item domain.JobItemRequest, result domain.TransformResult) (string, error)
}

// Processor fetches a job's sources, runs them through a batch orchestrator and emits
// every completed output. Item failures are recorded on the item, never on the job.
type Processor struct {
	fetcher     Fetcher
	transformer Transformer
	emitter     Emitter
	limits      domain.Limits
	logger      *log.Logger
}

func NewProcessor(fetcher Fetcher, transformer Transformer, emitter Emitter, limits domain.Limits, logger *log.Logger) *Processor {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Processor{
		fetcher:     fetcher,
		transformer: transformer,
		emitter:     emitter,
		limits:      limits,
		logger:      logger,
	}
}

func NewLocalProcessor(transformer Transformer, inputDir, outputDir string, limits domain.Limits, logger *log.Logger) *Processor {
	return NewProcessor(LocalFileFetcher{InputDir: inputDir}, transformer, LocalFileEmitter{OutputDir: outputDir}, limits, logger)
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if len(req.Items) == 0 {
		return Result{}, errors.New("job must contain at least one item")
	}
	if err := req.Options.Validate(); err != nil {
		return Result{}, err
	}

	orch := batch.New(p.transformer, batch.Config{Limits: p.limits, Logger: p.logger})
	defer orch.ClearAll()

	items := make([]domain.JobItem, len(req.Items))
	batchIDs := make([]string, len(req.Items))
	for i, in := range req.Items {
		items[i] = domain.JobItem{
			Name:      itemName(in),
			ObjectKey: in.ObjectKey,
			MimeType:  domain.NormalizeMimeType(in.MimeType),
			Status:    domain.StatusPending,
		}

		data, err := p.fetcher.Fetch(ctx, req, in)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			items[i].Status = domain.StatusError
			items[i].Error = fmt.Sprintf("fetch stage: %v", err)
			continue
		}
		items[i].OriginalSize = len(data)

		ids, rejections := orch.AddItems(domain.SourceImage{Name: items[i].Name, MimeType: items[i].MimeType, Data: data})
		if len(rejections) > 0 {
			items[i].Status = domain.StatusError
			items[i].Error = rejections[0].Err.Error()
			continue
		}
		batchIDs[i] = ids[0]
	}

	summary := orch.RunAll(ctx, req.Options)

	var pixels int64
	for i, id := range batchIDs {
		if id == "" {
			continue
		}
		done, ok := orch.Get(id)
		if !ok {
			continue
		}
		switch done.Status {
		case domain.StatusCompleted:
			key, err := p.emitter.Emit(ctx, req, req.Items[i], *done.Result)
			if err != nil {
				items[i].Status = domain.StatusError
				items[i].Error = fmt.Sprintf("emit stage: %v", err)
				continue
			}
			items[i].Status = domain.StatusCompleted
			items[i].OutputKey = key
			items[i].OutputSize = done.Result.Size
			items[i].Width = done.Result.Width
			items[i].Height = done.Result.Height
			items[i].CompressionRatio = done.Result.CompressionRatio
			pixels += int64(done.Result.Width) * int64(done.Result.Height)
		case domain.StatusError:
			items[i].Status = domain.StatusError
			items[i].Error = done.Error
		default:
			items[i].Status = domain.StatusError
			items[i].Error = "skipped: job cancelled before this item started"
		}
	}

	out := Result{Items: items, Summary: summary, PixelsProcessed: pixels}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func itemName(in domain.JobItemRequest) string {
	if name := strings.TrimSpace(in.Name); name != "" {
		return name
	}
	return filepath.Base(in.ObjectKey)
}

// LocalFileFetcher reads object keys as paths relative to InputDir. Keys cannot leave
// the directory, including through symlinks. An empty InputDir refuses every key.
type LocalFileFetcher struct {
	InputDir string
}

func (f LocalFileFetcher) Fetch(ctx context.Context, req Request, item domain.JobItemRequest) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, domain.SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root, name, err := openLocalInput(f.InputDir, item.ObjectKey)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	file, err := root.Open(name)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", name, err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", name, err)
	}
	return data, nil
}

// StatLocalInput checks that key names a readable file inside inputDir.
func StatLocalInput(inputDir, key string) error {
	root, name, err := openLocalInput(inputDir, key)
	if err != nil {
		return err
	}
	defer root.Close()

	info, err := root.Stat(name)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrLocalPathEscapes, name)
	}
	return nil
}

func openLocalInput(inputDir, key string) (*os.Root, string, error) {
	if strings.TrimSpace(inputDir) == "" {
		return nil, "", ErrLocalFilesDisabled
	}
	name := filepath.FromSlash(strings.TrimSpace(key))
	if !filepath.IsLocal(name) {
		return nil, "", fmt.Errorf("%w: %q", ErrLocalPathEscapes, key)
	}
	root, err := os.OpenRoot(inputDir)
	if err != nil {
		return nil, "", fmt.Errorf("open input dir: %w", err)
	}
	return root, name, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, item domain.JobItemRequest, result domain.TransformResult) (string, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return "", errors.New("output directory is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(jobDir, HashedOutputName(itemName(item), req.Options.Kind, result))
	if err := os.WriteFile(fullPath, result.Data, 0o644); err != nil {
		return "", fmt.Errorf("write output file: %w", err)
	}
	return fullPath, nil
}
