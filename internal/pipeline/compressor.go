package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/dunamismax/imagekit/internal/domain"
	"github.com/dunamismax/imagekit/internal/geometry"
	"github.com/dustin/go-humanize"
)

const (
	bytesPerMB = 1024 * 1024

	// A second pass runs when pass one saved less than this percentage...
	secondPassMinRatio = 30.0
	// ...and its output is still larger than this.
	secondPassMinBytes = 500 * 1024

	secondPassSizeFactor    = 0.7
	secondPassQualityFactor = 0.75

	maxShrinkSteps = 10
	shrinkFactor   = 0.95
)

// Tier is one size bucket of the adaptive compressor.
type Tier struct {
	Name              string
	AboveMB           float64
	MaxDimension      int
	TargetMaxMB       float64
	QualityMultiplier float64
}

// Tiers is ordered from the largest threshold down; the last entry matches everything.
var Tiers = []Tier{
	{Name: "large", AboveMB: 5, MaxDimension: 1920, TargetMaxMB: 0.5, QualityMultiplier: 0.85},
	{Name: "medium", AboveMB: 2, MaxDimension: 2048, TargetMaxMB: 0.8, QualityMultiplier: 0.90},
	{Name: "small", AboveMB: 0, MaxDimension: 2560, TargetMaxMB: 1.0, QualityMultiplier: 1.0},
}

func SelectTier(sizeBytes int) Tier {
	sizeMB := float64(sizeBytes) / bytesPerMB
	for _, tier := range Tiers {
		if sizeMB > tier.AboveMB {
			return tier
		}
	}
	return Tiers[len(Tiers)-1]
}

// PassParams configures one resize+encode attempt.
type PassParams struct {
	MaxDimension int
	MaxBytes     int64
	Quality      float64
	Format       domain.OutputFormat
}

type PassOutput struct {
	Data   []byte
	Width  int
	Height int
}

// PassRunner performs one compression pass. It always receives the original source.
type PassRunner interface {
	RunPass(ctx context.Context, src domain.SourceImage, params PassParams) (PassOutput, error)
}

type Compressor struct {
	runner PassRunner
	logger *log.Logger
}

func NewCompressor(runner PassRunner, logger *log.Logger) *Compressor {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Compressor{runner: runner, logger: logger}
}

func (c *Compressor) Compress(ctx context.Context, src domain.SourceImage, opts domain.CompressOptions) (domain.TransformResult, error) {
	format, err := ResolveFormat(opts.Format, src.MimeType)
	if err != nil {
		return domain.TransformResult{}, err
	}

	original := src.Size()
	tier := SelectTier(original)
	first := PassParams{
		MaxDimension: tier.MaxDimension,
		MaxBytes:     int64(tier.TargetMaxMB * bytesPerMB),
		Quality:      float64(opts.Quality) / 100 * tier.QualityMultiplier,
		Format:       format,
	}

	out, err := c.runner.RunPass(ctx, src, first)
	if err != nil {
		return domain.TransformResult{}, fmt.Errorf("compress pass 1: %w", err)
	}
	passes := 1

	ratio := domain.CompressionRatio(original, len(out.Data))
	if ratio < secondPassMinRatio && len(out.Data) > secondPassMinBytes {
		second := first
		second.MaxBytes = int64(float64(first.MaxBytes) * secondPassSizeFactor)
		second.Quality = first.Quality * secondPassQualityFactor

		c.logger.Printf("compress second pass name=%q tier=%s ratio=%.1f pass1=%s",
			src.Name, tier.Name, ratio, humanize.IBytes(uint64(len(out.Data))))

		retry, err := c.runner.RunPass(ctx, src, second)
		if err != nil {
			return domain.TransformResult{}, fmt.Errorf("compress pass 2: %w", err)
		}
		out = retry
		passes = 2
	}

	return domain.TransformResult{
		Data:             out.Data,
		Size:             len(out.Data),
		Width:            out.Width,
		Height:           out.Height,
		Format:           format,
		MimeType:         format.MimeType(),
		CompressionRatio: domain.CompressionRatio(original, len(out.Data)),
		Passes:           passes,
		Tier:             tier.Name,
	}, nil
}

// RasterPassRunner decodes the source, bounds its long side and encodes, shrinking
// until the output fits MaxBytes or the step budget runs out.
type RasterPassRunner struct {
	renderer *Renderer
	encoder  Encoder
}

func NewRasterPassRunner(renderer *Renderer, encoder Encoder) *RasterPassRunner {
	return &RasterPassRunner{renderer: renderer, encoder: encoder}
}

func (r *RasterPassRunner) RunPass(ctx context.Context, src domain.SourceImage, params PassParams) (PassOutput, error) {
	img, err := Decode(src.Data)
	if err != nil {
		return PassOutput{}, err
	}

	b := img.Bounds()
	w, h := geometry.FitWithin(b.Dx(), b.Dy(), params.MaxDimension)
	quality := params.Quality

	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			return PassOutput{}, err
		}

		canvas, err := r.renderer.Render(img, w, h, nil)
		if err != nil {
			return PassOutput{}, err
		}
		data, err := r.encoder.Encode(canvas, params.Format, quality)
		if err != nil {
			return PassOutput{}, err
		}

		if params.MaxBytes <= 0 || int64(len(data)) <= params.MaxBytes || step >= maxShrinkSteps {
			return PassOutput{Data: data, Width: w, Height: h}, nil
		}

		w, h = geometry.Scale(w, h, shrinkFactor)
		if !params.Format.Lossless() {
			quality *= shrinkFactor
		}
	}
}
