package pipeline

import (
	"context"
	"fmt"
	"image"
	"log"

	"github.com/dunamismax/imagekit/internal/domain"
	"github.com/dunamismax/imagekit/internal/geometry"
)

// Transformer applies one TransformOptions variant to a source image.
type Transformer interface {
	Transform(ctx context.Context, src domain.SourceImage, opts domain.TransformOptions) (domain.TransformResult, error)
}

// Engine wires the renderer, encoder, compositor and compressor together. It shares
// one Renderer, so concurrent Transform calls are serialized on every draw.
type Engine struct {
	renderer   *Renderer
	encoder    Encoder
	compositor *Compositor
	compressor *Compressor
}

func NewEngine(logger *log.Logger) (*Engine, error) {
	renderer := NewRenderer()
	encoder := NewEncoderRegistry()
	compositor, err := NewCompositor(renderer)
	if err != nil {
		return nil, err
	}
	return &Engine{
		renderer:   renderer,
		encoder:    encoder,
		compositor: compositor,
		compressor: NewCompressor(NewRasterPassRunner(renderer, encoder), logger),
	}, nil
}

func (e *Engine) Transform(ctx context.Context, src domain.SourceImage, opts domain.TransformOptions) (domain.TransformResult, error) {
	if err := opts.Validate(); err != nil {
		return domain.TransformResult{}, err
	}
	opts = opts.Normalize()

	if err := ctx.Err(); err != nil {
		return domain.TransformResult{}, err
	}

	switch opts.Kind {
	case domain.OpCompress:
		return e.compressor.Compress(ctx, src, *opts.Compress)
	case domain.OpConvert:
		return e.convert(src, *opts.Convert)
	case domain.OpResize:
		return e.resize(src, *opts.Resize)
	case domain.OpCrop:
		return e.crop(src, *opts.Crop)
	case domain.OpWatermark:
		return e.watermark(src, *opts.Watermark)
	case domain.OpRotate:
		return e.rotate(src, *opts.Rotate)
	default:
		return domain.TransformResult{}, fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidOptions, opts.Kind)
	}
}

func (e *Engine) convert(src domain.SourceImage, opts domain.ConvertOptions) (domain.TransformResult, error) {
	img, err := Decode(src.Data)
	if err != nil {
		return domain.TransformResult{}, err
	}
	b := img.Bounds()
	canvas, err := e.renderer.Render(img, b.Dx(), b.Dy(), nil)
	if err != nil {
		return domain.TransformResult{}, err
	}
	quality := domain.DefaultConvertQuality
	if opts.Quality != nil {
		quality = *opts.Quality
	}
	return e.finish(src, canvas, opts.Format, quality)
}

func (e *Engine) resize(src domain.SourceImage, opts domain.ResizeOptions) (domain.TransformResult, error) {
	img, err := Decode(src.Data)
	if err != nil {
		return domain.TransformResult{}, err
	}
	b := img.Bounds()
	w, h := geometry.ResizeDimensions(b.Dx(), b.Dy(), opts)
	canvas, err := e.renderer.Render(img, w, h, nil)
	if err != nil {
		return domain.TransformResult{}, err
	}
	return e.finish(src, canvas, domain.FormatOriginal, domain.DefaultConvertQuality)
}

func (e *Engine) crop(src domain.SourceImage, opts domain.CropOptions) (domain.TransformResult, error) {
	img, err := Decode(src.Data)
	if err != nil {
		return domain.TransformResult{}, err
	}
	b := img.Bounds()
	rect, err := geometry.CropRect(b.Dx(), b.Dy(), opts)
	if err != nil {
		return domain.TransformResult{}, err
	}
	canvas, err := e.renderer.Render(img, rect.Dx(), rect.Dy(), &rect)
	if err != nil {
		return domain.TransformResult{}, err
	}
	return e.finish(src, canvas, domain.FormatOriginal, domain.DefaultConvertQuality)
}

func (e *Engine) watermark(src domain.SourceImage, opts domain.WatermarkOptions) (domain.TransformResult, error) {
	img, err := Decode(src.Data)
	if err != nil {
		return domain.TransformResult{}, err
	}
	canvas, err := e.compositor.Composite(img, opts)
	if err != nil {
		return domain.TransformResult{}, err
	}
	return e.finish(src, canvas, domain.FormatOriginal, domain.DefaultConvertQuality)
}

func (e *Engine) rotate(src domain.SourceImage, opts domain.RotateOptions) (domain.TransformResult, error) {
	img, err := Decode(src.Data)
	if err != nil {
		return domain.TransformResult{}, err
	}
	canvas := e.renderer.Orient(img, opts.Degrees, opts.FlipHorizontal, opts.FlipVertical)
	return e.finish(src, canvas, domain.FormatOriginal, domain.DefaultConvertQuality)
}

func (e *Engine) finish(src domain.SourceImage, canvas image.Image, requested domain.OutputFormat, quality float64) (domain.TransformResult, error) {
	format, err := ResolveFormat(requested, src.MimeType)
	if err != nil {
		return domain.TransformResult{}, err
	}
	data, err := e.encoder.Encode(canvas, format, quality)
	if err != nil {
		return domain.TransformResult{}, err
	}
	b := canvas.Bounds()
	return domain.TransformResult{
		Data:             data,
		Size:             len(data),
		Width:            b.Dx(),
		Height:           b.Dy(),
		Format:           format,
		MimeType:         format.MimeType(),
		CompressionRatio: domain.CompressionRatio(src.Size(), len(data)),
		Passes:           1,
	}, nil
}
