package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/imagekit/internal/domain"
)

// Encoder serializes a bitmap. Quality is a 0..1 factor and is ignored by lossless formats.
type Encoder interface {
	Encode(img image.Image, format domain.OutputFormat, quality float64) ([]byte, error)
}

type EncoderRegistry struct{}

func NewEncoderRegistry() *EncoderRegistry {
	return &EncoderRegistry{}
}

func (EncoderRegistry) Encode(img image.Image, format domain.OutputFormat, quality float64) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", domain.ErrEncoding)
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: buffer %dx%d has no area", domain.ErrEncoding, b.Dx(), b.Dy())
	}

	var (
		buf bytes.Buffer
		err error
	)
	switch format {
	case domain.FormatJPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(percentQuality(quality)))
	case domain.FormatPNG:
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	case domain.FormatBMP:
		err = imaging.Encode(&buf, img, imaging.BMP)
	case domain.FormatWebP:
		data, werr := encodeWebP(img, quality)
		if werr != nil {
			return nil, fmt.Errorf("%w: webp: %v", domain.ErrEncoding, werr)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: unsupported output format %q", domain.ErrEncoding, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrEncoding, format, err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("%w: %s encoder produced no bytes", domain.ErrEncoding, format)
	}
	return buf.Bytes(), nil
}

// ResolveFormat maps "original" (or empty) to the source's own format.
func ResolveFormat(requested domain.OutputFormat, sourceMime string) (domain.OutputFormat, error) {
	if requested != "" && requested != domain.FormatOriginal {
		return requested, nil
	}
	f, err := domain.FormatForMimeType(sourceMime)
	if err != nil {
		return "", fmt.Errorf("%w: resolve original format: %v", domain.ErrInvalidFormat, err)
	}
	return f, nil
}

func percentQuality(q float64) int {
	v := int(math.Round(q * 100))
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}
