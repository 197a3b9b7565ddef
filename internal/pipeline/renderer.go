package pipeline

import (
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/imagekit/internal/domain"
)

// Renderer owns the drawing surface. Draw calls are serialized; each call
// allocates a fresh destination buffer and never writes to its inputs.
type Renderer struct {
	mu     sync.Mutex
	filter imaging.ResampleFilter
}

func NewRenderer() *Renderer {
	return &Renderer{filter: imaging.Lanczos}
}

// Render draws srcRect of src (the whole image when nil) scaled to destW x destH.
func (r *Renderer) Render(src image.Image, destW, destH int, srcRect *image.Rectangle) (*image.NRGBA, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil source", domain.ErrEncoding)
	}
	if destW <= 0 || destH <= 0 {
		return nil, fmt.Errorf("%w: destination %dx%d has no area", domain.ErrEncoding, destW, destH)
	}
	if err := domain.CheckCanvas(destW, destH); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEncoding, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	region := src
	if srcRect != nil {
		rect := srcRect.Add(src.Bounds().Min)
		if !rect.In(src.Bounds()) || rect.Empty() {
			return nil, fmt.Errorf("%w: region %v outside %v", domain.ErrCropOutOfBounds, *srcRect, src.Bounds())
		}
		region = imaging.Crop(src, rect)
	}

	b := region.Bounds()
	if b.Dx() == destW && b.Dy() == destH {
		return imaging.Clone(region), nil
	}
	return imaging.Resize(region, destW, destH, r.filter), nil
}

// Overlay blends mark over a copy of base at pt with opacity in 0..1.
func (r *Renderer) Overlay(base, mark image.Image, pt image.Point, opacity float64) *image.NRGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	return imaging.Overlay(base, mark, pt, opacity)
}

// Orient rotates counter-clockwise by degrees (a multiple of 90) and then applies flips.
func (r *Renderer) Orient(src image.Image, degrees int, flipH, flipV bool) *image.NRGBA {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out *image.NRGBA
	switch ((degrees % 360) + 360) % 360 {
	case 90:
		out = imaging.Rotate90(src)
	case 180:
		out = imaging.Rotate180(src)
	case 270:
		out = imaging.Rotate270(src)
	default:
		out = imaging.Clone(src)
	}
	if flipH {
		out = imaging.FlipH(out)
	}
	if flipV {
		out = imaging.FlipV(out)
	}
	return out
}
