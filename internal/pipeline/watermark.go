package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/dunamismax/imagekit/internal/domain"
	"github.com/dunamismax/imagekit/internal/geometry"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Compositor draws text or image watermarks through the shared Renderer.
type Compositor struct {
	renderer *Renderer
	font     *opentype.Font
}

func NewCompositor(renderer *Renderer) (*Compositor, error) {
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse watermark font: %w", err)
	}
	return &Compositor{renderer: renderer, font: f}, nil
}

// Composite returns a new image with the watermark applied. base is left untouched.
func (c *Compositor) Composite(base image.Image, opts domain.WatermarkOptions) (*image.NRGBA, error) {
	switch {
	case opts.Text != nil:
		return c.compositeText(base, *opts.Text)
	case opts.Image != nil:
		return c.compositeImage(base, *opts.Image)
	default:
		return nil, fmt.Errorf("%w: watermark requires text or image", domain.ErrInvalidOptions)
	}
}

func (c *Compositor) compositeText(base image.Image, wm domain.TextWatermark) (*image.NRGBA, error) {
	fill, err := parseColor(wm.ColorHex)
	if err != nil {
		return nil, err
	}

	face, err := opentype.NewFace(c.font, &opentype.FaceOptions{
		Size:    min(wm.FontSizePx, domain.MaxFontSizePx),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: build font face: %v", domain.ErrEncoding, err)
	}
	defer face.Close()

	mark, err := renderText(face, wm.Text, fill)
	if err != nil {
		return nil, err
	}
	b := base.Bounds()
	pt := geometry.Anchor(wm.Position, b.Dx(), b.Dy(), mark.Bounds().Dx(), mark.Bounds().Dy(), wm.OffsetX, wm.OffsetY)
	return c.renderer.Overlay(base, mark, pt, opacityFraction(wm.OpacityPct)), nil
}

// renderText draws text top-aligned onto a transparent layer sized to its measured extent.
func renderText(face font.Face, text string, fill color.Color) (*image.NRGBA, error) {
	metrics := face.Metrics()
	d := &font.Drawer{Face: face}
	w := d.MeasureString(text).Ceil()
	h := (metrics.Ascent + metrics.Descent).Ceil()
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	if err := domain.CheckCanvas(w, h); err != nil {
		return nil, fmt.Errorf("%w: text layer: %w", domain.ErrEncoding, err)
	}

	layer := image.NewNRGBA(image.Rect(0, 0, w, h))
	d.Dst = layer
	d.Src = image.NewUniform(fill)
	d.Dot = fixed.Point26_6{X: 0, Y: metrics.Ascent}
	d.DrawString(text)
	return layer, nil
}

func (c *Compositor) compositeImage(base image.Image, wm domain.ImageWatermark) (*image.NRGBA, error) {
	src, err := Decode(wm.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: watermark image: %v", domain.ErrResourceLoad, err)
	}

	sb := src.Bounds()
	w, h := geometry.Scale(sb.Dx(), sb.Dy(), wm.ScalePct/100)
	mark, err := c.renderer.Render(src, w, h, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: scale watermark image: %w", domain.ErrResourceLoad, err)
	}

	b := base.Bounds()
	pt := geometry.Anchor(wm.Position, b.Dx(), b.Dy(), w, h, wm.OffsetX, wm.OffsetY)
	return c.renderer.Overlay(base, mark, pt, opacityFraction(wm.OpacityPct)), nil
}

func parseColor(hex string) (color.NRGBA, error) {
	hex = strings.TrimSpace(hex)
	if !strings.HasPrefix(hex, "#") {
		hex = "#" + hex
	}
	c, err := colorful.Hex(hex)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w: color %q: %v", domain.ErrInvalidOptions, hex, err)
	}
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}

// opacityFraction maps an opacity percentage to 0..1. Omitted means the default.
func opacityFraction(pct *float64) float64 {
	if pct == nil {
		return domain.DefaultWatermarkOpacity / 100.0
	}
	return min(max(*pct, 0), 100) / 100
}
