package pipeline

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/dunamismax/imagekit/internal/domain"
)

func newTestCompositor(t *testing.T) *Compositor {
	t.Helper()

	c, err := NewCompositor(NewRenderer())
	if err != nil {
		t.Fatalf("new compositor: %v", err)
	}
	return c
}

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestCompositeTextStaysInAnchorRegion(t *testing.T) {
	base := solid(400, 300, color.NRGBA{A: 255})
	before := append([]byte(nil), base.Pix...)

	out, err := newTestCompositor(t).Composite(base, domain.WatermarkOptions{Text: &domain.TextWatermark{
		Text:       "imagekit",
		FontSizePx: 32,
		ColorHex:   "#ff0000",
		Position:   domain.PositionBottomRight,
		OpacityPct: pct(100),
		OffsetX:    10,
		OffsetY:    10,
	}})
	if err != nil {
		t.Fatalf("composite: %v", err)
	}
	if !bytes.Equal(before, base.Pix) {
		t.Fatal("composite mutated the base image")
	}
	if out.Bounds() != base.Bounds() {
		t.Fatalf("expected same bounds, got %v", out.Bounds())
	}

	var inside, outside int
	for y := 0; y < 300; y++ {
		for x := 0; x < 400; x++ {
			if out.NRGBAAt(x, y).R == 0 {
				continue
			}
			if x >= 200 && y >= 200 {
				inside++
			} else {
				outside++
			}
		}
	}
	if inside == 0 {
		t.Fatal("expected red text pixels near the bottom-right corner")
	}
	if outside != 0 {
		t.Fatalf("expected no text pixels outside the anchor region, got %d", outside)
	}
	for x := 390; x < 400; x++ {
		if out.NRGBAAt(x, 270).R != 0 {
			t.Fatal("expected the right offset margin to stay clear")
		}
	}
}

func TestCompositeZeroOpacityIsNoOp(t *testing.T) {
	base := solid(64, 64, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	out, err := newTestCompositor(t).Composite(base, domain.WatermarkOptions{Text: &domain.TextWatermark{
		Text:       "hidden",
		FontSizePx: 20,
		ColorHex:   "ffffff",
		Position:   domain.PositionCenter,
		OpacityPct: pct(0),
	}})
	if err != nil {
		t.Fatalf("composite: %v", err)
	}
	if !bytes.Equal(base.Pix, out.Pix) {
		t.Fatal("expected zero opacity to leave pixels unchanged")
	}
}

func TestCompositeImageScalesAndAnchors(t *testing.T) {
	base := solid(100, 80, color.NRGBA{A: 255})
	mark := encodePNG(t, solid(40, 20, color.NRGBA{R: 255, G: 255, B: 255, A: 255}))

	out, err := newTestCompositor(t).Composite(base, domain.WatermarkOptions{Image: &domain.ImageWatermark{
		Data:       mark,
		Position:   domain.PositionTopLeft,
		ScalePct:   50,
		OpacityPct: pct(100),
		OffsetX:    5,
		OffsetY:    5,
	}})
	if err != nil {
		t.Fatalf("composite: %v", err)
	}

	// The mark is 20x10 once scaled, drawn at (5,5).
	if got := out.NRGBAAt(10, 10); got.R != 255 {
		t.Fatalf("expected mark pixel at (10,10), got %v", got)
	}
	if got := out.NRGBAAt(26, 10); got.R != 0 {
		t.Fatalf("expected base pixel right of the mark, got %v", got)
	}
	if got := out.NRGBAAt(10, 16); got.R != 0 {
		t.Fatalf("expected base pixel below the mark, got %v", got)
	}
}

func TestCompositeImageHalfOpacityBlends(t *testing.T) {
	base := solid(10, 10, color.NRGBA{A: 255})
	mark := encodePNG(t, solid(10, 10, color.NRGBA{R: 200, G: 200, B: 200, A: 255}))

	out, err := newTestCompositor(t).Composite(base, domain.WatermarkOptions{Image: &domain.ImageWatermark{
		Data:       mark,
		Position:   domain.PositionTopLeft,
		ScalePct:   100,
		OpacityPct: pct(50),
	}})
	if err != nil {
		t.Fatalf("composite: %v", err)
	}
	if got := out.NRGBAAt(5, 5).R; got < 95 || got > 105 {
		t.Fatalf("expected roughly half blend, got %d", got)
	}
}

func TestCompositeErrors(t *testing.T) {
	c := newTestCompositor(t)
	base := solid(10, 10, color.NRGBA{A: 255})

	_, err := c.Composite(base, domain.WatermarkOptions{Image: &domain.ImageWatermark{Data: []byte("nope"), ScalePct: 100}})
	if !errors.Is(err, domain.ErrResourceLoad) {
		t.Fatalf("expected ErrResourceLoad, got %v", err)
	}

	_, err = c.Composite(base, domain.WatermarkOptions{Text: &domain.TextWatermark{Text: "x", FontSizePx: 12, ColorHex: "#zzzzzz"}})
	if !errors.Is(err, domain.ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions for a bad colour, got %v", err)
	}
}
