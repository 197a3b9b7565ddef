package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image/color"
	"strings"
	"testing"

	"github.com/dunamismax/imagekit/internal/domain"
)

// pngHeader returns a PNG signature and IHDR chunk declaring w x h with no pixel data.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	chunk := make([]byte, 0, 17)
	chunk = append(chunk, "IHDR"...)
	chunk = binary.BigEndian.AppendUint32(chunk, w)
	chunk = binary.BigEndian.AppendUint32(chunk, h)
	chunk = append(chunk, 8, 6, 0, 0, 0)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(chunk)-4))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecodeRefusesHugeDeclaredDimensions(t *testing.T) {
	_, err := Decode(pngHeader(100000, 100000))
	if !errors.Is(err, domain.ErrDecode) || !errors.Is(err, domain.ErrOutputTooLarge) {
		t.Fatalf("expected ErrDecode wrapping ErrOutputTooLarge, got %v", err)
	}
}

func TestRendererRefusesOversizedCanvas(t *testing.T) {
	r := NewRenderer()
	src := gradientImage(4, 4)
	for _, dims := range [][2]int{{domain.MaxCanvasSide, domain.MaxCanvasSide}, {domain.MaxCanvasSide + 1, 1}, {1 << 31, 1 << 31}} {
		_, err := r.Render(src, dims[0], dims[1], nil)
		if !errors.Is(err, domain.ErrEncoding) || !errors.Is(err, domain.ErrOutputTooLarge) {
			t.Fatalf("Render(%dx%d): expected ErrEncoding wrapping ErrOutputTooLarge, got %v", dims[0], dims[1], err)
		}
	}
}

func TestEngineScaleUpPastCeilingFails(t *testing.T) {
	engine := newTestEngine(t)
	src := domain.SourceImage{Name: "big.png", MimeType: domain.MimePNG, Data: encodePNG(t, solid(1700, 1700, color.NRGBA{R: 9, A: 255}))}

	opts := domain.TransformOptions{Kind: domain.OpResize, Resize: &domain.ResizeOptions{ScalePercent: domain.MaxScalePercent, KeepAspectRatio: true}}
	if _, err := engine.Transform(context.Background(), src, opts); !errors.Is(err, domain.ErrOutputTooLarge) {
		t.Fatalf("expected ErrOutputTooLarge, got %v", err)
	}

	huge := domain.TransformOptions{Kind: domain.OpResize, Resize: &domain.ResizeOptions{Width: 1 << 31, Height: 1 << 31}}
	if _, err := engine.Transform(context.Background(), pngSource(t, 8, 8), huge); !errors.Is(err, domain.ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions, got %v", err)
	}
}

func TestCompositeTextLayerCeiling(t *testing.T) {
	base := solid(32, 32, color.NRGBA{A: 255})
	_, err := newTestCompositor(t).Composite(base, domain.WatermarkOptions{Text: &domain.TextWatermark{
		Text:       strings.Repeat("W", 400),
		FontSizePx: 1e9,
		ColorHex:   "#ffffff",
	}})
	if !errors.Is(err, domain.ErrOutputTooLarge) {
		t.Fatalf("expected ErrOutputTooLarge, got %v", err)
	}
}

func TestCompositeOmittedOpacityUsesDefault(t *testing.T) {
	base := solid(10, 10, color.NRGBA{A: 255})
	mark := encodePNG(t, solid(10, 10, color.NRGBA{R: 200, G: 200, B: 200, A: 255}))

	out, err := newTestCompositor(t).Composite(base, domain.WatermarkOptions{Image: &domain.ImageWatermark{
		Data:     mark,
		Position: domain.PositionTopLeft,
		ScalePct: 100,
	}})
	if err != nil {
		t.Fatalf("composite: %v", err)
	}
	// 80% of 200 over black.
	if got := out.NRGBAAt(5, 5).R; got < 155 || got > 165 {
		t.Fatalf("expected default opacity blend near 160, got %d", got)
	}
}
