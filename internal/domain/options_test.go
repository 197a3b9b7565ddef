package domain

import (
	"errors"
	"math"
	"testing"
)

func TestTransformOptionsValidateRequiresSingleVariant(t *testing.T) {
	none := TransformOptions{Kind: OpCompress}
	if err := none.Validate(); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions, got %v", err)
	}

	two := TransformOptions{
		Kind:     OpCompress,
		Compress: &CompressOptions{Quality: 80},
		Resize:   &ResizeOptions{Width: 10},
	}
	if err := two.Validate(); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions for two variants, got %v", err)
	}

	mismatch := TransformOptions{Kind: OpCrop, Resize: &ResizeOptions{Width: 10}}
	if err := mismatch.Validate(); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions for kind mismatch, got %v", err)
	}

	ok := TransformOptions{Kind: OpCompress, Compress: &CompressOptions{Quality: 80}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected valid options, got %v", err)
	}
}

func TestTransformOptionsValidateRejectsNonFinite(t *testing.T) {
	nan := math.NaN()
	cases := map[string]TransformOptions{
		"resize scale":    {Kind: OpResize, Resize: &ResizeOptions{ScalePercent: math.Inf(1)}},
		"convert quality": {Kind: OpConvert, Convert: &ConvertOptions{Format: FormatJPEG, Quality: &nan}},
		"watermark opacity": {Kind: OpWatermark, Watermark: &WatermarkOptions{
			Text: &TextWatermark{Text: "x", OpacityPct: &nan},
		}},
	}
	for name, opts := range cases {
		if err := opts.Validate(); !errors.Is(err, ErrInvalidOptions) {
			t.Fatalf("%s: expected ErrInvalidOptions, got %v", name, err)
		}
	}
}

func TestTransformOptionsValidateCropOrigin(t *testing.T) {
	opts := TransformOptions{Kind: OpCrop, Crop: &CropOptions{Rect: &Rect{X: -1, Y: 0, Width: 10, Height: 10}}}
	if err := opts.Validate(); !errors.Is(err, ErrCropOutOfBounds) {
		t.Fatalf("expected ErrCropOutOfBounds, got %v", err)
	}
}

func TestTransformOptionsNormalizeClamps(t *testing.T) {
	over := 1.7
	opts := TransformOptions{
		Kind:     OpCompress,
		Compress: &CompressOptions{Quality: 250},
	}.Normalize()
	if opts.Compress.Quality != 100 {
		t.Fatalf("expected quality clamped to 100, got %d", opts.Compress.Quality)
	}
	if opts.Compress.Format != FormatOriginal {
		t.Fatalf("expected default format original, got %s", opts.Compress.Format)
	}

	conv := TransformOptions{Kind: OpConvert, Convert: &ConvertOptions{Format: FormatJPEG, Quality: &over}}.Normalize()
	if *conv.Convert.Quality != 1 {
		t.Fatalf("expected convert quality clamped to 1, got %v", *conv.Convert.Quality)
	}
	if over != 1.7 {
		t.Fatal("normalize must not mutate the caller's options")
	}

	def := TransformOptions{Kind: OpConvert, Convert: &ConvertOptions{Format: FormatPNG}}.Normalize()
	if *def.Convert.Quality != DefaultConvertQuality {
		t.Fatalf("expected default convert quality, got %v", *def.Convert.Quality)
	}

	loud := 140.0
	wm := TransformOptions{Kind: OpWatermark, Watermark: &WatermarkOptions{
		Text: &TextWatermark{Text: "x", OpacityPct: &loud},
	}}.Normalize()
	if *wm.Watermark.Text.OpacityPct != 100 {
		t.Fatalf("expected opacity clamped to 100, got %v", *wm.Watermark.Text.OpacityPct)
	}
	if loud != 140 {
		t.Fatal("normalize must not mutate the caller's opacity")
	}
	if wm.Watermark.Text.Position != PositionBottomRight {
		t.Fatalf("expected default position, got %s", wm.Watermark.Text.Position)
	}
}

func TestValidateSource(t *testing.T) {
	limits := Limits{MaxFileBytes: 8}

	if err := ValidateSource(SourceImage{MimeType: "image/gif", Data: []byte{1}}, limits); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
	if err := ValidateSource(SourceImage{MimeType: MimePNG, Data: make([]byte, 9)}, limits); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
	if err := ValidateSource(SourceImage{MimeType: "image/JPG", Data: make([]byte, 8)}, limits); err != nil {
		t.Fatalf("expected valid source, got %v", err)
	}
}

func TestCompressionRatio(t *testing.T) {
	if got := CompressionRatio(1000, 250); got != 75 {
		t.Fatalf("expected 75, got %v", got)
	}
	if got := CompressionRatio(1000, 1100); got != -10 {
		t.Fatalf("expected -10 for grown output, got %v", got)
	}
	if got := CompressionRatio(0, 10); got != 0 {
		t.Fatalf("expected 0 for empty original, got %v", got)
	}
}

func TestTransformResultRelease(t *testing.T) {
	data := []byte{1, 2, 3}
	r := &TransformResult{Data: data, Size: 3}
	r.Release()
	if r.Data != nil {
		t.Fatal("expected data to be dropped")
	}
	if data[0] != 1 || data[2] != 3 {
		t.Fatalf("expected bytes held elsewhere to stay intact, got %v", data)
	}
}
