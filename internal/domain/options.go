package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

type Operation string

const (
	OpCompress  Operation = "compress"
	OpConvert   Operation = "convert"
	OpResize    Operation = "resize"
	OpCrop      Operation = "crop"
	OpWatermark Operation = "watermark"
	OpRotate    Operation = "rotate"
)

type OutputFormat string

const (
	FormatOriginal OutputFormat = "original"
	FormatJPEG     OutputFormat = "jpeg"
	FormatPNG      OutputFormat = "png"
	FormatWebP     OutputFormat = "webp"
	FormatBMP      OutputFormat = "bmp"
)

type Position string

const (
	PositionTopLeft     Position = "top-left"
	PositionTopRight    Position = "top-right"
	PositionBottomLeft  Position = "bottom-left"
	PositionBottomRight Position = "bottom-right"
	PositionCenter      Position = "center"
)

const DefaultConvertQuality = 0.92

// TransformOptions is a tagged union: Kind names the single populated variant.
type TransformOptions struct {
	Kind      Operation         `json:"kind" yaml:"kind"`
	Compress  *CompressOptions  `json:"compress,omitempty" yaml:"compress,omitempty"`
	Convert   *ConvertOptions   `json:"convert,omitempty" yaml:"convert,omitempty"`
	Resize    *ResizeOptions    `json:"resize,omitempty" yaml:"resize,omitempty"`
	Crop      *CropOptions      `json:"crop,omitempty" yaml:"crop,omitempty"`
	Watermark *WatermarkOptions `json:"watermark,omitempty" yaml:"watermark,omitempty"`
	Rotate    *RotateOptions    `json:"rotate,omitempty" yaml:"rotate,omitempty"`
}

type CompressOptions struct {
	Quality int          `json:"quality" yaml:"quality"`
	Format  OutputFormat `json:"format,omitempty" yaml:"format,omitempty"`
}

type ConvertOptions struct {
	Format  OutputFormat `json:"format" yaml:"format"`
	Quality *float64     `json:"quality,omitempty" yaml:"quality,omitempty"`
}

type ResizeOptions struct {
	Width           int     `json:"width,omitempty" yaml:"width,omitempty"`
	Height          int     `json:"height,omitempty" yaml:"height,omitempty"`
	ScalePercent    float64 `json:"scale_percent,omitempty" yaml:"scale_percent,omitempty"`
	KeepAspectRatio bool    `json:"keep_aspect_ratio" yaml:"keep_aspect_ratio"`
}

type Rect struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

type CropOptions struct {
	Rect        *Rect  `json:"rect,omitempty" yaml:"rect,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty" yaml:"aspect_ratio,omitempty"`
}

type WatermarkOptions struct {
	Text  *TextWatermark  `json:"text,omitempty" yaml:"text,omitempty"`
	Image *ImageWatermark `json:"image,omitempty" yaml:"image,omitempty"`
}

type TextWatermark struct {
	Text       string   `json:"text" yaml:"text"`
	FontSizePx float64  `json:"font_size_px" yaml:"font_size_px"`
	ColorHex   string   `json:"color_hex" yaml:"color_hex"`
	Position   Position `json:"position" yaml:"position"`
	OpacityPct *float64 `json:"opacity_pct,omitempty" yaml:"opacity_pct,omitempty"`
	OffsetX    int      `json:"offset_x" yaml:"offset_x"`
	OffsetY    int      `json:"offset_y" yaml:"offset_y"`
}

type ImageWatermark struct {
	Data       []byte   `json:"data" yaml:"data"`
	Position   Position `json:"position" yaml:"position"`
	ScalePct   float64  `json:"scale_pct" yaml:"scale_pct"`
	OpacityPct *float64 `json:"opacity_pct,omitempty" yaml:"opacity_pct,omitempty"`
	OffsetX    int      `json:"offset_x" yaml:"offset_x"`
	OffsetY    int      `json:"offset_y" yaml:"offset_y"`
}

type RotateOptions struct {
	Degrees        int  `json:"degrees" yaml:"degrees"`
	FlipHorizontal bool `json:"flip_horizontal,omitempty" yaml:"flip_horizontal,omitempty"`
	FlipVertical   bool `json:"flip_vertical,omitempty" yaml:"flip_vertical,omitempty"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOptions, fmt.Sprintf(format, args...))
}

// Validate checks that exactly the variant named by Kind is set and that its fields are usable.
// Range clamping is done by Normalize.
func (o TransformOptions) Validate() error {
	set := 0
	for _, present := range []bool{
		o.Compress != nil,
		o.Convert != nil,
		o.Resize != nil,
		o.Crop != nil,
		o.Watermark != nil,
		o.Rotate != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return invalid("exactly one option variant must be set, got %d", set)
	}

	switch o.Kind {
	case OpCompress:
		if o.Compress == nil {
			return invalid("kind=compress requires compress options")
		}
		return o.Compress.validate()
	case OpConvert:
		if o.Convert == nil {
			return invalid("kind=convert requires convert options")
		}
		return o.Convert.validate()
	case OpResize:
		if o.Resize == nil {
			return invalid("kind=resize requires resize options")
		}
		return o.Resize.validate()
	case OpCrop:
		if o.Crop == nil {
			return invalid("kind=crop requires crop options")
		}
		return o.Crop.validate()
	case OpWatermark:
		if o.Watermark == nil {
			return invalid("kind=watermark requires watermark options")
		}
		return o.Watermark.validate()
	case OpRotate:
		if o.Rotate == nil {
			return invalid("kind=rotate requires rotate options")
		}
		return o.Rotate.validate()
	default:
		return invalid("unknown kind %q", o.Kind)
	}
}

// Normalize returns a copy with percentages and qualities clamped into their ranges.
func (o TransformOptions) Normalize() TransformOptions {
	out := o
	if o.Compress != nil {
		c := *o.Compress
		if c.Quality == 0 {
			c.Quality = DefaultQuality
		}
		c.Quality = clampInt(c.Quality, 1, 100)
		if c.Format == "" {
			c.Format = FormatOriginal
		}
		out.Compress = &c
	}
	if o.Convert != nil {
		c := *o.Convert
		q := DefaultConvertQuality
		if c.Quality != nil {
			q = clampFloat(*c.Quality, 0, 1)
		}
		c.Quality = &q
		out.Convert = &c
	}
	if o.Watermark != nil {
		w := WatermarkOptions{}
		if o.Watermark.Text != nil {
			t := *o.Watermark.Text
			t.OpacityPct = normalizeOpacity(t.OpacityPct)
			if t.FontSizePx <= 0 {
				t.FontSizePx = DefaultFontSizePx
			}
			t.FontSizePx = min(t.FontSizePx, MaxFontSizePx)
			if t.ColorHex == "" {
				t.ColorHex = "#ffffff"
			}
			if t.Position == "" {
				t.Position = PositionBottomRight
			}
			w.Text = &t
		}
		if o.Watermark.Image != nil {
			img := *o.Watermark.Image
			img.OpacityPct = normalizeOpacity(img.OpacityPct)
			if img.ScalePct <= 0 {
				img.ScalePct = 100
			}
			img.ScalePct = clampFloat(img.ScalePct, 1, MaxScalePercent)
			if img.Position == "" {
				img.Position = PositionBottomRight
			}
			w.Image = &img
		}
		out.Watermark = &w
	}
	return out
}

func (c CompressOptions) validate() error {
	switch c.Format {
	case "", FormatOriginal, FormatJPEG, FormatPNG, FormatWebP:
		return nil
	default:
		return invalid("unsupported compress format %q", c.Format)
	}
}

func (c ConvertOptions) validate() error {
	switch c.Format {
	case FormatJPEG, FormatPNG, FormatWebP, FormatBMP:
	default:
		return invalid("unsupported convert format %q", c.Format)
	}
	if c.Quality != nil && !finite(*c.Quality) {
		return invalid("convert quality must be finite")
	}
	return nil
}

func (r ResizeOptions) validate() error {
	if !finite(r.ScalePercent) || r.ScalePercent < 0 {
		return invalid("scale_percent must be a finite non-negative number")
	}
	if r.ScalePercent > MaxScalePercent {
		return invalid("scale_percent %g exceeds %d", r.ScalePercent, MaxScalePercent)
	}
	if r.Width < 0 || r.Height < 0 {
		return invalid("width and height must not be negative")
	}
	if r.Width > MaxCanvasSide || r.Height > MaxCanvasSide {
		return invalid("width and height must not exceed %d", MaxCanvasSide)
	}
	return nil
}

func (c CropOptions) validate() error {
	if c.Rect != nil {
		if c.Rect.Width <= 0 || c.Rect.Height <= 0 {
			return invalid("crop rect must have positive width and height")
		}
		if c.Rect.X < 0 || c.Rect.Y < 0 {
			return fmt.Errorf("%w: origin (%d,%d) is negative", ErrCropOutOfBounds, c.Rect.X, c.Rect.Y)
		}
	}
	return nil
}

func (w WatermarkOptions) validate() error {
	if (w.Text == nil) == (w.Image == nil) {
		return invalid("watermark requires exactly one of text or image")
	}
	if w.Text != nil {
		t := w.Text
		if strings.TrimSpace(t.Text) == "" {
			return invalid("watermark text is required")
		}
		if !finite(t.FontSizePx) || !finitePtr(t.OpacityPct) {
			return invalid("watermark numbers must be finite")
		}
		return validatePosition(t.Position)
	}
	img := w.Image
	if len(img.Data) == 0 {
		return invalid("watermark image data is required")
	}
	if !finite(img.ScalePct) || !finitePtr(img.OpacityPct) {
		return invalid("watermark numbers must be finite")
	}
	return validatePosition(img.Position)
}

func (r RotateOptions) validate() error {
	switch r.Degrees {
	case 0, 90, 180, 270, -90, -180, -270:
		return nil
	default:
		return invalid("rotation must be a multiple of 90 degrees, got %d", r.Degrees)
	}
}

func validatePosition(p Position) error {
	switch p {
	case "", PositionTopLeft, PositionTopRight, PositionBottomLeft, PositionBottomRight, PositionCenter:
		return nil
	default:
		return invalid("unknown position %q", p)
	}
}

// ParseOutputFormat accepts format names and MIME types.
func ParseOutputFormat(in string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(in)) {
	case "", "original":
		return FormatOriginal, nil
	case "jpeg", "jpg", MimeJPEG:
		return FormatJPEG, nil
	case "png", MimePNG:
		return FormatPNG, nil
	case "webp", MimeWebP:
		return FormatWebP, nil
	case "bmp", MimeBMP:
		return FormatBMP, nil
	default:
		return "", invalid("unknown output format %q", in)
	}
}

func FormatForMimeType(mime string) (OutputFormat, error) {
	f, err := ParseOutputFormat(NormalizeMimeType(mime))
	if err != nil {
		return "", err
	}
	if f == FormatOriginal {
		return "", errors.New("source mime type is empty")
	}
	return f, nil
}

func (f OutputFormat) MimeType() string {
	switch f {
	case FormatJPEG:
		return MimeJPEG
	case FormatWebP:
		return MimeWebP
	case FormatBMP:
		return MimeBMP
	default:
		return MimePNG
	}
}

func (f OutputFormat) Extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

func (f OutputFormat) Lossless() bool {
	return f == FormatPNG || f == FormatBMP
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func finitePtr(v *float64) bool {
	return v == nil || finite(*v)
}

// normalizeOpacity fills an omitted opacity with the default. An explicit value is clamped to 0..100.
func normalizeOpacity(v *float64) *float64 {
	o := float64(DefaultWatermarkOpacity)
	if v != nil {
		o = clampFloat(*v, 0, 100)
	}
	return &o
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
