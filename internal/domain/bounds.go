package domain

import "fmt"

// Ceilings on every raster the pipeline allocates. A request past them fails its own
// item instead of exhausting process memory.
const (
	MaxCanvasSide   = 16384
	MaxCanvasPixels = 64 << 20

	MaxScalePercent = 1000
	MaxFontSizePx   = 1024

	DefaultFontSizePx       = 24
	DefaultWatermarkOpacity = 80
)

// CheckCanvas returns an ErrOutputTooLarge error when a w x h buffer exceeds the ceilings.
func CheckCanvas(w, h int) error {
	if w > MaxCanvasSide || h > MaxCanvasSide || int64(w)*int64(h) > MaxCanvasPixels {
		return fmt.Errorf("%w: %dx%d exceeds %d px per side or %d pixels", ErrOutputTooLarge, w, h, MaxCanvasSide, MaxCanvasPixels)
	}
	return nil
}
