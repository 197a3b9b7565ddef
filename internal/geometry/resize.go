// Package geometry computes target sizes, crop rectangles and overlay anchors.
// Everything here is pure arithmetic on pixel dimensions.
package geometry

import (
	"math"

	"github.com/dunamismax/imagekit/internal/domain"
)

// ResizeDimensions returns the output size for a resize request. The result is never below 1x1.
func ResizeDimensions(srcW, srcH int, opts domain.ResizeOptions) (int, int) {
	switch {
	case opts.ScalePercent > 0:
		return atLeastOne(round(float64(srcW) * opts.ScalePercent / 100)),
			atLeastOne(round(float64(srcH) * opts.ScalePercent / 100))
	case opts.Width > 0 && opts.Height > 0 && !opts.KeepAspectRatio:
		return opts.Width, opts.Height
	case opts.Width > 0 && opts.KeepAspectRatio && srcW > 0:
		return opts.Width, atLeastOne(round(float64(srcH) * float64(opts.Width) / float64(srcW)))
	case opts.Height > 0 && opts.KeepAspectRatio && srcH > 0:
		return atLeastOne(round(float64(srcW) * float64(opts.Height) / float64(srcH))), opts.Height
	default:
		return atLeastOne(srcW), atLeastOne(srcH)
	}
}

// FitWithin bounds the longer side by maxDim, preserving aspect ratio. It never upscales.
func FitWithin(srcW, srcH, maxDim int) (int, int) {
	if maxDim <= 0 || (srcW <= maxDim && srcH <= maxDim) {
		return atLeastOne(srcW), atLeastOne(srcH)
	}
	if srcW >= srcH {
		return maxDim, atLeastOne(round(float64(srcH) * float64(maxDim) / float64(srcW)))
	}
	return atLeastOne(round(float64(srcW) * float64(maxDim) / float64(srcH))), maxDim
}

// Scale multiplies both sides by factor, clamped to 1px.
func Scale(w, h int, factor float64) (int, int) {
	return atLeastOne(round(float64(w) * factor)), atLeastOne(round(float64(h) * factor))
}

// round matches half-away-from-zero for the positive values used here.
func round(v float64) int {
	return int(math.Round(v))
}

func atLeastOne(v int) int {
	if v < 1 {
		return 1
	}
	return v
}
