package geometry

import (
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"

	"github.com/dunamismax/imagekit/internal/domain"
)

const defaultCropFraction = 0.8

// CropRect resolves crop options against the source size.
func CropRect(srcW, srcH int, opts domain.CropOptions) (image.Rectangle, error) {
	if opts.Rect != nil {
		r := opts.Rect
		if r.X < 0 || r.Y < 0 || r.Width <= 0 || r.Height <= 0 || r.X+r.Width > srcW || r.Y+r.Height > srcH {
			return image.Rectangle{}, fmt.Errorf(
				"%w: rect x=%d y=%d w=%d h=%d exceeds source %dx%d",
				domain.ErrCropOutOfBounds, r.X, r.Y, r.Width, r.Height, srcW, srcH,
			)
		}
		return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height), nil
	}

	if strings.TrimSpace(opts.AspectRatio) != "" {
		target, err := ParseAspectRatio(opts.AspectRatio)
		if err != nil {
			return image.Rectangle{}, err
		}
		return aspectCrop(srcW, srcH, target), nil
	}

	cropW := atLeastOne(round(float64(srcW) * defaultCropFraction))
	cropH := atLeastOne(round(float64(srcH) * defaultCropFraction))
	return centered(srcW, srcH, cropW, cropH), nil
}

// ParseAspectRatio turns "A:B" into A/B.
func ParseAspectRatio(in string) (float64, error) {
	parts := strings.Split(strings.TrimSpace(in), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: aspect ratio %q must look like A:B", domain.ErrInvalidOptions, in)
	}
	a, errA := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	b, errB := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errA != nil || errB != nil || a <= 0 || b <= 0 || math.IsInf(a, 0) || math.IsInf(b, 0) {
		return 0, fmt.Errorf("%w: aspect ratio %q must use positive numbers", domain.ErrInvalidOptions, in)
	}
	return a / b, nil
}

func aspectCrop(srcW, srcH int, target float64) image.Rectangle {
	if float64(srcW)/float64(srcH) > target {
		cropW := min(srcW, atLeastOne(round(float64(srcH)*target)))
		return centered(srcW, srcH, cropW, srcH)
	}
	cropH := min(srcH, atLeastOne(round(float64(srcW)/target)))
	return centered(srcW, srcH, srcW, cropH)
}

// centered places a cropW x cropH box using floor division for the offset.
func centered(srcW, srcH, cropW, cropH int) image.Rectangle {
	x := (srcW - cropW) / 2
	y := (srcH - cropH) / 2
	return image.Rect(x, y, x+cropW, y+cropH)
}
