//go:build !cgo

package pipeline

import (
	"errors"
	"image"
)

var errWebPUnavailable = errors.New("webp encoding requires a cgo build")

func encodeWebP(image.Image, float64) ([]byte, error) {
	return nil, errWebPUnavailable
}

func WebPBackend() string {
	return "none"
}
