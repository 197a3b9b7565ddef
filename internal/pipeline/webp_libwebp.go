//go:build !govips && cgo

package pipeline

import (
	"bytes"
	"image"

	"github.com/chai2010/webp"
)

func encodeWebP(img image.Image, quality float64) ([]byte, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(percentQuality(quality))}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func WebPBackend() string {
	return "libwebp"
}
