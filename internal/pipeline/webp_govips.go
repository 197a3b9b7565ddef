//go:build govips && cgo

package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
)

func encodeWebP(img image.Image, quality float64) ([]byte, error) {
	if err := Startup(); err != nil {
		return nil, err
	}

	// libvips loads from an encoded buffer, so hand it a fast lossless PNG.
	var staged bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&staged, img); err != nil {
		return nil, fmt.Errorf("stage png: %w", err)
	}

	ref, err := vips.NewImageFromBuffer(staged.Bytes())
	if err != nil {
		return nil, fmt.Errorf("load staged image: %w", err)
	}
	defer ref.Close()

	params := vips.NewWebpExportParams()
	params.Quality = percentQuality(quality)
	data, _, err := ref.ExportWebp(params)
	if err != nil {
		return nil, fmt.Errorf("export webp: %w", err)
	}
	return data, nil
}
