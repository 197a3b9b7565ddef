package geometry

import (
	"image"
	"math"

	"github.com/dunamismax/imagekit/internal/domain"
)

// Anchor returns the top-left point at which a markW x markH overlay is drawn on a
// canvasW x canvasH canvas. Unknown positions fall back to bottom-right.
func Anchor(pos domain.Position, canvasW, canvasH, markW, markH, offX, offY int) image.Point {
	switch pos {
	case domain.PositionTopLeft:
		return image.Pt(offX, offY)
	case domain.PositionTopRight:
		return image.Pt(canvasW-markW-offX, offY)
	case domain.PositionBottomLeft:
		return image.Pt(offX, canvasH-markH-offY)
	case domain.PositionCenter:
		x := math.Floor(float64(canvasW-markW)/2) + float64(offX)
		y := math.Floor(float64(canvasH-markH)/2) + float64(offY)
		return image.Pt(int(x), int(y))
	default:
		return image.Pt(canvasW-markW-offX, canvasH-markH-offY)
	}
}
