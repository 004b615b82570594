package render

import (
	"image"
	"math"
)

// Quantize snaps every pixel of img to the nearest of levels evenly spaced gray values.
// Levels outside 2..255 leave img unchanged.
func Quantize(img *image.Gray, levels int) {
	if levels < 2 || levels > 255 {
		return
	}
	step := 255.0 / float64(levels-1)
	var lut [256]uint8
	for v := range lut {
		q := math.Round(float64(v) / step)
		lut[v] = uint8(math.Round(q * step))
	}
	for i, v := range img.Pix {
		img.Pix[i] = lut[v]
	}
}
