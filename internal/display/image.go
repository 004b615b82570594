package display

import (
	"fmt"
	"image"
)

// Rotate returns img turned clockwise by degrees (0, 90, 180 or 270). The result's bounds
// start at the origin.
func Rotate(img *image.Gray, degrees int) (*image.Gray, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var out *image.Gray
	switch degrees {
	case 0:
		out = image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			copy(out.Pix[y*out.Stride:y*out.Stride+w], img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):])
		}
	case 90:
		out = image.NewGray(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out.Pix[x*out.Stride+(h-1-y)] = img.Pix[img.PixOffset(b.Min.X+x, b.Min.Y+y)]
			}
		}
	case 180:
		out = image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out.Pix[(h-1-y)*out.Stride+(w-1-x)] = img.Pix[img.PixOffset(b.Min.X+x, b.Min.Y+y)]
			}
		}
	case 270:
		out = image.NewGray(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out.Pix[(w-1-x)*out.Stride+y] = img.Pix[img.PixOffset(b.Min.X+x, b.Min.Y+y)]
			}
		}
	default:
		return nil, fmt.Errorf("unsupported rotation %d", degrees)
	}
	return out, nil
}

// DiffBounds returns the smallest rectangle containing every pixel that differs between a and
// b, and false when they are identical or differently sized.
func DiffBounds(a, b *image.Gray) (image.Rectangle, bool) {
	if a == nil || b == nil || a.Bounds() != b.Bounds() {
		return image.Rectangle{}, false
	}
	r := a.Bounds()
	minX, minY, maxX, maxY := r.Max.X, r.Max.Y, r.Min.X-1, r.Min.Y-1
	for y := r.Min.Y; y < r.Max.Y; y++ {
		ia := a.PixOffset(r.Min.X, y)
		ib := b.PixOffset(r.Min.X, y)
		for x := 0; x < r.Dx(); x++ {
			if a.Pix[ia+x] == b.Pix[ib+x] {
				continue
			}
			px := r.Min.X + x
			if px < minX {
				minX = px
			}
			if px > maxX {
				maxX = px
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	if maxX < minX {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

// alignArea widens r horizontally to whole 16-bit words of 4bpp pixels and clips it to bounds.
func alignArea(r, bounds image.Rectangle) image.Rectangle {
	r.Min.X &^= 3
	r.Max.X = (r.Max.X + 3) &^ 3
	return r.Intersect(bounds)
}

// pack4bpp packs the pixels of r into big-endian 16-bit words, four pixels per word with the
// leftmost pixel in the lowest nibble. Each row is padded to a whole word.
func pack4bpp(img *image.Gray, r image.Rectangle) []byte {
	wordsPerRow := (r.Dx() + 3) / 4
	out := make([]byte, 0, wordsPerRow*2*r.Dy())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Min.X+wordsPerRow*4; x += 4 {
			var word uint16
			for i := 0; i < 4; i++ {
				v := uint16(0xf) // white padding
				if x+i < r.Max.X {
					v = uint16(img.GrayAt(x+i, y).Y >> 4)
				}
				word |= v << (4 * i)
			}
			out = append(out, byte(word>>8), byte(word))
		}
	}
	return out
}
