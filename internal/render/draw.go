package render

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/srwiley/rasterx"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

var (
	black = color.Gray{Y: 0x00}
	dark  = color.Gray{Y: 0x44}
	mid   = color.Gray{Y: 0x88}
	light = color.Gray{Y: 0xcc}
	white = color.Gray{Y: 0xff}
)

const ellipsis = "…"

func fillRect(dst *image.Gray, r image.Rectangle, c color.Gray) {
	draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Src)
}

func hLine(dst *image.Gray, x0, x1, y, thickness int, c color.Gray) {
	fillRect(dst, image.Rect(x0, y, x1, y+thickness), c)
}

func vLine(dst *image.Gray, x, y0, y1, thickness int, c color.Gray) {
	fillRect(dst, image.Rect(x, y0, x+thickness, y1), c)
}

// fillCircle draws an anti-aliased filled circle.
func fillCircle(dst *image.Gray, cx, cy, r float64, c color.Gray) {
	b := dst.Bounds()
	scanner := rasterx.NewScannerGV(b.Dx(), b.Dy(), dst, b)
	filler := rasterx.NewFiller(b.Dx(), b.Dy(), scanner)
	rasterx.AddCircle(cx, cy, r, filler)
	filler.SetColor(c)
	filler.Draw()
}

// drawIcon composites icon with its top-left corner at p.
func drawIcon(dst *image.Gray, icon image.Image, p image.Point) {
	r := icon.Bounds().Sub(icon.Bounds().Min).Add(p)
	draw.Draw(dst, r, icon, icon.Bounds().Min, draw.Over)
}

func textWidth(face font.Face, s string) int {
	return font.MeasureString(face, s).Ceil()
}

// drawText draws s with its baseline at y and returns the x after the last glyph.
func drawText(dst *image.Gray, face font.Face, x, y int, s string, c color.Gray) int {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
	return d.Dot.X.Ceil()
}

// drawTextRight draws s so that it ends at x.
func drawTextRight(dst *image.Gray, face font.Face, x, y int, s string, c color.Gray) {
	drawText(dst, face, x-textWidth(face, s), y, s, c)
}

// drawTextCentered centers s horizontally and vertically in r.
func drawTextCentered(dst *image.Gray, face font.Face, r image.Rectangle, s string, c color.Gray) {
	s = truncate(face, s, r.Dx())
	x := r.Min.X + (r.Dx()-textWidth(face, s))/2
	drawText(dst, face, x, centerBaseline(face, r.Min.Y, r.Dy()), s, c)
}

// centerBaseline returns the baseline that vertically centers a line of face in [top, top+h).
func centerBaseline(face font.Face, top, h int) int {
	m := face.Metrics()
	return top + (h+m.Ascent.Ceil()-m.Descent.Ceil())/2
}

// truncate shortens s with an ellipsis until it fits maxW pixels.
func truncate(face font.Face, s string, maxW int) string {
	if maxW <= 0 || textWidth(face, s) <= maxW {
		return s
	}
	r := []rune(s)
	for len(r) > 0 {
		r = r[:len(r)-1]
		if t := string(r) + ellipsis; textWidth(face, t) <= maxW {
			return t
		}
	}
	return ""
}
