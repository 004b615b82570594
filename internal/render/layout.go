package render

import "image"

const (
	baseWidth  = 825
	baseHeight = 1200
)

// Layout is the fixed region split of the panel. The left column holds the header, the
// transit list and the daily strip; the right lane holds current conditions and the hourly strip.
type Layout struct {
	Width, Height int
	Scale         float64

	Header  image.Rectangle
	Transit image.Rectangle
	Daily   image.Rectangle
	Lane    image.Rectangle
	Current image.Rectangle
	Hourly  image.Rectangle
}

// NewLayout splits a w x h panel: header 1/9 of the height, transit list 2/3 of the height,
// right lane 1/3 of the width below the header.
func NewLayout(w, h int) Layout {
	headerH := h / 9
	laneW := w / 3
	leftW := w - laneW
	transitBottom := headerH + h*2/3
	if transitBottom > h {
		transitBottom = h
	}
	lane := image.Rect(leftW, headerH, w, h)
	currentBottom := lane.Min.Y + lane.Dy()/4

	scale := float64(w) / baseWidth
	if s := float64(h) / baseHeight; s < scale {
		scale = s
	}
	return Layout{
		Width:   w,
		Height:  h,
		Scale:   scale,
		Header:  image.Rect(0, 0, w, headerH),
		Transit: image.Rect(0, headerH, leftW, transitBottom),
		Daily:   image.Rect(0, transitBottom, leftW, h),
		Lane:    lane,
		Current: image.Rect(lane.Min.X, lane.Min.Y, w, currentBottom),
		Hourly:  image.Rect(lane.Min.X, currentBottom, w, h),
	}
}

// px scales a length given for the 825x1200 reference panel, never returning less than 1.
func (l Layout) px(v float64) int {
	n := int(v*l.Scale + 0.5)
	if n < 1 {
		return 1
	}
	return n
}
