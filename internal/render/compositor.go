package render

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/kjstillabower/transit-panel/internal/models"
	"github.com/kjstillabower/transit-panel/internal/observability"
)

// Placeholder texts.
const (
	TextTransitUnavailable = "Transit data unavailable"
	TextWeatherUnavailable = "Weather unavailable"
	TextLoading            = "Loading…"
	TextNoTrains           = "No upcoming trains"
)

// Input is everything one frame is drawn from. Now only drives the header clock.
type Input struct {
	Now time.Time

	Arrivals           []models.ArrivalEntry
	TransitPending     bool // no transit result yet
	TransitUnavailable bool // failure threshold reached

	Weather            *models.WeatherSnapshot // nil until the first weather result
	WeatherUnavailable bool
}

// Options configures a Compositor.
type Options struct {
	Width       int
	Height      int
	GrayLevels  int
	MaxArrivals int
	Location    *time.Location
}

// Compositor turns an Input into a grayscale raster. It is deterministic: equal inputs
// produce pixel-identical frames. Not safe for concurrent use.
type Compositor struct {
	opts   Options
	layout Layout
	fonts  *fontBook
	icons  *IconSet
}

// NewCompositor builds a Compositor for the given panel geometry.
func NewCompositor(opts Options, icons *IconSet) (*Compositor, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("render: invalid panel size %dx%d", opts.Width, opts.Height)
	}
	if opts.GrayLevels == 0 {
		opts.GrayLevels = 16
	}
	if opts.MaxArrivals <= 0 {
		opts.MaxArrivals = 6
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if icons == nil {
		icons = NewIconSet(nil, nil)
	}
	fonts, err := newFontBook()
	if err != nil {
		return nil, err
	}
	return &Compositor{
		opts:   opts,
		layout: NewLayout(opts.Width, opts.Height),
		fonts:  fonts,
		icons:  icons,
	}, nil
}

// Layout returns the region split in use.
func (c *Compositor) Layout() Layout {
	return c.layout
}

// IconSizes lists the pixel sizes at which icons are drawn, for cache warming.
func (c *Compositor) IconSizes() []int {
	l := c.layout
	return []int{l.px(currentIconSize), l.px(hourlyIconSize), l.px(dailyIconSize)}
}

const (
	currentIconSize = 110
	hourlyIconSize  = 42
	dailyIconSize   = 72
)

// Compose draws in. It never fails: missing or unavailable data is drawn as a placeholder.
func (c *Compositor) Compose(ctx context.Context, in Input) *image.Gray {
	start := time.Now()
	defer func() {
		observability.ComposeDuration.Observe(time.Since(start).Seconds())
	}()

	l := c.layout
	img := image.NewGray(image.Rect(0, 0, l.Width, l.Height))
	fillRect(img, img.Bounds(), white)

	c.drawHeader(img, in.Now.In(c.opts.Location))
	c.drawTransit(img, in)
	c.drawDaily(ctx, img, in)
	c.drawLane(ctx, img, in)

	Quantize(img, c.opts.GrayLevels)
	return img
}

func (c *Compositor) drawHeader(img *image.Gray, now time.Time) {
	l := c.layout
	r := l.Header
	pad := l.px(24)
	face := c.fonts.face(true, l.px(44))
	baseline := centerBaseline(face, r.Min.Y, r.Dy())

	drawText(img, face, r.Min.X+pad, baseline, now.Format("Mon, Jan 2"), black)
	drawTextRight(img, face, r.Max.X-pad, baseline, now.Format("3:04 PM"), black)
	hLine(img, r.Min.X, r.Max.X, r.Max.Y-l.px(3), l.px(3), black)
}

func (c *Compositor) drawTransit(img *image.Gray, in Input) {
	l := c.layout
	r := l.Transit
	placeholder := c.fonts.face(false, l.px(34))

	switch {
	case in.TransitUnavailable:
		drawTextCentered(img, placeholder, r, TextTransitUnavailable, dark)
		return
	case in.TransitPending:
		drawTextCentered(img, placeholder, r, TextLoading, mid)
		return
	}

	arrivals := SelectArrivals(in.Arrivals, c.opts.MaxArrivals)
	if len(arrivals) == 0 {
		drawTextCentered(img, placeholder, r, TextNoTrains, dark)
		return
	}

	rowH := r.Dy() / c.opts.MaxArrivals
	for i, a := range arrivals {
		row := image.Rect(r.Min.X, r.Min.Y+i*rowH, r.Max.X, r.Min.Y+(i+1)*rowH)
		c.drawArrivalRow(img, row, a)
		if i < len(arrivals)-1 {
			hLine(img, row.Min.X+l.px(16), row.Max.X-l.px(16), row.Max.Y-1, 1, light)
		}
	}
}

func (c *Compositor) drawArrivalRow(img *image.Gray, row image.Rectangle, a models.ArrivalEntry) {
	l := c.layout
	pad := l.px(20)

	// route bullet
	diameter := l.px(84)
	if limit := row.Dy() * 3 / 4; diameter > limit {
		diameter = limit
	}
	radius := float64(diameter) / 2
	cx := float64(row.Min.X+pad) + radius
	cy := float64(row.Min.Y) + float64(row.Dy())/2
	fillCircle(img, cx, cy, radius, black)
	bullet := image.Rect(row.Min.X+pad, int(cy-radius), row.Min.X+pad+diameter, int(cy+radius))
	drawTextCentered(img, c.fonts.face(true, diameter*11/20), bullet, a.RouteID, white)

	// countdown, right aligned
	minutesFace := c.fonts.face(true, l.px(56))
	unitFace := c.fonts.face(false, l.px(24))
	minutesBaseline := centerBaseline(minutesFace, row.Min.Y, row.Dy())
	right := row.Max.X - pad
	countdown := formatCountdown(a.MinutesUntilArrival)
	unitW := 0
	if a.MinutesUntilArrival > 0 {
		unitW = textWidth(unitFace, " min")
		drawTextRight(img, unitFace, right, minutesBaseline, " min", dark)
	}
	countdownX := right - unitW - textWidth(minutesFace, countdown)
	drawText(img, minutesFace, countdownX, minutesBaseline, countdown, black)

	// destination and arrival clock
	textX := row.Min.X + pad + diameter + pad
	maxW := countdownX - pad - textX
	destFace := c.fonts.face(false, l.px(32))
	clockFace := c.fonts.face(false, l.px(22))
	destBaseline := row.Min.Y + row.Dy()/2 - l.px(4)
	drawText(img, destFace, textX, destBaseline, truncate(destFace, a.Destination, maxW), black)
	if !a.ScheduledTime.IsZero() {
		clock := formatClock(a.ScheduledTime.In(c.opts.Location))
		drawText(img, clockFace, textX, destBaseline+l.px(34), truncate(clockFace, clock, maxW), mid)
	}
}

func (c *Compositor) drawDaily(ctx context.Context, img *image.Gray, in Input) {
	l := c.layout
	r := l.Daily
	hLine(img, r.Min.X, r.Max.X, r.Min.Y, l.px(3), black)
	inner := image.Rect(r.Min.X, r.Min.Y+l.px(3), r.Max.X, r.Max.Y)
	placeholder := c.fonts.face(false, l.px(28))

	switch {
	case in.WeatherUnavailable:
		drawTextCentered(img, placeholder, inner, TextWeatherUnavailable, dark)
		return
	case in.Weather == nil:
		drawTextCentered(img, placeholder, inner, TextLoading, mid)
		return
	case len(in.Weather.Daily) == 0:
		return
	}

	days := in.Weather.Daily
	colW := inner.Dx() / models.MaxDailyForecasts
	labelFace := c.fonts.face(true, l.px(28))
	tempFace := c.fonts.face(false, l.px(26))
	iconSize := l.px(dailyIconSize)
	for i, d := range days {
		col := image.Rect(inner.Min.X+i*colW, inner.Min.Y, inner.Min.X+(i+1)*colW, inner.Max.Y)
		top := col.Min.Y + (col.Dy()-(l.px(36)+iconSize+l.px(36)))/2

		drawTextCentered(img, labelFace, image.Rect(col.Min.X, top, col.Max.X, top+l.px(36)), dayLabel(d.Date, d.DayOffset), black)
		icon := c.icons.Icon(ctx, IconFor(d.Condition, true), iconSize)
		drawIcon(img, icon, image.Pt(col.Min.X+(col.Dx()-iconSize)/2, top+l.px(36)))
		temps := formatTemp(d.High) + " / " + formatTemp(d.Low)
		drawTextCentered(img, tempFace, image.Rect(col.Min.X, top+l.px(36)+iconSize, col.Max.X, top+l.px(36)+iconSize+l.px(36)), temps, black)

		if i > 0 {
			vLine(img, col.Min.X, col.Min.Y+l.px(20), col.Max.Y-l.px(20), 1, light)
		}
	}
}

func (c *Compositor) drawLane(ctx context.Context, img *image.Gray, in Input) {
	l := c.layout
	vLine(img, l.Lane.Min.X, l.Lane.Min.Y, l.Lane.Max.Y, l.px(3), black)
	placeholder := c.fonts.face(false, l.px(28))

	switch {
	case in.WeatherUnavailable:
		drawTextCentered(img, placeholder, l.Lane, TextWeatherUnavailable, dark)
		return
	case in.Weather == nil:
		drawTextCentered(img, placeholder, l.Lane, TextLoading, mid)
		return
	}
	c.drawCurrent(ctx, img, *in.Weather)
	c.drawHourly(ctx, img, in.Weather.Hourly)
}

func (c *Compositor) drawCurrent(ctx context.Context, img *image.Gray, w models.WeatherSnapshot) {
	l := c.layout
	r := l.Current
	pad := l.px(20)
	iconSize := l.px(currentIconSize)

	icon := c.icons.Icon(ctx, IconFor(w.CurrentCondition, w.IsDay), iconSize)
	drawIcon(img, icon, image.Pt(r.Min.X+pad, r.Min.Y+pad))

	tempFace := c.fonts.face(true, l.px(68))
	tempBaseline := r.Min.Y + pad + iconSize/2 + tempFace.Metrics().Ascent.Ceil()/2
	drawTextRight(img, tempFace, r.Max.X-pad, tempBaseline, formatTemp(w.CurrentTemp), black)

	detailFace := c.fonts.face(false, l.px(24))
	lineH := l.px(32)
	y := r.Min.Y + pad + iconSize + lineH
	maxW := r.Dx() - 2*pad
	drawText(img, detailFace, r.Min.X+pad, y, truncate(detailFace, ShortenConditionText(w.Description), maxW), black)
	y += lineH
	wind := fmt.Sprintf("Wind %d %s", int(w.CurrentWindSpeed+0.5), w.Units.WindSpeed)
	drawText(img, detailFace, r.Min.X+pad, y, truncate(detailFace, wind, maxW), dark)
	if showPrecipitation(w.CurrentPrecipitation) {
		y += lineH
		drawText(img, detailFace, r.Min.X+pad, y, "Precip "+formatPercent(w.CurrentPrecipitation), dark)
	}
	hLine(img, r.Min.X+pad, r.Max.X-pad, r.Max.Y-1, 1, mid)
}

func (c *Compositor) drawHourly(ctx context.Context, img *image.Gray, hourly []models.HourlyForecast) {
	l := c.layout
	r := l.Hourly
	if len(hourly) == 0 {
		return
	}
	const rows = 12
	rowH := r.Dy() / rows
	pad := l.px(16)
	face := c.fonts.face(false, l.px(24))
	boldFace := c.fonts.face(true, l.px(26))
	iconSize := l.px(hourlyIconSize)
	if iconSize > rowH-2 {
		iconSize = rowH - 2
	}

	for i, h := range hourly {
		if i >= rows {
			break
		}
		row := image.Rect(r.Min.X, r.Min.Y+i*rowH, r.Max.X, r.Min.Y+(i+1)*rowH)
		baseline := centerBaseline(face, row.Min.Y, row.Dy())

		label := formatHour(h.Time.In(c.opts.Location))
		if h.HourOffset == 0 {
			label = "Now"
		}
		drawText(img, face, row.Min.X+pad, baseline, label, dark)

		iconX := row.Min.X + pad + l.px(62)
		icon := c.icons.Icon(ctx, IconFor(h.Condition, h.IsDay), iconSize)
		drawIcon(img, icon, image.Pt(iconX, row.Min.Y+(row.Dy()-iconSize)/2))

		tempX := iconX + iconSize + l.px(12)
		drawText(img, boldFace, tempX, baseline, formatTemp(h.Temp), black)

		if showPrecipitation(h.PrecipitationProbability) {
			drawTextRight(img, face, row.Max.X-pad, baseline, formatPercent(h.PrecipitationProbability), dark)
		}
	}
}
