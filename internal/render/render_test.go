package render

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/draw"
	"image/png"
	"testing"
	"time"

	"github.com/kjstillabower/transit-panel/internal/cache"
	"github.com/kjstillabower/transit-panel/internal/models"
)

var renderNow = time.Date(2024, 3, 1, 14, 25, 0, 0, time.UTC)

func newTestCompositor(t *testing.T) *Compositor {
	t.Helper()
	c, err := NewCompositor(Options{
		Width:       412,
		Height:      600,
		GrayLevels:  16,
		MaxArrivals: 6,
		Location:    time.UTC,
	}, NewIconSet(cache.NewInMemoryCache(), nil))
	if err != nil {
		t.Fatalf("NewCompositor() error = %v", err)
	}
	return c
}

func testSnapshot(precip func(i int) float64) *models.WeatherSnapshot {
	snap := &models.WeatherSnapshot{
		CurrentTemp:          54,
		CurrentCondition:     models.ConditionRain,
		Description:          "Patchy rain with thunder",
		CurrentWindSpeed:     7.4,
		CurrentPrecipitation: 0.4,
		IsDay:                true,
		Units:                models.Units{Temperature: "°F", WindSpeed: "mph"},
	}
	for i := 0; i < 12; i++ {
		snap.Hourly = append(snap.Hourly, models.HourlyForecast{
			HourOffset:               i,
			Time:                     renderNow.Truncate(time.Hour).Add(time.Duration(i) * time.Hour),
			Temp:                     54 - float64(i),
			PrecipitationProbability: precip(i),
			Condition:                models.Condition(i % 11),
			IsDay:                    i < 4,
		})
	}
	for i := 0; i < 3; i++ {
		snap.Daily = append(snap.Daily, models.DailyForecast{
			DayOffset: i,
			Date:      renderNow.AddDate(0, 0, i),
			High:      55 - float64(i),
			Low:       40 - float64(i),
			Condition: models.Condition(i + 3),
		})
	}
	return snap
}

func testInput() Input {
	return Input{
		Now: renderNow,
		Arrivals: []models.ArrivalEntry{
			{RouteID: "F", Destination: "Jamaica-179 St", MinutesUntilArrival: 4, ScheduledTime: renderNow.Add(4 * time.Minute)},
			{RouteID: "G", Destination: "Court Sq", MinutesUntilArrival: 0, ScheduledTime: renderNow},
			{RouteID: "F", Destination: "A very long destination name that will not fit", MinutesUntilArrival: 12},
		},
		Weather: testSnapshot(func(i int) float64 { return float64(i) / 12 }),
	}
}

// TestSelectArrivals_Ordering verifies ascending minutes with ties broken by route id.
func TestSelectArrivals_Ordering(t *testing.T) {
	in := []models.ArrivalEntry{
		{RouteID: "B", MinutesUntilArrival: 7},
		{RouteID: "A", MinutesUntilArrival: 2},
		{RouteID: "C", MinutesUntilArrival: 2},
	}
	got := SelectArrivals(in, 6)
	want := []struct {
		route   string
		minutes int
	}{{"A", 2}, {"C", 2}, {"B", 7}}
	if len(got) != len(want) {
		t.Fatalf("SelectArrivals() returned %d entries, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].RouteID != w.route || got[i].MinutesUntilArrival != w.minutes {
			t.Errorf("entry %d = (%s,%d), want (%s,%d)", i, got[i].RouteID, got[i].MinutesUntilArrival, w.route, w.minutes)
		}
	}
	if in[0].RouteID != "B" {
		t.Error("SelectArrivals() must not reorder its input")
	}
}

// TestSelectArrivals_Limit verifies only the first n arrivals are kept.
func TestSelectArrivals_Limit(t *testing.T) {
	var in []models.ArrivalEntry
	for i := 10; i > 0; i-- {
		in = append(in, models.ArrivalEntry{RouteID: "F", MinutesUntilArrival: i})
	}
	got := SelectArrivals(in, 3)
	if len(got) != 3 || got[0].MinutesUntilArrival != 1 || got[2].MinutesUntilArrival != 3 {
		t.Errorf("SelectArrivals(n=3) = %+v", got)
	}
	if len(SelectArrivals(in, 0)) != 10 {
		t.Error("SelectArrivals(n=0) should keep every entry")
	}
}

// TestCompositor_Deterministic verifies identical inputs produce pixel-identical frames.
func TestCompositor_Deterministic(t *testing.T) {
	c := newTestCompositor(t)
	a := c.Compose(context.Background(), testInput())
	b := c.Compose(context.Background(), testInput())
	if !bytes.Equal(a.Pix, b.Pix) {
		t.Error("Compose() produced different pixels for identical inputs")
	}

	// a fresh compositor with a cold icon cache must agree too
	fresh := newTestCompositor(t).Compose(context.Background(), testInput())
	if !bytes.Equal(a.Pix, fresh.Pix) {
		t.Error("Compose() output depends on icon cache state")
	}
}

// TestCompositor_Size verifies the frame matches the configured panel and is not blank.
func TestCompositor_Size(t *testing.T) {
	img := newTestCompositor(t).Compose(context.Background(), testInput())
	if img.Bounds() != image.Rect(0, 0, 412, 600) {
		t.Fatalf("Bounds() = %v", img.Bounds())
	}
	dark := 0
	for _, v := range img.Pix {
		if v < 0x80 {
			dark++
		}
	}
	if dark == 0 {
		t.Error("Compose() produced a blank frame")
	}
}

// TestCompositor_Quantized verifies every pixel lands on one of the 16 panel gray levels.
func TestCompositor_Quantized(t *testing.T) {
	img := newTestCompositor(t).Compose(context.Background(), testInput())
	for i, v := range img.Pix {
		if v%17 != 0 {
			t.Fatalf("pixel %d = %#x, not a 16-level gray", i, v)
		}
	}
}

// TestCompositor_Placeholders verifies each placeholder state renders differently from live data
// and from each other.
func TestCompositor_Placeholders(t *testing.T) {
	c := newTestCompositor(t)
	ctx := context.Background()

	live := testInput()
	unavailable := testInput()
	unavailable.TransitUnavailable = true
	pending := testInput()
	pending.TransitPending = true
	empty := testInput()
	empty.Arrivals = nil
	noWeather := testInput()
	noWeather.WeatherUnavailable = true
	loadingWeather := testInput()
	loadingWeather.Weather = nil

	frames := map[string][]byte{
		"live":            c.Compose(ctx, live).Pix,
		"transit down":    c.Compose(ctx, unavailable).Pix,
		"transit pending": c.Compose(ctx, pending).Pix,
		"no trains":       c.Compose(ctx, empty).Pix,
		"weather down":    c.Compose(ctx, noWeather).Pix,
		"weather loading": c.Compose(ctx, loadingWeather).Pix,
	}
	seen := make(map[string]string)
	for name, pix := range frames {
		if other, dup := seen[string(pix)]; dup {
			t.Errorf("%q and %q rendered identical frames", name, other)
		}
		seen[string(pix)] = name
	}
}

// TestCompositor_QuantizedPrecipitation verifies a 0/1-only precipitation series renders without failing.
func TestCompositor_QuantizedPrecipitation(t *testing.T) {
	in := testInput()
	in.Weather = testSnapshot(func(i int) float64 { return float64(i % 2) })
	if !models.PrecipitationQuantized(in.Weather.Hourly) {
		t.Fatal("fixture should be quantized")
	}
	img := newTestCompositor(t).Compose(context.Background(), in)
	if img == nil {
		t.Fatal("Compose() returned nil")
	}
}

// TestCompositor_ClockExcludedFromData verifies only the header changes when the clock moves.
func TestCompositor_ClockExcludedFromData(t *testing.T) {
	c := newTestCompositor(t)
	a := c.Compose(context.Background(), testInput())
	later := testInput()
	later.Now = renderNow.Add(time.Minute)
	b := c.Compose(context.Background(), later)

	header := c.Layout().Header
	for y := header.Max.Y; y < a.Bounds().Max.Y; y++ {
		for x := 0; x < a.Bounds().Max.X; x++ {
			if a.GrayAt(x, y) != b.GrayAt(x, y) {
				t.Fatalf("pixel (%d,%d) outside the header changed with the clock", x, y)
			}
		}
	}
}

// TestNewCompositor_InvalidSize verifies a zero-sized panel is rejected.
func TestNewCompositor_InvalidSize(t *testing.T) {
	if _, err := NewCompositor(Options{Width: 0, Height: 100}, nil); err == nil {
		t.Error("NewCompositor() error = nil, want error")
	}
}

// TestNewLayout verifies the region split of the reference panel.
func TestNewLayout(t *testing.T) {
	l := NewLayout(825, 1200)
	if l.Header != image.Rect(0, 0, 825, 133) {
		t.Errorf("Header = %v", l.Header)
	}
	if l.Transit != image.Rect(0, 133, 550, 933) {
		t.Errorf("Transit = %v", l.Transit)
	}
	if l.Daily != image.Rect(0, 933, 550, 1200) {
		t.Errorf("Daily = %v", l.Daily)
	}
	if l.Lane != image.Rect(550, 133, 825, 1200) {
		t.Errorf("Lane = %v", l.Lane)
	}
	if l.Current.Max.Y != l.Hourly.Min.Y {
		t.Errorf("Current %v and Hourly %v should touch", l.Current, l.Hourly)
	}
	if l.Scale != 1 || l.px(10) != 10 {
		t.Errorf("Scale = %v, px(10) = %d", l.Scale, l.px(10))
	}
	if NewLayout(412, 600).px(0.1) != 1 {
		t.Error("px() should never return less than 1")
	}
}

// TestQuantize verifies pixels snap to the nearest level.
func TestQuantize(t *testing.T) {
	tests := []struct {
		levels int
		in     uint8
		want   uint8
	}{
		{2, 0x00, 0x00},
		{2, 0x7f, 0x00},
		{2, 0x80, 0xff},
		{4, 0x60, 0x55},
		{16, 0x10, 0x11},
		{16, 0xfe, 0xff},
		{1, 0x42, 0x42},
	}
	for _, tt := range tests {
		img := image.NewGray(image.Rect(0, 0, 1, 1))
		img.Pix[0] = tt.in
		Quantize(img, tt.levels)
		if img.Pix[0] != tt.want {
			t.Errorf("Quantize(%#x, %d) = %#x, want %#x", tt.in, tt.levels, img.Pix[0], tt.want)
		}
	}
}

// TestShortenConditionText verifies the abbreviation rules.
func TestShortenConditionText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Patchy rain with thunder", "Some rain w/ thunder"},
		{"Moderate or heavy snow", "Heavy snow"},
		{"Overcast", "Overcast"},
	}
	for _, tt := range tests {
		if got := ShortenConditionText(tt.in); got != tt.want {
			t.Errorf("ShortenConditionText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestFormatting verifies the small text helpers.
func TestFormatting(t *testing.T) {
	if got := formatCountdown(0); got != "Now" {
		t.Errorf("formatCountdown(0) = %q", got)
	}
	if got := formatCountdown(7); got != "7" {
		t.Errorf("formatCountdown(7) = %q", got)
	}
	if got := formatTemp(53.6); got != "54°" {
		t.Errorf("formatTemp(53.6) = %q", got)
	}
	if got := formatPercent(0.56); got != "56%" {
		t.Errorf("formatPercent(0.56) = %q", got)
	}
	if showPrecipitation(0.14) || !showPrecipitation(0.15) {
		t.Error("precipitation should show from 15%")
	}
	if got := formatHour(time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)); got != "3pm" {
		t.Errorf("formatHour() = %q", got)
	}
	if got := dayLabel(renderNow.AddDate(0, 0, 1), 1); got != "Sat" {
		t.Errorf("dayLabel() = %q, want Sat", got)
	}
	if got := dayLabel(renderNow, 0); got != "Today" {
		t.Errorf("dayLabel(offset 0) = %q", got)
	}
}

// TestIconFor verifies every condition maps to an embedded icon.
func TestIconFor(t *testing.T) {
	ids := make(map[string]bool)
	for _, id := range IconIDs() {
		ids[id] = true
	}
	for c := models.ConditionUnknown; c <= models.ConditionThunderstorm; c++ {
		for _, day := range []bool{true, false} {
			if id := IconFor(c, day); !ids[id] {
				t.Errorf("IconFor(%v, %v) = %q, not embedded", c, day, id)
			}
		}
	}
	if IconFor(models.ConditionClear, false) != "clear-night" {
		t.Error("clear night should use the night icon")
	}
}

// TestIconSet_Rasterize verifies icons rasterize at the requested size and unknown ids fail.
func TestIconSet_Rasterize(t *testing.T) {
	s := NewIconSet(nil, nil)
	img, err := s.Rasterize("rain", 48)
	if err != nil {
		t.Fatalf("Rasterize() error = %v", err)
	}
	if img.Bounds().Dx() != 48 || img.Bounds().Dy() != 48 {
		t.Errorf("Rasterize() bounds = %v", img.Bounds())
	}
	if _, err := s.Rasterize("volcano", 48); !errors.Is(err, ErrUnknownIcon) {
		t.Errorf("Rasterize(unknown) error = %v, want %v", err, ErrUnknownIcon)
	}
	if _, err := s.Rasterize("rain", 0); err == nil {
		t.Error("Rasterize(size 0) error = nil")
	}
}

// TestIconSet_PNGRoundTripDrawsIdentically verifies an icon decoded from a PNG-backed cache draws
// the same pixels as a freshly rasterized one.
func TestIconSet_PNGRoundTripDrawsIdentically(t *testing.T) {
	s := NewIconSet(nil, nil)
	for _, id := range []string{"rain", "partly-cloudy-day", FallbackIcon} {
		fresh, err := s.Rasterize(id, 37)
		if err != nil {
			t.Fatalf("Rasterize(%s) error = %v", id, err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, fresh); err != nil {
			t.Fatalf("png.Encode() error = %v", err)
		}
		decoded, err := png.Decode(&buf)
		if err != nil {
			t.Fatalf("png.Decode() error = %v", err)
		}

		a := image.NewGray(fresh.Bounds())
		b := image.NewGray(fresh.Bounds())
		draw.Draw(a, a.Bounds(), image.White, image.Point{}, draw.Src)
		draw.Draw(b, b.Bounds(), image.White, image.Point{}, draw.Src)
		draw.Draw(a, a.Bounds(), fresh, image.Point{}, draw.Over)
		draw.Draw(b, b.Bounds(), decoded, image.Point{}, draw.Over)
		if !bytes.Equal(a.Pix, b.Pix) {
			t.Errorf("icon %s draws differently after a PNG round trip", id)
		}
	}
}

// TestIconSet_IconCachesAndFallsBack verifies icons are cached by (id, size) and unknown ids
// get the fallback icon.
func TestIconSet_IconCachesAndFallsBack(t *testing.T) {
	c := cache.NewInMemoryCache()
	s := NewIconSet(c, nil)
	ctx := context.Background()

	first := s.Icon(ctx, "snow", 32)
	if c.Len() != 1 {
		t.Fatalf("cache Len() = %d, want 1", c.Len())
	}
	if second := s.Icon(ctx, "snow", 32); second != first {
		t.Error("second Icon() call should come from the cache")
	}

	fallback := s.Icon(ctx, "volcano", 32)
	na := s.Icon(ctx, FallbackIcon, 32)
	if fallback != na {
		t.Error("unknown icon should resolve to the cached fallback icon")
	}
}

// TestIconSet_Warm verifies warming fills the cache for every icon and size.
func TestIconSet_Warm(t *testing.T) {
	c := cache.NewInMemoryCache()
	s := NewIconSet(c, nil)
	if err := s.Warm(context.Background(), []int{16, 24, 24}); err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	if want := len(IconIDs()) * 2; c.Len() != want {
		t.Errorf("cache Len() = %d, want %d", c.Len(), want)
	}
}
