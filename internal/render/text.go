package render

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// PrecipitationThreshold is the probability below which precipitation is not shown.
const PrecipitationThreshold = 0.15

var conditionAbbrev = strings.NewReplacer(
	"with", "w/",
	"Patchy", "Some",
	"Moderate or h", "H",
)

// ShortenConditionText abbreviates a condition description to fit the lane.
func ShortenConditionText(s string) string {
	return conditionAbbrev.Replace(s)
}

func formatTemp(t float64) string {
	return fmt.Sprintf("%d°", int(math.Round(t)))
}

func formatPercent(p float64) string {
	return fmt.Sprintf("%d%%", int(math.Round(p*100)))
}

func showPrecipitation(p float64) bool {
	return p >= PrecipitationThreshold
}

// formatHour renders an hour label like "3pm".
func formatHour(t time.Time) string {
	return strings.ToLower(t.Format("3pm"))
}

func formatClock(t time.Time) string {
	return t.Format("3:04")
}

func formatCountdown(minutes int) string {
	if minutes <= 0 {
		return "Now"
	}
	return fmt.Sprintf("%d", minutes)
}

func dayLabel(d time.Time, offset int) string {
	if offset == 0 {
		return "Today"
	}
	return d.Format("Mon")
}
