package render

import (
	"sort"

	"github.com/kjstillabower/transit-panel/internal/models"
)

// SortArrivals returns a copy of entries ordered by minutes until arrival, then route id.
// Remaining ties fall back to scheduled time and destination so the order never depends on
// feed order.
func SortArrivals(entries []models.ArrivalEntry) []models.ArrivalEntry {
	out := make([]models.ArrivalEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.MinutesUntilArrival != b.MinutesUntilArrival {
			return a.MinutesUntilArrival < b.MinutesUntilArrival
		}
		if a.RouteID != b.RouteID {
			return a.RouteID < b.RouteID
		}
		if !a.ScheduledTime.Equal(b.ScheduledTime) {
			return a.ScheduledTime.Before(b.ScheduledTime)
		}
		return a.Destination < b.Destination
	})
	return out
}

// SelectArrivals returns the first n arrivals in display order. n <= 0 keeps all.
func SelectArrivals(entries []models.ArrivalEntry, n int) []models.ArrivalEntry {
	sorted := SortArrivals(entries)
	if n > 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
