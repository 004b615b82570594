package models

import "time"

// ArrivalEntry is one predicted arrival at a watched stop.
type ArrivalEntry struct {
	RouteID             string    `json:"routeId"`
	StopID              string    `json:"stopId"`
	Destination         string    `json:"destination"`
	MinutesUntilArrival int       `json:"minutesUntilArrival"`
	ScheduledTime       time.Time `json:"scheduledTime"`
}

// CountdownMinutes is the number of wall-clock minute boundaries between now and at.
// A train due at 12:05:10 shows 5 at 12:00:59 and 4 at 12:01:00, so the countdown
// changes exactly on the minute. Negative when at is in an earlier minute than now.
func CountdownMinutes(at, now time.Time) int {
	return int(at.Truncate(time.Minute).Sub(now.Truncate(time.Minute)) / time.Minute)
}

// Age returns a copy of the entry with MinutesUntilArrival recomputed for now.
func (a ArrivalEntry) Age(now time.Time) ArrivalEntry {
	if a.ScheduledTime.IsZero() {
		return a
	}
	a.MinutesUntilArrival = CountdownMinutes(a.ScheduledTime, now)
	return a
}
