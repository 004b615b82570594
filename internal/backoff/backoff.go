// Package backoff holds the retry schedule and health states shared by fetch sources and the
// render target. It keeps no state of its own; callers store failure counts.
package backoff

import "time"

// State is the health of a source as shown on the panel.
type State int

const (
	StateHealthy State = iota
	StateBackingOff
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateBackingOff:
		return "backing_off"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// StateFor returns the state after failures consecutive failures. At threshold the source is
// unavailable and its section shows a placeholder.
func StateFor(failures, threshold int) State {
	switch {
	case failures <= 0:
		return StateHealthy
	case threshold > 0 && failures >= threshold:
		return StateUnavailable
	default:
		return StateBackingOff
	}
}

// Policy is an exponential retry schedule.
type Policy struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultPolicy retries after 5s, doubling up to 2m.
var DefaultPolicy = Policy{Base: 5 * time.Second, Max: 2 * time.Minute}

// Delay returns the wait after failures consecutive failures: Base*2^(failures-1), capped at Max.
// Zero when failures <= 0.
func (p Policy) Delay(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	base, max := p.Base, p.Max
	if base <= 0 {
		base = DefaultPolicy.Base
	}
	if max < base {
		max = base
	}
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}

// Next returns the earliest time of the next attempt after failures consecutive failures at now.
func (p Policy) Next(now time.Time, failures int) time.Time {
	if failures <= 0 {
		return time.Time{}
	}
	return now.Add(p.Delay(failures))
}
