// Package lifecycle holds the process phase shared by main and the health endpoint.
package lifecycle

import "sync/atomic"

// Phase is where the process is in its life.
type Phase int32

const (
	// PhaseStarting lasts until the run loop starts.
	PhaseStarting Phase = iota
	// PhaseRunning is normal operation.
	PhaseRunning
	// PhaseShuttingDown starts on SIGINT/SIGTERM. The tick in progress still completes.
	PhaseShuttingDown
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseShuttingDown:
		return "shutting-down"
	default:
		return "starting"
	}
}

var phase atomic.Int32

// SetPhase records the current phase. main sets PhaseShuttingDown on SIGINT/SIGTERM.
func SetPhase(p Phase) {
	phase.Store(int32(p))
}

// Current returns the current phase.
func Current() Phase {
	return Phase(phase.Load())
}

// IsShuttingDown reports whether the process is draining. /health returns 503 while true.
func IsShuttingDown() bool {
	return Current() == PhaseShuttingDown
}
