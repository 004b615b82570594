package lifecycle

import "testing"

// TestCurrent_DefaultStarting verifies a fresh process reports starting.
func TestCurrent_DefaultStarting(t *testing.T) {
	SetPhase(PhaseStarting)
	if got := Current(); got != PhaseStarting {
		t.Errorf("Current() = %v, want starting", got)
	}
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true, want false by default")
	}
}

// TestSetPhase_Running verifies the running phase is recorded.
func TestSetPhase_Running(t *testing.T) {
	SetPhase(PhaseRunning)
	defer SetPhase(PhaseStarting)
	if got := Current(); got != PhaseRunning {
		t.Errorf("Current() = %v, want running", got)
	}
}

// TestSetPhase_ShuttingDown verifies IsShuttingDown follows the phase.
func TestSetPhase_ShuttingDown(t *testing.T) {
	SetPhase(PhaseShuttingDown)
	defer SetPhase(PhaseStarting)
	if !IsShuttingDown() {
		t.Error("IsShuttingDown() = false after SetPhase(shutting-down), want true")
	}
	SetPhase(PhaseRunning)
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true after SetPhase(running), want false")
	}
}

// TestPhase_String verifies the labels /health reports.
func TestPhase_String(t *testing.T) {
	tests := []struct {
		p    Phase
		want string
	}{
		{PhaseStarting, "starting"},
		{PhaseRunning, "running"},
		{PhaseShuttingDown, "shutting-down"},
	}
	for _, tt := range tests {
		if got := tt.p.String(); got != tt.want {
			t.Errorf("Phase(%d).String() = %q, want %q", tt.p, got, tt.want)
		}
	}
}
