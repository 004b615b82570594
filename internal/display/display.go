// Package display commits composed frames to a render target: the e-ink panel or a debug
// preview file.
package display

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kjstillabower/transit-panel/internal/models"
)

var (
	// ErrHardwareUnavailable means the panel cannot be reached (off-board, bus or pin missing).
	ErrHardwareUnavailable = errors.New("display hardware unavailable")
	// ErrTimeout means the controller did not become ready in time.
	ErrTimeout = errors.New("display timeout")
	// ErrWrite means the frame could not be written.
	ErrWrite = errors.New("display write failed")
)

// Target is a surface a frame can be committed to.
type Target interface {
	Name() string
	Show(ctx context.Context, frame models.DisplayFrame, mode models.RefreshMode) error
}

// DisplayError is returned by Target.Show. Critical errors come from the physical panel and
// make the scheduler retry the commit; non-critical ones are logged and dropped.
type DisplayError struct {
	Target   string
	Kind     error
	Critical bool
	Err      error
}

func (e *DisplayError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("display %s: %v", e.Target, e.Kind)
	}
	return fmt.Sprintf("display %s: %v: %v", e.Target, e.Kind, e.Err)
}

func (e *DisplayError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsCritical reports whether err carries a critical DisplayError.
func IsCritical(err error) bool {
	var de *DisplayError
	return errors.As(err, &de) && de.Critical
}

// kindFor maps ctx expiry onto ErrTimeout and anything else onto fallback.
func kindFor(ctx context.Context, err, fallback error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	if errors.Is(err, ErrTimeout) {
		return ErrTimeout
	}
	if errors.Is(err, ErrHardwareUnavailable) {
		return ErrHardwareUnavailable
	}
	return fallback
}

// FrameEvent describes a committed preview frame.
type FrameEvent struct {
	Path        string    `json:"path"`
	Fingerprint string    `json:"fingerprint"`
	Mode        string    `json:"mode"`
	CommittedAt time.Time `json:"committedAt"`
	PNG         []byte    `json:"-"`
}

// Notifier is told about every frame the debug preview writes.
type Notifier interface {
	Notify(FrameEvent)
}
