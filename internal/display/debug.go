package display

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/kjstillabower/transit-panel/internal/models"
	"github.com/kjstillabower/transit-panel/internal/observability"
)

// DebugPreview writes each committed frame as a PNG to a fixed path, overwriting the previous
// one, and tells the notifier about it. All of its failures are non-critical.
type DebugPreview struct {
	path     string
	notifier Notifier
	logger   *zap.Logger
}

// NewDebugPreview returns a preview writing to path. notifier may be nil.
func NewDebugPreview(path string, notifier Notifier, logger *zap.Logger) *DebugPreview {
	return &DebugPreview{path: path, notifier: notifier, logger: observability.OrNop(logger)}
}

// Name implements Target.
func (d *DebugPreview) Name() string { return "debug" }

// Path returns the output file.
func (d *DebugPreview) Path() string { return d.path }

// Show encodes the frame and atomically replaces the output file. The refresh mode has no
// meaning for a file and is only reported to the notifier.
func (d *DebugPreview) Show(ctx context.Context, frame models.DisplayFrame, mode models.RefreshMode) error {
	if frame.Image == nil {
		return d.fail(ctx, fmt.Errorf("nil frame"))
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, frame.Image); err != nil {
		return d.fail(ctx, fmt.Errorf("encode png: %w", err))
	}
	if err := writeFileAtomic(d.path, buf.Bytes()); err != nil {
		return d.fail(ctx, err)
	}
	d.logger.Info("saved debug frame",
		zap.String("path", d.path),
		zap.String("mode", mode.String()),
		zap.String("tick_id", observability.TickID(ctx)))

	if d.notifier != nil {
		d.notifier.Notify(FrameEvent{
			Path:        d.path,
			Fingerprint: strconv.FormatUint(frame.Fingerprint, 16),
			Mode:        mode.String(),
			CommittedAt: frame.RenderedAt,
			PNG:         buf.Bytes(),
		})
	}
	return nil
}

func (d *DebugPreview) fail(ctx context.Context, err error) error {
	return &DisplayError{Target: d.Name(), Kind: kindFor(ctx, err, ErrWrite), Err: err}
}

// writeFileAtomic writes data next to path and renames it into place so readers never see a
// partial PNG.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".frame-*.png")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}
