package display

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kjstillabower/transit-panel/internal/models"
)

type recordingNotifier struct {
	events []FrameEvent
}

func (n *recordingNotifier) Notify(e FrameEvent) { n.events = append(n.events, e) }

func grayFrame(w, h int, fill uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = fill
	}
	return img
}

// TestDebugPreview_Show verifies the frame is written as a PNG at the fixed path and the
// notifier hears about it.
func TestDebugPreview_Show(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug_output", "current_display.png")
	n := &recordingNotifier{}
	d := NewDebugPreview(path, n, nil)

	at := time.Date(2024, 3, 1, 14, 25, 0, 0, time.UTC)
	frame := models.DisplayFrame{Image: grayFrame(20, 30, 0x88), Fingerprint: 0xbeef, RenderedAt: at}
	if err := d.Show(context.Background(), frame, models.RefreshPartial); err != nil {
		t.Fatalf("Show() error = %v", err)
	}
	// second commit overwrites
	if err := d.Show(context.Background(), frame, models.RefreshFull); err != nil {
		t.Fatalf("Show() error = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if img.Bounds().Dx() != 20 || img.Bounds().Dy() != 30 {
		t.Errorf("output bounds = %v", img.Bounds())
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("output dir has %d entries, want only the frame", len(entries))
	}

	if len(n.events) != 2 {
		t.Fatalf("notifier got %d events, want 2", len(n.events))
	}
	e := n.events[0]
	if e.Path != path || e.Fingerprint != "beef" || e.Mode != "partial" || !e.CommittedAt.Equal(at) || len(e.PNG) == 0 {
		t.Errorf("event = %+v", e)
	}
}

// TestDebugPreview_WriteFailure verifies write failures are non-critical ErrWrite display errors.
func TestDebugPreview_WriteFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	n := &recordingNotifier{}
	d := NewDebugPreview(filepath.Join(blocker, "frame.png"), n, nil)

	err := d.Show(context.Background(), models.DisplayFrame{Image: grayFrame(4, 4, 0)}, models.RefreshFull)
	if !errors.Is(err, ErrWrite) {
		t.Fatalf("Show() error = %v, want %v", err, ErrWrite)
	}
	if IsCritical(err) {
		t.Error("debug preview errors must not be critical")
	}
	if len(n.events) != 0 {
		t.Error("notifier should not hear about a failed write")
	}
}

// TestDisplayError_Unwrap verifies both the kind and the cause are reachable.
func TestDisplayError_Unwrap(t *testing.T) {
	cause := errors.New("spi gone")
	err := error(&DisplayError{Target: "it8951", Kind: ErrHardwareUnavailable, Critical: true, Err: cause})
	if !errors.Is(err, ErrHardwareUnavailable) || !errors.Is(err, cause) {
		t.Errorf("errors.Is failed for %v", err)
	}
	if !IsCritical(err) {
		t.Error("IsCritical() = false")
	}
	if IsCritical(errors.New("plain")) {
		t.Error("IsCritical(plain error) = true")
	}
}

// TestKindFor verifies deadline expiry maps to ErrTimeout.
func TestKindFor(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), -time.Second)
	defer cancel()
	if got := kindFor(ctx, errors.New("x"), ErrWrite); got != ErrTimeout {
		t.Errorf("kindFor(expired ctx) = %v", got)
	}
	if got := kindFor(context.Background(), errors.New("x"), ErrWrite); got != ErrWrite {
		t.Errorf("kindFor() = %v, want fallback", got)
	}
}

// TestRotate verifies each supported rotation moves pixels clockwise.
func TestRotate(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 2, 1))
	src.Pix[0], src.Pix[1] = 1, 2

	tests := []struct {
		degrees int
		size    image.Point
		want    []uint8
	}{
		{0, image.Pt(2, 1), []uint8{1, 2}},
		{90, image.Pt(1, 2), []uint8{1, 2}},
		{180, image.Pt(2, 1), []uint8{2, 1}},
		{270, image.Pt(1, 2), []uint8{2, 1}},
	}
	for _, tt := range tests {
		got, err := Rotate(src, tt.degrees)
		if err != nil {
			t.Fatalf("Rotate(%d) error = %v", tt.degrees, err)
		}
		if got.Bounds().Size() != tt.size {
			t.Errorf("Rotate(%d) size = %v, want %v", tt.degrees, got.Bounds().Size(), tt.size)
			continue
		}
		if string(got.Pix) != string(tt.want) {
			t.Errorf("Rotate(%d) pixels = %v, want %v", tt.degrees, got.Pix, tt.want)
		}
	}
	if _, err := Rotate(src, 45); err == nil {
		t.Error("Rotate(45) error = nil")
	}
}

// TestDiffBounds verifies the changed bounding box.
func TestDiffBounds(t *testing.T) {
	a := grayFrame(10, 10, 0xff)
	b := grayFrame(10, 10, 0xff)
	if _, changed := DiffBounds(a, b); changed {
		t.Error("identical frames reported as changed")
	}
	b.Pix[b.PixOffset(3, 4)] = 0
	b.Pix[b.PixOffset(7, 2)] = 0
	got, changed := DiffBounds(a, b)
	if !changed || got != image.Rect(3, 2, 8, 5) {
		t.Errorf("DiffBounds() = %v, %v; want (3,2)-(8,5)", got, changed)
	}
	if _, changed := DiffBounds(a, grayFrame(5, 5, 0)); changed {
		t.Error("differently sized frames should not produce a box")
	}
}

// TestPack4bpp verifies nibble order and row padding.
func TestPack4bpp(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 5, 1))
	copy(img.Pix, []uint8{0x00, 0x10, 0x20, 0xff, 0x30})
	got := pack4bpp(img, img.Bounds())
	want := []byte{0xf2, 0x10, 0xff, 0xf3}
	if string(got) != string(want) {
		t.Errorf("pack4bpp() = % x, want % x", got, want)
	}
}

// TestAlignArea verifies partial areas are widened to whole words and clipped.
func TestAlignArea(t *testing.T) {
	bounds := image.Rect(0, 0, 14, 8)
	if got := alignArea(image.Rect(5, 1, 9, 3), bounds); got != image.Rect(4, 1, 12, 3) {
		t.Errorf("alignArea() = %v", got)
	}
	if got := alignArea(image.Rect(10, 0, 13, 2), bounds); got != image.Rect(8, 0, 14, 2) {
		t.Errorf("alignArea() at edge = %v", got)
	}
}
