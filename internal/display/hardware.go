package display

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"

	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/devices/v3/waveshare2in13v4"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/rpi"

	"github.com/kjstillabower/transit-panel/internal/models"
	"github.com/kjstillabower/transit-panel/internal/observability"
)

// Supported panel drivers.
const (
	PanelIT8951       = "it8951"
	PanelWaveshare213 = "waveshare2in13v4"
)

// HardwareConfig selects and configures the physical panel.
type HardwareConfig struct {
	Panel         string
	Rotate        int
	VCOM          float64
	SPIHz         int64
	PartialMaxBox int
}

// OpenHardware opens the configured panel. Off-board it returns an ErrHardwareUnavailable
// DisplayError.
func OpenHardware(ctx context.Context, cfg HardwareConfig, logger *zap.Logger) (Target, error) {
	switch cfg.Panel {
	case "", PanelIT8951:
		d, err := OpenIT8951(ctx, IT8951Config{
			Rotate:        cfg.Rotate,
			VCOM:          cfg.VCOM,
			SPIHz:         cfg.SPIHz,
			PartialMaxBox: cfg.PartialMaxBox,
		}, logger)
		if err != nil {
			return nil, err
		}
		return d, nil
	case PanelWaveshare213:
		w, err := OpenWaveshare213(cfg.Rotate, logger)
		if err != nil {
			return nil, err
		}
		return w, nil
	default:
		return nil, fmt.Errorf("unknown panel %q", cfg.Panel)
	}
}

func hostPresent() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("host init: %w", err)
	}
	if !rpi.Present() {
		return errors.New("not running on a Raspberry Pi")
	}
	return nil
}

func unavailable(target string, err error) error {
	return &DisplayError{Target: target, Kind: ErrHardwareUnavailable, Critical: true, Err: err}
}

// Waveshare213 drives a Waveshare 2.13" v4 HAT. Frames are scaled to the panel and dithered to
// one bit by threshold. It has no partial refresh, so every Show is a full refresh.
type Waveshare213 struct {
	dev      *waveshare2in13v4.Dev
	port     spi.PortCloser
	rotate   int
	sleeping bool
	logger   *zap.Logger
}

// OpenWaveshare213 initializes the HAT on the default SPI port.
func OpenWaveshare213(rotate int, logger *zap.Logger) (*Waveshare213, error) {
	if err := hostPresent(); err != nil {
		return nil, unavailable(PanelWaveshare213, err)
	}
	port, err := spireg.Open("")
	if err != nil {
		return nil, unavailable(PanelWaveshare213, fmt.Errorf("open spi: %w", err))
	}
	opts := waveshare2in13v4.EPD2in13v4
	dev, err := waveshare2in13v4.NewHat(port, &opts)
	if err != nil {
		port.Close()
		return nil, unavailable(PanelWaveshare213, fmt.Errorf("open hat: %w", err))
	}
	if err := dev.Init(); err != nil {
		port.Close()
		return nil, unavailable(PanelWaveshare213, fmt.Errorf("init: %w", err))
	}
	return &Waveshare213{dev: dev, port: port, rotate: rotate, logger: observability.OrNop(logger)}, nil
}

// Name implements Target.
func (w *Waveshare213) Name() string { return PanelWaveshare213 }

// Show scales frame onto the panel, draws it and puts the panel to sleep until the next frame.
func (w *Waveshare213) Show(ctx context.Context, frame models.DisplayFrame, mode models.RefreshMode) error {
	if frame.Image == nil {
		return w.fail(ctx, errors.New("nil frame"))
	}
	img, err := Rotate(frame.Image, w.rotate)
	if err != nil {
		return w.fail(ctx, err)
	}
	if err := ctx.Err(); err != nil {
		return w.fail(ctx, err)
	}
	if w.sleeping {
		if err := w.dev.Init(); err != nil {
			return w.fail(ctx, fmt.Errorf("wake: %w", err))
		}
		w.sleeping = false
	}

	bounds := w.dev.Bounds()
	scaled := image.NewGray(bounds)
	xdraw.ApproxBiLinear.Scale(scaled, bounds, img, img.Bounds(), xdraw.Src, nil)
	mono := image1bit.NewVerticalLSB(bounds)
	draw.Draw(mono, bounds, scaled, bounds.Min, draw.Src)

	if err := w.dev.Draw(bounds, mono, image.Point{}); err != nil {
		return w.fail(ctx, fmt.Errorf("draw: %w", err))
	}
	if err := w.dev.Sleep(); err != nil {
		w.logger.Warn("panel sleep failed", zap.Error(err))
	} else {
		w.sleeping = true
	}
	w.logger.Debug("panel refreshed", zap.String("mode", mode.String()))
	return nil
}

// Close halts the panel and releases the bus.
func (w *Waveshare213) Close() error {
	return errors.Join(w.dev.Halt(), w.port.Close())
}

func (w *Waveshare213) fail(ctx context.Context, err error) error {
	return &DisplayError{Target: w.Name(), Kind: kindFor(ctx, err, ErrWrite), Critical: true, Err: err}
}
