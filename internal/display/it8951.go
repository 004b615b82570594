package display

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"

	"github.com/kjstillabower/transit-panel/internal/models"
	"github.com/kjstillabower/transit-panel/internal/observability"
)

// IT8951 SPI preambles.
const (
	preambleCommand uint16 = 0x6000
	preambleWrite   uint16 = 0x0000
	preambleRead    uint16 = 0x1000
)

// IT8951 commands and registers.
const (
	cmdSysRun     uint16 = 0x0001
	cmdSleep      uint16 = 0x0003
	cmdRegRead    uint16 = 0x0010
	cmdRegWrite   uint16 = 0x0011
	cmdLoadArea   uint16 = 0x0021
	cmdLoadEnd    uint16 = 0x0022
	cmdDisplay    uint16 = 0x0034
	cmdVCOM       uint16 = 0x0039
	cmdDeviceInfo uint16 = 0x0302

	regI80CPCR uint16 = 0x0004
	regLISAR   uint16 = 0x0208
	regLUTAFSR uint16 = 0x1224
)

// Waveform modes.
const (
	waveformInit  uint16 = 0
	waveformGC16  uint16 = 2
	waveformGLR16 uint16 = 4
)

const (
	endianLittle = 0
	bpp4         = 2

	defaultReadyTimeout = 5 * time.Second
	defaultPartialBox   = 50
	defaultSPIHz        = 12_000_000
	defaultMaxTx        = 4096
	devInfoWords        = 20
)

type txConn interface {
	Tx(w, r []byte) error
}

type readyPin interface {
	Read() gpio.Level
}

type resetPin interface {
	Out(l gpio.Level) error
}

// IT8951Config configures the IT8951 driver.
type IT8951Config struct {
	Rotate        int     // degrees clockwise applied before upload
	VCOM          float64 // volts, negative as printed on the panel ribbon
	SPIHz         int64
	PartialMaxBox int // partial refresh only when the changed box fits in this many pixels per side
	ReadyTimeout  time.Duration
}

// DeviceInfo is what the controller reports about the attached panel.
type DeviceInfo struct {
	Width, Height   int
	ImageBufferAddr uint32
	Firmware        string
	LUT             string
}

// IT8951 drives an IT8951 controller board over SPI with the HRDY and RST lines on GPIO.
// Not safe for concurrent use.
type IT8951 struct {
	cfg    IT8951Config
	conn   txConn
	port   io.Closer
	hrdy   readyPin
	rst    resetPin
	maxTx  int
	info   DeviceInfo
	prev   *image.Gray
	logger *zap.Logger
	sleep  func(time.Duration)
}

// OpenIT8951 initializes the host, opens the SPI bus and resets the controller. Any failure to
// reach the board is an ErrHardwareUnavailable DisplayError.
func OpenIT8951(ctx context.Context, cfg IT8951Config, logger *zap.Logger) (*IT8951, error) {
	if err := hostPresent(); err != nil {
		return nil, unavailable("it8951", err)
	}
	if cfg.SPIHz <= 0 {
		cfg.SPIHz = defaultSPIHz
	}
	port, err := spireg.Open("")
	if err != nil {
		return nil, unavailable("it8951", fmt.Errorf("open spi: %w", err))
	}
	c, err := port.Connect(physic.Frequency(cfg.SPIHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, unavailable("it8951", fmt.Errorf("connect spi: %w", err))
	}
	hrdy := gpioreg.ByName("GPIO24")
	rst := gpioreg.ByName("GPIO17")
	if hrdy == nil || rst == nil {
		port.Close()
		return nil, unavailable("it8951", errors.New("HRDY/RST pins not found"))
	}
	if err := hrdy.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		port.Close()
		return nil, unavailable("it8951", fmt.Errorf("configure HRDY: %w", err))
	}

	d := newIT8951(cfg, c, port, hrdy, rst, logger)
	if l, ok := c.(conn.Limits); ok && l.MaxTxSize() > 0 {
		d.maxTx = l.MaxTxSize()
	}
	if err := d.init(ctx); err != nil {
		port.Close()
		return nil, unavailable("it8951", err)
	}
	return d, nil
}

func newIT8951(cfg IT8951Config, c txConn, port io.Closer, hrdy readyPin, rst resetPin, logger *zap.Logger) *IT8951 {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if cfg.PartialMaxBox <= 0 {
		cfg.PartialMaxBox = defaultPartialBox
	}
	return &IT8951{
		cfg:    cfg,
		conn:   c,
		port:   port,
		hrdy:   hrdy,
		rst:    rst,
		maxTx:  defaultMaxTx,
		logger: observability.OrNop(logger),
		sleep:  time.Sleep,
	}
}

// Name implements Target.
func (d *IT8951) Name() string { return "it8951" }

// Info returns the panel details read at startup.
func (d *IT8951) Info() DeviceInfo { return d.info }

func (d *IT8951) init(ctx context.Context) error {
	if err := d.rst.Out(gpio.Low); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	d.sleep(100 * time.Millisecond)
	if err := d.rst.Out(gpio.High); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	d.sleep(100 * time.Millisecond)

	if err := d.writeCommand(ctx, cmdSysRun); err != nil {
		return err
	}
	info, err := d.deviceInfo(ctx)
	if err != nil {
		return err
	}
	if info.Width == 0 || info.Height == 0 {
		return errors.New("controller reported an empty panel")
	}
	d.info = info
	// packed pixel writes
	if err := d.writeRegister(ctx, regI80CPCR, 0x0001); err != nil {
		return err
	}
	if d.cfg.VCOM != 0 {
		if err := d.setVCOM(ctx, d.cfg.VCOM); err != nil {
			return err
		}
	}
	d.logger.Info("it8951 ready",
		zap.Int("width", info.Width),
		zap.Int("height", info.Height),
		zap.String("firmware", info.Firmware),
		zap.String("lut", info.LUT),
		zap.Float64("vcom", d.cfg.VCOM))
	return nil
}

// Show uploads frame and refreshes the panel. A partial refresh is limited to the changed
// bounding box and becomes a full refresh when that box is large or there is no previous frame.
func (d *IT8951) Show(ctx context.Context, frame models.DisplayFrame, mode models.RefreshMode) error {
	if frame.Image == nil {
		return d.fail(ctx, errors.New("nil frame"))
	}
	img, err := Rotate(frame.Image, d.cfg.Rotate)
	if err != nil {
		return d.fail(ctx, err)
	}
	panel := image.Rect(0, 0, d.info.Width, d.info.Height)
	if img.Bounds() != panel {
		return d.fail(ctx, fmt.Errorf("frame %v does not match panel %v after rotation", img.Bounds(), panel))
	}

	area, waveform := panel, waveformGC16
	if mode == models.RefreshPartial && d.prev != nil {
		box, changed := DiffBounds(d.prev, img)
		if !changed {
			d.logger.Debug("frame unchanged on panel, skipping refresh")
			return nil
		}
		if box.Dx() > d.cfg.PartialMaxBox || box.Dy() > d.cfg.PartialMaxBox {
			d.logger.Debug("large diff, doing full refresh", zap.Stringer("box", box))
		} else {
			area, waveform = alignArea(box, panel), waveformGLR16
		}
	}

	if err := d.waitDisplayReady(ctx); err != nil {
		return d.fail(ctx, err)
	}
	if err := d.loadImage(ctx, img, area); err != nil {
		return d.fail(ctx, err)
	}
	if err := d.displayArea(ctx, area, waveform); err != nil {
		return d.fail(ctx, err)
	}
	d.prev = img
	d.logger.Debug("panel refreshed",
		zap.Stringer("area", area),
		zap.Uint16("waveform", waveform),
		zap.String("tick_id", observability.TickID(ctx)))
	return nil
}

// Clear blanks the panel with the INIT waveform.
func (d *IT8951) Clear(ctx context.Context) error {
	panel := image.Rect(0, 0, d.info.Width, d.info.Height)
	white := image.NewGray(panel)
	for i := range white.Pix {
		white.Pix[i] = 0xff
	}
	if err := d.waitDisplayReady(ctx); err != nil {
		return d.fail(ctx, err)
	}
	if err := d.loadImage(ctx, white, panel); err != nil {
		return d.fail(ctx, err)
	}
	if err := d.displayArea(ctx, panel, waveformInit); err != nil {
		return d.fail(ctx, err)
	}
	d.prev = white
	return nil
}

// Close puts the controller to sleep and releases the bus.
func (d *IT8951) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ReadyTimeout)
	defer cancel()
	err := d.writeCommand(ctx, cmdSleep)
	if d.port != nil {
		err = errors.Join(err, d.port.Close())
	}
	return err
}

func (d *IT8951) fail(ctx context.Context, err error) error {
	return &DisplayError{Target: d.Name(), Kind: kindFor(ctx, err, ErrWrite), Critical: true, Err: err}
}

func (d *IT8951) deviceInfo(ctx context.Context) (DeviceInfo, error) {
	if err := d.writeCommand(ctx, cmdDeviceInfo); err != nil {
		return DeviceInfo{}, err
	}
	words, err := d.readData(ctx, devInfoWords)
	if err != nil {
		return DeviceInfo{}, err
	}
	return DeviceInfo{
		Width:           int(words[0]),
		Height:          int(words[1]),
		ImageBufferAddr: uint32(words[2]) | uint32(words[3])<<16,
		Firmware:        wordsToString(words[4:12]),
		LUT:             wordsToString(words[12:20]),
	}, nil
}

func (d *IT8951) setVCOM(ctx context.Context, volts float64) error {
	mv := uint16(math.Round(math.Abs(volts) * 1000))
	return d.command(ctx, cmdVCOM, 0x0001, mv)
}

func (d *IT8951) loadImage(ctx context.Context, img *image.Gray, area image.Rectangle) error {
	addr := d.info.ImageBufferAddr
	if err := d.writeRegister(ctx, regLISAR+2, uint16(addr>>16)); err != nil {
		return err
	}
	if err := d.writeRegister(ctx, regLISAR, uint16(addr)); err != nil {
		return err
	}
	if err := d.command(ctx, cmdLoadArea,
		endianLittle<<8|bpp4<<4,
		uint16(area.Min.X), uint16(area.Min.Y), uint16(area.Dx()), uint16(area.Dy())); err != nil {
		return err
	}
	if err := d.writeBytes(ctx, pack4bpp(img, area)); err != nil {
		return err
	}
	return d.writeCommand(ctx, cmdLoadEnd)
}

func (d *IT8951) displayArea(ctx context.Context, area image.Rectangle, waveform uint16) error {
	return d.command(ctx, cmdDisplay,
		uint16(area.Min.X), uint16(area.Min.Y), uint16(area.Dx()), uint16(area.Dy()), waveform)
}

// waitDisplayReady polls the LUT engine until it is idle.
func (d *IT8951) waitDisplayReady(ctx context.Context) error {
	deadline := time.Now().Add(d.cfg.ReadyTimeout)
	for {
		v, err := d.readRegister(ctx, regLUTAFSR)
		if err != nil {
			return err
		}
		if v == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: LUT engine busy", ErrTimeout)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		d.sleep(10 * time.Millisecond)
	}
}

// waitReady blocks until the controller raises HRDY.
func (d *IT8951) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(d.cfg.ReadyTimeout)
	for d.hrdy.Read() != gpio.High {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: HRDY stayed low", ErrTimeout)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		d.sleep(100 * time.Microsecond)
	}
	return nil
}

func (d *IT8951) command(ctx context.Context, cmd uint16, args ...uint16) error {
	if err := d.writeCommand(ctx, cmd); err != nil {
		return err
	}
	return d.writeData(ctx, args...)
}

func (d *IT8951) writeCommand(ctx context.Context, cmd uint16) error {
	if err := d.waitReady(ctx); err != nil {
		return err
	}
	return d.tx(putWords(nil, preambleCommand, cmd), nil)
}

func (d *IT8951) writeData(ctx context.Context, words ...uint16) error {
	if len(words) == 0 {
		return nil
	}
	if err := d.waitReady(ctx); err != nil {
		return err
	}
	return d.tx(putWords(nil, append([]uint16{preambleWrite}, words...)...), nil)
}

// writeBytes streams pixel data in transfers no larger than the bus allows.
func (d *IT8951) writeBytes(ctx context.Context, data []byte) error {
	chunk := (d.maxTx - 2) &^ 1
	if chunk <= 0 {
		chunk = 2
	}
	for len(data) > 0 {
		n := chunk
		if n > len(data) {
			n = len(data)
		}
		if err := d.waitReady(ctx); err != nil {
			return err
		}
		buf := putWords(make([]byte, 0, n+2), preambleWrite)
		if err := d.tx(append(buf, data[:n]...), nil); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func (d *IT8951) readData(ctx context.Context, n int) ([]uint16, error) {
	if err := d.waitReady(ctx); err != nil {
		return nil, err
	}
	// preamble, one dummy word, then n words
	w := putWords(make([]byte, 0, 4+2*n), preambleRead, 0)
	w = w[:4+2*n]
	r := make([]byte, len(w))
	if err := d.tx(w, r); err != nil {
		return nil, err
	}
	out := make([]uint16, n)
	for i := range out {
		out[i] = uint16(r[4+2*i])<<8 | uint16(r[5+2*i])
	}
	return out, nil
}

func (d *IT8951) writeRegister(ctx context.Context, addr, value uint16) error {
	return d.command(ctx, cmdRegWrite, addr, value)
}

func (d *IT8951) readRegister(ctx context.Context, addr uint16) (uint16, error) {
	if err := d.command(ctx, cmdRegRead, addr); err != nil {
		return 0, err
	}
	v, err := d.readData(ctx, 1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

func (d *IT8951) tx(w, r []byte) error {
	if err := d.conn.Tx(w, r); err != nil {
		return fmt.Errorf("spi tx: %w", err)
	}
	return nil
}

func putWords(buf []byte, words ...uint16) []byte {
	for _, w := range words {
		buf = append(buf, byte(w>>8), byte(w))
	}
	return buf
}

// wordsToString decodes a NUL-padded string packed two bytes per word.
func wordsToString(words []uint16) string {
	b := make([]byte, 0, 2*len(words))
	for _, w := range words {
		b = append(b, byte(w>>8), byte(w))
	}
	return strings.TrimRight(string(b), "\x00 ")
}
