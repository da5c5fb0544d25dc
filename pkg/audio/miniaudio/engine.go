// Package miniaudio implements [audio.Engine] on top of miniaudio through the
// malgo cgo bindings.
//
// The capture device is initialised on every Start and torn down on Stop, so
// a device swap or a changed native rate is picked up the next time capture
// begins. Buffers are always requested as interleaved float32.
package miniaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/hark/pkg/audio"
)

var _ audio.Engine = (*Engine)(nil)

// Config selects and shapes the capture device.
type Config struct {
	// Device is matched case-insensitively against capture device names.
	// Empty selects the system default input.
	Device string

	// SampleRate requests a rate in Hz. Zero uses the device's native rate.
	SampleRate int

	// Channels requests a channel count. Zero uses the device's native count.
	Channels int

	// PeriodMillis is the callback period. Zero lets the back end decide.
	PeriodMillis int
}

// Engine captures from a miniaudio input device.
type Engine struct {
	cfg Config
	ctx *malgo.AllocatedContext

	mu      sync.Mutex
	dev     *malgo.Device
	format  audio.Format
	device  audio.Device
	changes chan struct{}

	// stopping is set while Stop tears the device down so the back end's
	// stop notification is not mistaken for device loss.
	stopping atomic.Bool
}

// New initialises a miniaudio context. Call [Engine.Close] to release it.
func New(cfg Config) (*Engine, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("miniaudio", "msg", strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w", err)
	}
	return &Engine{
		cfg:     cfg,
		ctx:     ctx,
		format:  audio.Format{SampleRate: float64(cfg.SampleRate), Channels: cfg.Channels},
		device:  audio.Device{Name: cfg.Device},
		changes: make(chan struct{}, 1),
	}, nil
}

// Start implements [audio.Engine].
func (e *Engine) Start(sink audio.FrameSink) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dev != nil {
		return errors.New("miniaudio: engine already running")
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatF32
	devCfg.Capture.Channels = uint32(e.cfg.Channels)
	devCfg.SampleRate = uint32(e.cfg.SampleRate)
	devCfg.PeriodSizeInMilliseconds = uint32(e.cfg.PeriodMillis)
	devCfg.Alsa.NoMMap = 1

	selected := audio.Device{}
	if e.cfg.Device != "" {
		info, err := e.findDevice(e.cfg.Device)
		if err != nil {
			return err
		}
		devCfg.Capture.DeviceID = info.ID.Pointer()
		selected = audio.Device{ID: info.Name(), Name: info.Name()}
	}

	// The format is fixed once the device exists; the callback closes over it
	// so the real-time path only reads immutable state.
	var live audio.Format
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			sink.WriteFrames(in, live)
		},
		Stop: func() {
			if !e.stopping.Load() {
				e.notify()
			}
		},
	}

	dev, err := malgo.InitDevice(e.ctx.Context, devCfg, callbacks)
	if err != nil {
		return fmt.Errorf("miniaudio: init device: %w", err)
	}
	live = audio.Format{SampleRate: float64(dev.SampleRate()), Channels: int(dev.CaptureChannels())}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("miniaudio: start device: %w", err)
	}

	e.dev = dev
	e.format = live
	e.device = selected
	slog.Debug("miniaudio: capture started", "device", selected.String(), "format", live.String())
	return nil
}

// Stop implements [audio.Engine].
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dev == nil {
		return nil
	}
	e.stopping.Store(true)
	defer e.stopping.Store(false)

	err := e.dev.Stop()
	e.dev.Uninit()
	e.dev = nil
	if err != nil {
		return fmt.Errorf("miniaudio: stop device: %w", err)
	}
	return nil
}

// Format implements [audio.Engine]. Before the first Start it reports the
// requested format, which may have a zero rate or channel count.
func (e *Engine) Format() audio.Format {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.format
}

// Device implements [audio.Engine].
func (e *Engine) Device() audio.Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.device
}

// Changes implements [audio.Engine]. It fires when the back end stops the
// device on its own, typically because the device disappeared.
func (e *Engine) Changes() <-chan struct{} { return e.changes }

func (e *Engine) notify() {
	select {
	case e.changes <- struct{}{}:
	default:
	}
}

// Devices lists the names of available capture devices.
func (e *Engine) Devices() ([]audio.Device, error) {
	infos, err := e.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: list devices: %w", err)
	}
	out := make([]audio.Device, 0, len(infos))
	for _, info := range infos {
		out = append(out, audio.Device{ID: info.Name(), Name: info.Name()})
	}
	return out, nil
}

func (e *Engine) findDevice(name string) (malgo.DeviceInfo, error) {
	infos, err := e.ctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceInfo{}, fmt.Errorf("miniaudio: list devices: %w", err)
	}
	want := strings.ToLower(name)
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), want) {
			return info, nil
		}
	}
	return malgo.DeviceInfo{}, fmt.Errorf("miniaudio: no capture device matching %q", name)
}

// Close stops capture and releases the miniaudio context.
func (e *Engine) Close() error {
	err := e.Stop()
	if uerr := e.ctx.Uninit(); uerr != nil {
		err = errors.Join(err, fmt.Errorf("miniaudio: uninit context: %w", uerr))
	}
	e.ctx.Free()
	return err
}
