// Package mock provides an in-memory implementation of [audio.Engine] for use
// in unit tests.
//
// The mock is safe for concurrent use. It records every lifecycle call so that
// tests can assert on call counts, and it lets the test push capture buffers
// into whatever sink is currently installed, standing in for the real-time
// callback.
//
// Typical usage:
//
//	eng := mock.NewEngine(audio.Format{SampleRate: 48000, Channels: 1})
//	p := capture.NewProducer(eng, rb)
//	_ = p.Start()
//	eng.Emit(audio.Float32Bytes(samples))
package mock

import (
	"sync"

	"github.com/MrWong99/hark/pkg/audio"
)

var _ audio.Engine = (*Engine)(nil)

// Engine is a mock implementation of [audio.Engine].
// Once the engine is shared with a running pipeline, change it through
// [Engine.SetStartError], [Engine.SetFormat] and [Engine.Notify], and read
// it through [Engine.Starts] and [Engine.Running]. The exported fields may
// only be touched directly before that, or after the pipeline has stopped.
type Engine struct {
	mu      sync.Mutex
	sink    audio.FrameSink
	format  audio.Format
	device  audio.Device
	changes chan struct{}

	// StartError is returned by Start while non-nil. Start does not install
	// the sink in that case.
	StartError error

	// StopError is returned by Stop.
	StopError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

// NewEngine returns a stopped mock engine reporting f.
func NewEngine(f audio.Format) *Engine {
	return &Engine{
		format:  f,
		changes: make(chan struct{}, 1),
	}
}

// Start implements [audio.Engine].
func (e *Engine) Start(sink audio.FrameSink) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CallCountStart++
	if e.StartError != nil {
		return e.StartError
	}
	e.sink = sink
	return nil
}

// Stop implements [audio.Engine].
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CallCountStop++
	e.sink = nil
	return e.StopError
}

// Format implements [audio.Engine].
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

// Changes implements [audio.Engine].
func (e *Engine) Changes() <-chan struct{} { return e.changes }

// Running reports whether a sink is installed.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sink != nil
}

// Starts returns CallCountStart under the lock.
func (e *Engine) Starts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.CallCountStart
}

// SetStartError replaces StartError under the lock.
func (e *Engine) SetStartError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.StartError = err
}

// Emit delivers data to the installed sink tagged with the engine's current
// format, as the real-time callback would. It reports false when the engine
// is stopped.
func (e *Engine) Emit(data []byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sink == nil {
		return false
	}
	e.sink.WriteFrames(data, e.format)
	return true
}

// EmitAs delivers data tagged with f regardless of the reported format,
// simulating a back end whose live stream drifted.
func (e *Engine) EmitAs(data []byte, f audio.Format) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sink == nil {
		return false
	}
	e.sink.WriteFrames(data, f)
	return true
}

// SetFormat changes the reported format without notifying Changes.
func (e *Engine) SetFormat(f audio.Format) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.format = f
}

// SetDevice switches the reported device and notifies Changes.
func (e *Engine) SetDevice(d audio.Device) {
	e.mu.Lock()
	e.device = d
	e.mu.Unlock()
	e.Notify()
}

// Notify signals Changes without blocking.
func (e *Engine) Notify() {
	select {
	case e.changes <- struct{}{}:
	default:
	}
}
