// Package capture implements the push-to-talk pipeline: a gate that frames
// utterances, a producer that moves native capture buffers from the audio
// engine's real-time callback into a lock-free ring, and an assembler that
// drains the ring, converts the audio, and hands each finished utterance to
// a speech recognizer.
//
// Usage:
//
//	p, err := capture.New(capture.Config{
//	    Engine:     eng,
//	    Recognizer: recognizer,
//	    OnOutcome:  func(o capture.Outcome) { ... },
//	})
//	go p.Run(ctx)
//	p.Begin()
//	// ... user speaks ...
//	p.RequestEnd()
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/audio/ring"
	"github.com/MrWong99/hark/pkg/provider/stt"
)

const (
	// DefaultRingCapacity holds roughly 2.5 s of 48 kHz stereo float32.
	DefaultRingCapacity = 1 << 20

	// DefaultTargetSampleRate is the rate most recognizers expect.
	DefaultTargetSampleRate = 16000
)

// Config assembles a Pipeline.
type Config struct {
	// Engine is the native capture back end. Required.
	Engine audio.Engine

	// Recognizer transcribes finished utterances. Required.
	Recognizer stt.Provider

	// RingCapacity is the ring size in bytes. Defaults to DefaultRingCapacity.
	RingCapacity int

	// TargetSampleRate is the rate submitted to the recognizer. Defaults to
	// DefaultTargetSampleRate.
	TargetSampleRate int

	// Timings tunes the assembler. Zero fields take their defaults.
	Timings Timings

	// FormatPollInterval is how often the engine's reported format is
	// compared against the active generation. Zero uses the producer
	// default; negative disables polling.
	FormatPollInterval time.Duration

	// RecognizeTimeout bounds each recognition call. Defaults to 30 s.
	RecognizeTimeout time.Duration

	Language string
	Keywords []stt.Hint

	// DumpDir, when set, receives a WAV file for every submitted utterance.
	DumpDir string

	// OnOutcome receives every Outcome, on the assembler goroutine.
	OnOutcome func(Outcome)
}

// Pipeline ties a Gate, Producer, ring, and Assembler together.
type Pipeline struct {
	gate      *Gate
	ring      *ring.Ring
	producer  *Producer
	assembler *Assembler

	mu   sync.Mutex
	last *Outcome
	sub  func(Outcome)

	runMu   sync.Mutex
	running bool
}

// New validates cfg and builds a stopped Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Engine == nil {
		return nil, errors.New("capture: engine is required")
	}
	if cfg.Recognizer == nil {
		return nil, errors.New("capture: recognizer is required")
	}
	if cfg.RingCapacity == 0 {
		cfg.RingCapacity = DefaultRingCapacity
	}
	if cfg.TargetSampleRate == 0 {
		cfg.TargetSampleRate = DefaultTargetSampleRate
	}

	rb, err := ring.New(cfg.RingCapacity)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}

	var popts []ProducerOption
	switch {
	case cfg.FormatPollInterval > 0:
		popts = append(popts, WithFormatPoll(cfg.FormatPollInterval))
	case cfg.FormatPollInterval < 0:
		popts = append(popts, WithFormatPoll(0))
	}

	p := &Pipeline{
		gate:     NewGate(),
		ring:     rb,
		producer: NewProducer(cfg.Engine, rb, popts...),
		sub:      cfg.OnOutcome,
	}
	p.assembler, err = NewAssembler(AssemblerConfig{
		Gate:             p.gate,
		Ring:             rb,
		Producer:         p.producer,
		Recognizer:       cfg.Recognizer,
		TargetRate:       cfg.TargetSampleRate,
		Timings:          cfg.Timings,
		RecognizeTimeout: cfg.RecognizeTimeout,
		Language:         cfg.Language,
		Keywords:         cfg.Keywords,
		DumpDir:          cfg.DumpDir,
		OnOutcome:        p.deliver,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Gate exposes the pipeline's gate for trigger sources.
func (p *Pipeline) Gate() *Gate { return p.gate }

// Begin opens a new epoch. It supersedes any epoch still in progress.
func (p *Pipeline) Begin() uint64 { return p.gate.Begin() }

// RequestEnd releases the current epoch. Capture continues for the drain
// window before the utterance is finalised.
func (p *Pipeline) RequestEnd() uint64 { return p.gate.RequestEnd() }

// SetTimings replaces the assembler timings from the next epoch on.
func (p *Pipeline) SetTimings(t Timings) { p.assembler.SetTimings(t) }

// SetHints replaces the language and keyword hints.
func (p *Pipeline) SetHints(language string, keywords []stt.Hint) {
	p.assembler.SetHints(language, keywords)
}

// Run drives the assembler until ctx is cancelled, then stops the producer.
// It returns ErrAlreadyRunning if Run is already active.
func (p *Pipeline) Run(ctx context.Context) error {
	p.runMu.Lock()
	if p.running {
		p.runMu.Unlock()
		return ErrAlreadyRunning
	}
	p.running = true
	p.runMu.Unlock()
	defer func() {
		p.runMu.Lock()
		p.running = false
		p.runMu.Unlock()
	}()

	err := p.assembler.Run(ctx)
	p.gate.Close()
	if serr := p.producer.Stop(); serr != nil {
		err = errors.Join(err, serr)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pipeline) deliver(o Outcome) {
	p.mu.Lock()
	p.last = &o
	sub := p.sub
	p.mu.Unlock()
	if sub != nil {
		sub(o)
	}
}

// LastOutcome returns the most recent outcome, if any.
func (p *Pipeline) LastOutcome() (Outcome, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return Outcome{}, false
	}
	return *p.last, true
}
