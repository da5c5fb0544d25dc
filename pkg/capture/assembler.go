package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/audio/ring"
	"github.com/MrWong99/hark/pkg/provider/stt"
)

// Timings tunes the assembler. The zero value of a field means "use the
// default" when passed through [Timings.withDefaults].
type Timings struct {
	// DrainWindow is how long capture continues after RequestEnd so trailing
	// audio still in flight is not clipped.
	DrainWindow time.Duration

	// MinUtterance is the shortest utterance submitted for recognition.
	MinUtterance time.Duration

	// MaxUtterance bounds an epoch's capture time.
	MaxUtterance time.Duration

	// MaxBuffered caps the accumulated audio. Older audio is dropped from
	// the front when exceeded.
	MaxBuffered time.Duration

	// PollInterval is the assembler's tick while the gate is open.
	PollInterval time.Duration

	// IdleInterval bounds how long the assembler sleeps while the gate is
	// closed before re-checking it.
	IdleInterval time.Duration

	// BatchBytes caps the ring bytes consumed per tick.
	BatchBytes int
}

// DefaultTimings returns the stock timings.
func DefaultTimings() Timings {
	return Timings{
		DrainWindow:  300 * time.Millisecond,
		MinUtterance: 250 * time.Millisecond,
		MaxUtterance: 60 * time.Second,
		MaxBuffered:  120 * time.Second,
		PollInterval: 10 * time.Millisecond,
		IdleInterval: 50 * time.Millisecond,
		BatchBytes:   256 << 10,
	}
}

func (t Timings) withDefaults() Timings {
	d := DefaultTimings()
	if t.DrainWindow <= 0 {
		t.DrainWindow = d.DrainWindow
	}
	if t.MinUtterance < 0 {
		t.MinUtterance = 0
	}
	if t.MaxUtterance <= 0 {
		t.MaxUtterance = d.MaxUtterance
	}
	if t.MaxBuffered <= 0 {
		t.MaxBuffered = d.MaxBuffered
	}
	if t.PollInterval <= 0 {
		t.PollInterval = d.PollInterval
	}
	if t.IdleInterval <= 0 {
		t.IdleInterval = d.IdleInterval
	}
	if t.BatchBytes <= 0 {
		t.BatchBytes = d.BatchBytes
	}
	return t
}

// Assembler is the consumer side of the pipeline. It waits for the gate to
// open, drives the producer for the duration of the epoch, drains and
// converts ring records into one utterance, and hands it to the recognizer.
type Assembler struct {
	gate       *Gate
	ring       *ring.Ring
	producer   *Producer
	conv       *audio.FloatConverter
	recognizer stt.Provider
	onOutcome  func(Outcome)

	timings          atomic.Pointer[Timings]
	recognizeTimeout time.Duration
	dumpDir          string

	hintsMu  sync.RWMutex
	language string
	keywords []stt.Hint

	scratch []byte

	epochs        atomic.Uint64
	staleRecords  atomic.Uint64
	genDiscards   atomic.Uint64
	trimmedBytes  atomic.Uint64
	lastUtterance atomic.Int64
}

// AssemblerConfig holds the Assembler's collaborators and settings.
type AssemblerConfig struct {
	Gate       *Gate
	Ring       *ring.Ring
	Producer   *Producer
	Recognizer stt.Provider

	// TargetRate is the recognizer's sample rate. Output is always mono.
	TargetRate int

	Timings          Timings
	RecognizeTimeout time.Duration
	Language         string
	Keywords         []stt.Hint

	// DumpDir, when set, receives a WAV file for every submitted utterance.
	DumpDir string

	// OnOutcome is called once per epoch on the assembler goroutine.
	OnOutcome func(Outcome)
}

// NewAssembler returns an assembler. Call Run to start it.
func NewAssembler(cfg AssemblerConfig) (*Assembler, error) {
	var errs []error
	if cfg.Gate == nil {
		errs = append(errs, errors.New("gate is required"))
	}
	if cfg.Ring == nil {
		errs = append(errs, errors.New("ring is required"))
	}
	if cfg.Producer == nil {
		errs = append(errs, errors.New("producer is required"))
	}
	if cfg.Recognizer == nil {
		errs = append(errs, errors.New("recognizer is required"))
	}
	if cfg.TargetRate <= 0 {
		errs = append(errs, fmt.Errorf("target rate %d must be positive", cfg.TargetRate))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("capture: assembler: %w", err)
	}

	a := &Assembler{
		gate:             cfg.Gate,
		ring:             cfg.Ring,
		producer:         cfg.Producer,
		conv:             audio.NewFloatConverter(cfg.TargetRate),
		recognizer:       cfg.Recognizer,
		onOutcome:        cfg.OnOutcome,
		recognizeTimeout: cfg.RecognizeTimeout,
		dumpDir:          cfg.DumpDir,
		language:         cfg.Language,
		keywords:         cfg.Keywords,
		scratch:          make([]byte, cfg.Ring.Capacity()),
	}
	if a.recognizeTimeout <= 0 {
		a.recognizeTimeout = 30 * time.Second
	}
	a.SetTimings(cfg.Timings)
	return a, nil
}

// SetTimings replaces the timings. The change applies from the next epoch.
func (a *Assembler) SetTimings(t Timings) {
	t = t.withDefaults()
	a.timings.Store(&t)
}

// Timings returns the active timings.
func (a *Assembler) Timings() Timings { return *a.timings.Load() }

// SetHints replaces the language and keyword hints passed to the recognizer.
func (a *Assembler) SetHints(language string, keywords []stt.Hint) {
	a.hintsMu.Lock()
	defer a.hintsMu.Unlock()
	a.language = language
	a.keywords = keywords
}

func (a *Assembler) hints() (string, []stt.Hint) {
	a.hintsMu.RLock()
	defer a.hintsMu.RUnlock()
	return a.language, a.keywords
}

// Run processes epochs until ctx is cancelled. It returns ctx.Err().
func (a *Assembler) Run(ctx context.Context) error {
	for {
		snap := a.gate.Snapshot()
		if snap.Open {
			a.runEpoch(ctx, snap.Epoch)
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}

		changed := a.gate.Changed()
		if a.gate.Snapshot().Open {
			continue
		}
		idle := time.NewTimer(a.Timings().IdleInterval)
		select {
		case <-ctx.Done():
			idle.Stop()
			return ctx.Err()
		case <-changed:
		case <-idle.C:
		}
		idle.Stop()
	}
}

// epochState is the per-epoch working set.
type epochState struct {
	epoch   uint64
	gen     Generation
	acc     []byte
	started time.Time
}

// runEpoch captures, assembles, and recognises one utterance. It always
// closes the gate for epoch and emits exactly one Outcome.
func (a *Assembler) runEpoch(ctx context.Context, epoch uint64) {
	t := a.Timings()
	a.epochs.Add(1)
	st := &epochState{epoch: epoch, started: time.Now()}
	defer a.gate.CloseEpoch(epoch)

	// The engine is stopped between epochs, so the producer side is quiet.
	a.ring.Reset()
	if err := a.producer.Start(); err != nil {
		slog.Error("capture: engine start failed", "epoch", epoch, "err", err)
		a.emit(st, Outcome{Kind: OutcomeEngineFailure, Err: err})
		return
	}
	st.gen = a.producer.Generation()
	a.adopt(st, st.gen)

	maxBytes := audio.PCM16Bytes(t.MaxBuffered, a.conv.TargetRate, 1)
	ticker := time.NewTicker(t.PollInterval)
	defer ticker.Stop()

	var deadline time.Time
	superseded := false
	for {
		a.drain(st, t.BatchBytes)
		a.resync(st)
		st.acc = a.capFront(st.acc, maxBytes)

		if err := a.producer.Err(); err != nil {
			a.stopProducer()
			slog.Error("capture: engine lost mid-utterance", "epoch", epoch, "err", err)
			a.emit(st, Outcome{Kind: OutcomeEngineFailure, Err: err})
			return
		}

		snap := a.gate.Snapshot()
		now := time.Now()
		if snap.Epoch != epoch {
			superseded = true
			break
		}
		if !snap.Open {
			break
		}
		if snap.EndRequested && deadline.IsZero() {
			deadline = now.Add(t.DrainWindow)
		}
		if !deadline.IsZero() && !now.Before(deadline) {
			break
		}
		if now.Sub(st.started) >= t.MaxUtterance {
			slog.Info("capture: maximum utterance length reached", "epoch", epoch, "max", t.MaxUtterance)
			break
		}

		select {
		case <-ctx.Done():
			a.stopProducer()
			a.emit(st, Outcome{Kind: OutcomeTransportError, Err: ctx.Err()})
			return
		case <-ticker.C:
		}
	}

	a.stopProducer()
	// Whatever the callback wrote before the engine stopped.
	a.drain(st, a.ring.Capacity())
	a.resync(st)
	st.acc = a.capFront(st.acc, maxBytes)

	if superseded {
		a.emit(st, Outcome{Kind: OutcomeSuperseded})
		return
	}
	a.finish(ctx, st, t)
}

func (a *Assembler) stopProducer() {
	if err := a.producer.Stop(); err != nil {
		slog.Warn("capture: stop producer", "err", err)
	}
}

// drain consumes up to budget ring bytes, converting records of the current
// generation and discarding the rest.
func (a *Assembler) drain(st *epochState, budget int) {
	consumed := 0
	for consumed < budget {
		n, ok := a.ring.Read(a.scratch)
		if !ok {
			return
		}
		consumed += n + ring.HeaderSize
		if n < 4 {
			a.staleRecords.Add(1)
			continue
		}
		rec := a.scratch[:n]
		tag := binary.LittleEndian.Uint32(rec)
		if tag != st.gen.ID {
			live := a.producer.Generation()
			if tag != live.ID {
				a.staleRecords.Add(1)
				continue
			}
			a.adopt(st, live)
		}
		st.acc = append(st.acc, a.conv.Convert(rec[4:])...)
	}
}

// resync adopts the producer's live generation when it moved on, even if
// none of its audio has been drained yet.
func (a *Assembler) resync(st *epochState) {
	if live := a.producer.Generation(); live.ID != st.gen.ID {
		a.adopt(st, live)
	}
}

// adopt switches the epoch to gen. Audio assembled under a previous format
// is discarded.
func (a *Assembler) adopt(st *epochState, gen Generation) {
	if len(st.acc) > 0 && gen.ID != st.gen.ID {
		a.genDiscards.Add(1)
		slog.Info("capture: audio format changed mid-utterance, discarding buffered audio",
			"epoch", st.epoch,
			"from", st.gen.Format.String(),
			"to", gen.Format.String(),
			"discarded", audio.PCM16Duration(len(st.acc), a.conv.TargetRate, 1),
		)
		st.acc = st.acc[:0]
	}
	st.gen = gen
	if !a.conv.Ensure(gen.Format.SampleRate, gen.Format.Channels) {
		a.conv.Reset()
	}
}

// capFront keeps at most maxBytes of the newest audio.
func (a *Assembler) capFront(acc []byte, maxBytes int) []byte {
	if maxBytes <= 0 || len(acc) <= maxBytes {
		return acc
	}
	excess := len(acc) - maxBytes
	excess += excess % 2
	a.trimmedBytes.Add(uint64(excess))
	n := copy(acc, acc[excess:])
	return acc[:n]
}

// finish applies the duration bounds and runs recognition.
func (a *Assembler) finish(ctx context.Context, st *epochState, t Timings) {
	dur := audio.PCM16Duration(len(st.acc), a.conv.TargetRate, 1)
	a.lastUtterance.Store(int64(dur))
	if len(st.acc) == 0 {
		a.emit(st, Outcome{Kind: OutcomeEmpty})
		return
	}
	if dur < t.MinUtterance {
		slog.Debug("capture: utterance too short", "epoch", st.epoch, "duration", dur, "min", t.MinUtterance)
		a.emit(st, Outcome{Kind: OutcomeTooShort, Audio: dur})
		return
	}

	if a.dumpDir != "" {
		a.dump(st, dur)
	}

	lang, keywords := a.hints()
	rctx, cancel := context.WithTimeout(ctx, a.recognizeTimeout)
	defer cancel()

	began := time.Now()
	tr, err := a.recognizer.Transcribe(rctx, stt.Request{
		Audio:      st.acc,
		SampleRate: a.conv.TargetRate,
		Channels:   1,
		Language:   lang,
		Keywords:   keywords,
	})
	out := Outcome{Audio: dur, Latency: time.Since(began), Provider: tr.Provider}

	switch {
	case errors.Is(err, stt.ErrNoSpeech):
		out.Kind = OutcomeNoSpeech
	case err != nil:
		out.Err = err
		out.Kind = OutcomeBackendError
		if stt.Classify(err) == stt.FailureTransport {
			out.Kind = OutcomeTransportError
		}
		var se *stt.Error
		if errors.As(err, &se) && out.Provider == "" {
			out.Provider = se.Provider
		}
		slog.Warn("capture: recognition failed", "epoch", st.epoch, "kind", out.Kind.String(), "err", err)
	case tr.Text == "":
		out.Kind = OutcomeNoSpeech
	default:
		out.Kind = OutcomeRecognized
		out.Text = tr.Text
		out.Confidence = tr.Confidence
		out.Tier = TierOf(tr.Confidence)
	}
	a.emit(st, out)
}

// dump writes the utterance as a WAV file. Failures are logged only.
func (a *Assembler) dump(st *epochState, dur time.Duration) {
	wav, err := audio.EncodeWAV(st.acc, a.conv.TargetRate, 1)
	if err == nil {
		name := fmt.Sprintf("utterance-%06d-%s.wav", st.epoch, st.started.UTC().Format("20060102T150405.000"))
		err = os.WriteFile(filepath.Join(a.dumpDir, name), wav, 0o644)
	}
	if err != nil {
		slog.Warn("capture: dump utterance", "dir", a.dumpDir, "err", err)
		return
	}
	slog.Debug("capture: utterance dumped", "epoch", st.epoch, "duration", dur)
}

func (a *Assembler) emit(st *epochState, out Outcome) {
	out.Epoch = st.epoch
	out.Generation = st.gen.ID
	out.Device = st.gen.Device
	out.Started = st.started
	out.Ended = time.Now()
	if a.onOutcome != nil {
		a.onOutcome(out)
	}
}

// AssemblerStats are the assembler's counters.
type AssemblerStats struct {
	Epochs             uint64
	StaleRecords       uint64
	GenerationDiscards uint64
	TrimmedBytes       uint64
	ConversionFailures uint64
	LastUtterance      time.Duration
}

// Stats returns a snapshot of the assembler's counters.
func (a *Assembler) Stats() AssemblerStats {
	return AssemblerStats{
		Epochs:             a.epochs.Load(),
		StaleRecords:       a.staleRecords.Load(),
		GenerationDiscards: a.genDiscards.Load(),
		TrimmedBytes:       a.trimmedBytes.Load(),
		ConversionFailures: a.conv.Failures(),
		LastUtterance:      time.Duration(a.lastUtterance.Load()),
	}
}
