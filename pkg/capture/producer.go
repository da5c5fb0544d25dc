package capture

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/audio/ring"
)

// Generation identifies one configuration of the native engine. Every
// record the producer writes is tagged with the generation it was captured
// under, so the consumer can discard audio from a previous format without
// resetting the ring underneath itself.
type Generation struct {
	ID     uint32
	Format audio.Format
	Device audio.Device
}

// generation is the snapshot read by the real-time callback. It is replaced
// wholesale, never mutated.
type generation struct {
	Generation

	// install counts engine starts. A sink only writes while its install
	// number is current.
	install uint64
}

// Producer owns the native engine and feeds its buffers into the ring.
//
// The real-time path (the sink's WriteFrames) performs only atomic loads, a
// format comparison, one ring write, and a non-blocking channel send. All
// lifecycle work runs on the caller's goroutine or on the producer's
// supervisor goroutine.
type Producer struct {
	engine       audio.Engine
	ring         *ring.Ring
	pollInterval time.Duration

	gen   atomic.Pointer[generation]
	drift chan struct{}

	// Last format seen by a drifting callback, stored as plain words so the
	// real-time path does not allocate.
	liveRate     atomic.Uint64
	liveChannels atomic.Int64

	stale    atomic.Uint64
	drifted  atomic.Uint64
	rebuilds atomic.Uint64
	failed   atomic.Pointer[error]

	mu      sync.Mutex
	running bool
	nextID  uint32
	install uint64
	stop    chan struct{}
	done    chan struct{}
}

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

// WithFormatPoll makes the supervisor compare the engine's reported format
// against the active generation every d. Zero disables polling; drift is
// then only noticed from the callback or the engine's change notifications.
func WithFormatPoll(d time.Duration) ProducerOption {
	return func(p *Producer) { p.pollInterval = d }
}

// NewProducer returns a stopped producer writing into rb.
func NewProducer(engine audio.Engine, rb *ring.Ring, opts ...ProducerOption) *Producer {
	p := &Producer{
		engine:       engine,
		ring:         rb,
		pollInterval: 250 * time.Millisecond,
		drift:        make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start starts the engine and the supervisor. On failure the engine is left
// stopped, the error is recorded for Err, and an error wrapping
// [ErrEngineStart] is returned.
func (p *Producer) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyRunning
	}
	p.failed.Store(nil)
	p.liveRate.Store(0)
	p.liveChannels.Store(0)
	select {
	case <-p.drift:
	default:
	}
	if err := p.installLocked(false, audio.Format{}); err != nil {
		p.setFailed(err)
		return err
	}
	p.running = true
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.supervise(p.stop, p.done)
	return nil
}

// Stop stops the engine and the supervisor. When Stop returns no callback is
// writing into the ring. Stopping a stopped producer is a no-op.
func (p *Producer) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	stop, done := p.stop, p.done
	err := p.engine.Stop()
	p.mu.Unlock()

	close(stop)
	<-done
	if err != nil {
		return fmt.Errorf("capture: stop engine: %w", err)
	}
	return nil
}

// Running reports whether the producer is started.
func (p *Producer) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Generation returns the active generation. The zero value is returned
// before the first start.
func (p *Producer) Generation() Generation {
	if g := p.gen.Load(); g != nil {
		return g.Generation
	}
	return Generation{}
}

// Err returns the most recent engine start or restart failure since the
// last successful Start, or nil.
func (p *Producer) Err() error {
	if e := p.failed.Load(); e != nil {
		return *e
	}
	return nil
}

// ProducerStats are the producer's counters.
type ProducerStats struct {
	Generation Generation
	Running    bool
	Stale      uint64
	Drifted    uint64
	Rebuilds   uint64
	Err        error
}

// Stats returns a snapshot of the producer's counters.
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		Generation: p.Generation(),
		Running:    p.Running(),
		Stale:      p.stale.Load(),
		Drifted:    p.drifted.Load(),
		Rebuilds:   p.rebuilds.Load(),
		Err:        p.Err(),
	}
}

func (p *Producer) setFailed(err error) {
	p.failed.Store(&err)
}

// installLocked publishes a generation snapshot and starts the engine with a
// sink bound to it. The snapshot uses observed when valid and the engine's
// reported format otherwise. A new generation ID is allocated when forced or
// when the format or device differs from the previous generation. Caller
// holds p.mu and the engine is stopped.
func (p *Producer) installLocked(force bool, observed audio.Format) error {
	f := p.engine.Format()
	if observed.Valid() {
		f = observed
	}
	dev := p.engine.Device()
	prev := p.gen.Load()

	id := uint32(0)
	if prev != nil {
		id = prev.ID
	}
	if force || prev == nil || !prev.Format.Equal(f) || prev.Device != dev {
		p.nextID++
		id = p.nextID
	}
	p.install++
	next := &generation{
		Generation: Generation{ID: id, Format: f, Device: dev},
		install:    p.install,
	}
	p.gen.Store(next)

	if err := p.engine.Start(&sink{p: p, install: next.install}); err != nil {
		return fmt.Errorf("%w: %w", ErrEngineStart, err)
	}

	// Back ends may only settle on a format once the device is open.
	if live := p.engine.Format(); !observed.Valid() && !live.Equal(f) {
		p.nextID++
		p.gen.Store(&generation{
			Generation: Generation{ID: p.nextID, Format: live, Device: p.engine.Device()},
			install:    next.install,
		})
	}
	g := p.gen.Load()
	slog.Debug("capture: engine started", "generation", g.ID, "format", g.Format.String(), "device", g.Device.String())
	return nil
}

// supervise rebuilds the engine when the format drifts or the engine reports
// a configuration change.
func (p *Producer) supervise(stop, done chan struct{}) {
	defer close(done)

	var tick <-chan time.Time
	if p.pollInterval > 0 {
		t := time.NewTicker(p.pollInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-stop:
			return
		case <-p.engine.Changes():
			p.rebuild("engine configuration changed", true, audio.Format{})
		case <-p.drift:
			p.rebuild("callback format drift", false, p.observed())
		case <-tick:
			p.rebuild("format poll", false, audio.Format{})
		}
	}
}

// observed returns the format last reported by a drifting callback.
func (p *Producer) observed() audio.Format {
	return audio.Format{
		SampleRate: math.Float64frombits(p.liveRate.Load()),
		Channels:   int(p.liveChannels.Load()),
	}
}

// rebuild restarts the engine under a new generation. Unless force is set it
// first checks whether the format (observed, or the engine's reported one)
// actually moved away from the active generation.
func (p *Producer) rebuild(reason string, force bool, observed audio.Format) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	cur := p.gen.Load()
	if !force && cur != nil {
		want := p.engine.Format()
		if observed.Valid() {
			want = observed
		}
		if cur.Format.Equal(want) && cur.Device == p.engine.Device() {
			return
		}
	}

	if err := p.engine.Stop(); err != nil {
		slog.Warn("capture: stop engine for rebuild", "err", err)
	}
	p.rebuilds.Add(1)
	if err := p.installLocked(true, observed); err != nil {
		p.setFailed(err)
		slog.Error("capture: engine restart failed", "reason", reason, "err", err)
		return
	}
	g := p.gen.Load()
	slog.Info("capture: engine rebuilt", "reason", reason, "generation", g.ID, "format", g.Format.String())
}

// sink is the [audio.FrameSink] handed to the engine for one install.
type sink struct {
	p       *Producer
	install uint64
}

// WriteFrames runs on the real-time thread.
func (s *sink) WriteFrames(data []byte, f audio.Format) {
	g := s.p.gen.Load()
	if g == nil || g.install != s.install {
		s.p.stale.Add(1)
		return
	}
	if !g.Format.Equal(f) {
		s.p.drifted.Add(1)
		s.p.liveRate.Store(math.Float64bits(f.SampleRate))
		s.p.liveChannels.Store(int64(f.Channels))
		select {
		case s.p.drift <- struct{}{}:
		default:
		}
		return
	}
	s.p.ring.WriteTagged(g.ID, data)
}
