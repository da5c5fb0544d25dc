// Package app wires hark's subsystems into a running service.
//
// New builds everything from a config and a provider registry, Run drives
// the capture pipeline and the HTTP control server, and Shutdown releases
// resources in reverse construction order. Tests inject doubles through
// Options.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hark/internal/config"
	"github.com/MrWong99/hark/internal/history"
	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/internal/resilience"
	"github.com/MrWong99/hark/internal/transcript"
	"github.com/MrWong99/hark/internal/transcript/phonetic"
	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/capture"
	"github.com/MrWong99/hark/pkg/provider/stt"
)

// historyTimeout bounds a history write made on the assembler goroutine.
const historyTimeout = 2 * time.Second

// App owns the capture pipeline and everything around it.
type App struct {
	cfg      *config.Config
	level    *slog.LevelVar
	metrics  *observe.Metrics
	engine   audio.Engine
	recog    stt.Provider
	fallback *resilience.STTFallback
	history  history.Store
	pipeline *capture.Pipeline
	events   *broadcaster

	corrector atomic.Pointer[transcript.Corrector]
	last      atomic.Pointer[history.Entry]

	// closers run in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option configures New.
type Option func(*App)

// WithEngine injects a capture engine instead of creating one from the
// registry.
func WithEngine(e audio.Engine) Option {
	return func(a *App) { a.engine = e }
}

// WithRecognizer injects the recognizer instead of building the fallback
// chain from the registry.
func WithRecognizer(p stt.Provider) Option {
	return func(a *App) { a.recog = p }
}

// WithHistory injects a history store.
func WithHistory(s history.Store) Option {
	return func(a *App) { a.history = s }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets configuration reloads change the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// New builds an App. reg may be nil when both the engine and the recognizer
// are injected.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, events: newBroadcaster()}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initEngine(reg); err != nil {
		return nil, a.abort(fmt.Errorf("app: init engine: %w", err))
	}
	if err := a.initRecognizer(reg); err != nil {
		return nil, a.abort(fmt.Errorf("app: init recognizer: %w", err))
	}
	if err := a.initHistory(ctx); err != nil {
		return nil, a.abort(fmt.Errorf("app: init history: %w", err))
	}
	a.setVocabulary(cfg.Vocabulary)

	p, err := capture.New(capture.Config{
		Engine:             a.engine,
		Recognizer:         a.recog,
		RingCapacity:       cfg.Audio.RingCapacityBytes,
		TargetSampleRate:   cfg.Audio.TargetSampleRate,
		Timings:            cfg.Capture.Timings(),
		FormatPollInterval: cfg.Audio.FormatPollInterval.Std(),
		RecognizeTimeout:   cfg.Capture.RecognizeTimeout.Std(),
		Language:           cfg.Capture.Language,
		Keywords:           cfg.Vocabulary.Keywords(),
		DumpDir:            cfg.Capture.DumpDir,
		OnOutcome:          a.handleOutcome,
	})
	if err != nil {
		return nil, a.abort(fmt.Errorf("app: init pipeline: %w", err))
	}
	a.pipeline = p

	unregister, err := a.metrics.ObserveCapture(a.captureSnapshot)
	if err != nil {
		return nil, a.abort(fmt.Errorf("app: register capture metrics: %w", err))
	}
	a.closers = append([]func() error{unregister}, a.closers...)

	return a, nil
}

// abort releases whatever New had built before failing.
func (a *App) abort(err error) error {
	for _, c := range a.closers {
		if cerr := c(); cerr != nil {
			slog.Warn("app: cleanup after failed init", "err", cerr)
		}
	}
	a.closers = nil
	return err
}

func (a *App) initEngine(reg *config.Registry) error {
	if a.engine == nil {
		if reg == nil {
			return errors.New("no engine injected and no registry")
		}
		e, err := reg.CreateEngine(a.cfg.Audio)
		if err != nil {
			return err
		}
		a.engine = e
	}
	if c, ok := a.engine.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	slog.Info("capture engine ready", "engine", a.cfg.Audio.Engine, "device", a.engine.Device().String())
	return nil
}

// initRecognizer builds the primary recognizer and its fallbacks. Every
// member is traced under its own name; the chain adds circuit breakers.
func (a *App) initRecognizer(reg *config.Registry) error {
	if a.recog != nil {
		return nil
	}
	if reg == nil {
		return errors.New("no recognizer injected and no registry")
	}

	build := func(e config.ProviderEntry) (stt.Provider, error) {
		p, err := reg.CreateSTT(e)
		if err != nil {
			return nil, fmt.Errorf("create stt %q: %w", e.Name, err)
		}
		if c, ok := p.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
		slog.Info("provider created", "kind", "stt", "name", e.Name)
		return observe.NewTracedRecognizer(p, e.Name, a.metrics), nil
	}

	primary, err := build(a.cfg.Providers.STT)
	if err != nil {
		return err
	}
	a.fallback = resilience.NewSTTFallback(primary, a.cfg.Providers.STT.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  a.cfg.Resilience.MaxFailures,
			ResetTimeout: a.cfg.Resilience.ResetTimeout.Std(),
		},
	})
	for _, e := range a.cfg.Providers.STTFallbacks {
		p, err := build(e)
		if err != nil {
			return err
		}
		a.fallback.AddFallback(e.Name, p)
	}
	a.recog = a.fallback
	return nil
}

func (a *App) initHistory(ctx context.Context) error {
	if a.history == nil {
		if dsn := a.cfg.History.PostgresDSN; dsn != "" {
			s, err := history.NewPostgresStore(ctx, dsn)
			if err != nil {
				return err
			}
			a.history = s
			slog.Info("history store ready", "backend", "postgres")
		} else {
			a.history = history.NewMemoryStore(a.cfg.History.Limit)
			slog.Info("history store ready", "backend", "memory", "limit", a.cfg.History.Limit)
		}
	}
	a.closers = append(a.closers, func() error {
		a.history.Close()
		return nil
	})
	return nil
}

// setVocabulary installs or clears the corrector.
func (a *App) setVocabulary(v config.VocabularyConfig) {
	if !v.Correct || len(v.Terms) == 0 {
		a.corrector.Store(nil)
		return
	}
	a.corrector.Store(transcript.NewCorrector(v.Terms, phonetic.WithFuzzyThreshold(v.FuzzyThreshold)))
}

// Pipeline returns the capture pipeline.
func (a *App) Pipeline() *capture.Pipeline { return a.pipeline }

// History returns the history store.
func (a *App) History() history.Store { return a.history }

// Run drives the pipeline and, when a listen address is configured, the HTTP
// server until ctx is cancelled or either fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.pipeline.Run(ctx)
	})

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("http server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// handleOutcome runs on the assembler goroutine for every finished epoch.
func (a *App) handleOutcome(o capture.Outcome) {
	ctx := context.Background()

	var raw string
	var fixes []transcript.Correction
	if c := a.corrector.Load(); c != nil && o.OK() {
		text, f := c.Correct(o.Text)
		if len(f) > 0 {
			raw, fixes = o.Text, f
			o.Text = text
		}
	}

	tier := ""
	if o.OK() {
		tier = o.Tier.String()
	}
	a.metrics.RecordOutcome(ctx, o.Kind.String(), tier, o.Audio.Seconds())

	entry := history.FromOutcome(o, raw, fixes)
	hctx, cancel := context.WithTimeout(ctx, historyTimeout)
	id, err := a.history.Append(hctx, entry)
	cancel()
	if err != nil {
		slog.Warn("history append failed", "epoch", o.Epoch, "err", err)
	}
	entry.ID = id
	a.last.Store(&entry)
	a.events.publish(entry)

	attrs := []any{
		"epoch", o.Epoch,
		"kind", o.Kind.String(),
		"audio", o.Audio,
	}
	switch {
	case o.OK():
		slog.Info("utterance recognized", append(attrs,
			"text", o.Text,
			"confidence", o.Confidence,
			"tier", tier,
			"provider", o.Provider,
			"latency", o.Latency,
			"corrections", len(fixes),
		)...)
	case o.Err != nil:
		slog.Warn("utterance failed", append(attrs, "err", o.Err)...)
	default:
		slog.Info("utterance dropped", attrs...)
	}
}

func (a *App) captureSnapshot() observe.CaptureSnapshot {
	st := a.pipeline.Status()
	return observe.CaptureSnapshot{
		GateOpen:           st.Gate.Open,
		RingUtilization:    st.Ring.Utilization(),
		RingWrites:         st.Ring.Writes,
		RingDrops:          st.Ring.Drops,
		RingDropBytes:      st.Ring.DropBytes,
		StaleRecords:       st.Assembler.StaleRecords,
		ConversionFailures: st.Assembler.ConversionFailures,
		FormatDrifts:       st.Producer.Drifted,
		Rebuilds:           st.Producer.Rebuilds,
	}
}

// Shutdown releases resources in order. It returns ctx.Err() when the
// deadline passes before every closer ran.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.events.close()
		var errs []error
		for i, c := range a.closers {
			if ctx.Err() != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				errs = append(errs, ctx.Err())
				break
			}
			if cerr := c(); cerr != nil {
				errs = append(errs, cerr)
			}
		}
		err = errors.Join(errs...)
	})
	return err
}
