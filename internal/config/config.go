// Package config provides hark's configuration schema, loader, provider
// registry, and hot-reload watcher.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/hark/pkg/capture"
	"github.com/MrWong99/hark/pkg/provider/stt"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration is a time.Duration written in YAML as a Go duration string
// ("300ms", "1m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration, usually loaded with [Load].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Audio      AudioConfig      `yaml:"audio"`
	Capture    CaptureConfig    `yaml:"capture"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Vocabulary VocabularyConfig `yaml:"vocabulary"`
	History    HistoryConfig    `yaml:"history"`
}

// ServerConfig holds the HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the status/control server address (e.g., ":8080").
	// Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig selects and configures the native capture engine.
type AudioConfig struct {
	// Engine names a registered engine. Default: "miniaudio".
	Engine string `yaml:"engine"`

	// Device is a case-insensitive substring of the capture device name.
	// Empty selects the system default.
	Device string `yaml:"device"`

	// SampleRate and Channels request a native format. Zero lets the device
	// choose.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// PeriodMillis is the callback period. Zero uses the back end's default.
	PeriodMillis int `yaml:"period_ms"`

	// TargetSampleRate is the rate submitted to the recognizer.
	// Default: 16000.
	TargetSampleRate int `yaml:"target_sample_rate"`

	// RingCapacityBytes sizes the capture ring. Default: 1 MiB.
	RingCapacityBytes int `yaml:"ring_capacity_bytes"`

	// FormatPollInterval is how often the engine format is re-checked.
	// Default: 250ms.
	FormatPollInterval Duration `yaml:"format_poll_interval"`
}

// CaptureConfig tunes utterance assembly.
type CaptureConfig struct {
	DrainWindow      Duration `yaml:"drain_window"`
	MinUtterance     Duration `yaml:"min_utterance"`
	MaxUtterance     Duration `yaml:"max_utterance"`
	MaxBuffered      Duration `yaml:"max_buffered"`
	PollInterval     Duration `yaml:"poll_interval"`
	IdleInterval     Duration `yaml:"idle_interval"`
	BatchBytes       int      `yaml:"batch_bytes"`
	Language         string   `yaml:"language"`
	RecognizeTimeout Duration `yaml:"recognize_timeout"`

	// DumpDir, when set, receives a WAV file per submitted utterance.
	DumpDir string `yaml:"dump_dir"`
}

// Timings converts the assembly settings.
func (c CaptureConfig) Timings() capture.Timings {
	return capture.Timings{
		DrainWindow:  c.DrainWindow.Std(),
		MinUtterance: c.MinUtterance.Std(),
		MaxUtterance: c.MaxUtterance.Std(),
		MaxBuffered:  c.MaxBuffered.Std(),
		PollInterval: c.PollInterval.Std(),
		IdleInterval: c.IdleInterval.Std(),
		BatchBytes:   c.BatchBytes,
	}
}

// ProvidersConfig declares the recognition backends.
type ProvidersConfig struct {
	// STT is the primary backend.
	STT ProviderEntry `yaml:"stt"`

	// STTFallbacks are tried in order when the primary fails.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
}

// ProviderEntry is the configuration block shared by all backends. Name
// selects the constructor in the [Registry].
type ProviderEntry struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options holds backend-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// ResilienceConfig tunes the per-backend circuit breakers.
type ResilienceConfig struct {
	MaxFailures  int      `yaml:"max_failures"`
	ResetTimeout Duration `yaml:"reset_timeout"`
}

// VocabularyConfig lists domain terms. They are passed to backends as
// keyword hints and used to correct misrecognised text.
type VocabularyConfig struct {
	Terms []string `yaml:"terms"`

	// Boost is the keyword boost sent to backends that support it.
	// Default: 2.
	Boost float64 `yaml:"boost"`

	// Correct enables phonetic post-correction of recognised text.
	Correct bool `yaml:"correct"`

	// FuzzyThreshold is the minimum Jaro-Winkler similarity for a
	// correction. Default: 0.85.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
}

// Keywords returns the terms as keyword hints.
func (v VocabularyConfig) Keywords() []stt.Hint {
	if len(v.Terms) == 0 {
		return nil
	}
	out := make([]stt.Hint, len(v.Terms))
	for i, t := range v.Terms {
		out[i] = stt.Hint{Term: t, Boost: v.Boost}
	}
	return out
}

// HistoryConfig selects the history store.
type HistoryConfig struct {
	// PostgresDSN selects the PostgreSQL store. Empty keeps history in
	// memory.
	PostgresDSN string `yaml:"postgres_dsn"`

	// Limit bounds the in-memory store. Default: 100.
	Limit int `yaml:"limit"`
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}

	a := &c.Audio
	if a.Engine == "" {
		a.Engine = "miniaudio"
	}
	if a.TargetSampleRate == 0 {
		a.TargetSampleRate = capture.DefaultTargetSampleRate
	}
	if a.RingCapacityBytes == 0 {
		a.RingCapacityBytes = capture.DefaultRingCapacity
	}
	if a.FormatPollInterval == 0 {
		a.FormatPollInterval = Duration(250 * time.Millisecond)
	}

	d := capture.DefaultTimings()
	cp := &c.Capture
	setDuration(&cp.DrainWindow, d.DrainWindow)
	setDuration(&cp.MinUtterance, d.MinUtterance)
	setDuration(&cp.MaxUtterance, d.MaxUtterance)
	setDuration(&cp.MaxBuffered, d.MaxBuffered)
	setDuration(&cp.PollInterval, d.PollInterval)
	setDuration(&cp.IdleInterval, d.IdleInterval)
	setDuration(&cp.RecognizeTimeout, 30*time.Second)
	if cp.BatchBytes == 0 {
		cp.BatchBytes = d.BatchBytes
	}

	if c.Resilience.MaxFailures == 0 {
		c.Resilience.MaxFailures = 3
	}
	setDuration(&c.Resilience.ResetTimeout, 30*time.Second)

	if c.Vocabulary.Boost == 0 {
		c.Vocabulary.Boost = 2
	}
	if c.Vocabulary.FuzzyThreshold == 0 {
		c.Vocabulary.FuzzyThreshold = 0.85
	}

	if c.History.Limit == 0 {
		c.History.Limit = 100
	}
}

func setDuration(d *Duration, def time.Duration) {
	if *d == 0 {
		*d = Duration(def)
	}
}
