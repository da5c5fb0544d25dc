package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/hark/pkg/audio/ring"
)

// KnownSTTProviders lists the recognition backends shipped with hark. Validate
// warns about other names, which may belong to third-party registrations.
var KnownSTTProviders = []string{"whisper", "whisper-native", "deepgram", "openai"}

// Load reads, defaults, and validates the YAML file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r, applies defaults, and validates the
// result. Unknown fields are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg for coherence and returns every problem found, joined.
// Soft issues are logged as warnings.
func Validate(cfg *Config) error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		bad("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}

	a := cfg.Audio
	if a.SampleRate < 0 {
		bad("audio.sample_rate %d must not be negative", a.SampleRate)
	}
	if a.Channels < 0 || a.Channels > 8 {
		bad("audio.channels %d is out of range [0, 8]", a.Channels)
	}
	if a.PeriodMillis < 0 {
		bad("audio.period_ms %d must not be negative", a.PeriodMillis)
	}
	if a.TargetSampleRate < 8000 || a.TargetSampleRate > 48000 {
		bad("audio.target_sample_rate %d is out of range [8000, 48000]", a.TargetSampleRate)
	}
	if a.RingCapacityBytes < ring.MinCapacity {
		bad("audio.ring_capacity_bytes %d is below the minimum of %d", a.RingCapacityBytes, ring.MinCapacity)
	}
	if a.FormatPollInterval < 0 {
		bad("audio.format_poll_interval must not be negative")
	}

	c := cfg.Capture
	for name, d := range map[string]Duration{
		"drain_window":      c.DrainWindow,
		"min_utterance":     c.MinUtterance,
		"max_utterance":     c.MaxUtterance,
		"max_buffered":      c.MaxBuffered,
		"poll_interval":     c.PollInterval,
		"idle_interval":     c.IdleInterval,
		"recognize_timeout": c.RecognizeTimeout,
	} {
		if d < 0 {
			bad("capture.%s must not be negative", name)
		}
	}
	if c.MinUtterance >= c.MaxUtterance {
		bad("capture.min_utterance %v must be shorter than capture.max_utterance %v", c.MinUtterance.Std(), c.MaxUtterance.Std())
	}
	if c.MaxBuffered < c.MaxUtterance {
		slog.Warn("capture.max_buffered is shorter than capture.max_utterance; long utterances lose their beginning",
			"max_buffered", c.MaxBuffered.Std(),
			"max_utterance", c.MaxUtterance.Std(),
		)
	}
	if c.PollInterval.Std() > time.Second {
		slog.Warn("capture.poll_interval above 1s delays utterance finalisation", "poll_interval", c.PollInterval.Std())
	}
	if c.BatchBytes < 0 {
		bad("capture.batch_bytes %d must not be negative", c.BatchBytes)
	}
	if c.DumpDir != "" {
		if info, err := os.Stat(c.DumpDir); err != nil || !info.IsDir() {
			bad("capture.dump_dir %q is not a directory", c.DumpDir)
		}
	}

	if cfg.Providers.STT.Name == "" {
		bad("providers.stt.name is required")
	}
	validateProviderName("providers.stt", cfg.Providers.STT.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		field := fmt.Sprintf("providers.stt_fallbacks[%d]", i)
		if fb.Name == "" {
			bad("%s.name is required", field)
		}
		validateProviderName(field, fb.Name)
	}

	if cfg.Resilience.MaxFailures < 0 {
		bad("resilience.max_failures %d must not be negative", cfg.Resilience.MaxFailures)
	}

	v := cfg.Vocabulary
	if v.FuzzyThreshold < 0 || v.FuzzyThreshold > 1 {
		bad("vocabulary.fuzzy_threshold %.2f is out of range [0, 1]", v.FuzzyThreshold)
	}
	if v.Correct && len(v.Terms) == 0 {
		slog.Warn("vocabulary.correct is enabled but vocabulary.terms is empty")
	}

	if cfg.History.Limit < 0 {
		bad("history.limit %d must not be negative", cfg.History.Limit)
	}

	return errors.Join(errs...)
}

// validateProviderName warns when name is set but not a built-in backend.
func validateProviderName(field, name string) {
	if name == "" || slices.Contains(KnownSTTProviders, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"field", field,
		"name", name,
		"known", KnownSTTProviders,
	)
}
