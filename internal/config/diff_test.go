package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/hark/internal/config"
)

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	return mustLoad(t, sampleYAML)
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(t), baseConfig(t))
	if !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(t), baseConfig(t)
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level is hot; RestartRequired = %v", d.RestartRequired)
	}
}

func TestDiff_CaptureChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(t), baseConfig(t)
	new.Capture.DrainWindow = config.Duration(500 * time.Millisecond)

	d := config.Diff(old, new)
	if !d.CaptureChanged {
		t.Error("expected CaptureChanged=true")
	}
	if d.VocabularyChanged || d.LogLevelChanged || len(d.RestartRequired) != 0 {
		t.Errorf("unexpected extra changes: %+v", d)
	}
}

func TestDiff_VocabularyChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(t), baseConfig(t)
	new.Vocabulary.Terms = append(new.Vocabulary.Terms, "Morwen")

	if d := config.Diff(old, new); !d.VocabularyChanged {
		t.Error("expected VocabularyChanged=true")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":9090" }, "server.listen_addr"},
		{"device", func(c *config.Config) { c.Audio.Device = "Headset" }, "audio"},
		{"primary model", func(c *config.Config) { c.Providers.STT.Model = "nova-2" }, "providers"},
		{"fallback option", func(c *config.Config) { c.Providers.STTFallbacks[0].Options["silence_rms"] = 200 }, "providers"},
		{"fallback removed", func(c *config.Config) { c.Providers.STTFallbacks = nil }, "providers"},
		{"breaker", func(c *config.Config) { c.Resilience.MaxFailures = 9 }, "resilience"},
		{"history", func(c *config.Config) { c.History.Limit = 5 }, "history"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(t), baseConfig(t)
			tt.mutate(new)
			d := config.Diff(old, new)
			if !slices.Contains(d.RestartRequired, tt.want) {
				t.Errorf("RestartRequired = %v, want it to contain %q", d.RestartRequired, tt.want)
			}
			if d.Empty() {
				t.Error("diff should not be empty")
			}
		})
	}
}
