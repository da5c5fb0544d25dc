package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/hark/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "invalid log level",
			yaml: "server:\n  log_level: loud\n",
			want: "server.log_level",
		},
		{
			name: "too many channels",
			yaml: "audio:\n  channels: 12\n",
			want: "audio.channels",
		},
		{
			name: "target rate out of range",
			yaml: "audio:\n  target_sample_rate: 96000\n",
			want: "audio.target_sample_rate",
		},
		{
			name: "ring too small",
			yaml: "audio:\n  ring_capacity_bytes: 16\n",
			want: "audio.ring_capacity_bytes",
		},
		{
			name: "min not below max",
			yaml: "capture:\n  min_utterance: 2s\n  max_utterance: 1s\n",
			want: "capture.min_utterance",
		},
		{
			name: "negative drain window",
			yaml: "capture:\n  drain_window: -1s\n",
			want: "capture.drain_window",
		},
		{
			name: "missing dump dir",
			yaml: "capture:\n  dump_dir: /nonexistent/hark-dumps\n",
			want: "capture.dump_dir",
		},
		{
			name: "fallback without name",
			yaml: "providers:\n  stt_fallbacks:\n    - model: base\n",
			want: "providers.stt_fallbacks[0].name",
		},
		{
			name: "fuzzy threshold above one",
			yaml: "vocabulary:\n  fuzzy_threshold: 1.5\n",
			want: "vocabulary.fuzzy_threshold",
		},
		{
			name: "negative history limit",
			yaml: "history:\n  limit: -1\n",
			want: "history.limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			yml := "providers:\n  stt:\n    name: whisper\n"
			if strings.HasPrefix(tt.yaml, "providers:") {
				yml = tt.yaml
			} else {
				yml += tt.yaml
			}
			_, err := config.LoadFromReader(strings.NewReader(yml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should mention %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yml := `
server:
  log_level: loud
audio:
  channels: 99
`
	_, err := config.LoadFromReader(strings.NewReader(yml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	msg := err.Error()
	for _, want := range []string{"server.log_level", "audio.channels", "providers.stt.name"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error should mention %q, got: %v", want, msg)
		}
	}
}

func TestValidate_UnknownProviderNameIsWarningOnly(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, "providers:\n  stt:\n    name: my-custom-asr\n")
	if cfg.Providers.STT.Name != "my-custom-asr" {
		t.Errorf("stt.name = %q", cfg.Providers.STT.Name)
	}
}

func TestValidate_DumpDirExists(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := mustLoad(t, "providers:\n  stt:\n    name: whisper\ncapture:\n  dump_dir: "+dir+"\n")
	if cfg.Capture.DumpDir != dir {
		t.Errorf("dump_dir = %q, want %q", cfg.Capture.DumpDir, dir)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "hark.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.STT.Name != "deepgram" {
		t.Errorf("stt.name = %q", cfg.Providers.STT.Name)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "config: open") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestKnownSTTProviders(t *testing.T) {
	t.Parallel()
	want := map[string]bool{"whisper": true, "whisper-native": true, "deepgram": true, "openai": true}
	for _, name := range config.KnownSTTProviders {
		if !want[name] {
			t.Errorf("unexpected known provider %q", name)
		}
		delete(want, name)
	}
	for name := range want {
		t.Errorf("missing known provider %q", name)
	}
}
