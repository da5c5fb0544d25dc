package app

import (
	"context"
	"log/slog"

	"github.com/MrWong99/hark/internal/config"
)

// ApplyConfig applies the hot-reloadable parts of next. It is meant as the
// [config.Watcher] callback. Timing changes take effect from the next epoch;
// sections that need a restart are logged and ignored.
func (a *App) ApplyConfig(prev, next *config.Config) {
	d := config.Diff(prev, next)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.CaptureChanged {
		a.pipeline.SetTimings(next.Capture.Timings())
		slog.Info("capture settings reloaded",
			"drain_window", next.Capture.DrainWindow.Std(),
			"min_utterance", next.Capture.MinUtterance.Std(),
			"max_utterance", next.Capture.MaxUtterance.Std(),
		)
		if next.Capture.RecognizeTimeout != prev.Capture.RecognizeTimeout || next.Capture.DumpDir != prev.Capture.DumpDir {
			slog.Warn("capture.recognize_timeout and capture.dump_dir apply after restart")
		}
	}
	if d.CaptureChanged || d.VocabularyChanged {
		a.pipeline.SetHints(next.Capture.Language, next.Vocabulary.Keywords())
	}
	if d.VocabularyChanged {
		a.setVocabulary(next.Vocabulary)
		slog.Info("vocabulary reloaded", "terms", len(next.Vocabulary.Terms), "correct", next.Vocabulary.Correct)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("configuration changes require a restart", "sections", d.RestartRequired)
	}

	a.metrics.ConfigReloads.Add(context.Background(), 1)
}

// SlogLevel maps a configured level onto slog.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

