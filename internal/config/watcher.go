package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// errUnchanged is returned by poll when the file content matches the
// configuration already in effect.
var errUnchanged = errors.New("config: unchanged")

// fileState identifies one observed version of the config file.
type fileState struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// Watcher keeps a config file's last valid contents current. Changes are
// picked up by polling in [Watcher.Run] or on demand with [Watcher.Reload].
// Content that fails to parse or validate is reported and never replaces the
// configuration in effect.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(prev, next *Config)

	// pollMu serializes polls so onChange sees changes in order.
	pollMu sync.Mutex

	mu   sync.RWMutex
	cfg  *Config
	seen fileState
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher reads path and fails if it does not hold a valid config.
// onChange, when non-nil, is called with the previous and the new config
// after every accepted change.
func NewWatcher(path string, onChange func(prev, next *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: 5 * time.Second, onChange: onChange}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.poll(true); err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	return w, nil
}

// Current returns the configuration in effect. Callers must not modify it.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Reload re-reads the file immediately, whether or not its modification time
// moved. It returns the load error when the new content is rejected.
func (w *Watcher) Reload() error {
	err := w.poll(true)
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}

// Run polls until ctx is done. It always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			err := w.poll(false)
			if err != nil && !errors.Is(err, errUnchanged) {
				slog.Warn("config: keeping previous configuration", "path", w.path, "err", err)
			}
		}
	}
}

// poll reads the file when force is set or its mtime changed, and swaps in
// the parsed config when the content hash differs from the last accepted one.
func (w *Watcher) poll(force bool) error {
	w.pollMu.Lock()
	defer w.pollMu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		return err
	}
	w.mu.RLock()
	seen := w.seen
	w.mu.RUnlock()
	if !force && info.ModTime().Equal(seen.mtime) {
		return errUnchanged
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		return err
	}
	next := fileState{mtime: info.ModTime(), sum: sha256.Sum256(data)}
	if next.sum == seen.sum && w.Current() != nil {
		w.mu.Lock()
		w.seen.mtime = next.mtime
		w.mu.Unlock()
		return errUnchanged
	}

	cfg, loadErr := LoadFromReader(bytes.NewReader(data))

	w.mu.Lock()
	w.seen.mtime = next.mtime
	if loadErr != nil {
		w.mu.Unlock()
		return loadErr
	}
	prev := w.cfg
	w.cfg, w.seen.sum = cfg, next.sum
	w.mu.Unlock()

	if prev != nil {
		slog.Info("config: file changed", "path", w.path)
		if w.onChange != nil {
			w.onChange(prev, cfg)
		}
	}
	return nil
}
