package models

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a changed catalog is reloaded.
const DefaultDebounce = 100 * time.Millisecond

// Watcher reloads a Registry when its catalog file changes on disk.
// The parent directory is watched so editors that replace the file by
// rename are picked up too.
type Watcher struct {
	path     string
	registry *Registry
	debounce time.Duration
	logger   *slog.Logger
	watcher  *fsnotify.Watcher

	// OnReload, when set, runs after every reload attempt.
	OnReload func(err error)

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a watcher for path. Call Run to start it.
func NewWatcher(path string, registry *Registry, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("resolve catalog path: %w", err)
	}
	return &Watcher{
		path:     abs,
		registry: registry,
		debounce: debounce,
		logger:   logger,
		watcher:  fw,
	}, nil
}

// Run blocks until ctx is cancelled, reloading the registry after changes.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	defer w.stopTimer()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch catalog directory: %w", err)
	}
	w.logger.Info("catalog watcher started", "path", w.path, "debounce_ms", w.debounce.Milliseconds())

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("catalog watcher stopped")
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("catalog file event", "path", event.Name, "op", event.Op.String())
			w.schedule()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("catalog watcher error", "error", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&fsnotify.Chmod == fsnotify.Chmod {
		return false
	}
	return filepath.Clean(event.Name) == w.path
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	err := w.registry.Load(w.path)
	if err != nil {
		w.logger.Error("catalog reload failed", "path", w.path, "error", err)
	} else {
		w.logger.Info("catalog reloaded", "path", w.path)
	}
	if w.OnReload != nil {
		w.OnReload(err)
	}
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
