package params

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/striderobotics/cyclekit/internal/logging"
)

// Watcher re-reads a parameter file when it changes and applies each leaf
// through the store's normal write path, so hot reloads obey the same
// generation semantics as any other write. Write events are debounced because
// editors and config tooling often emit several events per save.
type Watcher struct {
	store    *Store
	path     string
	debounce time.Duration
	logger   *logging.Logger
}

// NewWatcher creates a watcher applying changes of the given file to a store.
func NewWatcher(store *Store, path string, logger *logging.Logger) *Watcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Watcher{
		store:    store,
		path:     path,
		debounce: 100 * time.Millisecond,
		logger:   logger,
	}
}

// Run watches until the context is cancelled. The parent directory is watched
// rather than the file itself so atomic rename-based saves are picked up.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("params: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("params: watch %s: %w", w.path, err)
	}

	var pending *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if pending == nil {
				pending = time.NewTimer(w.debounce)
				fire = pending.C
			} else {
				pending.Reset(w.debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("parameter watcher error", zap.Error(err))
		case <-fire:
			pending = nil
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	leaves, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn("parameter reload failed", zap.Error(err))
		return
	}

	applied := 0
	for path, value := range leaves {
		current, _, err := w.store.Read(path)
		if err != nil {
			w.logger.Warn("parameter reload: unknown path", zap.String("path", path))
			continue
		}
		if equalValue(current, value) {
			continue
		}
		if err := w.store.Write(path, value); err != nil {
			w.logger.Warn("parameter reload: write rejected",
				zap.String("path", path), zap.Error(err))
			continue
		}
		applied++
	}
	if applied > 0 {
		w.logger.Info("parameters reloaded",
			zap.String("file", w.path),
			zap.Int("changed", applied),
			zap.Uint64("generation", w.store.View().Generation()))
	}
}

func equalValue(a, b any) bool {
	return fmt.Sprintf("%#v", a) == fmt.Sprintf("%#v", b)
}
