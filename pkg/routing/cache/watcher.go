package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the store when another process replaces the artifact file,
// e.g. after `routerctl rebuild`.
type Watcher struct {
	store   *Store
	watcher *fsnotify.Watcher
}

func NewWatcher(s *Store) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{store: s, watcher: w}, nil
}

// Run blocks until ctx is done. Reload failures keep the previous artifact.
func (w *Watcher) Run(ctx context.Context) error {
	dir := filepath.Dir(w.store.Path())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(w.store.Path())
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			w.store.logger.Info(module, "Routing cache file changed, reloading", map[string]interface{}{"op": event.Op.String()})
			// Load logs its own failure and keeps the live artifact
			_, _ = w.store.Load()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.store.logger.Warn(module, "Routing cache watcher error", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}
