package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"media-grabber/internal/domain"
)

// Watch calls onChange with freshly loaded settings whenever the file behind
// store is written or created. It watches the parent directory because Save
// replaces the file. Watch returns once ctx is done.
func Watch(ctx context.Context, store *JSONStore, onChange func(domain.Settings), logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(store.Path())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure settings dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch settings dir %s: %w", dir, err)
	}
	logger.Debug("watching settings", "path", store.Path())

	target := filepath.Clean(store.Path())
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			settings, err := store.Load()
			if err != nil {
				logger.Warn("reload settings failed", "path", target, "error", err)
				continue
			}
			onChange(settings)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("settings watcher error", "error", err)
		}
	}
}
