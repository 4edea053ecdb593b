package web

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchFile calls reload whenever path is written, created, renamed or
// removed by anyone. Bursts of events within debounce collapse into a single
// call. It blocks until ctx is done.
//
// The parent directory is watched rather than the file itself so atomic
// replacements (write to temp, rename over) are seen.
func WatchFile(ctx context.Context, path string, debounce time.Duration, reload func(context.Context) error, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	logger.InfoContext(ctx, "watching collection file", "path", target)

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				timer.Reset(debounce)
			}

		case <-timer.C:
			logger.DebugContext(ctx, "collection file changed", "path", target)
			if err := reload(ctx); err != nil {
				logger.WarnContext(ctx, "failed to reload collection", "path", target, "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WarnContext(ctx, "watcher error", "error", err)
		}
	}
}
