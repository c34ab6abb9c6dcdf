package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/promagent/pkg/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events an editor or a config
// management tool produces for a single save
const DefaultDebounce = 250 * time.Millisecond

// Watch calls onChange with the cleaned path of every file under dir that was
// written, created, renamed or removed, once the burst for that file settles.
// The directory itself is watched rather than individual files so atomic
// rename-over saves are seen. Watch blocks until ctx is done.
func Watch(ctx context.Context, dir string, debounce time.Duration, onChange func(path string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	logger := log.WithComponent("watcher").With().Str("dir", dir).Logger()
	logger.Debug().Msg("Watching directory")

	pending := make(map[string]bool)
	timer := time.NewTimer(debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			pending[filepath.Clean(ev.Name)] = true
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("Watcher error")

		case <-timer.C:
			for path := range pending {
				onChange(path)
			}
			clear(pending)
		}
	}
}

// WatchFile calls onChange whenever path is replaced or modified
func WatchFile(ctx context.Context, path string, debounce time.Duration, onChange func()) error {
	target := filepath.Clean(path)
	return Watch(ctx, filepath.Dir(target), debounce, func(changed string) {
		if changed == target {
			onChange()
		}
	})
}
