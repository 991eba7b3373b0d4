package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// Watch reloads path whenever it changes and passes each successfully
// loaded configuration to onChange. A file that fails to parse is logged
// and the previous configuration stays in effect. Watch blocks until ctx
// is cancelled.
//
// The parent directory is watched rather than the file, so editors that
// replace the file by renaming keep triggering reloads.
func Watch(ctx context.Context, path string, logger logr.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer func(watcher *fsnotify.Watcher) {
		if err := watcher.Close(); err != nil {
			logger.Error(err, "could not close config watcher")
		}
	}(watcher)

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(target), err)
	}
	logger.Info("Watching configuration", "path", target)

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
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(target)
			if err != nil {
				logger.Error(err, "Reloading configuration failed, keeping previous values")
				continue
			}
			logger.Info("Configuration reloaded", "event", event.Op.String(), "pollInterval", cfg.PollInterval)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error(err, "Error watching for file system events")
		}
	}
}
