package config

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"

	"github.com/sanlockd/sanlockd/internal/logger"
)

// WatchLevel watches configPath for writes and applies a changed logging
// level the moment the file is saved, without restarting the daemon.
// Only the logging level is live-reloaded this way: every other setting
// feeds constructors (socket listener, timing, watchdog device) that have
// already run and would need a restart to pick up a change regardless.
//
// WatchLevel blocks until ctx is canceled or the watcher fails.
func WatchLevel(ctx context.Context, configPath string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(configPath); err != nil {
		return fmt.Errorf("failed to watch config file %q: %w", configPath, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			applyLevelFromFile(configPath)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}

// applyLevelFromFile re-reads configPath and, if it parses and its
// logging level differs from what's active, applies the new level.
// Parse errors are logged and otherwise ignored: a mid-write read of a
// half-written file should not crash the daemon's watch loop.
func applyLevelFromFile(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		logger.Warn("config reload failed, keeping previous settings", "error", err, "path", configPath)
		return
	}
	logger.SetLevel(cfg.Logging.Level)
	logger.Info("log level reloaded from config", "level", cfg.Logging.Level)
}
