package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch hot-reloads cfg whenever the file at path changes, via
// ReplaceFrom so readers never observe a half-applied update. It watches
// the containing directory rather than the file itself because most
// editors (and this package's own Save) replace the file by rename,
// which drops a direct file watch. Events are debounced: rapid
// write/rename bursts collapse into one reload. Blocks until ctx is
// canceled; a reload failure keeps the previous config and logs.
func Watch(ctx context.Context, path string, cfg *Config) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	base := filepath.Base(path)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watch error", "error", err)
		case <-pending:
			pending = nil
			next, err := Load(path)
			if err != nil {
				slog.Error("config reload failed, keeping previous config", "path", path, "error", err)
				continue
			}
			cfg.ReplaceFrom(next)
			slog.Info("config reloaded", "path", path)
		}
	}
}
