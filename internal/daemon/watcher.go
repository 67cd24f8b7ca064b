package daemon

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watcherDebounce = 500 * time.Millisecond

// StartWatcher watches the config file and calls Reload when it changes.
// The parent directory is watched because editors often replace the file
// rather than write it in place. It blocks until the context is cancelled.
func (d *Daemon) StartWatcher(ctx context.Context) error {
	if d.configPath == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(d.configPath)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	d.logger.Info("watching config for changes", "file", d.configPath)

	target := filepath.Clean(d.configPath)
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			d.logger.Debug("config file changed", "op", event.Op)

			// Debounce: reset timer on each event
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(watcherDebounce, func() {
				if err := d.Reload(); err != nil {
					d.logger.Error("config reload failed, keeping previous config", "error", err)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Error("file watcher error", "error", err)
		}
	}
}
