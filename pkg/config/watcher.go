package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 500 * time.Millisecond

// Watch emits on the returned channel whenever one of files is written or
// recreated, debounced so an editor's save burst yields one signal. The
// channel is closed when ctx is done.
func Watch(ctx context.Context, logger *zap.Logger, files ...string) <-chan struct{} {
	reloadCh := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("Failed to create config watcher", zap.Error(err))
		close(reloadCh)
		return reloadCh
	}

	for _, file := range files {
		absPath, err := filepath.Abs(file)
		if err != nil {
			logger.Warn("Could not resolve config path", zap.String("file", file))
			continue
		}
		// Watch the directory: atomic saves replace the inode.
		if err := watcher.Add(filepath.Dir(absPath)); err != nil {
			logger.Warn("Could not watch config file", zap.String("file", file), zap.Error(err))
		}
	}
	watched := make(map[string]bool, len(files))
	for _, file := range files {
		if abs, err := filepath.Abs(file); err == nil {
			watched[abs] = true
		}
	}

	go func() {
		defer watcher.Close()
		defer close(reloadCh)

		timer := time.NewTimer(reloadDebounce)
		timer.Stop()
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !watched[event.Name] {
					continue
				}
				if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
					timer.Reset(reloadDebounce)
				}
			case <-timer.C:
				logger.Info("Configuration change detected")
				select {
				case reloadCh <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("Config watcher error", zap.Error(err))
			}
		}
	}()

	return reloadCh
}
