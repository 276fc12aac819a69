package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch watches path for writes/creates and re-parses it on change,
// delivering successfully-parsed updates on the returned channel. Parse
// errors are logged and the previous configuration keeps running, mirroring
// the teacher's reload loop in run.go ("Unable to list capabilities: ...
// continue"). The returned stop function is idempotent.
func Watch(ctx context.Context, path string, logger *slog.Logger) (<-chan *File, func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, nil, err
	}

	updates := make(chan *File, 1)
	go func() {
		defer close(updates)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				f, _, err := Load(path)
				if err != nil {
					logger.Warn("config reload failed, keeping previous configuration", "path", path, "error", err)
					continue
				}
				select {
				case updates <- f:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)
			}
		}
	}()

	stop := func() error {
		return watcher.Close()
	}
	return updates, stop, nil
}
