package repository

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/m-mizutani/goerr/v2"
	"github.com/maplebond/maplebond/pkg/utils/logging"
)

// Watch reloads the corpus file at path whenever it is written or replaced and
// swaps the snapshot. Readers keep using the old snapshot until the new one is
// installed. A corpus that fails to load or validate is logged and skipped.
// Watching stops when ctx is cancelled.
func (m *Memory) Watch(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return goerr.Wrap(err, "failed to resolve corpus path", goerr.V("path", path))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return goerr.Wrap(err, "failed to create file watcher")
	}

	// Editors often replace the file by rename, so the directory is watched
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return goerr.Wrap(err, "failed to watch corpus directory", goerr.V("path", abs))
	}

	go func() {
		defer watcher.Close()
		logger := logging.From(ctx)

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				passages, err := LoadCorpus(abs)
				if err != nil {
					logger.Warn("failed to reload corpus", "path", abs, "error", err)
					continue
				}
				if err := m.Replace(passages); err != nil {
					logger.Warn("rejected reloaded corpus", "path", abs, "error", err)
					continue
				}
				logger.Info("corpus reloaded", "path", abs, "passages", m.Len())

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("corpus watcher error", "error", err)
			}
		}
	}()

	return nil
}
