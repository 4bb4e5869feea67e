package htmldoc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchFile replays edits of the file at path into doc via Replace until
// ctx is cancelled. The containing directory is watched so editors that
// save by rename are picked up. Read and parse failures are passed to
// onError and watching continues.
func WatchFile(ctx context.Context, path string, doc *Document, onError func(error)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	report := func(err error) {
		if onError != nil {
			onError(err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			data, err := os.ReadFile(abs)
			if err != nil {
				report(fmt.Errorf("failed to read %s: %w", abs, err))
				continue
			}
			if len(data) == 0 {
				// Truncate-then-write saves show up as an empty write first.
				continue
			}
			if err := doc.Replace(string(data)); err != nil {
				report(err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			report(fmt.Errorf("watch error: %w", err))
		}
	}
}
