package logs

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Follow delivers every matching line appended to path after offset until
// ctx is canceled. path should be the resolved file from a TailResult; a log
// rotated to a new run is not followed.
func Follow(ctx context.Context, path string, offset int64, match string, fn func(line string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create log watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch log directory: %w", err)
	}

	keep := newMatcher(match)
	drain := func() error {
		lines, next, err := readForward(path, offset, keep)
		offset = next
		for _, line := range lines {
			fn(line)
		}
		return err
	}

	// Catch lines written between Tail and the watch being armed.
	if err := drain(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) || !event.Has(fsnotify.Write) {
				continue
			}
			if err := drain(); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("log watcher: %w", err)
		}
	}
}
