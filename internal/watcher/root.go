package watcher

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"fabingest/internal/logging"
)

// rootWatch is the fsnotify watch of one configured root and its
// subdirectories. A failing root is restarted without touching the others.
type rootWatch struct {
	reg  *Registry
	root string

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	dirs     map[string]struct{}
	closed   bool
	done     chan struct{}
	loops    sync.WaitGroup
	restarts int
	timer    *time.Timer
}

func newRootWatch(reg *Registry, root string) *rootWatch {
	return &rootWatch{
		reg:  reg,
		root: root,
		dirs: make(map[string]struct{}),
		done: make(chan struct{}),
	}
}

func (rw *rootWatch) open() error {
	fsw, err := rw.reg.newWatcher()
	if err != nil {
		return err
	}
	dirs := addTree(fsw, rw.root, rw.reg)

	rw.mu.Lock()
	rw.fsw = fsw
	rw.dirs = dirs
	rw.loops.Add(1)
	rw.mu.Unlock()

	go rw.run(fsw)
	return nil
}

func (rw *rootWatch) close() {
	rw.mu.Lock()
	if rw.closed {
		rw.mu.Unlock()
		return
	}
	rw.closed = true
	if rw.timer != nil {
		rw.timer.Stop()
		rw.timer = nil
	}
	fsw := rw.fsw
	rw.fsw = nil
	close(rw.done)
	rw.mu.Unlock()

	if fsw != nil {
		_ = fsw.Close()
	}
	rw.loops.Wait()
}

// live reports whether the root currently holds an open watch.
func (rw *rootWatch) live() bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.fsw != nil
}

func (rw *rootWatch) watchCount() int {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return len(rw.dirs)
}

func (rw *rootWatch) run(fsw *fsnotify.Watcher) {
	defer rw.loops.Done()
	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			rw.handleEvent(fsw, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			rw.handleError(err)
		case <-rw.done:
			return
		}
	}
}

func (rw *rootWatch) handleEvent(fsw *fsnotify.Watcher, event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	switch {
	case event.Has(fsnotify.Remove):
		if rw.forgetDir(path) {
			return
		}
		rw.reg.emit(path, Deleted)
	case event.Has(fsnotify.Rename):
		if rw.forgetDir(path) {
			return
		}
		rw.reg.emit(path, Renamed)
	case event.Has(fsnotify.Create):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			rw.addSubtree(fsw, path)
			return
		}
		rw.reg.emit(path, Created)
	case event.Has(fsnotify.Write):
		rw.reg.emit(path, Changed)
	}
}

// addSubtree watches a newly created directory and emits Created for files
// that landed in it before the watch was in place.
func (rw *rootWatch) addSubtree(fsw *fsnotify.Watcher, dir string) {
	added := addTree(fsw, dir, rw.reg)
	rw.mu.Lock()
	for d := range added {
		rw.dirs[d] = struct{}{}
	}
	rw.mu.Unlock()
	for _, file := range listFiles(dir, time.Time{}) {
		rw.reg.emit(file, Created)
	}
}

func (rw *rootWatch) forgetDir(path string) bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if _, ok := rw.dirs[path]; !ok {
		return false
	}
	prefix := path + string(filepath.Separator)
	for d := range rw.dirs {
		if d == path || strings.HasPrefix(d, prefix) {
			delete(rw.dirs, d)
		}
	}
	return true
}

func (rw *rootWatch) handleError(err error) {
	if err == nil {
		return
	}
	rw.reg.errorCount.Add(1)
	event := "watch_error"
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		event = "watch_overflow"
	}
	logging.WarnWithContext(rw.reg.logger, "directory watch error", event,
		logging.String(logging.FieldPath, rw.root),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "the watch is restarted automatically; raise fs.inotify limits if this repeats"),
		logging.String(logging.FieldImpact, "events for this root may have been lost until the rescan"),
	)
	rw.scheduleRestart(err)
}

func (rw *rootWatch) scheduleRestart(cause error) {
	rw.mu.Lock()
	if rw.closed || rw.timer != nil {
		rw.mu.Unlock()
		return
	}
	if rw.restarts >= rw.reg.maxRestarts {
		attempts := rw.restarts
		rw.mu.Unlock()
		logging.ErrorWithContext(rw.reg.logger, "directory watch abandoned", "watch_restart_exhausted",
			logging.String(logging.FieldPath, rw.root),
			logging.Int("attempts", attempts),
			logging.Error(errors.Join(errRestartsExhausted, cause)),
			logging.String(logging.FieldErrorHint, "restart the daemon once the folder is healthy"),
		)
		return
	}
	delay := rw.reg.restartDelayFor(rw.restarts)
	rw.restarts++
	rw.timer = time.AfterFunc(delay, rw.performRestart)
	rw.mu.Unlock()
}

func (rw *rootWatch) performRestart() {
	err := rw.restart()

	rw.mu.Lock()
	rw.timer = nil
	if err == nil {
		rw.restarts = 0
		rw.mu.Unlock()
		return
	}
	rw.mu.Unlock()

	logging.WarnWithContext(rw.reg.logger, "directory watch restart failed", "watch_restart_failed",
		logging.String(logging.FieldPath, rw.root),
		logging.Error(err),
	)
	rw.scheduleRestart(err)
}

func (rw *rootWatch) restart() error {
	if _, err := os.Stat(rw.root); err != nil {
		return err
	}
	replacement, err := rw.reg.newWatcher()
	if err != nil {
		return err
	}
	dirs := addTree(replacement, rw.root, rw.reg)

	rw.mu.Lock()
	if rw.closed {
		rw.mu.Unlock()
		_ = replacement.Close()
		return nil
	}
	previous := rw.fsw
	rw.fsw = replacement
	rw.dirs = dirs
	rw.loops.Add(1)
	rw.mu.Unlock()

	go rw.run(replacement)
	if previous != nil {
		_ = previous.Close()
	}
	rw.reg.restartCount.Add(1)

	since := rw.reg.now().Add(-rw.reg.rescanWindow)
	recent := listFiles(rw.root, since)
	rw.reg.logger.Info("directory watch restarted",
		logging.String(logging.FieldEventType, "watch_restarted"),
		logging.String(logging.FieldPath, rw.root),
		logging.Int("rescanned", len(recent)),
	)
	for _, file := range recent {
		rw.reg.emit(file, Changed)
	}
	return nil
}

// addTree adds root and every directory beneath it to fsw. Directories that
// cannot be added are logged and skipped.
func addTree(fsw *fsnotify.Watcher, root string, reg *Registry) map[string]struct{} {
	dirs := make(map[string]struct{})
	_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		if addErr := fsw.Add(path); addErr != nil {
			reg.logger.Warn("watch add failed",
				logging.String(logging.FieldEventType, "watch_add_failed"),
				logging.String(logging.FieldPath, path),
				logging.Error(addErr),
				logging.String(logging.FieldErrorHint, "check folder permissions and inotify limits"),
				logging.String(logging.FieldImpact, "files in this folder are not detected"),
			)
			return nil
		}
		dirs[filepath.Clean(path)] = struct{}{}
		return nil
	})
	return dirs
}

// listFiles returns regular files under root modified at or after since.
func listFiles(root string, since time.Time) []string {
	var files []string
	_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || !entry.Type().IsRegular() {
			return nil
		}
		if !since.IsZero() {
			info, infoErr := entry.Info()
			if infoErr != nil || info.ModTime().Before(since) {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files
}
