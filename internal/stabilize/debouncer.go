// Package stabilize decides when a file has stopped being written.
//
// Every create or change notification refreshes the file's last-seen time.
// A periodic sweep hands a file downstream once it has been quiet for the
// configured period. The sweep goroutine only runs while files are pending.
package stabilize

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"fabingest/internal/logging"
	"fabingest/internal/watcher"
)

const (
	DefaultQuietPeriod   = 3 * time.Second
	DefaultSweepInterval = 1500 * time.Millisecond
)

// Options configures a Debouncer.
type Options struct {
	QuietPeriod   time.Duration
	SweepInterval time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

// Debouncer tracks pending files and emits each one once per quiet episode.
type Debouncer struct {
	quiet    time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	onStable func(path string)

	mu       sync.Mutex
	pending  map[string]time.Time
	sweeping bool
	stopped  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New returns a running debouncer that calls onStable for every file that
// stabilizes. onStable runs on the sweep goroutine without any lock held.
func New(opts Options, onStable func(path string)) *Debouncer {
	d := &Debouncer{
		quiet:    opts.QuietPeriod,
		interval: opts.SweepInterval,
		now:      opts.Now,
		logger:   logging.NewComponentLogger(opts.Logger, "stabilize"),
		onStable: onStable,
		pending:  make(map[string]time.Time),
		stopCh:   make(chan struct{}),
	}
	if d.quiet <= 0 {
		d.quiet = DefaultQuietPeriod
	}
	if d.interval <= 0 {
		d.interval = DefaultSweepInterval
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.onStable == nil {
		d.onStable = func(string) {}
	}
	return d
}

// Handle applies a watcher event: creates and changes refresh the pending
// entry, deletes and renames-away drop it.
func (d *Debouncer) Handle(event watcher.Event) {
	switch event.Kind {
	case watcher.Created, watcher.Changed:
		d.Touch(event.Path)
	case watcher.Deleted, watcher.Renamed:
		d.Forget(event.Path)
	}
}

// Touch records activity on path.
func (d *Debouncer) Touch(path string) {
	if path == "" {
		return
	}
	key := filepath.Clean(path)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending[key] = now
	if !d.sweeping {
		d.sweeping = true
		d.wg.Add(1)
		go d.sweepLoop(d.stopCh)
	}
}

// Forget drops path from the pending set without emitting it.
func (d *Debouncer) Forget(path string) {
	key := filepath.Clean(path)
	d.mu.Lock()
	_, ok := d.pending[key]
	delete(d.pending, key)
	d.mu.Unlock()
	if ok {
		d.logger.Debug("pending file removed", logging.String(logging.FieldPath, key))
	}
}

// PendingCount returns the number of files waiting to stabilize.
func (d *Debouncer) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// IsPending reports whether path is waiting to stabilize.
func (d *Debouncer) IsPending(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[filepath.Clean(path)]
	return ok
}

// Sweeping reports whether the sweep goroutine is active.
func (d *Debouncer) Sweeping() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sweeping
}

// Start re-enables a stopped debouncer. It is a no-op when already running.
func (d *Debouncer) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.stopped {
		return
	}
	d.stopped = false
	d.stopCh = make(chan struct{})
}

// Stop halts the sweep, drops pending files and waits for an in-progress
// hand-off to return. Events received after Stop are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.stopCh)
	dropped := len(d.pending)
	d.pending = make(map[string]time.Time)
	d.mu.Unlock()

	d.wg.Wait()
	d.mu.Lock()
	d.sweeping = false
	d.mu.Unlock()
	if dropped > 0 {
		d.logger.Debug("debouncer stopped with pending files", logging.Int("dropped", dropped))
	}
}

func (d *Debouncer) sweepLoop(stop <-chan struct{}) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			stable, more := d.collect()
			for _, path := range stable {
				select {
				case <-stop:
					return
				default:
				}
				d.logger.Debug("file stabilized", logging.String(logging.FieldPath, path))
				d.onStable(path)
			}
			if !more {
				return
			}
		}
	}
}

// collect removes and returns every quiet entry. more is false when the
// pending set drained, in which case the sweep goroutine must exit.
func (d *Debouncer) collect() (stable []string, more bool) {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return nil, false
	}
	for path, seen := range d.pending {
		if now.Sub(seen) >= d.quiet {
			stable = append(stable, path)
			delete(d.pending, path)
		}
	}
	if len(d.pending) == 0 {
		d.sweeping = false
		return stable, false
	}
	return stable, true
}
