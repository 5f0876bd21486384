package watcher

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"fabingest/internal/logging"
	"fabingest/internal/pathnorm"
)

const (
	defaultRestartAttempts  = 3
	defaultRestartBaseDelay = 200 * time.Millisecond
	defaultRescanWindow     = time.Minute
)

// Registry owns one fsnotify watch per root and fans normalized events out to
// subscribers.
type Registry struct {
	logger       *slog.Logger
	maxRestarts  int
	restartDelay time.Duration
	rescanWindow time.Duration
	now          func() time.Time
	newWatcher   func() (*fsnotify.Watcher, error)

	mu      sync.Mutex
	running bool
	roots   []*rootWatch

	subMu  sync.RWMutex
	subs   map[uint64]func(Event)
	nextID uint64

	eventsDelivered atomic.Uint64
	errorCount      atomic.Uint64
	restartCount    atomic.Uint64
}

// New constructs an idle registry.
func New(opts Options) *Registry {
	r := &Registry{
		logger:       logging.NewComponentLogger(opts.Logger, "watcher"),
		maxRestarts:  opts.RestartAttempts,
		restartDelay: opts.RestartBaseDelay,
		rescanWindow: opts.RescanWindow,
		now:          opts.Now,
		newWatcher:   fsnotify.NewWatcher,
		subs:         make(map[uint64]func(Event)),
	}
	if r.maxRestarts <= 0 {
		r.maxRestarts = defaultRestartAttempts
	}
	if r.restartDelay <= 0 {
		r.restartDelay = defaultRestartBaseDelay
	}
	if r.rescanWindow <= 0 {
		r.rescanWindow = defaultRescanWindow
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Subscribe registers fn for every event and returns a function that removes
// it. Subscribers run on the watch goroutine and must not block.
func (r *Registry) Subscribe(fn func(Event)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	r.subMu.Lock()
	r.nextID++
	id := r.nextID
	r.subs[id] = fn
	r.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
		})
	}
}

// Start begins watching roots recursively. A running registry is stopped
// first. Roots that do not exist are logged and skipped. A root whose watch
// cannot be opened stays registered without a watch and is retried through
// the restart backoff; the other roots are unaffected.
func (r *Registry) Start(roots []string) error {
	r.Stop()

	started := make([]*rootWatch, 0, len(roots))
	var failed []failedRoot
	seen := make(map[string]struct{}, len(roots))
	for _, root := range roots {
		root = pathnorm.Clean(root)
		if root == "" {
			continue
		}
		key := pathnorm.Fold(root)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			logging.WarnWithContext(r.logger, "watch root unavailable", "watch_root_missing",
				logging.String(logging.FieldPath, root),
				logging.String(logging.FieldErrorHint, "create the folder or remove it from watch.roots"),
				logging.String(logging.FieldImpact, "files dropped into this folder are not ingested"),
			)
			continue
		}

		rw := newRootWatch(r, root)
		started = append(started, rw)
		if err := rw.open(); err != nil {
			r.errorCount.Add(1)
			logging.WarnWithContext(r.logger, "watch root could not be opened", "watch_open_failed",
				logging.String(logging.FieldPath, root),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "raise fs.inotify.max_user_instances or free watches"),
				logging.String(logging.FieldImpact, "files in this root are picked up by the rescan once the watch recovers"),
			)
			failed = append(failed, failedRoot{rw: rw, err: err})
			continue
		}
		r.logger.Debug("watch root started", logging.String(logging.FieldPath, root))
	}

	r.mu.Lock()
	r.roots = started
	r.running = true
	r.mu.Unlock()

	for _, f := range failed {
		f.rw.scheduleRestart(f.err)
	}

	r.logger.Info("directory watch started",
		logging.String(logging.FieldEventType, "watch_started"),
		logging.Int("roots", len(started)),
		logging.Int("degraded", len(failed)),
	)
	return nil
}

type failedRoot struct {
	rw  *rootWatch
	err error
}

// Stop releases every watch and waits for the watch goroutines to exit. It is
// a no-op when the registry is not running.
func (r *Registry) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	roots := r.roots
	r.roots = nil
	r.running = false
	r.mu.Unlock()

	for _, rw := range roots {
		rw.close()
	}
	r.logger.Debug("directory watch stopped", logging.Int("roots", len(roots)))
}

// Running reports whether Start has been called without a matching Stop.
func (r *Registry) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Roots returns the roots currently being watched.
func (r *Registry) Roots() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.roots))
	for _, rw := range r.roots {
		out = append(out, rw.root)
	}
	return out
}

// Metrics reports current registry counters.
func (r *Registry) Metrics() Metrics {
	r.mu.Lock()
	roots := append([]*rootWatch(nil), r.roots...)
	r.mu.Unlock()

	active, degraded := 0, 0
	for _, rw := range roots {
		active += rw.watchCount()
		if !rw.live() {
			degraded++
		}
	}
	return Metrics{
		Roots:           len(roots),
		Degraded:        degraded,
		ActiveWatches:   active,
		EventsDelivered: r.eventsDelivered.Load(),
		Errors:          r.errorCount.Load(),
		Restarts:        r.restartCount.Load(),
	}
}

func (r *Registry) emit(path string, kind Kind) {
	event := Event{Path: path, Kind: kind, Time: r.now()}

	r.subMu.RLock()
	subs := make([]func(Event), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.subMu.RUnlock()

	for _, fn := range subs {
		fn(event)
	}
	r.eventsDelivered.Add(1)
}

func (r *Registry) restartDelayFor(attempt int) time.Duration {
	return r.restartDelay * time.Duration(1<<attempt)
}

var errRestartsExhausted = errors.New("watch restart attempts exhausted")
