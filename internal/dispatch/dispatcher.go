// Package dispatch hands ready files to plugins on a worker pool.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"fabingest/internal/fileutil"
	"fabingest/internal/logging"
	"fabingest/internal/plugin"
	"fabingest/internal/services"
	"fabingest/internal/workers"
)

const (
	DefaultProbeAttempts = 10
	DefaultProbeDelay    = 500 * time.Millisecond
)

// ErrStopped is returned by Dispatch after Stop.
var ErrStopped = errors.New("dispatcher stopped")

// Plugins is the part of the plugin registry the dispatcher needs.
type Plugins interface {
	GetByName(name string) (plugin.Loaded, bool)
	Invoke(ctx context.Context, name string, fn func(context.Context, plugin.Plugin) error) error
}

// Recorder persists dispatch outcomes.
type Recorder interface {
	RecordDispatch(ctx context.Context, rec Record) error
}

// Options configures a Dispatcher.
type Options struct {
	Plugins       Plugins
	Pool          *workers.Pool
	Recorder      Recorder
	ProbeAttempts int
	ProbeDelay    time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

// Task is one unit of dispatch work.
type Task struct {
	ID     string
	Path   string
	Plugin string
	Args   []any
}

// Dispatcher resolves plugins, probes files for readiness and runs Process on
// a worker pool. Failures are logged and recorded, never returned to the
// caller of Dispatch.
type Dispatcher struct {
	plugins  Plugins
	pool     *workers.Pool
	ownsPool bool
	recorder Recorder
	attempts int
	delay    time.Duration
	logger   *slog.Logger
	now      func() time.Time
	flight   singleflight.Group

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
	stats    map[string]*PluginStats
}

// New constructs a dispatcher. When no pool is supplied the dispatcher owns
// one with the default size.
func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		plugins:  opts.Plugins,
		pool:     opts.Pool,
		recorder: opts.Recorder,
		attempts: opts.ProbeAttempts,
		delay:    opts.ProbeDelay,
		logger:   logging.NewComponentLogger(opts.Logger, "dispatch"),
		now:      opts.Now,
		stats:    make(map[string]*PluginStats),
	}
	if d.pool == nil {
		d.pool = workers.New("dispatch", 0, opts.Logger)
		d.ownsPool = true
	}
	if d.attempts <= 0 {
		d.attempts = DefaultProbeAttempts
	}
	if d.delay <= 0 {
		d.delay = DefaultProbeDelay
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Dispatch queues path for pluginName and returns the task id immediately.
func (d *Dispatcher) Dispatch(path, pluginName string, args ...any) (string, error) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return "", ErrStopped
	}
	d.inflight.Add(1)
	d.mu.Unlock()

	task := Task{ID: uuid.NewString(), Path: path, Plugin: pluginName, Args: args}
	err := d.pool.Submit(context.Background(), func(ctx context.Context) {
		defer d.inflight.Done()
		d.run(ctx, task)
	})
	if err != nil {
		d.inflight.Done()
		if errors.Is(err, workers.ErrClosed) {
			return "", ErrStopped
		}
		return "", err
	}
	return task.ID, nil
}

// Stop refuses new work and waits for accepted tasks, including ones still
// probing, to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	d.inflight.Wait()
	if d.ownsPool {
		d.pool.Close()
	}
}

func (d *Dispatcher) run(ctx context.Context, task Task) {
	key := strings.ToLower(task.Plugin) + "\x00" + filepath.Clean(task.Path)
	_, _, shared := d.flight.Do(key, func() (any, error) {
		d.execute(ctx, task)
		return nil, nil
	})
	if shared {
		d.logger.Debug("dispatch coalesced with in-flight task",
			logging.String(logging.FieldTaskID, task.ID),
			logging.String(logging.FieldPlugin, task.Plugin),
			logging.String(logging.FieldPath, task.Path),
		)
	}
}

func (d *Dispatcher) execute(ctx context.Context, task Task) {
	ctx = services.WithTaskID(ctx, task.ID)
	ctx = services.WithPath(ctx, task.Path)
	ctx = services.WithPlugin(ctx, task.Plugin)
	logger := logging.WithContext(ctx, d.logger)

	started := d.now()
	rec := Record{ID: task.ID, Path: task.Path, Plugin: task.Plugin, StartedAt: started}

	if _, ok := d.plugins.GetByName(task.Plugin); !ok {
		rec.Outcome = OutcomeUnknownPlugin
		logging.WarnWithContext(logger, "dispatch target plugin not loaded", "dispatch_unknown_plugin",
			logging.String(logging.FieldErrorHint, "check the upload plugin name against 'fabingest plugins list'"),
			logging.String(logging.FieldImpact, "file was not processed"),
		)
		d.finish(ctx, rec, started)
		return
	}

	if err := fileutil.ProbeReadable(ctx, task.Path, d.attempts, d.delay); err != nil {
		rec.Outcome = OutcomeNotReady
		rec.Error = err.Error()
		logging.WarnWithContext(logger, "file not ready for plugin", "dispatch_not_ready",
			logging.Error(err),
			logging.Int("attempts", d.attempts),
			logging.String(logging.FieldErrorHint, "the writer still holds the file; it is picked up on its next change"),
			logging.String(logging.FieldImpact, "file was not processed"),
		)
		d.finish(ctx, rec, started)
		return
	}

	err := d.plugins.Invoke(ctx, task.Plugin, func(ctx context.Context, p plugin.Plugin) error {
		return p.Process(ctx, task.Path, task.Args...)
	})
	switch {
	case err == nil:
		rec.Outcome = OutcomeProcessed
		logger.Info("file processed",
			logging.String(logging.FieldEventType, "dispatch_processed"),
			logging.Duration("duration", d.now().Sub(started)),
		)
	case errors.Is(err, plugin.ErrPanic):
		rec.Outcome = OutcomePanicked
		rec.Error = err.Error()
		logging.ErrorWithContext(logger, "plugin panicked while processing file", "dispatch_panicked",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "report the file to the plugin owner"),
		)
	case errors.Is(err, services.ErrNotFound):
		rec.Outcome = OutcomeUnknownPlugin
		rec.Error = err.Error()
		logging.WarnWithContext(logger, "plugin unloaded before processing", "dispatch_unknown_plugin",
			logging.Error(err),
			logging.String(logging.FieldImpact, "file was not processed"),
		)
	default:
		rec.Outcome = OutcomeFailed
		rec.Error = err.Error()
		logging.ErrorWithContext(logger, "plugin failed to process file", "dispatch_failed",
			logging.Error(err),
			logging.String("error_kind", services.Kind(err)),
			logging.String(logging.FieldErrorHint, "inspect the plugin log for the failing file"),
		)
	}
	d.finish(ctx, rec, started)
}

func (d *Dispatcher) finish(ctx context.Context, rec Record, started time.Time) {
	rec.Duration = d.now().Sub(started)
	d.track(rec)
	if d.recorder == nil {
		return
	}
	if err := d.recorder.RecordDispatch(ctx, rec); err != nil {
		d.logger.Warn("dispatch history not recorded",
			logging.String(logging.FieldEventType, "dispatch_record_failed"),
			logging.String(logging.FieldTaskID, rec.ID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the state database"),
			logging.String(logging.FieldImpact, "history output is incomplete"),
		)
	}
}

func (d *Dispatcher) track(rec Record) {
	key := strings.ToLower(rec.Plugin)
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.stats[key]
	if !ok {
		st = &PluginStats{Plugin: rec.Plugin}
		d.stats[key] = st
	}
	st.LastPath = rec.Path
	st.LastAt = rec.StartedAt
	st.LastOutcome = rec.Outcome
	st.Dispatched++
	if rec.Outcome != OutcomeProcessed {
		st.Failures++
	}
}

// Stats returns per-plugin bookkeeping sorted by plugin name.
func (d *Dispatcher) Stats() []PluginStats {
	d.mu.Lock()
	out := make([]PluginStats, 0, len(d.stats))
	for _, st := range d.stats {
		out = append(out, *st)
	}
	d.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Plugin) < strings.ToLower(out[j].Plugin) })
	return out
}
