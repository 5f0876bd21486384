package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"fabingest/internal/config"
	"fabingest/internal/dispatch"
	"fabingest/internal/logging"
	"fabingest/internal/pipeline"
	"fabingest/internal/plugin"
	"fabingest/internal/retention"
	"fabingest/internal/store"
	"fabingest/internal/timesync"
)

// ErrAlreadyRunning is returned by Start when the daemon or another instance
// holding the lock is running.
var ErrAlreadyRunning = errors.New("another fabingest daemon instance is already running")

// Options configures a Daemon. Clock and Cleaner are optional.
type Options struct {
	Config   *config.Config
	Store    *store.Store
	Plugins  *plugin.Registry
	Pipeline *pipeline.Pipeline
	Clock    *timesync.Provider
	Cleaner  *retention.Cleaner
	Logger   *slog.Logger
	Now      func() time.Time
}

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	store    *store.Store
	plugins  *plugin.Registry
	pipeline *pipeline.Pipeline
	clock    *timesync.Provider
	cleaner  *retention.Cleaner
	logger   *slog.Logger
	now      func() time.Time

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	StartedAt    time.Time
	LockPath     string
	DatabasePath string
	PluginDir    string
	Pipeline     pipeline.Status
	ClockOffset  time.Duration
	LastSync     time.Time
	LastSyncErr  string
	Disks        []DiskUsage
}

// New constructs a daemon with initialized dependencies.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil || opts.Store == nil || opts.Plugins == nil || opts.Pipeline == nil {
		return nil, errors.New("daemon requires config, store, plugin registry, and pipeline")
	}
	lockPath := opts.Config.LockPath()
	d := &Daemon{
		cfg:      opts.Config,
		store:    opts.Store,
		plugins:  opts.Plugins,
		pipeline: opts.Pipeline,
		clock:    opts.Clock,
		cleaner:  opts.Cleaner,
		logger:   logging.NewComponentLogger(opts.Logger, "daemon"),
		now:      opts.Now,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d, nil
}

// Start acquires the daemon lock and starts the clock provider, the pipeline
// and the retention cleaner.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrAlreadyRunning
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	if d.clock != nil {
		if err := d.clock.Start(runCtx); err != nil {
			cancel()
			_ = d.lock.Unlock()
			return fmt.Errorf("start clock sync: %w", err)
		}
	}
	if err := d.pipeline.Start(runCtx); err != nil {
		if d.clock != nil {
			d.clock.Stop()
		}
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start pipeline: %w", err)
	}
	if d.cleaner != nil {
		d.cleaner.Start(runCtx)
	}

	d.cancel = cancel
	d.running = true
	d.startedAt = d.now()
	d.logger.Info("fabingest daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
	)
	return nil
}

// Stop halts background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}

	if d.cleaner != nil {
		d.cleaner.Stop()
	}
	d.pipeline.Stop()
	if d.clock != nil {
		d.clock.Stop()
	}
	d.cancel()
	d.cancel = nil
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.String("lock", d.lockPath),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the lock file if no daemon is running"),
			logging.String(logging.FieldImpact, "the next start may report another instance"),
		)
	}
	d.running = false
	d.logger.Info("fabingest daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon and unloads every plugin.
func (d *Daemon) Close() error {
	d.Stop()
	d.plugins.Unload()
	return nil
}

// Running reports whether Start has succeeded without a matching Stop.
func (d *Daemon) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	st := Status{
		Running:      d.running,
		StartedAt:    d.startedAt,
		PID:          os.Getpid(),
		LockPath:     d.lockPath,
		DatabasePath: d.store.Path(),
		PluginDir:    d.plugins.Dir(),
	}
	d.mu.Unlock()

	st.Pipeline = d.pipeline.Status()
	if d.clock != nil {
		st.ClockOffset = d.clock.Offset()
		last, err := d.clock.LastSync()
		st.LastSync = last
		if err != nil {
			st.LastSyncErr = err.Error()
		}
	}
	seen := make(map[string]struct{})
	for _, dir := range append([]string{d.cfg.Paths.StateDir}, d.cfg.Watch.Roots...) {
		if _, dup := seen[dir]; dup {
			continue
		}
		seen[dir] = struct{}{}
		st.Disks = append(st.Disks, diskUsage(dir))
	}
	return st
}

// Plugins returns the loaded plugins sorted by name.
func (d *Daemon) Plugins() []plugin.Loaded {
	return d.plugins.GetAll()
}

// ReloadPlugins reloads every manifest from the plugin folder.
func (d *Daemon) ReloadPlugins() (plugin.LoadReport, error) {
	report, err := d.pipeline.ReloadPlugins()
	if err != nil {
		return report, err
	}
	d.logger.Info("plugins reloaded",
		logging.String(logging.FieldEventType, "plugins_reloaded"),
		logging.Int("loaded", len(report.Loaded)),
		logging.Int("failed", len(report.Failed)),
	)
	return report, nil
}

// History returns recent dispatch records, newest first.
func (d *Daemon) History(ctx context.Context, filter store.HistoryFilter) ([]dispatch.Record, error) {
	return d.store.RecentDispatches(ctx, filter)
}
