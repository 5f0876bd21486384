package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"fabingest/internal/classify"
	"fabingest/internal/config"
	"fabingest/internal/dispatch"
	"fabingest/internal/logging"
	"fabingest/internal/plugin"
	"fabingest/internal/stabilize"
	"fabingest/internal/watcher"
	"fabingest/internal/workers"
)

// Plugins is the part of the plugin registry the pipeline drives.
type Plugins interface {
	dispatch.Plugins
	StartAll()
	StopAll()
	Reload() (plugin.LoadReport, error)
	GetAll() []plugin.Loaded
}

// Options configures a Pipeline.
type Options struct {
	Config   *config.Config
	Plugins  Plugins
	Recorder dispatch.Recorder
	Logger   *slog.Logger
	Now      func() time.Time
}

// Pipeline owns the stages of one ingestion run.
type Pipeline struct {
	cfg      *config.Config
	plugins  Plugins
	recorder dispatch.Recorder
	logger   *slog.Logger
	base     *slog.Logger
	now      func() time.Time
	engine   *classify.Engine

	mu      sync.Mutex
	running bool
	run     *run
	last    []dispatch.PluginStats

	classified atomic.Uint64
	skipped    atomic.Uint64
	copyErrors atomic.Uint64
	reloads    atomic.Uint64
}

// run holds the per-Start stages. Pools and dispatchers do not restart, so
// every Start builds a fresh set.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc

	watch      *watcher.Registry
	debounce   *stabilize.Debouncer
	classify   *workers.Pool
	dispatch   *workers.Pool
	dispatcher *dispatch.Dispatcher
	uploads    *uploadRouter

	uploadWatch    *watcher.Registry
	uploadDebounce *stabilize.Debouncer

	pluginWatch    *watcher.Registry
	pluginDebounce *stabilize.Debouncer
	reloadMu       sync.Mutex

	unsubscribe []func()
}

// New builds an idle pipeline. The classification engine is created here so
// rules can be inspected and tested before Start.
func New(opts Options) (*Pipeline, error) {
	if opts.Config == nil {
		return nil, errors.New("pipeline: config is required")
	}
	if opts.Plugins == nil {
		return nil, errors.New("pipeline: plugin registry is required")
	}
	p := &Pipeline{
		cfg:      opts.Config,
		plugins:  opts.Plugins,
		recorder: opts.Recorder,
		logger:   logging.NewComponentLogger(opts.Logger, "pipeline"),
		base:     opts.Logger,
		now:      opts.Now,
	}
	if p.base == nil {
		p.base = logging.NewNop()
	}
	if p.now == nil {
		p.now = time.Now
	}
	p.engine = classify.New(classify.Options{
		Rules:          opts.Config.Classify.Rules,
		Exclude:        opts.Config.Watch.Exclude,
		CopyAttempts:   opts.Config.Classify.CopyAttempts,
		CopyRetryDelay: opts.Config.CopyRetryDelay(),
		Logger:         p.base,
	})
	return p, nil
}

// Engine returns the classification engine.
func (p *Pipeline) Engine() *classify.Engine {
	return p.engine
}

// Running reports whether the pipeline is started.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start builds and starts every stage. It is a no-op when already running.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{ctx: runCtx, cancel: cancel}
	r.classify = workers.New("classify", p.cfg.Dispatch.Workers, p.base)
	r.dispatch = workers.New("dispatch", p.cfg.Dispatch.Workers, p.base)
	r.dispatcher = dispatch.New(dispatch.Options{
		Plugins:       p.plugins,
		Pool:          r.dispatch,
		Recorder:      p.recorder,
		ProbeAttempts: p.cfg.Dispatch.ProbeAttempts,
		ProbeDelay:    p.cfg.ProbeDelay(),
		Logger:        p.base,
		Now:           p.now,
	})
	r.uploads = newUploadRouter(p.cfg.Uploads)

	p.plugins.StartAll()

	r.debounce = stabilize.New(p.debounceOptions(), func(path string) { p.onStable(r, path) })
	r.watch = watcher.New(p.watchOptions())
	r.unsubscribe = append(r.unsubscribe, r.watch.Subscribe(r.debounce.Handle))
	if err := r.watch.Start(p.cfg.Watch.Roots); err != nil {
		p.teardown(r)
		return err
	}

	if folders := r.uploads.watchFolders(p.logger); len(folders) > 0 {
		r.uploadDebounce = stabilize.New(p.debounceOptions(), func(path string) { p.onUploadStable(r, path) })
		r.uploadWatch = watcher.New(p.watchOptions())
		r.unsubscribe = append(r.unsubscribe, r.uploadWatch.Subscribe(r.uploadDebounce.Handle))
		if err := r.uploadWatch.Start(folders); err != nil {
			p.teardown(r)
			return err
		}
	}

	if p.cfg.Plugins.Watch {
		r.pluginDebounce = stabilize.New(p.debounceOptions(), func(path string) { p.onManifestStable(r, path) })
		r.pluginWatch = watcher.New(p.watchOptions())
		r.unsubscribe = append(r.unsubscribe, r.pluginWatch.Subscribe(func(event watcher.Event) {
			// Deletions count as changes here: a removed manifest must unload its plugins.
			if plugin.IsManifest(event.Path) {
				r.pluginDebounce.Touch(event.Path)
			}
		}))
		if err := r.pluginWatch.Start([]string{p.cfg.Paths.PluginDir}); err != nil {
			p.teardown(r)
			return err
		}
	}

	p.run = r
	p.running = true
	p.logger.Info("pipeline started",
		logging.String(logging.FieldEventType, "pipeline_started"),
		logging.Int("roots", len(p.cfg.Watch.Roots)),
		logging.Int("rules", len(p.engine.Rules())),
		logging.Int("uploads", len(p.cfg.Uploads)),
		logging.Bool("plugin_watch", p.cfg.Plugins.Watch),
	)
	return nil
}

// Stop tears the pipeline down and waits for accepted work to finish. It is
// a no-op when not running.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	r := p.run
	p.run = nil
	p.running = false
	p.teardown(r)
	p.logger.Info("pipeline stopped", logging.String(logging.FieldEventType, "pipeline_stopped"))
}

// teardown stops r from the outside in: event sources first, then the
// debouncers, then the pools in flow order.
func (p *Pipeline) teardown(r *run) {
	for _, unsubscribe := range r.unsubscribe {
		unsubscribe()
	}
	for _, w := range []*watcher.Registry{r.watch, r.uploadWatch, r.pluginWatch} {
		if w != nil {
			w.Stop()
		}
	}
	for _, d := range []*stabilize.Debouncer{r.debounce, r.uploadDebounce, r.pluginDebounce} {
		if d != nil {
			d.Stop()
		}
	}
	r.classify.Close()
	r.dispatcher.Stop()
	r.dispatch.Close()
	r.cancel()
	p.plugins.StopAll()
	p.last = r.dispatcher.Stats()
}

func (p *Pipeline) debounceOptions() stabilize.Options {
	return stabilize.Options{
		QuietPeriod:   p.cfg.QuietPeriod(),
		SweepInterval: p.cfg.SweepInterval(),
		Logger:        p.base,
		Now:           p.now,
	}
}

func (p *Pipeline) watchOptions() watcher.Options {
	return watcher.Options{
		Logger:          p.base,
		RestartAttempts: p.cfg.Watch.RestartAttempts,
		RescanWindow:    p.cfg.RescanWindow(),
	}
}

// onStable runs on the debounce sweep goroutine and must not block.
func (p *Pipeline) onStable(r *run, path string) {
	err := r.classify.Submit(r.ctx, func(ctx context.Context) {
		p.classifyAndRoute(ctx, r, path)
	})
	if err != nil {
		p.logger.Debug("stable file dropped during shutdown", logging.String(logging.FieldPath, path))
	}
}

func (p *Pipeline) classifyAndRoute(ctx context.Context, r *run, path string) {
	result, err := p.engine.Classify(ctx, path)
	if err != nil {
		p.copyErrors.Add(1)
		return
	}
	if !result.Matched {
		p.skipped.Add(1)
		return
	}
	p.classified.Add(1)
	for _, target := range r.uploads.classifiedFor(result.Destination) {
		p.dispatch(r, result.Destination, target)
	}
}

func (p *Pipeline) onUploadStable(r *run, path string) {
	for _, target := range r.uploads.watchedFor(path) {
		p.dispatch(r, path, target)
	}
}

func (p *Pipeline) dispatch(r *run, path string, target config.Upload) {
	id, err := r.dispatcher.Dispatch(path, target.Plugin)
	if err != nil {
		if !errors.Is(err, dispatch.ErrStopped) {
			logging.WarnWithContext(p.logger, "dispatch rejected", "dispatch_rejected",
				logging.String(logging.FieldPath, path),
				logging.String(logging.FieldPlugin, target.Plugin),
				logging.Error(err),
				logging.String(logging.FieldImpact, "file was not processed"),
			)
		}
		return
	}
	p.logger.Debug("file dispatched",
		logging.String(logging.FieldTaskID, id),
		logging.String(logging.FieldPath, path),
		logging.String(logging.FieldPlugin, target.Plugin),
		logging.String("upload", target.Key),
	)
}

func (p *Pipeline) onManifestStable(r *run, path string) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()
	if r.ctx.Err() != nil {
		return
	}
	report, err := p.plugins.Reload()
	if err != nil {
		logging.ErrorWithContext(p.logger, "plugin hot reload failed", "plugin_reload_failed",
			logging.String(logging.FieldPath, path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the plugin folder and run 'fabingest plugins reload'"),
		)
		return
	}
	p.reloads.Add(1)
	p.logger.Info("plugins reloaded after manifest change",
		logging.String(logging.FieldEventType, "plugin_hot_reload"),
		logging.String(logging.FieldPath, path),
		logging.Int("loaded", len(report.Loaded)),
		logging.Int("failed", len(report.Failed)),
	)
}

// ReloadPlugins reloads the plugin registry and restarts plugins when the
// pipeline is running.
func (p *Pipeline) ReloadPlugins() (plugin.LoadReport, error) {
	report, err := p.plugins.Reload()
	if err == nil {
		p.reloads.Add(1)
	}
	return report, err
}

// ReloadRules re-reads classification rules and exclusions from cfg.
func (p *Pipeline) ReloadRules(cfg *config.Config) {
	p.engine.Reload(cfg.Classify.Rules, cfg.Watch.Exclude)
}
