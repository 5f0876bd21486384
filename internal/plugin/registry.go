package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"fabingest/internal/logging"
	"fabingest/internal/services"
)

// Loaded is a registered plugin instance.
type Loaded struct {
	Name     string
	Version  string
	Kind     string
	Source   string
	Started  bool
	LoadedAt time.Time
	Plugin   Plugin
}

// Failure describes a manifest entry that could not be loaded.
type Failure struct {
	Source string
	Name   string
	Err    error
}

// LoadReport summarizes a Load or Reload.
type LoadReport struct {
	Loaded   []string
	Disabled []string
	Failed   []Failure
}

// Options configures a Registry.
type Options struct {
	Catalog *Catalog
	// Services is the host locator; every plugin gets a child scope of it.
	Services *services.Registry
	Logger   *slog.Logger
	// Levels overrides the log level for individual plugins, keyed by name.
	Levels map[string]string
	Now    func() time.Time
}

// Registry owns the loaded plugin table. Reload holds the write lock across
// dispose and load, so lookups and invocations never see a partial table.
type Registry struct {
	catalog  *Catalog
	services *services.Registry
	logger   *slog.Logger
	base     *slog.Logger
	levels   map[string]slog.Level
	now      func() time.Time

	mu      sync.RWMutex
	dir     string
	plugins map[string]*Loaded
	running bool
}

// NewRegistry builds an empty registry.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		catalog:  opts.Catalog,
		services: opts.Services,
		logger:   logging.NewComponentLogger(opts.Logger, "plugins"),
		base:     opts.Logger,
		levels:   make(map[string]slog.Level, len(opts.Levels)),
		now:      opts.Now,
		plugins:  make(map[string]*Loaded),
	}
	if r.catalog == nil {
		r.catalog = NewCatalog()
	}
	if r.services == nil {
		r.services = services.NewRegistry()
	}
	if r.base == nil {
		r.base = logging.NewNop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	for name, level := range opts.Levels {
		r.levels[strings.ToLower(name)] = logging.ParseLevel(level)
	}
	return r
}

// Load disposes any loaded plugins and loads every manifest in dir. A missing
// dir is created. Entries that fail are reported and skipped; only an
// unreadable dir is returned as an error.
func (r *Registry) Load(dir string) (LoadReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked(dir)
}

// Reload is Load against the directory of the previous Load.
func (r *Registry) Reload() (LoadReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dir == "" {
		return LoadReport{}, services.Wrap(services.ErrConfiguration, "plugins", "reload", "no plugin directory loaded", nil)
	}
	return r.loadLocked(r.dir)
}

// Unload stops and disposes every plugin.
func (r *Registry) Unload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unloadLocked()
}

// Dir returns the directory of the last Load.
func (r *Registry) Dir() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dir
}

// GetByName returns a snapshot of the named plugin. Names are
// case-insensitive.
func (r *Registry) GetByName(name string) (Loaded, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lp, ok := r.plugins[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Loaded{}, false
	}
	return *lp, true
}

// GetAll returns snapshots of every plugin sorted by name.
func (r *Registry) GetAll() []Loaded {
	r.mu.RLock()
	out := make([]Loaded, 0, len(r.plugins))
	for _, lp := range r.plugins {
		out = append(out, *lp)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// Invoke runs fn with the named plugin while holding the read lock, so a
// concurrent Reload waits for it. Panics in fn are returned as ErrPanic.
func (r *Registry) Invoke(ctx context.Context, name string, fn func(context.Context, Plugin) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lp, ok := r.plugins[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return services.Wrap(services.ErrNotFound, "plugins", "invoke", fmt.Sprintf("plugin %q is not loaded", name), nil)
	}
	ctx = services.WithPlugin(ctx, lp.Name)
	return safeCall(func() error { return fn(ctx, lp.Plugin) })
}

// StartAll starts every plugin. Plugins loaded later by Reload are started
// as they load until StopAll is called.
func (r *Registry) StartAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = true
	for _, lp := range r.plugins {
		r.startLocked(lp)
	}
}

// StopAll stops every started plugin.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	for _, lp := range r.plugins {
		r.stopLocked(lp)
	}
}

func (r *Registry) loadLocked(dir string) (LoadReport, error) {
	var report LoadReport
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return report, services.Wrap(services.ErrConfiguration, "plugins", "load", dir, err)
	}
	manifests, err := Discover(dir)
	if err != nil {
		return report, services.Wrap(services.ErrConfiguration, "plugins", "load", dir, err)
	}

	r.unloadLocked()
	r.dir = dir

	for _, path := range manifests {
		specs, err := ReadManifest(path)
		if err != nil {
			report.Failed = append(report.Failed, Failure{Source: path, Err: err})
			logging.WarnWithContext(r.logger, "plugin manifest skipped", "plugin_manifest_invalid",
				logging.String(logging.FieldPath, path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "fix the manifest syntax and run 'fabingest plugins reload'"),
				logging.String(logging.FieldImpact, "plugins declared in this manifest are unavailable"),
			)
			continue
		}
		for _, spec := range specs {
			if !spec.IsEnabled() {
				report.Disabled = append(report.Disabled, spec.Name)
				r.logger.Debug("plugin disabled", logging.String(logging.FieldPlugin, spec.Name))
				continue
			}
			lp, err := r.instantiate(spec)
			if err != nil {
				report.Failed = append(report.Failed, Failure{Source: path, Name: spec.Name, Err: err})
				logging.ErrorWithContext(r.logger, "plugin load failed", "plugin_load_failed",
					logging.String(logging.FieldPlugin, spec.Name),
					logging.String(logging.FieldPath, path),
					logging.String("kind", spec.Kind),
					logging.String("error_kind", services.Kind(err)),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check the plugin kind and options in the manifest"),
				)
				continue
			}
			key := strings.ToLower(lp.Name)
			if existing, dup := r.plugins[key]; dup {
				dupErr := services.Wrap(services.ErrConfiguration, "plugins", "load",
					fmt.Sprintf("duplicate plugin name %q (already loaded from %s)", lp.Name, filepath.Base(existing.Source)), nil)
				report.Failed = append(report.Failed, Failure{Source: path, Name: lp.Name, Err: dupErr})
				logging.WarnWithContext(r.logger, "duplicate plugin name rejected", "plugin_duplicate",
					logging.String(logging.FieldPlugin, lp.Name),
					logging.String(logging.FieldPath, path),
					logging.String(logging.FieldErrorHint, "give each manifest entry a unique name"),
					logging.String(logging.FieldImpact, "the later entry is ignored"),
				)
				r.disposeInstance(lp)
				continue
			}
			r.plugins[key] = lp
			report.Loaded = append(report.Loaded, lp.Name)
			r.logger.Info("plugin loaded",
				logging.String(logging.FieldEventType, "plugin_loaded"),
				logging.String(logging.FieldPlugin, lp.Name),
				logging.String("version", lp.Version),
				logging.String("kind", lp.Kind),
			)
			if r.running {
				r.startLocked(lp)
			}
		}
	}

	r.logger.Info("plugins loaded",
		logging.String(logging.FieldEventType, "plugins_loaded"),
		logging.String(logging.FieldPath, dir),
		logging.Int("loaded", len(report.Loaded)),
		logging.Int("failed", len(report.Failed)),
		logging.Int("disabled", len(report.Disabled)),
	)
	return report, nil
}

func (r *Registry) instantiate(spec Spec) (*Loaded, error) {
	factory, ok := r.catalog.Lookup(spec.Kind)
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "plugins", "load",
			fmt.Sprintf("unknown plugin kind %q", spec.Kind), nil)
	}

	var instance Plugin
	err := safeCall(func() error {
		var ferr error
		instance, ferr = factory(spec)
		return ferr
	})
	if err == nil && instance == nil {
		err = fmt.Errorf("factory for %q returned nil", spec.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: construct: %w", services.ErrPlugin, err)
	}

	name := strings.TrimSpace(instance.Name())
	if name == "" {
		name = spec.Name
	}

	scope := r.scopeFor(name, spec)
	if err := safeCall(func() error { return instance.Initialize(scope) }); err != nil {
		_ = safeCall(instance.Dispose)
		if errors.Is(err, services.ErrServiceMissing) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: initialize: %w", services.ErrPlugin, err)
	}

	return &Loaded{
		Name:     name,
		Version:  instance.Version(),
		Kind:     spec.Kind,
		Source:   spec.Source,
		LoadedAt: r.now(),
		Plugin:   instance,
	}, nil
}

// scopeFor builds the locator handed to a plugin: host services plus the
// plugin's logger and manifest options.
func (r *Registry) scopeFor(name string, spec Spec) *services.Registry {
	logger := r.base.With(logging.String(logging.FieldComponent, "plugin"), logging.String(logging.FieldPlugin, name))
	if level, ok := r.levels[strings.ToLower(name)]; ok {
		logger = logging.WithLevelOverride(logger, level)
	}
	scope := r.services.Child()
	services.Provide[services.Logger](scope, logging.NewEventLogger(logger))
	services.Provide(scope, logger)
	services.Provide(scope, spec.ServiceOptions())
	return scope
}

func (r *Registry) startLocked(lp *Loaded) {
	if lp.Started {
		return
	}
	if err := safeCall(lp.Plugin.Start); err != nil {
		logging.ErrorWithContext(r.logger, "plugin start failed", "plugin_start_failed",
			logging.String(logging.FieldPlugin, lp.Name),
			logging.Error(err),
		)
		return
	}
	lp.Started = true
}

func (r *Registry) stopLocked(lp *Loaded) {
	if !lp.Started {
		return
	}
	if err := safeCall(lp.Plugin.Stop); err != nil {
		logging.WarnWithContext(r.logger, "plugin stop failed", "plugin_stop_failed",
			logging.String(logging.FieldPlugin, lp.Name),
			logging.Error(err),
			logging.String(logging.FieldImpact, "plugin resources may not be released until exit"),
		)
	}
	lp.Started = false
}

func (r *Registry) unloadLocked() {
	for key, lp := range r.plugins {
		r.stopLocked(lp)
		r.disposeInstance(lp)
		delete(r.plugins, key)
		r.logger.Debug("plugin unloaded", logging.String(logging.FieldPlugin, lp.Name))
	}
}

func (r *Registry) disposeInstance(lp *Loaded) {
	if err := safeCall(lp.Plugin.Dispose); err != nil {
		logging.WarnWithContext(r.logger, "plugin dispose failed", "plugin_dispose_failed",
			logging.String(logging.FieldPlugin, lp.Name),
			logging.Error(err),
			logging.String(logging.FieldImpact, "plugin resources may not be released until exit"),
		)
	}
}
