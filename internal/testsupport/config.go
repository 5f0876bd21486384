package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"fabingest/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Timing knobs are shortened so pipeline tests settle in milliseconds.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.PluginDir = filepath.Join(base, "plugins")
	cfgVal.Watch.Roots = []string{filepath.Join(base, "in")}
	cfgVal.Stabilize.QuietPeriodMS = 50
	cfgVal.Stabilize.SweepIntervalMS = 10
	cfgVal.Dispatch.ProbeAttempts = 3
	cfgVal.Dispatch.ProbeDelayMS = 5
	cfgVal.Classify.CopyRetryDelayMS = 5
	cfgVal.TimeSync.Enabled = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	for _, root := range builder.cfg.Watch.Roots {
		if err := os.MkdirAll(root, 0o755); err != nil {
			t.Fatalf("mkdir watch root: %v", err)
		}
	}

	return builder.cfg
}

// WithRule appends a classification rule whose destination is relative to
// the test base directory.
func WithRule(pattern, destDir string) ConfigOption {
	return func(b *configBuilder) {
		dest := filepath.Join(b.baseDir, destDir)
		b.cfg.Classify.Rules = append(b.cfg.Classify.Rules, pattern+" "+config.RuleSeparator+" "+dest)
	}
}

// WithUpload binds a folder relative to the test base directory to plugin.
func WithUpload(key, folder, plugin, mode string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Uploads = append(b.cfg.Uploads, config.Upload{
			Key:    key,
			Folder: filepath.Join(b.baseDir, folder),
			Plugin: plugin,
			Mode:   mode,
		})
	}
}

// WithExclude excludes a folder relative to the test base directory.
func WithExclude(folder string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Watch.Exclude = append(b.cfg.Watch.Exclude, filepath.Join(b.baseDir, folder))
	}
}

// WithPluginManifest writes a manifest into the plugin directory.
func WithPluginManifest(name, contents string) ConfigOption {
	return func(b *configBuilder) {
		if err := os.MkdirAll(b.cfg.Paths.PluginDir, 0o755); err != nil {
			b.t.Fatalf("mkdir plugin dir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(b.cfg.Paths.PluginDir, name), []byte(contents), 0o644); err != nil {
			b.t.Fatalf("write manifest %s: %v", name, err)
		}
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}

// WatchRoot returns the first watch root of the generated config.
func WatchRoot(cfg *config.Config) string {
	return cfg.Watch.Roots[0]
}
