package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths groups the directories the daemon owns.
type Paths struct {
	StateDir  string `toml:"state_dir"`
	LogDir    string `toml:"log_dir"`
	PluginDir string `toml:"plugin_dir"`
}

// Watch configures the directory watch roots.
type Watch struct {
	Roots               []string `toml:"roots"`
	Exclude             []string `toml:"exclude"`
	RestartAttempts     int      `toml:"restart_attempts"`
	RescanWindowSeconds int      `toml:"rescan_window_seconds"`
}

// Classify holds the ordered classification rules in "<regex> -> <dest>" form.
type Classify struct {
	Rules            []string `toml:"rules"`
	CopyAttempts     int      `toml:"copy_attempts"`
	CopyRetryDelayMS int      `toml:"copy_retry_delay_ms"`
}

// Stabilize configures the write quiet-period detector.
type Stabilize struct {
	QuietPeriodMS   int `toml:"quiet_period_ms"`
	SweepIntervalMS int `toml:"sweep_interval_ms"`
}

// Dispatch configures the plugin worker pool and readiness probe.
type Dispatch struct {
	Workers       int `toml:"workers"`
	ProbeAttempts int `toml:"probe_attempts"`
	ProbeDelayMS  int `toml:"probe_delay_ms"`
}

// Plugins configures plugin discovery.
type Plugins struct {
	Watch bool `toml:"watch"`
}

// Upload binds a folder to a plugin.
type Upload struct {
	Key    string `toml:"key"`
	Folder string `toml:"folder"`
	Plugin string `toml:"plugin"`
	Mode   string `toml:"mode"`
}

// Equipment identifies the host equipment for plugins that stamp rows.
type Equipment struct {
	EQPID string `toml:"eqpid"`
	Type  string `toml:"type"`
}

// Retention configures the dated-file cleaner.
type Retention struct {
	Enabled         bool     `toml:"enabled"`
	Days            int      `toml:"days"`
	IntervalMinutes int      `toml:"interval_minutes"`
	BaseDirs        []string `toml:"base_dirs"`
}

// TimeSync configures database clock offset sampling. Zone is the IANA
// zone synchronized timestamps are reported in.
type TimeSync struct {
	Enabled         bool   `toml:"enabled"`
	IntervalSeconds int    `toml:"interval_seconds"`
	Zone            string `toml:"zone"`
}

// Logging configures daemon log output.
type Logging struct {
	Format        string            `toml:"format"`
	Level         string            `toml:"level"`
	RetentionDays int               `toml:"retention_days"`
	PluginLevels  map[string]string `toml:"plugin_levels"`
}

// Config encapsulates all configuration values for fabingest.
type Config struct {
	Paths     Paths     `toml:"paths"`
	Watch     Watch     `toml:"watch"`
	Classify  Classify  `toml:"classify"`
	Stabilize Stabilize `toml:"stabilize"`
	Dispatch  Dispatch  `toml:"dispatch"`
	Plugins   Plugins   `toml:"plugins"`
	Uploads   []Upload  `toml:"upload"`
	Equipment Equipment `toml:"equipment"`
	Retention Retention `toml:"retention"`
	TimeSync  TimeSync  `toml:"timesync"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load reads configuration from disk, applies defaults, and validates it.
// It returns the loaded config, the resolved path, and whether the file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("fabingest.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the daemon writes to. Watch roots
// are left alone: a missing root is reported by the watcher, not created.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.Paths.PluginDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "fabingest.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "fabingest.lock")
}

// SocketPath returns the daemon control socket.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "fabingest.sock")
}

// PIDPath returns the daemon pid file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "fabingest.pid")
}

// QuietPeriod is how long a file must go without writes before it is stable.
func (c *Config) QuietPeriod() time.Duration {
	return time.Duration(c.Stabilize.QuietPeriodMS) * time.Millisecond
}

// SweepInterval is the pending-file sweep period.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Stabilize.SweepIntervalMS) * time.Millisecond
}

// ProbeDelay is the backoff between readiness probe attempts.
func (c *Config) ProbeDelay() time.Duration {
	return time.Duration(c.Dispatch.ProbeDelayMS) * time.Millisecond
}

// CopyRetryDelay is the backoff between classification copy attempts.
func (c *Config) CopyRetryDelay() time.Duration {
	return time.Duration(c.Classify.CopyRetryDelayMS) * time.Millisecond
}

// RescanWindow bounds which files are re-emitted after a watch restart.
func (c *Config) RescanWindow() time.Duration {
	return time.Duration(c.Watch.RescanWindowSeconds) * time.Second
}

// RetentionInterval is the period between retention sweeps.
func (c *Config) RetentionInterval() time.Duration {
	return time.Duration(c.Retention.IntervalMinutes) * time.Minute
}

// TimeSyncInterval is the period between clock offset samples.
func (c *Config) TimeSyncInterval() time.Duration {
	return time.Duration(c.TimeSync.IntervalSeconds) * time.Second
}

// TimeSyncLocation resolves the reporting zone.
func (c *Config) TimeSyncLocation() (*time.Location, error) {
	if c.TimeSync.Zone == "" {
		return time.LoadLocation(defaultTimeSyncZone)
	}
	return time.LoadLocation(c.TimeSync.Zone)
}

// RuleDestinations returns the destination folder of every well-formed rule,
// in rule order and without duplicates.
func (c *Config) RuleDestinations() []string {
	seen := make(map[string]struct{}, len(c.Classify.Rules))
	out := make([]string, 0, len(c.Classify.Rules))
	for _, rule := range c.Classify.Rules {
		_, dest, ok := strings.Cut(rule, RuleSeparator)
		if !ok {
			continue
		}
		dest = strings.TrimSpace(dest)
		if dest == "" {
			continue
		}
		dest = filepath.Clean(dest)
		if _, dup := seen[dest]; dup {
			continue
		}
		seen[dest] = struct{}{}
		out = append(out, dest)
	}
	return out
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes the sample configuration to path.
func CreateSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}
