package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable. Individual malformed rules are
// tolerated here; the classification engine logs and skips them at load.
func (c *Config) Validate() error {
	if err := c.validateTiming(); err != nil {
		return err
	}
	if err := c.validateUploads(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if _, err := c.TimeSyncLocation(); err != nil {
		return fmt.Errorf("timesync.zone: %w", err)
	}
	return nil
}

func (c *Config) validateTiming() error {
	if err := ensurePositive(
		positiveField{"stabilize.quiet_period_ms", c.Stabilize.QuietPeriodMS},
		positiveField{"stabilize.sweep_interval_ms", c.Stabilize.SweepIntervalMS},
		positiveField{"dispatch.workers", c.Dispatch.Workers},
		positiveField{"dispatch.probe_attempts", c.Dispatch.ProbeAttempts},
		positiveField{"classify.copy_attempts", c.Classify.CopyAttempts},
		positiveField{"timesync.interval_seconds", c.TimeSync.IntervalSeconds},
	); err != nil {
		return err
	}
	if c.Dispatch.ProbeDelayMS < 0 {
		return errors.New("dispatch.probe_delay_ms must be >= 0")
	}
	if c.Classify.CopyRetryDelayMS < 0 {
		return errors.New("classify.copy_retry_delay_ms must be >= 0")
	}
	if c.Watch.RestartAttempts < 0 {
		return errors.New("watch.restart_attempts must be >= 0")
	}
	if c.Watch.RescanWindowSeconds < 0 {
		return errors.New("watch.rescan_window_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateUploads() error {
	keys := make(map[string]struct{}, len(c.Uploads))
	for i, u := range c.Uploads {
		if u.Plugin == "" {
			return fmt.Errorf("upload[%d].plugin must be set", i)
		}
		if u.Folder == "" {
			return fmt.Errorf("upload[%d].folder must be set", i)
		}
		switch u.Mode {
		case UploadModeClassified, UploadModeWatch:
		default:
			return fmt.Errorf("upload[%d].mode: unsupported value %q (use %q or %q)", i, u.Mode, UploadModeClassified, UploadModeWatch)
		}
		folded := strings.ToLower(u.Key)
		if _, dup := keys[folded]; dup {
			return fmt.Errorf("upload[%d].key %q is declared more than once", i, u.Key)
		}
		keys[folded] = struct{}{}
	}
	return nil
}

func (c *Config) validateRetention() error {
	if !c.Retention.Enabled {
		return nil
	}
	if c.Retention.Days <= 0 {
		return errors.New("retention.days must be positive when retention.enabled is true")
	}
	if c.Retention.IntervalMinutes <= 0 {
		return errors.New("retention.interval_minutes must be positive when retention.enabled is true")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	return nil
}

type positiveField struct {
	key   string
	value int
}

// ensurePositive reports the first non-positive field in argument order.
func ensurePositive(fields ...positiveField) error {
	for _, f := range fields {
		if f.value <= 0 {
			return fmt.Errorf("%s must be positive", f.key)
		}
	}
	return nil
}
