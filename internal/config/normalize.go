package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeWatch(); err != nil {
		return err
	}
	if err := c.normalizeUploads(); err != nil {
		return err
	}
	if err := c.normalizeRetention(); err != nil {
		return err
	}
	c.normalizeClassify()
	c.normalizeEquipment()
	c.normalizeTimeSync()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.PluginDir) == "" {
		c.Paths.PluginDir = defaultPluginDir
	}
	if c.Paths.PluginDir, err = expandPath(c.Paths.PluginDir); err != nil {
		return fmt.Errorf("paths.plugin_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeWatch() error {
	roots, err := expandList(c.Watch.Roots, "watch.roots")
	if err != nil {
		return err
	}
	c.Watch.Roots = roots
	exclude, err := expandList(c.Watch.Exclude, "watch.exclude")
	if err != nil {
		return err
	}
	c.Watch.Exclude = exclude
	return nil
}

func (c *Config) normalizeClassify() {
	rules := make([]string, 0, len(c.Classify.Rules))
	for _, rule := range c.Classify.Rules {
		if trimmed := strings.TrimSpace(rule); trimmed != "" {
			rules = append(rules, trimmed)
		}
	}
	c.Classify.Rules = rules
}

func (c *Config) normalizeUploads() error {
	for i := range c.Uploads {
		u := &c.Uploads[i]
		u.Key = strings.TrimSpace(u.Key)
		u.Plugin = strings.TrimSpace(u.Plugin)
		u.Mode = strings.ToLower(strings.TrimSpace(u.Mode))
		if u.Mode == "" {
			u.Mode = UploadModeClassified
		}
		if u.Key == "" {
			u.Key = u.Plugin
		}
		folder, err := expandPath(strings.TrimSpace(u.Folder))
		if err != nil {
			return fmt.Errorf("upload[%d].folder: %w", i, err)
		}
		u.Folder = folder
	}
	return nil
}

func (c *Config) normalizeRetention() error {
	dirs, err := expandList(c.Retention.BaseDirs, "retention.base_dirs")
	if err != nil {
		return err
	}
	c.Retention.BaseDirs = dirs
	return nil
}

func (c *Config) normalizeEquipment() {
	c.Equipment.EQPID = strings.TrimSpace(c.Equipment.EQPID)
	if c.Equipment.EQPID == "" {
		if value, ok := os.LookupEnv("FABINGEST_EQPID"); ok {
			c.Equipment.EQPID = strings.TrimSpace(value)
		}
	}
	c.Equipment.Type = strings.TrimSpace(c.Equipment.Type)
	if c.Equipment.Type == "" {
		c.Equipment.Type = defaultEquipmentType
	}
}

func (c *Config) normalizeTimeSync() {
	c.TimeSync.Zone = strings.TrimSpace(c.TimeSync.Zone)
	if c.TimeSync.Zone == "" {
		c.TimeSync.Zone = defaultTimeSyncZone
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if len(c.Logging.PluginLevels) > 0 {
		levels := make(map[string]string, len(c.Logging.PluginLevels))
		for name, level := range c.Logging.PluginLevels {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			levels[name] = strings.ToLower(strings.TrimSpace(level))
		}
		c.Logging.PluginLevels = levels
	}
}

func expandList(values []string, field string) ([]string, error) {
	out := make([]string, 0, len(values))
	for i, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		expanded, err := expandPath(value)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", field, i, err)
		}
		out = append(out, expanded)
	}
	return out, nil
}
