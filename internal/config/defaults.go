package config

const (
	defaultConfigPath          = "~/.config/fabingest/config.toml"
	defaultStateDir            = "~/.local/share/fabingest"
	defaultLogDir              = "~/.local/share/fabingest/logs"
	defaultPluginDir           = "~/.local/share/fabingest/plugins"
	defaultRestartAttempts     = 3
	defaultRescanWindowSeconds = 60
	defaultCopyAttempts        = 3
	defaultCopyRetryDelayMS    = 200
	defaultQuietPeriodMS       = 3000
	defaultSweepIntervalMS     = 1500
	defaultDispatchWorkers     = 4
	defaultProbeAttempts       = 10
	defaultProbeDelayMS        = 500
	defaultRetentionDays       = 30
	defaultRetentionInterval   = 60
	defaultTimeSyncInterval    = 600
	defaultTimeSyncZone        = "Asia/Seoul"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogRetentionDays    = 30
	defaultEquipmentType       = "ONTO"
)

// RuleSeparator splits a classification rule into pattern and destination.
const RuleSeparator = "->"

// Upload modes decide which path a target dispatches.
const (
	UploadModeClassified = "classified"
	UploadModeWatch      = "watch"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:  defaultStateDir,
			LogDir:    defaultLogDir,
			PluginDir: defaultPluginDir,
		},
		Watch: Watch{
			RestartAttempts:     defaultRestartAttempts,
			RescanWindowSeconds: defaultRescanWindowSeconds,
		},
		Classify: Classify{
			CopyAttempts:     defaultCopyAttempts,
			CopyRetryDelayMS: defaultCopyRetryDelayMS,
		},
		Stabilize: Stabilize{
			QuietPeriodMS:   defaultQuietPeriodMS,
			SweepIntervalMS: defaultSweepIntervalMS,
		},
		Dispatch: Dispatch{
			Workers:       defaultDispatchWorkers,
			ProbeAttempts: defaultProbeAttempts,
			ProbeDelayMS:  defaultProbeDelayMS,
		},
		Equipment: Equipment{
			Type: defaultEquipmentType,
		},
		Retention: Retention{
			Days:            defaultRetentionDays,
			IntervalMinutes: defaultRetentionInterval,
		},
		TimeSync: TimeSync{
			Enabled:         true,
			IntervalSeconds: defaultTimeSyncInterval,
			Zone:            defaultTimeSyncZone,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
