package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"fabingest/internal/config"
	"fabingest/internal/daemon"
	"fabingest/internal/ipc"
	"fabingest/internal/logging"
	"fabingest/internal/pipeline"
	"fabingest/internal/plugin"
	"fabingest/internal/plugins/builtin"
	"fabingest/internal/retention"
	"fabingest/internal/store"
	"fabingest/internal/timesync"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Diagnostic tags every log line with a session id and writes a debug
	// level JSON log alongside the regular one.
	Diagnostic bool
}

// Run starts the fabingest daemon runtime loop and blocks until the context
// is canceled or the process receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("fabingest-%s.log", runID))

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	var sessionID string
	if opts.Diagnostic {
		sessionID = uuid.NewString()
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
		SessionID:        sessionID,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	debugPath := ""
	if opts.Diagnostic {
		debugDir := filepath.Join(cfg.Paths.LogDir, "debug")
		if err := os.MkdirAll(debugDir, 0o755); err != nil {
			return fmt.Errorf("create debug log directory: %w", err)
		}
		debugPath = filepath.Join(debugDir, fmt.Sprintf("fabingest-%s.log", runID))
		debugLogger, debugErr := logging.New(logging.Options{
			Level:            "debug",
			Format:           "json",
			OutputPaths:      []string{debugPath},
			ErrorOutputPaths: []string{debugPath},
			Development:      true,
			SessionID:        sessionID,
		})
		if debugErr != nil {
			fmt.Fprintf(os.Stderr, "warn: unable to initialize debug logger: %v\n", debugErr)
		} else {
			logger = logging.TeeLogger(logger, debugLogger.Handler())
		}
		logger.Info("diagnostic mode enabled",
			logging.String(logging.FieldEventType, "diagnostic_mode_enabled"),
			logging.String(logging.FieldSessionID, sessionID),
			logging.String("debug_log_path", debugPath),
		)
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update fabingest.log link: %v\n", err)
	}
	retention.PruneLogs(logger, cfg.Logging.RetentionDays,
		retention.LogTarget{Dir: cfg.Paths.LogDir, Pattern: "fabingest-*.log", Exclude: []string{logPath}},
		retention.LogTarget{Dir: filepath.Join(cfg.Paths.LogDir, "debug"), Pattern: "fabingest-*.log", Exclude: []string{debugPath}},
	)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg, logger)
	if err != nil {
		logging.ErrorWithContext(logger, "open store failed", "store_open_failed",
			logging.Error(err),
			logging.String(logging.FieldPath, cfg.DatabasePath()),
			logging.String(logging.FieldErrorHint, "check the state directory permissions"),
		)
		return err
	}
	defer st.Close()

	d, err := build(cfg, st, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logging.WarnWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check watch roots, the plugin folder and the lock file"),
			logging.String(logging.FieldImpact, "files are not classified until the daemon is started"),
		)
	}

	<-signalCtx.Done()
	logger.Info("fabingest daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// build wires the plugin registry, pipeline, clock and cleaner into a daemon.
func build(cfg *config.Config, st *store.Store, logger *slog.Logger) (*daemon.Daemon, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	loc, err := cfg.TimeSyncLocation()
	if err != nil {
		return nil, fmt.Errorf("time sync zone: %w", err)
	}
	clock := timesync.New(timesync.Options{
		Sampler:  st,
		Interval: cfg.TimeSyncInterval(),
		Location: loc,
		Logger:   logger,
	})

	plugins := plugin.NewRegistry(plugin.Options{
		Catalog:  builtin.Catalog(),
		Services: daemon.HostServices(cfg, st, clock, logger),
		Logger:   logger,
		Levels:   cfg.Logging.PluginLevels,
	})
	report, err := plugins.Load(cfg.Paths.PluginDir)
	if err != nil {
		return nil, fmt.Errorf("load plugins: %w", err)
	}
	logger.Info("plugins loaded",
		logging.String(logging.FieldEventType, "plugins_loaded"),
		logging.String(logging.FieldPath, cfg.Paths.PluginDir),
		logging.Int("loaded", len(report.Loaded)),
		logging.Int("disabled", len(report.Disabled)),
		logging.Int("failed", len(report.Failed)),
	)

	pipe, err := pipeline.New(pipeline.Options{Config: cfg, Plugins: plugins, Recorder: st, Logger: logger})
	if err != nil {
		plugins.Unload()
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	opts := daemon.Options{
		Config:   cfg,
		Store:    st,
		Plugins:  plugins,
		Pipeline: pipe,
		Logger:   logger,
	}
	if cfg.TimeSync.Enabled {
		opts.Clock = clock
	}
	if cfg.Retention.Enabled {
		dirs := cfg.Retention.BaseDirs
		if len(dirs) == 0 {
			dirs = cfg.RuleDestinations()
		}
		opts.Cleaner = retention.New(retention.Options{
			Days:     cfg.Retention.Days,
			Interval: cfg.RetentionInterval(),
			BaseDirs: dirs,
			History:  st,
			Logger:   logger,
		})
	}
	d, err := daemon.New(opts)
	if err != nil {
		plugins.Unload()
		return nil, fmt.Errorf("create daemon: %w", err)
	}
	return d, nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "fabingest.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
