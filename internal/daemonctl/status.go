package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"fabingest/internal/config"
	"fabingest/internal/ipc"
	"fabingest/internal/logging"
	"fabingest/internal/plugin"
	"fabingest/internal/store"
)

// StatusLine is one labeled readiness check rendered by the CLI.
type StatusLine struct {
	Label    string
	Severity string
	Detail   string
}

// Snapshot combines live daemon status with config-derived checks.
type Snapshot struct {
	Status    ipc.StatusResponse
	Reachable bool
	Checks    []StatusLine
	// Recent holds the newest history rows read from the database when the
	// daemon is offline.
	Recent []ipc.HistoryEntry
}

// BuildStatusSnapshot collects daemon status and applies offline fallbacks
// from the config and the database.
func BuildStatusSnapshot(ctx context.Context, cfg *config.Config) (*Snapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	snap := &Snapshot{}

	client, err := ipc.Dial(cfg.SocketPath())
	if err == nil {
		defer client.Close()
		if resp, statusErr := client.Status(); statusErr == nil && resp != nil {
			snap.Status = *resp
			snap.Reachable = true
		}
	}

	if !snap.Reachable {
		snap.Status.DatabasePath = cfg.DatabasePath()
		snap.Status.LockPath = cfg.LockPath()
		snap.Status.PluginDir = cfg.Paths.PluginDir
		snap.Status.Roots = append([]string(nil), cfg.Watch.Roots...)
		snap.Status.Rules = len(cfg.Classify.Rules)
		snap.Status.Uploads = len(cfg.Uploads)
		snap.Recent = offlineHistory(ctx, cfg.DatabasePath(), 5)
	}
	snap.Checks = BuildSystemChecks(cfg, snap.Status.Running)
	return snap, nil
}

func offlineHistory(ctx context.Context, dbPath string, limit int) []ipc.HistoryEntry {
	if _, err := os.Stat(dbPath); err != nil {
		return nil
	}
	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	st, err := store.OpenPath(dbPath, logging.NewNop())
	if err != nil {
		return nil
	}
	defer st.Close()
	records, err := st.RecentDispatches(queryCtx, store.HistoryFilter{Limit: limit})
	if err != nil {
		return nil
	}
	out := make([]ipc.HistoryEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, ipc.HistoryEntry{
			ID:         rec.ID,
			Path:       rec.Path,
			Plugin:     rec.Plugin,
			Outcome:    string(rec.Outcome),
			Error:      rec.Error,
			StartedAt:  rec.StartedAt,
			DurationMS: rec.Duration.Milliseconds(),
		})
	}
	return out
}

// BuildSystemChecks resolves status lines that combine runtime state and
// config checks.
func BuildSystemChecks(cfg *config.Config, daemonRunning bool) []StatusLine {
	lines := make([]StatusLine, 0, 4+len(cfg.Watch.Roots)+len(cfg.Uploads))
	if daemonRunning {
		lines = append(lines, StatusLine{Label: "Fabingest", Severity: "ok", Detail: "Running"})
	} else {
		lines = append(lines, StatusLine{Label: "Fabingest", Severity: "warn", Detail: "Not running (run `fabingest start`)"})
	}

	for _, root := range cfg.Watch.Roots {
		lines = append(lines, directoryCheck("Watch root", root, "error"))
	}
	for _, target := range cfg.Uploads {
		lines = append(lines, directoryCheck("Upload "+target.Key, target.Folder, "warn"))
	}

	manifests, err := plugin.Discover(cfg.Paths.PluginDir)
	switch {
	case err != nil:
		lines = append(lines, StatusLine{Label: "Plugins", Severity: "error", Detail: err.Error()})
	case len(manifests) == 0:
		lines = append(lines, StatusLine{Label: "Plugins", Severity: "warn", Detail: "No manifests in " + cfg.Paths.PluginDir})
	default:
		lines = append(lines, StatusLine{Label: "Plugins", Severity: "ok", Detail: fmt.Sprintf("%d manifest(s) in %s", len(manifests), cfg.Paths.PluginDir)})
	}

	if _, err := os.Stat(cfg.DatabasePath()); err != nil {
		lines = append(lines, StatusLine{Label: "Database", Severity: "info", Detail: "Not created yet"})
	} else {
		lines = append(lines, StatusLine{Label: "Database", Severity: "ok", Detail: cfg.DatabasePath()})
	}

	if cfg.Equipment.EQPID == "" {
		lines = append(lines, StatusLine{Label: "Equipment", Severity: "warn", Detail: "equipment.eqpid not set"})
	} else {
		lines = append(lines, StatusLine{Label: "Equipment", Severity: "ok", Detail: cfg.Equipment.EQPID})
	}
	return lines
}

func directoryCheck(label, path, missingSeverity string) StatusLine {
	info, err := os.Stat(path)
	switch {
	case err != nil:
		return StatusLine{Label: label, Severity: missingSeverity, Detail: fmt.Sprintf("%s (missing)", path)}
	case !info.IsDir():
		return StatusLine{Label: label, Severity: "error", Detail: fmt.Sprintf("%s (not a directory)", path)}
	default:
		return StatusLine{Label: label, Severity: "ok", Detail: path}
	}
}
