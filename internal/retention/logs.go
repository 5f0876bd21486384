package retention

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fabingest/internal/logging"
)

// LogTarget specifies a directory and filename pattern to prune.
type LogTarget struct {
	Dir     string
	Pattern string
	Exclude []string
}

// PruneLogs removes files matching the provided targets whose modification
// time is older than retentionDays. A retentionDays value of 0 disables
// pruning. It returns the number of files removed.
func PruneLogs(logger *slog.Logger, retentionDays int, targets ...LogTarget) int {
	if retentionDays <= 0 {
		return 0
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	exclusions := make(map[string]struct{})
	for _, target := range targets {
		for _, path := range target.Exclude {
			if trimmed := strings.TrimSpace(path); trimmed != "" {
				if abs, err := filepath.Abs(trimmed); err == nil {
					exclusions[abs] = struct{}{}
				}
			}
		}
	}

	removed := 0
	for _, target := range targets {
		dir := strings.TrimSpace(target.Dir)
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if pat := strings.TrimSpace(target.Pattern); pat != "" {
				matched, err := filepath.Match(pat, name)
				if err != nil || !matched {
					continue
				}
			}
			fullPath := filepath.Join(dir, name)
			if absPath, err := filepath.Abs(fullPath); err == nil {
				fullPath = absPath
			}
			if _, skip := exclusions[fullPath]; skip {
				continue
			}
			info, err := entry.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			if err := os.Remove(fullPath); err != nil {
				logging.WarnWithContext(logger, "log retention remove failed; file remains", "log_retention_failed",
					logging.String(logging.FieldPath, fullPath),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check file permissions and log_dir ownership"),
					logging.String(logging.FieldImpact, "old log file remains on disk"),
				)
				continue
			}
			removed++
			if logger != nil {
				logger.Info("log pruned",
					logging.String(logging.FieldPath, fullPath),
					logging.String(logging.FieldEventType, "log_pruned"),
				)
			}
		}
	}
	return removed
}
