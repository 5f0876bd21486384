package retention

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fabingest/internal/logging"
)

// HistoryPruner drops dispatch history older than a cutoff.
type HistoryPruner interface {
	PruneDispatches(ctx context.Context, cutoff time.Time) (int64, error)
}

// Options configures a Cleaner.
type Options struct {
	Days     int
	Interval time.Duration
	BaseDirs []string
	History  HistoryPruner
	Logger   *slog.Logger
	Now      func() time.Time
}

// Report summarizes one cleanup pass.
type Report struct {
	Scanned        int
	Deleted        int
	Failed         int
	HistoryDeleted int64
}

// Cleaner deletes files whose names carry a date older than the retention
// period. Files without a recognizable date are never touched.
type Cleaner struct {
	days     int
	interval time.Duration
	dirs     []string
	history  HistoryPruner
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Cleaner. Days <= 0 makes every pass a no-op.
func New(opts Options) *Cleaner {
	c := &Cleaner{
		days:     opts.Days,
		interval: opts.Interval,
		dirs:     append([]string(nil), opts.BaseDirs...),
		history:  opts.History,
		logger:   logging.NewComponentLogger(opts.Logger, "retention"),
		now:      opts.Now,
	}
	if c.interval <= 0 {
		c.interval = time.Hour
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Cutoff returns the first date that is kept.
func (c *Cleaner) Cutoff() time.Time {
	now := c.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return today.AddDate(0, 0, -c.days)
}

// Start runs a pass immediately and then every interval until Stop.
func (c *Cleaner) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.wg.Add(1)
	go c.loop(runCtx)
	c.logger.Info("retention cleaner started",
		logging.String(logging.FieldEventType, "retention_started"),
		logging.Int("days", c.days),
		logging.Duration("interval", c.interval),
	)
}

// Stop halts the periodic pass and waits for a running pass to finish.
func (c *Cleaner) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	c.running = false
	c.cancel = nil
	c.mu.Unlock()

	cancel()
	c.wg.Wait()
}

func (c *Cleaner) loop(ctx context.Context) {
	defer c.wg.Done()
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce walks every base directory and deletes expired dated files.
func (c *Cleaner) RunOnce(ctx context.Context) Report {
	var report Report
	if c.days <= 0 {
		c.logger.Debug("retention disabled, skipping pass")
		return report
	}
	cutoff := c.Cutoff()

	for _, dir := range c.dirs {
		if ctx.Err() != nil {
			return report
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			c.logger.Debug("retention base dir missing", logging.String(logging.FieldPath, dir))
			continue
		}
		c.cleanDir(ctx, dir, cutoff, &report)
	}

	if c.history != nil && ctx.Err() == nil {
		n, err := c.history.PruneDispatches(ctx, cutoff)
		if err != nil {
			logging.WarnWithContext(c.logger, "dispatch history prune failed", "retention_history_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "old history rows remain"),
			)
		}
		report.HistoryDeleted = n
	}

	if report.Deleted > 0 || report.Failed > 0 || report.HistoryDeleted > 0 {
		c.logger.Info("retention pass completed",
			logging.String(logging.FieldEventType, "retention_completed"),
			logging.Time("cutoff", cutoff),
			logging.Int("scanned", report.Scanned),
			logging.Int("deleted", report.Deleted),
			logging.Int("failed", report.Failed),
			logging.Int64("history_deleted", report.HistoryDeleted),
		)
	}
	return report
}

func (c *Cleaner) cleanDir(ctx context.Context, root string, cutoff time.Time, report *Report) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			c.logger.Debug("retention walk error", logging.String(logging.FieldPath, path), logging.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		report.Scanned++
		date, ok := DateFromName(d.Name(), cutoff.Location())
		if !ok || !date.Before(cutoff) {
			return nil
		}
		if err := removeFile(path); err != nil {
			report.Failed++
			logging.WarnWithContext(c.logger, "expired file not deleted", "retention_delete_failed",
				logging.String(logging.FieldPath, path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check file permissions"),
				logging.String(logging.FieldImpact, "expired file remains on disk"),
			)
			return nil
		}
		report.Deleted++
		c.logger.Info("expired file deleted",
			logging.String(logging.FieldEventType, "retention_deleted"),
			logging.String(logging.FieldPath, path),
		)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Debug("retention walk stopped", logging.String(logging.FieldPath, root), logging.Error(err))
	}
}

// removeFile clears a read-only bit before deleting.
func removeFile(path string) error {
	if info, err := os.Lstat(path); err == nil && info.Mode().Perm()&0o200 == 0 {
		_ = os.Chmod(path, info.Mode().Perm()|0o200)
	}
	return os.Remove(path)
}
