package classify

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fabingest/internal/fileutil"
	"fabingest/internal/logging"
	"fabingest/internal/pathnorm"
	"fabingest/internal/services"
)

const (
	defaultCopyAttempts   = 3
	defaultCopyRetryDelay = 200 * time.Millisecond
)

// Skip reasons reported in Result.Skipped.
const (
	SkipMissing       = "missing"
	SkipNotRegular    = "not_regular"
	SkipExcluded      = "excluded"
	SkipNoMatch       = "no_match"
	// SkipInDestination marks a file that already sits where its rule would
	// copy it, such as a copy re-detected inside a watched destination.
	SkipInDestination = "in_destination"
)

// Options configures an Engine.
type Options struct {
	Rules          []string
	Exclude        []string
	CopyAttempts   int
	CopyRetryDelay time.Duration
	Logger         *slog.Logger
}

// Result describes what Classify did with a file.
type Result struct {
	Source      string
	Destination string
	Rule        Rule
	Matched     bool
	Skipped     string
}

// Engine applies the exclusion set and the ordered rules to stable files.
type Engine struct {
	logger     *slog.Logger
	attempts   int
	retryDelay time.Duration

	mu      sync.RWMutex
	rules   []Rule
	exclude *pathnorm.Set
}

// New parses the configured rules and exclusions.
func New(opts Options) *Engine {
	e := &Engine{
		logger:     logging.NewComponentLogger(opts.Logger, "classify"),
		attempts:   opts.CopyAttempts,
		retryDelay: opts.CopyRetryDelay,
	}
	if e.attempts <= 0 {
		e.attempts = defaultCopyAttempts
	}
	if e.retryDelay <= 0 {
		e.retryDelay = defaultCopyRetryDelay
	}
	e.Reload(opts.Rules, opts.Exclude)
	return e
}

// Reload replaces the rule set and exclusions.
func (e *Engine) Reload(rules, exclude []string) {
	parsed := ParseRules(rules, e.logger)
	set := pathnorm.NewSet(exclude)

	e.mu.Lock()
	e.rules = parsed
	e.exclude = set
	e.mu.Unlock()

	e.logger.Debug("classification rules loaded",
		logging.Int("rules", len(parsed)),
		logging.Int("excluded_folders", set.Len()),
	)
}

// Rules returns the active rules in evaluation order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// Test returns the first rule matching filename without touching the
// filesystem.
func (e *Engine) Test(filename string) (Rule, bool) {
	name := filepath.Base(filename)
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, rule := range e.rules {
		if rule.Matches(name) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Excluded reports whether path lies in an excluded folder.
func (e *Engine) Excluded(path string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.exclude.ContainsAncestor(filepath.Dir(path))
}

// Classify copies path into the destination of the first matching rule.
// Missing, excluded and unmatched files are no-ops. A copy failure is
// retried, logged with the path and rule, and returned for the caller's
// bookkeeping; it never affects other files.
func (e *Engine) Classify(ctx context.Context, path string) (Result, error) {
	result := Result{Source: path}
	logger := logging.WithContext(services.WithPath(ctx, path), e.logger)

	info, err := os.Stat(path)
	if err != nil {
		result.Skipped = SkipMissing
		logger.Debug("file no longer exists, skipping")
		return result, nil
	}
	if !info.Mode().IsRegular() {
		result.Skipped = SkipNotRegular
		return result, nil
	}

	if e.Excluded(path) {
		result.Skipped = SkipExcluded
		logger.Debug("file skipped in excluded folder")
		return result, nil
	}

	rule, ok := e.Test(path)
	if !ok {
		result.Skipped = SkipNoMatch
		logger.Debug("no classification rule matched")
		return result, nil
	}

	result.Rule = rule
	result.Destination = filepath.Join(rule.Destination, filepath.Base(path))
	if pathnorm.Equal(path, result.Destination) {
		result.Skipped = SkipInDestination
		logger.Debug("file already in its destination folder")
		return result, nil
	}
	result.Matched = true

	if err := e.copyWithRetry(ctx, path, result.Destination); err != nil {
		logging.ErrorWithContext(logger, "classification copy failed", "classify_copy_failed",
			logging.String(logging.FieldRule, rule.String()),
			logging.String(logging.FieldDestination, result.Destination),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check destination folder permissions and free space"),
		)
		return result, err
	}

	logger.Info("file classified",
		logging.String(logging.FieldEventType, "file_classified"),
		logging.String(logging.FieldRule, rule.String()),
		logging.String(logging.FieldDestination, result.Destination),
	)
	return result, nil
}

func (e *Engine) copyWithRetry(ctx context.Context, src, dst string) error {
	var lastErr error
	for attempt := 0; attempt < e.attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(e.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Join(ctx.Err(), lastErr)
			case <-timer.C:
			}
		}
		lastErr = fileutil.CopyFile(src, dst)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, fs.ErrNotExist) {
			if _, statErr := os.Stat(src); statErr != nil {
				break
			}
		}
	}
	return services.Wrap(services.ErrTransient, "classify", "copy",
		fmt.Sprintf("%s after %d attempts", filepath.Base(src), e.attempts), lastErr)
}
