package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fabingest/internal/dispatch"
)

var _ dispatch.Recorder = (*Store)(nil)

// DefaultHistoryLimit bounds RecentDispatches when no limit is given.
const DefaultHistoryLimit = 50

// RecordDispatch appends one dispatch outcome to the history.
func (s *Store) RecordDispatch(ctx context.Context, rec dispatch.Record) error {
	_, err := s.execWithRetry(ctx,
		`INSERT OR REPLACE INTO dispatches (id, path, plugin, outcome, error, started_at, duration_ms)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Path,
		rec.Plugin,
		string(rec.Outcome),
		nullableString(rec.Error),
		formatTime(rec.StartedAt),
		rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}
	return nil
}

// HistoryFilter narrows RecentDispatches.
type HistoryFilter struct {
	Plugin  string
	Outcome dispatch.Outcome
	Limit   int
}

// RecentDispatches returns history rows newest first.
func (s *Store) RecentDispatches(ctx context.Context, filter HistoryFilter) ([]dispatch.Record, error) {
	var (
		where []string
		args  []any
	)
	if plugin := strings.TrimSpace(filter.Plugin); plugin != "" {
		where = append(where, "plugin = ? COLLATE NOCASE")
		args = append(args, plugin)
	}
	if filter.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	query := "SELECT id, path, plugin, outcome, error, started_at, duration_ms FROM dispatches"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dispatch history: %w", err)
	}
	defer rows.Close()

	var out []dispatch.Record
	for rows.Next() {
		var (
			rec        dispatch.Record
			outcome    string
			errMsg     *string
			startedRaw string
			durationMS int64
		)
		if err := rows.Scan(&rec.ID, &rec.Path, &rec.Plugin, &outcome, &errMsg, &startedRaw, &durationMS); err != nil {
			return nil, fmt.Errorf("scan dispatch: %w", err)
		}
		rec.Outcome = dispatch.Outcome(outcome)
		if errMsg != nil {
			rec.Error = *errMsg
		}
		rec.StartedAt = parseTime(startedRaw)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneDispatches deletes history rows that started before cutoff.
func (s *Store) PruneDispatches(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx, "DELETE FROM dispatches WHERE started_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune dispatches: %w", err)
	}
	return res.RowsAffected()
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
