package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fabingest/internal/services"
)

// Setting is one key/value pair of a section.
type Setting struct {
	Section   string
	Key       string
	Value     string
	UpdatedAt time.Time
}

var _ services.Settings = (*Store)(nil)

func normalizeName(kind, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", services.Wrap(services.ErrValidation, "settings", "normalize", kind+" must not be empty", nil)
	}
	return value, nil
}

// GetValue returns the value stored for key in section. Missing keys return
// an error marked services.ErrNotFound.
func (s *Store) GetValue(section, key string) (string, error) {
	return s.GetValueContext(context.Background(), section, key)
}

// GetValueContext is GetValue with a caller supplied context.
func (s *Store) GetValueContext(ctx context.Context, section, key string) (string, error) {
	section, err := normalizeName("section", section)
	if err != nil {
		return "", err
	}
	key, err = normalizeName("key", key)
	if err != nil {
		return "", err
	}
	var value string
	err = s.db.QueryRowContext(ensureContext(ctx),
		"SELECT value FROM settings_values WHERE section = ? AND key = ?", section, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", services.Wrap(services.ErrNotFound, "settings", "get",
			fmt.Sprintf("[%s] %s is not set", section, key), nil)
	}
	if err != nil {
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetValue stores value for key in section, replacing any previous value.
// Section and key keep the casing of their first write.
func (s *Store) SetValue(section, key, value string) error {
	return s.SetValueContext(context.Background(), section, key, value)
}

// SetValueContext is SetValue with a caller supplied context.
func (s *Store) SetValueContext(ctx context.Context, section, key, value string) error {
	section, err := normalizeName("section", section)
	if err != nil {
		return err
	}
	key, err = normalizeName("key", key)
	if err != nil {
		return err
	}
	_, err = s.execWithRetry(ctx,
		`INSERT INTO settings_values (section, key, value, updated_at) VALUES (?, ?, ?, ?)
         ON CONFLICT(section, key) DO UPDATE SET
             value = excluded.value, updated_at = excluded.updated_at`,
		section, key, strings.TrimSpace(value), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// DeleteValue removes key from section. Removing a missing key is not an error.
func (s *Store) DeleteValue(ctx context.Context, section, key string) error {
	if _, err := s.execWithRetry(ctx,
		"DELETE FROM settings_values WHERE section = ? AND key = ?",
		strings.TrimSpace(section), strings.TrimSpace(key),
	); err != nil {
		return fmt.Errorf("delete setting: %w", err)
	}
	return nil
}

// ListValues returns every key/value pair, optionally limited to one section,
// ordered by section and key.
func (s *Store) ListValues(ctx context.Context, section string) ([]Setting, error) {
	query := "SELECT section, key, value, updated_at FROM settings_values"
	var args []any
	if section = strings.TrimSpace(section); section != "" {
		query += " WHERE section = ?"
		args = append(args, section)
	}
	query += " ORDER BY section COLLATE NOCASE, key COLLATE NOCASE"

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var (
			item    Setting
			updated string
		)
		if err := rows.Scan(&item.Section, &item.Key, &item.Value, &updated); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		item.UpdatedAt = parseTime(updated)
		out = append(out, item)
	}
	return out, rows.Err()
}

// GetSectionEntries returns the ordered list entries of section. An unknown
// section yields an empty list.
func (s *Store) GetSectionEntries(section string) ([]string, error) {
	section, err := normalizeName("section", section)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(context.Background(),
		"SELECT entry FROM settings_entries WHERE section = ? ORDER BY ordinal", section)
	if err != nil {
		return nil, fmt.Errorf("get section entries: %w", err)
	}
	defer rows.Close()

	entries := []string{}
	for rows.Next() {
		var entry string
		if err := rows.Scan(&entry); err != nil {
			return nil, fmt.Errorf("scan section entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// SetSectionEntries replaces the list entries of section. Blank entries are
// dropped and the rest are stored trimmed, in order.
func (s *Store) SetSectionEntries(section string, entries []string) error {
	section, err := normalizeName("section", section)
	if err != nil {
		return err
	}
	ctx := context.Background()
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin entries tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, "DELETE FROM settings_entries WHERE section = ?", section); err != nil {
			return fmt.Errorf("clear section entries: %w", err)
		}
		ordinal := 0
		for _, entry := range entries {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO settings_entries (section, ordinal, entry) VALUES (?, ?, ?)",
				section, ordinal, entry,
			); err != nil {
				return fmt.Errorf("insert section entry: %w", err)
			}
			ordinal++
		}
		return tx.Commit()
	})
}
