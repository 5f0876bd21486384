package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Logger is the message-level logger handed to plugins.
type Logger interface {
	LogEvent(message string)
	LogError(message string)
	LogDebug(message string)
}

// Settings is the sectioned key/value store shared by the host and plugins.
// Section and key lookups are case-insensitive.
type Settings interface {
	GetValue(section, key string) (string, error)
	SetValue(section, key, value string) error
	GetSectionEntries(section string) ([]string, error)
	SetSectionEntries(section string, entries []string) error
}

// Table is a column-ordered batch of rows for BulkInsert. Key names the
// columns that identify a row; a row whose key already exists is skipped.
type Table struct {
	Columns []string
	Key     []string
	Rows    [][]any
}

// AddRow appends values in column order.
func (t *Table) AddRow(values ...any) {
	t.Rows = append(t.Rows, values)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Database persists tabular data. BulkInsert skips rows that violate a unique
// constraint and reports how many rows were written.
type Database interface {
	BulkInsert(ctx context.Context, table Table, tableName string) (int, error)
}

// Clock returns the host's synchronized notion of time. Synchronize shifts an
// equipment timestamp by the measured server offset and converts it to the
// reporting zone.
type Clock interface {
	Now() time.Time
	Synchronize(t time.Time) time.Time
}

// Equipment identifies the host equipment.
type Equipment struct {
	EQPID string
	Type  string
}

// Options carries the per-plugin options declared in a manifest.
type Options map[string]any

// String returns the option as a string or fallback when absent.
func (o Options) String(key, fallback string) string {
	value, ok := o[key]
	if !ok || value == nil {
		return fallback
	}
	if s, ok := value.(string); ok {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
		return fallback
	}
	return fmt.Sprint(value)
}

// Int returns the option as an int or fallback when absent or malformed.
func (o Options) Int(key string, fallback int) int {
	switch v := o[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

// Bool returns the option as a bool or fallback when absent or malformed.
func (o Options) Bool(key string, fallback bool) bool {
	switch v := o[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

// Strings returns a list option. A single string becomes a one-element list.
func (o Options) Strings(key string) []string {
	switch v := o[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		if v = strings.TrimSpace(v); v != "" {
			return []string{v}
		}
	}
	return nil
}
