// Package plugintest provides in-memory host services for plugin tests.
package plugintest

import (
	"context"
	"strings"
	"sync"
	"time"

	"fabingest/internal/services"
)

// Logger records plugin messages.
type Logger struct {
	mu     sync.Mutex
	Events []string
	Errors []string
	Debug  []string
}

func (l *Logger) LogEvent(msg string) { l.mu.Lock(); l.Events = append(l.Events, msg); l.mu.Unlock() }
func (l *Logger) LogError(msg string) { l.mu.Lock(); l.Errors = append(l.Errors, msg); l.mu.Unlock() }
func (l *Logger) LogDebug(msg string) { l.mu.Lock(); l.Debug = append(l.Debug, msg); l.mu.Unlock() }

// Contains reports whether any recorded message contains substr.
func (l *Logger) Contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, group := range [][]string{l.Events, l.Errors, l.Debug} {
		for _, msg := range group {
			if strings.Contains(msg, substr) {
				return true
			}
		}
	}
	return false
}

// Insert is one recorded BulkInsert call.
type Insert struct {
	Table services.Table
	Name  string
}

// Database records BulkInsert calls and reports every row as written.
type Database struct {
	mu      sync.Mutex
	Inserts []Insert
	Err     error
}

func (d *Database) BulkInsert(_ context.Context, table services.Table, name string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return 0, d.Err
	}
	d.Inserts = append(d.Inserts, Insert{Table: table, Name: name})
	return table.Len(), nil
}

// Rows returns every row inserted into name, as maps keyed by column.
func (d *Database) Rows(name string) []map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []map[string]any
	for _, ins := range d.Inserts {
		if ins.Name != name {
			continue
		}
		for _, row := range ins.Table.Rows {
			m := make(map[string]any, len(row))
			for i, col := range ins.Table.Columns {
				m[col] = row[i]
			}
			out = append(out, m)
		}
	}
	return out
}

// Clock shifts by a fixed offset into a fixed zone.
type Clock struct {
	Offset   time.Duration
	Location *time.Location
}

func (c Clock) Now() time.Time { return c.Synchronize(time.Now()) }

func (c Clock) Synchronize(t time.Time) time.Time {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.Add(c.Offset).In(loc)
}

// Settings is a case-insensitive in-memory services.Settings.
type Settings struct {
	mu      sync.Mutex
	values  map[string]string
	entries map[string][]string
}

func NewSettings() *Settings {
	return &Settings{values: map[string]string{}, entries: map[string][]string{}}
}

func settingKey(section, key string) string {
	return strings.ToLower(strings.TrimSpace(section)) + "\x00" + strings.ToLower(strings.TrimSpace(key))
}

func (s *Settings) GetValue(section, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[settingKey(section, key)]
	if !ok {
		return "", services.ErrNotFound
	}
	return v, nil
}

func (s *Settings) SetValue(section, key, value string) error {
	s.mu.Lock()
	s.values[settingKey(section, key)] = value
	s.mu.Unlock()
	return nil
}

func (s *Settings) GetSectionEntries(section string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.entries[strings.ToLower(section)]...), nil
}

func (s *Settings) SetSectionEntries(section string, entries []string) error {
	s.mu.Lock()
	s.entries[strings.ToLower(section)] = append([]string(nil), entries...)
	s.mu.Unlock()
	return nil
}

// Host bundles the fakes and builds the locator a plugin sees.
type Host struct {
	Logger   *Logger
	DB       *Database
	Clock    Clock
	Settings *Settings
	EQPID    string
	Options  services.Options
}

// NewHost returns a host for equipment EQP01 with a +1s clock offset in UTC.
func NewHost() *Host {
	return &Host{
		Logger:   &Logger{},
		DB:       &Database{},
		Clock:    Clock{Offset: time.Second, Location: time.UTC},
		Settings: NewSettings(),
		EQPID:    "EQP01",
		Options:  services.Options{},
	}
}

// Locator builds a fresh locator carrying the host services.
func (h *Host) Locator() *services.Registry {
	reg := services.NewRegistry()
	services.Provide[services.Logger](reg, h.Logger)
	services.Provide[services.Database](reg, h.DB)
	services.Provide[services.Clock](reg, h.Clock)
	services.Provide[services.Settings](reg, h.Settings)
	services.Provide(reg, services.Equipment{EQPID: h.EQPID})
	services.Provide(reg, h.Options)
	return reg
}
