package ingest_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/text/encoding/korean"

	"fabingest/internal/plugins/ingest"
	"fabingest/internal/services"
)

type nopLogger struct{}

func (nopLogger) LogEvent(string) {}
func (nopLogger) LogError(string) {}
func (nopLogger) LogDebug(string) {}

type nopDB struct{}

func (nopDB) BulkInsert(_ context.Context, table services.Table, _ string) (int, error) {
	return table.Len(), nil
}

type zeroClock struct{}

func (zeroClock) Now() time.Time                    { return time.Time{} }
func (zeroClock) Synchronize(t time.Time) time.Time { return t }

type mapSettings map[string]string

func (m mapSettings) GetValue(section, key string) (string, error) {
	if v, ok := m[section+"/"+key]; ok {
		return v, nil
	}
	return "", services.ErrNotFound
}
func (m mapSettings) SetValue(section, key, value string) error  { m[section+"/"+key] = value; return nil }
func (m mapSettings) GetSectionEntries(string) ([]string, error) { return nil, nil }
func (m mapSettings) SetSectionEntries(string, []string) error   { return nil }

func TestResolve(t *testing.T) {
	reg := services.NewRegistry()
	services.Provide[services.Logger](reg, nopLogger{})
	if _, err := ingest.Resolve(reg); !errors.Is(err, services.ErrServiceMissing) {
		t.Fatalf("expected missing database, got %v", err)
	}

	services.Provide[services.Database](reg, nopDB{})
	services.Provide[services.Clock](reg, zeroClock{})
	if _, err := ingest.Resolve(reg); !errors.Is(err, services.ErrServiceMissing) {
		t.Fatalf("expected missing equipment id, got %v", err)
	}

	services.Provide[services.Settings](reg, mapSettings{"Eqpid/Eqpid": " EQP07 "})
	deps, err := ingest.Resolve(reg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if deps.EQPID != "EQP07" {
		t.Fatalf("expected settings fallback, got %q", deps.EQPID)
	}

	services.Provide(reg, services.Equipment{EQPID: "EQP01"})
	deps, err = ingest.Resolve(reg)
	if err != nil || deps.EQPID != "EQP01" {
		t.Fatalf("expected equipment service to win, got %q %v", deps.EQPID, err)
	}
}

func TestReadLinesDecodesEUCKR(t *testing.T) {
	encoded, err := korean.EUCKR.NewEncoder().String("E100, 진공 저하\r\n\r\nE200, 도어 열림\n")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "err.log")
	if err := os.WriteFile(path, []byte(encoded), 0o644); err != nil {
		t.Fatal(err)
	}

	enc, err := ingest.LookupEncoding("")
	if err != nil {
		t.Fatalf("LookupEncoding: %v", err)
	}
	lines, err := ingest.ReadLines(path, enc)
	if err != nil {
		t.Fatalf("ReadLines: %v", err)
	}
	if len(lines) != 2 || lines[0] != "E100, 진공 저하" || lines[1] != "E200, 도어 열림" {
		t.Fatalf("unexpected lines %q", lines)
	}
}

func TestReadLinesHonorsBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "utf8.log")
	if err := os.WriteFile(path, append([]byte{0xEF, 0xBB, 0xBF}, []byte("Lot ID: 한글\n")...), 0o644); err != nil {
		t.Fatal(err)
	}
	enc, _ := ingest.LookupEncoding("euc-kr")
	lines, err := ingest.ReadLines(path, enc)
	if err != nil {
		t.Fatalf("ReadLines: %v", err)
	}
	if len(lines) != 1 || lines[0] != "Lot ID: 한글" {
		t.Fatalf("unexpected lines %q", lines)
	}
}

func TestLookupEncodingRejectsUnknown(t *testing.T) {
	if _, err := ingest.LookupEncoding("klingon"); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestParseLocal(t *testing.T) {
	ts, ok := ingest.ParseLocal(" 2024/05/01 13:45:00 ", ingest.GeneralLayouts...)
	if !ok {
		t.Fatal("expected parse")
	}
	if ts.Location() != time.Local || ts.Hour() != 13 || ts.Day() != 1 {
		t.Fatalf("unexpected time %s", ts)
	}
	if _, ok := ingest.ParseLocal("not a date", ingest.GeneralLayouts...); ok {
		t.Fatal("expected failure")
	}
}
