package errorlog_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/text/encoding/korean"

	"fabingest/internal/plugin"
	"fabingest/internal/plugins/errorlog"
	"fabingest/internal/plugins/plugintest"
	"fabingest/internal/services"
)

const sample = "E100, 01-May-24 1:05:09 PM, VAC, 진공 저하, 120, chamber A\r\n" +
	"header line without fields\r\n" +
	"E200, 01-May-24 1:06:00 PM, DOOR, 도어 열림, 7\r\n" +
	"E300, 32-May-24 1:06:00 PM, BAD, invalid date, 9\r\n" +
	"e400, 02-May-24 11:59:59 am, LOW, lowercase, 0\r\n"

func writeEUCKR(t *testing.T, text string) string {
	t.Helper()
	encoded, err := korean.EUCKR.NewEncoder().String(text)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "20240501_130000_ERR.log")
	if err := os.WriteFile(path, []byte(encoded), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newPlugin(t *testing.T, host *plugintest.Host) plugin.Plugin {
	t.Helper()
	p, err := errorlog.New(plugin.Spec{Name: "ErrorData", Kind: errorlog.Kind})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Initialize(host.Locator()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return p
}

func TestParseLines(t *testing.T) {
	entries := errorlog.ParseLines([]string{
		"E100, 01-May-24 1:05:09 PM, VAC, Vacuum low, 120, chamber A",
		"E300, 32-May-24 1:06:00 PM, BAD, invalid date, 9",
		"E200, 01-May-24 1:06:00 PM, DOOR, Door open, 7",
		"garbage",
	})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", entries)
	}
	first := entries[0]
	want := time.Date(2024, 5, 1, 13, 5, 9, 0, time.Local)
	if first.ID != "E100" || !first.Time.Equal(want) || first.Label != "VAC" ||
		first.Description != "Vacuum low" || first.Millisecond != 120 || first.Extra != "chamber A" {
		t.Fatalf("unexpected entry %+v", first)
	}
	if entries[1].Extra != "" {
		t.Fatalf("expected empty extra, got %q", entries[1].Extra)
	}
}

func TestProcessFiltersBySettings(t *testing.T) {
	host := plugintest.NewHost()
	_ = host.Settings.SetSectionEntries(errorlog.DefaultFilterSection, []string{"e100", "E400"})
	p := newPlugin(t, host)

	if err := p.Process(context.Background(), writeEUCKR(t, sample)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	rows := host.DB.Rows(errorlog.TableName)
	if len(rows) != 2 {
		t.Fatalf("expected 2 filtered rows, got %+v", rows)
	}
	if rows[0]["error_id"] != "E100" || rows[0]["error_desc"] != "진공 저하" || rows[0]["eqpid"] != "EQP01" {
		t.Fatalf("unexpected first row %+v", rows[0])
	}
	if rows[1]["error_id"] != "e400" {
		t.Fatalf("expected case-insensitive filter match, got %+v", rows[1])
	}
	ts := rows[0]["time_stamp"].(time.Time)
	serv := rows[0]["serv_ts"].(time.Time)
	if serv.Sub(ts) != time.Second || serv.Location() != time.UTC {
		t.Fatalf("serv_ts should be the synchronized time stamp, got %s for %s", serv, ts)
	}
	if rows[0]["extra_message_2"] != nil {
		t.Fatalf("extra_message_2 should be NULL")
	}
	if !host.Logger.Contains("total=3, matched=2, skipped=1") {
		t.Fatalf("expected filter summary, got %+v", host.Logger.Events)
	}
}

func TestProcessWithEmptyFilterStoresNothing(t *testing.T) {
	host := plugintest.NewHost()
	p := newPlugin(t, host)
	if err := p.Process(context.Background(), writeEUCKR(t, sample)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(host.DB.Inserts) != 0 {
		t.Fatalf("expected no insert without a filter, got %+v", host.DB.Inserts)
	}
}

func TestAllowAllAndOptionIDs(t *testing.T) {
	host := plugintest.NewHost()
	host.Options = services.Options{"allow_all": true}
	p := newPlugin(t, host)
	if err := p.Process(context.Background(), writeEUCKR(t, sample)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := len(host.DB.Rows(errorlog.TableName)); got != 3 {
		t.Fatalf("allow_all should keep every parsed row, got %d", got)
	}

	host = plugintest.NewHost()
	host.Options = services.Options{"allowed_ids": []any{"E200"}}
	p = newPlugin(t, host)
	if err := p.Process(context.Background(), writeEUCKR(t, sample)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	rows := host.DB.Rows(errorlog.TableName)
	if len(rows) != 1 || rows[0]["error_id"] != "E200" {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestStartReloadsFilter(t *testing.T) {
	host := plugintest.NewHost()
	p := newPlugin(t, host).(*errorlog.Plugin)
	if p.Allowed("E100") {
		t.Fatal("filter should start empty")
	}
	_ = host.Settings.SetSectionEntries(errorlog.DefaultFilterSection, []string{"E100"})
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !p.Allowed("e100") {
		t.Fatal("Start should pick up the new filter")
	}
}

func TestProcessPropagatesDatabaseErrors(t *testing.T) {
	host := plugintest.NewHost()
	host.Options = services.Options{"allow_all": true}
	boom := errors.New("disk full")
	host.DB.Err = boom
	p := newPlugin(t, host)
	if err := p.Process(context.Background(), writeEUCKR(t, sample)); !errors.Is(err, boom) {
		t.Fatalf("expected database error, got %v", err)
	}
}

func TestInitializeRequiresDatabase(t *testing.T) {
	reg := services.NewRegistry()
	services.Provide[services.Logger](reg, &plugintest.Logger{})
	p, _ := errorlog.New(plugin.Spec{Name: "ErrorData", Kind: errorlog.Kind})
	if err := p.Initialize(reg); !errors.Is(err, services.ErrServiceMissing) {
		t.Fatalf("expected ErrServiceMissing, got %v", err)
	}
}
