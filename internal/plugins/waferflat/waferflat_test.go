package waferflat_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fabingest/internal/plugin"
	"fabingest/internal/plugins/plugintest"
	"fabingest/internal/plugins/waferflat"
	"fabingest/internal/services"
)

const report = "Cassette Recipe Name: CAS_A\n" +
	"Stage Recipe Name: STG-01\n" +
	"Stage Group Name: GRP\n" +
	"LOT ID: LOT123\n" +
	"Wafer ID: W-07\n" +
	"Date and Time: 2024-05-01 13:05:09\n" +
	"Film Name: OXIDE\n" +
	"\n" +
	"Point#,X (mm),Y (mm),Thickness,Thickness,Note\n" +
	"1,0.5,-1.25,1000,1001,ok\n" +
	"2,1.5,2,,1002,\n" +
	"3,short\n"

func TestNormalizeHeader(t *testing.T) {
	tests := map[string]string{
		"Point#":      "point",
		"X (mm)":      "x_mm",
		"Film Thk.":   "film_thk",
		"3D-Height":   "c_3dheight",
		"  Die/Site ": "diesite",
		"GOF%":        "gof_",
	}
	for in, want := range tests {
		if got := waferflat.NormalizeHeader(in); got != want {
			t.Errorf("NormalizeHeader(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseValue(t *testing.T) {
	if v := waferflat.ParseValue(" 42 "); v != 42 {
		t.Fatalf("int: %#v", v)
	}
	if v := waferflat.ParseValue("-1.25"); v != -1.25 {
		t.Fatalf("float: %#v", v)
	}
	if v := waferflat.ParseValue("ok"); v != "ok" {
		t.Fatalf("string: %#v", v)
	}
	if v := waferflat.ParseValue("  "); v != nil {
		t.Fatalf("blank: %#v", v)
	}
}

func TestParseWithoutHeader(t *testing.T) {
	if _, ok := waferflat.Parse([]string{"Lot ID: X", "1,2,3"}); ok {
		t.Fatal("expected no header")
	}
}

func TestProcessWritesRowsWithMetadata(t *testing.T) {
	host := plugintest.NewHost()
	host.Options["encoding"] = "utf-8"
	p, err := waferflat.New(plugin.Spec{Name: "WaferFlat", Kind: waferflat.Kind})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Initialize(host.Locator()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if p.Version() != "2.0.0" {
		t.Fatalf("default version = %q", p.Version())
	}

	path := filepath.Join(t.TempDir(), "LOT123_W07.csv")
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := p.Process(context.Background(), path); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(host.DB.Inserts) != 1 {
		t.Fatalf("expected one insert, got %d", len(host.DB.Inserts))
	}
	table := host.DB.Inserts[0].Table
	if host.DB.Inserts[0].Name != waferflat.TableName {
		t.Fatalf("table name = %q", host.DB.Inserts[0].Name)
	}
	wantKey := []string{"eqpid", "lotid", "waferid", "datetime", "point"}
	if len(table.Key) != len(wantKey) {
		t.Fatalf("key = %v", table.Key)
	}
	for i := range wantKey {
		if table.Key[i] != wantKey[i] {
			t.Fatalf("key = %v", table.Key)
		}
	}

	rows := host.DB.Rows(waferflat.TableName)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows (short row skipped), got %d", len(rows))
	}
	first := rows[0]
	if first["point"] != 1 || first["x_mm"] != 0.5 || first["y_mm"] != -1.25 {
		t.Fatalf("unexpected measurement values: %v", first)
	}
	if first["thickness"] != 1000 || first["thickness_2"] != 1001 {
		t.Fatalf("duplicate headers not suffixed: %v", first)
	}
	if first["eqpid"] != "EQP01" || first["lotid"] != "LOT123" || first["waferid"] != 7 {
		t.Fatalf("unexpected identity columns: %v", first)
	}
	if first["cassettercp"] != "CAS_A" || first["stagercp"] != "STG-01" || first["stagegroup"] != "GRP" || first["film"] != "OXIDE" {
		t.Fatalf("unexpected metadata columns: %v", first)
	}
	measured, ok := first["datetime"].(time.Time)
	if !ok {
		t.Fatalf("datetime = %#v", first["datetime"])
	}
	want := time.Date(2024, 5, 1, 13, 5, 9, 0, time.Local)
	if !measured.Equal(want) {
		t.Fatalf("datetime = %v, want %v", measured, want)
	}
	servTS := first["serv_ts"].(time.Time)
	if !servTS.Equal(want.Add(time.Second)) || servTS.Location() != time.UTC {
		t.Fatalf("serv_ts = %v", servTS)
	}

	second := rows[1]
	if second["thickness"] != nil || second["note"] != nil {
		t.Fatalf("blank values should be nil: %v", second)
	}
}

func TestProcessWithoutHeaderWritesNothing(t *testing.T) {
	host := plugintest.NewHost()
	p, _ := waferflat.New(plugin.Spec{Name: "WaferFlat", Kind: waferflat.Kind})
	if err := p.Initialize(host.Locator()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	path := filepath.Join(t.TempDir(), "empty.csv")
	if err := os.WriteFile(path, []byte("Lot ID: X\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := p.Process(context.Background(), path); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(host.DB.Inserts) != 0 {
		t.Fatalf("expected no inserts")
	}
	if !host.Logger.Contains("No valid wafer flat data") {
		t.Fatalf("expected debug message, got %+v", host.Logger.Debug)
	}
}

func TestInitializeRequiresDatabase(t *testing.T) {
	reg := services.NewRegistry()
	services.Provide[services.Logger](reg, &plugintest.Logger{})
	p, _ := waferflat.New(plugin.Spec{Name: "WaferFlat", Kind: waferflat.Kind})
	if err := p.Initialize(reg); err == nil {
		t.Fatal("expected missing service error")
	}
}
