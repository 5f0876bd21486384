package builtin_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"fabingest/internal/plugin"
	"fabingest/internal/plugins/builtin"
	"fabingest/internal/plugins/plugintest"
)

func TestCatalogKinds(t *testing.T) {
	got := builtin.Catalog().Kinds()
	want := []string{"errorlog", "prealign", "waferflat"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
}

func TestRegisterTwiceFails(t *testing.T) {
	c := builtin.Catalog()
	if err := builtin.Register(c); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestManifestLoadsBuiltinKinds(t *testing.T) {
	dir := t.TempDir()
	manifest := "[[plugin]]\nname = \"ErrorData\"\nkind = \"errorlog\"\n\n" +
		"[[plugin]]\nname = \"WaferFlat\"\nkind = \"waferflat\"\n\n" +
		"[[plugin]]\nname = \"PreAlign\"\nkind = \"prealign\"\n"
	if err := os.WriteFile(filepath.Join(dir, "equipment.toml"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	reg := plugin.NewRegistry(plugin.Options{
		Catalog:  builtin.Catalog(),
		Services: plugintest.NewHost().Locator(),
	})
	report, err := reg.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(report.Failed) != 0 {
		t.Fatalf("unexpected failures: %+v", report.Failed)
	}
	if len(reg.GetAll()) != 3 {
		t.Fatalf("expected 3 plugins, got %d", len(reg.GetAll()))
	}
	reg.Unload()
}
