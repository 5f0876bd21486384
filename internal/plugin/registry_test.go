package plugin_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"fabingest/internal/plugin"
	"fabingest/internal/services"
)

type fakePlugin struct {
	plugin.Base
	opts      services.Options
	processed atomic.Int32
	started   atomic.Bool
	disposed  *atomic.Int32
}

func (p *fakePlugin) Initialize(loc services.Locator) error {
	if err := p.Base.Initialize(loc); err != nil {
		return err
	}
	p.opts, _ = services.Get[services.Options](loc)
	if p.opts.Bool("require_database", false) {
		if _, err := services.Require[services.Database](loc); err != nil {
			return err
		}
	}
	if p.opts.Bool("fail_init", false) {
		return errors.New("init refused")
	}
	if p.opts.Bool("panic_init", false) {
		panic("init exploded")
	}
	return nil
}

func (p *fakePlugin) Start() error {
	p.started.Store(true)
	return nil
}

func (p *fakePlugin) Process(_ context.Context, path string, _ ...any) error {
	if p.opts.String("panic_on", "") == filepath.Base(path) {
		panic("bad file " + path)
	}
	p.processed.Add(1)
	return nil
}

func (p *fakePlugin) Dispose() error {
	p.disposed.Add(1)
	return nil
}

type fixture struct {
	dir      string
	registry *plugin.Registry
	disposed *atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	disposed := &atomic.Int32{}
	catalog := plugin.NewCatalog()
	catalog.MustRegister("fake", func(spec plugin.Spec) (plugin.Plugin, error) {
		return &fakePlugin{Base: plugin.NewBase(spec), disposed: disposed}, nil
	})
	catalog.MustRegister("broken-factory", func(plugin.Spec) (plugin.Plugin, error) {
		return nil, errors.New("cannot construct")
	})

	dir := filepath.Join(t.TempDir(), "plugins")
	reg := plugin.NewRegistry(plugin.Options{Catalog: catalog, Services: services.NewRegistry()})
	t.Cleanup(reg.Unload)
	return &fixture{dir: dir, registry: reg, disposed: disposed}
}

func (f *fixture) write(t *testing.T, name, content string) {
	t.Helper()
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(f.dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadCreatesMissingDirectory(t *testing.T) {
	f := newFixture(t)
	report, err := f.registry.Load(f.dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(report.Loaded) != 0 {
		t.Fatalf("expected no plugins, got %v", report.Loaded)
	}
	if info, err := os.Stat(f.dir); err != nil || !info.IsDir() {
		t.Fatalf("expected plugin directory to be created: %v", err)
	}
}

func TestLoadSkipsFailingEntriesAndKeepsTheRest(t *testing.T) {
	f := newFixture(t)
	f.write(t, "10-good.toml", `
[[plugin]]
name = "DatHandler"
kind = "fake"
version = "1.0.0"

[[plugin]]
name = "Refuses"
kind = "fake"
[plugin.options]
fail_init = true

[[plugin]]
name = "Explodes"
kind = "fake"
[plugin.options]
panic_init = true

[[plugin]]
name = "Unknown"
kind = "nope"

[[plugin]]
name = "NoFactory"
kind = "broken-factory"

[[plugin]]
name = "Off"
kind = "fake"
enabled = false
`)
	f.write(t, "20-broken.toml", "[[plugin]\nname = ")
	f.write(t, "30-other.yaml", `
plugin:
  - name: ErrorData
    kind: fake
    version: "2.0.0"
    options:
      encoding: euc-kr
`)
	f.write(t, "README.txt", "ignored")

	report, err := f.registry.Load(f.dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(report.Loaded) != 2 {
		t.Fatalf("expected 2 loaded plugins, got %v (failures %+v)", report.Loaded, report.Failed)
	}
	if len(report.Failed) != 5 {
		t.Fatalf("expected 5 failures, got %+v", report.Failed)
	}
	if len(report.Disabled) != 1 || report.Disabled[0] != "Off" {
		t.Fatalf("expected Off to be disabled, got %v", report.Disabled)
	}

	all := f.registry.GetAll()
	if len(all) != 2 || all[0].Name != "DatHandler" || all[1].Name != "ErrorData" {
		t.Fatalf("unexpected plugin table %+v", all)
	}
	if all[1].Version != "2.0.0" {
		t.Fatalf("expected version from manifest, got %q", all[1].Version)
	}
	if _, ok := f.registry.GetByName("errordata"); !ok {
		t.Fatal("expected case-insensitive lookup")
	}
	if f.disposed.Load() != 2 {
		t.Fatalf("expected failed initializations to be disposed, got %d", f.disposed.Load())
	}
}

func TestMissingRequiredServiceFailsInitialization(t *testing.T) {
	f := newFixture(t)
	f.write(t, "db.toml", `
[[plugin]]
name = "NeedsDB"
kind = "fake"
[plugin.options]
require_database = true
`)
	report, err := f.registry.Load(f.dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(report.Failed) != 1 || !errors.Is(report.Failed[0].Err, services.ErrServiceMissing) {
		t.Fatalf("expected ErrServiceMissing failure, got %+v", report.Failed)
	}
	if _, ok := f.registry.GetByName("NeedsDB"); ok {
		t.Fatal("plugin with missing service must not be registered")
	}
}

func TestDuplicateNamesRejectFirstWins(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.toml", "[[plugin]]\nname = \"Dup\"\nkind = \"fake\"\nversion = \"1\"\n")
	f.write(t, "b.toml", "[[plugin]]\nname = \"DUP\"\nkind = \"fake\"\nversion = \"2\"\n")

	report, err := f.registry.Load(f.dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(report.Loaded) != 1 || len(report.Failed) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	lp, ok := f.registry.GetByName("dup")
	if !ok || lp.Version != "1" {
		t.Fatalf("expected first manifest to win, got %+v", lp)
	}
	if f.disposed.Load() != 1 {
		t.Fatalf("expected rejected duplicate to be disposed, got %d", f.disposed.Load())
	}
}

func TestReloadKeepsOtherPluginsResolvable(t *testing.T) {
	f := newFixture(t)
	f.write(t, "good.toml", "[[plugin]]\nname = \"Keep\"\nkind = \"fake\"\n")
	f.write(t, "bad.toml", "[[plugin]]\nname = \"Bad\"\nkind = \"fake\"\n[plugin.options]\nfail_init = true\n")

	if _, err := f.registry.Load(f.dir); err != nil {
		t.Fatalf("Load: %v", err)
	}
	f.registry.StartAll()

	var (
		stop    atomic.Bool
		missing atomic.Int32
		wg      sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for !stop.Load() {
			if _, ok := f.registry.GetByName("Keep"); !ok {
				missing.Add(1)
			}
		}
	}()

	if err := os.Remove(filepath.Join(f.dir, "bad.toml")); err != nil {
		t.Fatal(err)
	}
	for range 5 {
		report, err := f.registry.Reload()
		if err != nil {
			t.Fatalf("Reload: %v", err)
		}
		if len(report.Failed) != 0 {
			t.Fatalf("unexpected failures after removing bad unit: %+v", report.Failed)
		}
	}
	stop.Store(true)
	wg.Wait()

	if missing.Load() != 0 {
		t.Fatalf("Keep was unresolvable %d times during reload", missing.Load())
	}
	lp, ok := f.registry.GetByName("Keep")
	if !ok || !lp.Started {
		t.Fatalf("expected reloaded plugin to be started, got %+v", lp)
	}
	if f.disposed.Load() < 5 {
		t.Fatalf("expected previous instances to be disposed, got %d", f.disposed.Load())
	}
}

func TestInvokeIsolatesPanics(t *testing.T) {
	f := newFixture(t)
	f.write(t, "p.toml", "[[plugin]]\nname = \"Fragile\"\nkind = \"fake\"\n[plugin.options]\npanic_on = \"x.dat\"\n")
	if _, err := f.registry.Load(f.dir); err != nil {
		t.Fatalf("Load: %v", err)
	}

	process := func(path string) error {
		return f.registry.Invoke(context.Background(), "Fragile", func(ctx context.Context, p plugin.Plugin) error {
			return p.Process(ctx, path)
		})
	}

	if err := process("/out/y.dat"); err != nil {
		t.Fatalf("expected success before panic, got %v", err)
	}
	err := process("/out/x.dat")
	if !errors.Is(err, plugin.ErrPanic) || !errors.Is(err, services.ErrPlugin) {
		t.Fatalf("expected panic to be converted, got %v", err)
	}
	if err := process("/out/z.dat"); err != nil {
		t.Fatalf("expected success after panic, got %v", err)
	}

	err = f.registry.Invoke(context.Background(), "Absent", func(context.Context, plugin.Plugin) error { return nil })
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReloadWithoutLoadIsConfigurationError(t *testing.T) {
	f := newFixture(t)
	if _, err := f.registry.Reload(); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestCatalogRejectsDuplicateKinds(t *testing.T) {
	catalog := plugin.NewCatalog()
	factory := func(spec plugin.Spec) (plugin.Plugin, error) { return nil, nil }
	if err := catalog.Register("ErrorLog", factory); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := catalog.Register("errorlog", factory); err == nil {
		t.Fatal("expected duplicate kind to be rejected")
	}
	if _, ok := catalog.Lookup("ERRORLOG"); !ok {
		t.Fatal("expected case-insensitive lookup")
	}
	if kinds := catalog.Kinds(); len(kinds) != 1 || kinds[0] != "errorlog" {
		t.Fatalf("unexpected kinds %v", kinds)
	}
}
