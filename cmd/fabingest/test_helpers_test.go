package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fabingest/internal/config"
	"fabingest/internal/daemon"
	"fabingest/internal/ipc"
	"fabingest/internal/logging"
	"fabingest/internal/pipeline"
	"fabingest/internal/plugin"
	"fabingest/internal/plugins/builtin"
	"fabingest/internal/store"
	"fabingest/internal/timesync"
)

const testManifest = "[[plugin]]\nname = \"ErrorData\"\nkind = \"errorlog\"\n"

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

// setupCLIConfig writes a config file rooted in a temp directory and returns
// the loaded result. No daemon is started.
func setupCLIConfig(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	pluginDir := filepath.Join(base, "plugins")
	for _, dir := range []string{filepath.Join(base, "in"), pluginDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(pluginDir, "equipment.toml"), []byte(testManifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	configPath := filepath.Join(base, "fabingest.toml")
	content := fmt.Sprintf(`[paths]
state_dir = '%s'
log_dir = '%s'
plugin_dir = '%s'

[watch]
roots = ['%s']

[classify]
rules = ['^LOG_\d+\.dat$ -> %s']

[equipment]
eqpid = "EQP01"

[timesync]
enabled = false
`,
		filepath.Join(base, "state"),
		filepath.Join(base, "logs"),
		pluginDir,
		filepath.Join(base, "in"),
		filepath.Join(base, "out"),
	)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

// setupCLITestEnv additionally runs an in-process daemon behind the IPC
// socket the config points at.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	env := setupCLIConfig(t)
	cfg := env.cfg

	st, err := store.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	logger := logging.NewNop()
	clock := timesync.New(timesync.Options{Sampler: st, Interval: time.Hour})
	reg := plugin.NewRegistry(plugin.Options{
		Catalog:  builtin.Catalog(),
		Services: daemon.HostServices(cfg, st, clock, logger),
		Logger:   logger,
	})
	if _, err := reg.Load(cfg.Paths.PluginDir); err != nil {
		t.Fatalf("Load: %v", err)
	}
	pipe, err := pipeline.New(pipeline.Options{Config: cfg, Plugins: reg, Recorder: st, Logger: logger})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	d, err := daemon.New(daemon.Options{Config: cfg, Store: st, Plugins: reg, Pipeline: pipe, Logger: logger})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv, err := ipc.NewServer(ctx, cfg.SocketPath(), d, logger)
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI IPC test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon Start: %v", err)
	}

	t.Cleanup(func() {
		cancel()
		srv.Close()
		_ = d.Close()
		_ = st.Close()
	})
	return env
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
