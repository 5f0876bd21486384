package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fabingest/internal/config"
	"fabingest/internal/logging"
	"fabingest/internal/services"
)

func TestNewFromConfigConsole(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger instance")
	}
	logger.Info("hello")

	if _, err := os.Stat(filepath.Join(cfg.Paths.LogDir, "fabingest.log")); err != nil {
		t.Fatalf("expected log file: %v", err)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "info",
		OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message without caller", logging.String(logging.FieldComponent, "watcher"))

	content := readFile(t, logPath)
	if strings.Contains(content, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
	if !strings.Contains(content, "INFO [watcher] – message without caller") {
		t.Fatalf("unexpected header: %q", content)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "debug",
		OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Debug("message with caller", logging.String("detail", "x"))

	content := readFile(t, logPath)
	if !strings.Contains(content, "logger_test.go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
	if !strings.Contains(content, "detail: x") {
		t.Fatalf("expected raw field listing, got %q", content)
	}
}

func TestConsoleInfoOrdersHighlightsAndTruncates(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("classified",
		logging.String("a", "1"), logging.String("b", "2"), logging.String("c", "3"),
		logging.String("d", "4"), logging.String("e", "5"), logging.String("f", "6"),
		logging.String("g", "7"), logging.String("h", "8"),
		logging.String(logging.FieldPath, "/in/x.log"),
		logging.String(logging.FieldEventType, "file_classified"),
	)

	content := readFile(t, logPath)
	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) < 3 {
		t.Fatalf("expected detail lines, got %q", content)
	}
	if !strings.HasPrefix(lines[1], "    - Event: file_classified") {
		t.Fatalf("expected event first, got %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "    - Path: /in/x.log") {
		t.Fatalf("expected path second, got %q", lines[2])
	}
	if !strings.Contains(content, "+ 2 more") {
		t.Fatalf("expected truncation marker, got %q", content)
	}
}

func TestJSONLoggerWritesSessionAndContext(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{
		Format:      "json",
		Level:       "info",
		OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath},
		SessionID:   "sess-1",
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithTaskID(context.Background(), "task-9")
	ctx = services.WithPlugin(ctx, "errorlog")
	logging.WithContext(ctx, logger).Info("dispatched")

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readFile(t, logPath))), &entry); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if entry["level"] != "info" {
		t.Fatalf("expected lowercase level, got %v", entry["level"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", entry)
	}
	if entry[logging.FieldSessionID] != "sess-1" {
		t.Fatalf("expected session id, got %v", entry)
	}
	if entry[logging.FieldTaskID] != "task-9" || entry[logging.FieldPlugin] != "errorlog" {
		t.Fatalf("expected context fields, got %v", entry)
	}
}

func TestWarnWithContextFillsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	logging.WarnWithContext(logger, "copy retry", "copy_retry", logging.String(logging.FieldImpact, "delayed"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry[logging.FieldEventType] != "copy_retry" {
		t.Fatalf("event_type missing: %v", entry)
	}
	if entry[logging.FieldImpact] != "delayed" {
		t.Fatalf("impact overwritten: %v", entry)
	}
	if entry[logging.FieldErrorHint] == nil {
		t.Fatalf("error_hint missing: %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for input, want := range cases {
		if got := logging.ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	return string(data)
}
