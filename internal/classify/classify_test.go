package classify_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fabingest/internal/classify"
	"fabingest/internal/services"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestParseRuleTrimsAndValidates(t *testing.T) {
	rule, err := classify.ParseRule(`  ^LOG_\d+\.dat$   ->   /data/out/  `, 4)
	if err != nil {
		t.Fatalf("ParseRule: %v", err)
	}
	if rule.Pattern != `^LOG_\d+\.dat$` || rule.Destination != "/data/out" || rule.Order != 4 {
		t.Fatalf("unexpected rule %+v", rule)
	}
	if !rule.Matches("LOG_001.dat") || rule.Matches("LOG_x.dat") {
		t.Fatal("pattern did not compile as expected")
	}

	for _, bad := range []string{"no separator", " -> /out", "x -> ", "([ -> /out"} {
		if _, err := classify.ParseRule(bad, 0); !errors.Is(err, services.ErrConfiguration) {
			t.Fatalf("ParseRule(%q): expected configuration error, got %v", bad, err)
		}
	}
}

func TestParseRulesSkipsInvalidAndKeepsOrder(t *testing.T) {
	rules := classify.ParseRules([]string{`a -> /1`, `broken`, `b -> /2`, `(( -> /3`, `c -> /4`}, nil)
	if len(rules) != 3 {
		t.Fatalf("expected 3 valid rules, got %d", len(rules))
	}
	want := []string{"a", "b", "c"}
	for i, rule := range rules {
		if rule.Pattern != want[i] {
			t.Fatalf("rule %d: expected %q, got %q", i, want[i], rule.Pattern)
		}
	}
	if rules[1].Order != 2 {
		t.Fatalf("expected configuration order to be kept, got %d", rules[1].Order)
	}
}

func TestFirstMatchWins(t *testing.T) {
	base := t.TempDir()
	d1 := filepath.Join(base, "d1")
	d2 := filepath.Join(base, "d2")
	engine := classify.New(classify.Options{Rules: []string{
		`A.*\.txt -> ` + d1,
		`.*\.txt -> ` + d2,
	}})

	src := filepath.Join(base, "in", "ABC.txt")
	writeFile(t, src, "payload")

	result, err := engine.Classify(context.Background(), src)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !result.Matched || result.Destination != filepath.Join(d1, "ABC.txt") {
		t.Fatalf("unexpected result %+v", result)
	}
	if !exists(filepath.Join(d1, "ABC.txt")) {
		t.Fatal("expected copy in d1")
	}
	if exists(filepath.Join(d2, "ABC.txt")) {
		t.Fatal("file must not be copied to d2")
	}
	if !exists(src) {
		t.Fatal("classification must copy, not move")
	}
}

func TestPatternMatchesFilenameOnly(t *testing.T) {
	base := t.TempDir()
	dest := filepath.Join(base, "out")
	engine := classify.New(classify.Options{Rules: []string{`^in -> ` + dest}})

	src := filepath.Join(base, "in", "report.csv")
	writeFile(t, src, "x")

	result, err := engine.Classify(context.Background(), src)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if result.Matched || result.Skipped != classify.SkipNoMatch {
		t.Fatalf("directory components must not be matched, got %+v", result)
	}
}

func TestExcludedFolderNeverCopies(t *testing.T) {
	base := t.TempDir()
	dest := filepath.Join(base, "out")
	excluded := filepath.Join(base, "In", "Tmp")
	engine := classify.New(classify.Options{
		Rules:   []string{`.* -> ` + dest},
		Exclude: []string{excluded},
	})

	for _, src := range []string{
		filepath.Join(base, "in", "tmp", "a.log"),
		filepath.Join(base, "IN", "TMP", "nested", "b.log"),
	} {
		writeFile(t, src, "x")
		result, err := engine.Classify(context.Background(), src)
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if result.Skipped != classify.SkipExcluded {
			t.Fatalf("expected %s to be excluded, got %+v", src, result)
		}
	}
	if exists(dest) {
		t.Fatal("excluded files must never reach the copy step")
	}
}

func TestMissingFileIsNoop(t *testing.T) {
	base := t.TempDir()
	engine := classify.New(classify.Options{Rules: []string{`.* -> ` + filepath.Join(base, "out")}})

	result, err := engine.Classify(context.Background(), filepath.Join(base, "gone.log"))
	if err != nil {
		t.Fatalf("missing file must not be an error, got %v", err)
	}
	if result.Skipped != classify.SkipMissing {
		t.Fatalf("expected missing skip, got %+v", result)
	}
}

func TestFileInsideDestinationIsNotReclassified(t *testing.T) {
	base := t.TempDir()
	dest := filepath.Join(base, "in", "out")
	engine := classify.New(classify.Options{Rules: []string{`^LOG_\d+\.dat$ -> ` + dest}})

	copied := filepath.Join(dest, "LOG_1.dat")
	writeFile(t, copied, "row")

	result, err := engine.Classify(context.Background(), copied)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if result.Matched || result.Skipped != classify.SkipInDestination {
		t.Fatalf("expected in-destination skip, got %+v", result)
	}
}

func TestCopyOverwritesExisting(t *testing.T) {
	base := t.TempDir()
	dest := filepath.Join(base, "out")
	engine := classify.New(classify.Options{Rules: []string{`\.log$ -> ` + dest}})

	src := filepath.Join(base, "in", "x.log")
	writeFile(t, filepath.Join(dest, "x.log"), "stale")
	writeFile(t, src, "fresh")

	if _, err := engine.Classify(context.Background(), src); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dest, "x.log"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "fresh" {
		t.Fatalf("expected overwrite, got %q", got)
	}
}

func TestCopyFailureIsReportedAndIsolated(t *testing.T) {
	base := t.TempDir()
	blocked := filepath.Join(base, "blocked")
	writeFile(t, blocked, "i am a file, not a folder")
	good := filepath.Join(base, "good")

	engine := classify.New(classify.Options{
		Rules:          []string{`^bad -> ` + blocked, `^ok -> ` + good},
		CopyAttempts:   2,
		CopyRetryDelay: time.Millisecond,
	})

	bad := filepath.Join(base, "in", "bad.log")
	ok := filepath.Join(base, "in", "ok.log")
	writeFile(t, bad, "x")
	writeFile(t, ok, "y")

	if _, err := engine.Classify(context.Background(), bad); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient copy error, got %v", err)
	}
	if _, err := engine.Classify(context.Background(), ok); err != nil {
		t.Fatalf("second file must still classify, got %v", err)
	}
	if !exists(filepath.Join(good, "ok.log")) {
		t.Fatal("expected ok.log to be copied")
	}
}

func TestTestAndReload(t *testing.T) {
	engine := classify.New(classify.Options{Rules: []string{`^WF_FLAT_ -> /out/flat`}})
	if rule, ok := engine.Test("/any/dir/WF_FLAT_01.csv"); !ok || rule.Destination != "/out/flat" {
		t.Fatalf("expected match, got %+v %v", rule, ok)
	}

	engine.Reload([]string{`^ERR -> /out/err`}, nil)
	if _, ok := engine.Test("WF_FLAT_01.csv"); ok {
		t.Fatal("expected reload to replace rules")
	}
	if got := engine.Rules(); len(got) != 1 || got[0].Pattern != "^ERR" {
		t.Fatalf("unexpected rules after reload: %+v", got)
	}
}
