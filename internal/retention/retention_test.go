package retention_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fabingest/internal/retention"
)

func TestDateFromName(t *testing.T) {
	cases := []struct {
		name string
		want string
		ok   bool
	}{
		{"LOG_20240501_101500.dat", "2024-05-01", true},
		{"report_2024-04-30.txt", "2024-04-30", true},
		{"20240315.csv", "2024-03-15", true},
		{"WF_20240229_235959_flat.csv", "2024-02-29", true},
		{"id_120240501.dat", "", false},
		{"20241345.csv", "", false},
		{"notes.txt", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := retention.DateFromName(tc.name, time.UTC)
			if ok != tc.ok {
				t.Fatalf("ok=%v, want %v", ok, tc.ok)
			}
			if ok && got.Format("2006-01-02") != tc.want {
				t.Fatalf("got %s, want %s", got.Format("2006-01-02"), tc.want)
			}
		})
	}
}

type stubHistory struct {
	cutoff time.Time
}

func (s *stubHistory) PruneDispatches(_ context.Context, cutoff time.Time) (int64, error) {
	s.cutoff = cutoff
	return 4, nil
}

func TestRunOnceDeletesExpiredDatedFiles(t *testing.T) {
	base := t.TempDir()
	write := func(rel string) string {
		path := filepath.Join(base, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}
	expired := write("error/LOG_20240401_080000.dat")
	expiredNested := write("flat/2024/WF_2024-04-10.csv")
	readOnly := write("flat/old_20240402.csv")
	if err := os.Chmod(readOnly, 0o444); err != nil {
		t.Fatal(err)
	}
	kept := write("error/LOG_20240425_080000.dat")
	undated := write("error/summary.txt")

	now := time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC)
	history := &stubHistory{}
	c := retention.New(retention.Options{
		Days:     10,
		BaseDirs: []string{base, filepath.Join(base, "missing")},
		History:  history,
		Now:      func() time.Time { return now },
	})

	report := c.RunOnce(context.Background())
	if report.Deleted != 3 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.HistoryDeleted != 4 || !history.cutoff.Equal(time.Date(2024, 4, 21, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected history prune %+v cutoff %s", report, history.cutoff)
	}
	for _, path := range []string{expired, expiredNested, readOnly} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("expected %s deleted", path)
		}
	}
	for _, path := range []string{kept, undated} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s kept: %v", path, err)
		}
	}
}

func TestRunOnceDisabled(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "LOG_20000101_000000.dat")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := retention.New(retention.Options{Days: 0, BaseDirs: []string{base}})
	if report := c.RunOnce(context.Background()); report.Deleted != 0 {
		t.Fatalf("disabled cleaner deleted files: %+v", report)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file should remain: %v", err)
	}
}

func TestStartStop(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "LOG_20000101_000000.dat")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := retention.New(retention.Options{Days: 1, Interval: time.Hour, BaseDirs: []string{base}})
	c.Start(context.Background())
	c.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.Stop()
	c.Stop()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected the immediate pass to delete the expired file")
	}
}

func TestPruneLogs(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "fabingest-old.log")
	current := filepath.Join(dir, "fabingest-current.log")
	other := filepath.Join(dir, "notes.txt")
	for _, path := range []string{old, current, other} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		stale := time.Now().AddDate(0, 0, -40)
		if err := os.Chtimes(path, stale, stale); err != nil {
			t.Fatal(err)
		}
	}

	removed := retention.PruneLogs(nil, 30, retention.LogTarget{Dir: dir, Pattern: "fabingest-*.log", Exclude: []string{current}})
	if removed != 1 {
		t.Fatalf("expected one file pruned, got %d", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("old log should be pruned")
	}
	for _, path := range []string{current, other} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("%s should remain: %v", path, err)
		}
	}
	if retention.PruneLogs(nil, 0, retention.LogTarget{Dir: dir}) != 0 {
		t.Fatal("zero retention must not prune")
	}
}
