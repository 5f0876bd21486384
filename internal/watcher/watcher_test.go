package watcher_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fabingest/internal/watcher"
)

type recorder struct {
	mu     sync.Mutex
	events []watcher.Event
}

func (r *recorder) add(event watcher.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recorder) has(path string, kind watcher.Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Path == path && e.Kind == kind {
			return true
		}
	}
	return false
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startRegistry(t *testing.T, roots ...string) (*watcher.Registry, *recorder) {
	t.Helper()
	reg := watcher.New(watcher.Options{})
	rec := &recorder{}
	unsubscribe := reg.Subscribe(rec.add)
	if err := reg.Start(roots); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		unsubscribe()
		reg.Stop()
	})
	return reg, rec
}

func TestRegistryEmitsCreateAndDelete(t *testing.T) {
	root := t.TempDir()
	_, rec := startRegistry(t, root)

	path := filepath.Join(root, "LOG_001.dat")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, "create event", func() bool { return rec.has(path, watcher.Created) })

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	waitFor(t, "delete event", func() bool { return rec.has(path, watcher.Deleted) })
}

func TestRegistryReportsRenameAsOldAndNew(t *testing.T) {
	root := t.TempDir()
	oldPath := filepath.Join(root, "partial.tmp")
	if err := os.WriteFile(oldPath, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, rec := startRegistry(t, root)

	newPath := filepath.Join(root, "final.csv")
	if err := os.Rename(oldPath, newPath); err != nil {
		t.Fatalf("rename: %v", err)
	}
	waitFor(t, "renamed event", func() bool { return rec.has(oldPath, watcher.Renamed) })
	waitFor(t, "created event for new name", func() bool { return rec.has(newPath, watcher.Created) })
}

func TestRegistrySkipsMissingRoot(t *testing.T) {
	root := t.TempDir()
	missing := filepath.Join(root, "does-not-exist")
	reg, rec := startRegistry(t, missing, root)

	if got := reg.Metrics().Roots; got != 1 {
		t.Fatalf("expected 1 active root, got %d", got)
	}
	path := filepath.Join(root, "a.log")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, "event from valid root", func() bool { return rec.has(path, watcher.Created) })
}

func TestRegistryWatchesNewSubdirectories(t *testing.T) {
	root := t.TempDir()
	reg, rec := startRegistry(t, root)

	sub := filepath.Join(root, "lot42")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	waitFor(t, "subdirectory watch", func() bool { return reg.Metrics().ActiveWatches == 2 })

	path := filepath.Join(sub, "WF_FLAT_1.csv")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, "nested event", func() bool { return rec.has(path, watcher.Created) })
}

func TestRegistryStartIsIdempotentAndStopIsSafe(t *testing.T) {
	root := t.TempDir()
	reg := watcher.New(watcher.Options{})
	reg.Stop()

	if err := reg.Start([]string{root}); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := reg.Start([]string{root}); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if got := reg.Metrics().Roots; got != 1 {
		t.Fatalf("expected restart to replace roots, got %d", got)
	}
	reg.Stop()
	reg.Stop()
	if reg.Running() {
		t.Fatal("expected registry to be stopped")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	root := t.TempDir()
	reg := watcher.New(watcher.Options{})
	rec := &recorder{}
	unsubscribe := reg.Subscribe(rec.add)
	if err := reg.Start([]string{root}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer reg.Stop()

	unsubscribe()
	if err := os.WriteFile(filepath.Join(root, "ignored.log"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("expected no events after unsubscribe, got %d", rec.count())
	}
}
