package workers_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"fabingest/internal/workers"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := workers.New("test", 2, nil)

	var current, peak atomic.Int32
	release := make(chan struct{})
	for range 6 {
		if err := pool.Submit(context.Background(), func(context.Context) {
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			current.Add(-1)
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for pool.Stats().Running != 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if stats := pool.Stats(); stats.Running != 2 || stats.Waiting != 4 {
		t.Fatalf("expected 2 running and 4 waiting, got %+v", stats)
	}

	close(release)
	pool.Close()
	if peak.Load() != 2 {
		t.Fatalf("expected peak concurrency 2, got %d", peak.Load())
	}
	if got := pool.Stats().Completed; got != 6 {
		t.Fatalf("expected 6 completed tasks, got %d", got)
	}
}

func TestCloseWaitsForAcceptedTasksAndRejectsNew(t *testing.T) {
	pool := workers.New("test", 1, nil)
	var ran atomic.Int32
	for range 3 {
		_ = pool.Submit(context.Background(), func(context.Context) {
			time.Sleep(10 * time.Millisecond)
			ran.Add(1)
		})
	}
	pool.Close()
	if ran.Load() != 3 {
		t.Fatalf("expected all accepted tasks to finish, got %d", ran.Load())
	}
	if err := pool.Submit(context.Background(), func(context.Context) {}); !errors.Is(err, workers.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if !pool.Closed() {
		t.Fatal("expected pool to report closed")
	}
}

func TestPanickingTaskDoesNotKillPool(t *testing.T) {
	pool := workers.New("test", 1, nil)
	var ran atomic.Bool
	_ = pool.Submit(context.Background(), func(context.Context) { panic("boom") })
	_ = pool.Submit(context.Background(), func(context.Context) { ran.Store(true) })
	pool.Close()
	if !ran.Load() {
		t.Fatal("expected task after panic to run")
	}
}
