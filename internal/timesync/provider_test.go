package timesync_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fabingest/internal/timesync"
)

type stubSampler struct {
	mu     sync.Mutex
	server time.Time
	err    error
	calls  int
}

func (s *stubSampler) ServerTime(context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.server, s.err
}

func (s *stubSampler) set(server time.Time, err error) {
	s.mu.Lock()
	s.server, s.err = server, err
	s.mu.Unlock()
}

func (s *stubSampler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestSyncAppliesOffset(t *testing.T) {
	local := time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC)
	sampler := &stubSampler{server: local.Add(90 * time.Second)}
	seoul := time.FixedZone("KST", 9*60*60)

	p := timesync.New(timesync.Options{
		Sampler:  sampler,
		Location: seoul,
		Now:      func() time.Time { return local },
	})
	if got := p.Synchronize(local); !got.Equal(local) {
		t.Fatalf("expected zero offset before sync, got %s", got)
	}
	if err := p.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if p.Offset() != 90*time.Second {
		t.Fatalf("unexpected offset %s", p.Offset())
	}

	got := p.Synchronize(local)
	if !got.Equal(local.Add(90 * time.Second)) {
		t.Fatalf("unexpected synchronized instant %s", got)
	}
	if got.Location() != seoul || got.Hour() != 10 || got.Minute() != 1 {
		t.Fatalf("expected KST wall clock 10:01:30, got %s", got)
	}
	if !p.Now().Equal(got) {
		t.Fatalf("Now should equal the synchronized host clock")
	}
}

func TestFailedSyncKeepsPreviousOffset(t *testing.T) {
	local := time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC)
	sampler := &stubSampler{server: local.Add(-5 * time.Second)}
	p := timesync.New(timesync.Options{Sampler: sampler, Now: func() time.Time { return local }})

	if err := p.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	boom := errors.New("database unavailable")
	sampler.set(time.Time{}, boom)
	if err := p.Sync(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected sampler error, got %v", err)
	}
	if p.Offset() != -5*time.Second {
		t.Fatalf("offset should survive a failed sample, got %s", p.Offset())
	}
	last, err := p.LastSync()
	if !last.Equal(local) || !errors.Is(err, boom) {
		t.Fatalf("unexpected LastSync %s %v", last, err)
	}
}

func TestStartSamplesUntilStopped(t *testing.T) {
	sampler := &stubSampler{server: time.Now()}
	p := timesync.New(timesync.Options{Sampler: sampler, Interval: 5 * time.Millisecond})

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for sampler.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sampler.count() < 3 {
		t.Fatalf("expected repeated samples, got %d", sampler.count())
	}
	p.Stop()
	after := sampler.count()
	time.Sleep(30 * time.Millisecond)
	if sampler.count() != after {
		t.Fatalf("sampling continued after Stop")
	}
	p.Stop()
}

func TestStartRequiresSampler(t *testing.T) {
	p := timesync.New(timesync.Options{})
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("expected error without sampler")
	}
}
