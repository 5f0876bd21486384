// Package workers runs background tasks with bounded concurrency.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"fabingest/internal/logging"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("worker pool closed")

const defaultSize = 4

// Pool runs submitted tasks on goroutines, at most size at a time. Submit
// never blocks; tasks beyond the limit wait for a slot.
type Pool struct {
	name   string
	size   int64
	sem    *semaphore.Weighted
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	running atomic.Int64
	waiting atomic.Int64
	done    atomic.Uint64
}

// New returns a pool named name with size concurrent slots.
func New(name string, size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = defaultSize
	}
	return &Pool{
		name:   name,
		size:   int64(size),
		sem:    semaphore.NewWeighted(int64(size)),
		logger: logging.NewComponentLogger(logger, "workers").With(logging.String("pool", name)),
	}
}

// Submit schedules fn. ctx is passed through to fn unchanged.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context)) error {
	if fn == nil {
		return fmt.Errorf("submit to %s: nil task", p.name)
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.waiting.Add(1)
	go func() {
		defer p.wg.Done()
		// Acquire only fails when its context ends; this one never does.
		_ = p.sem.Acquire(context.Background(), 1)
		p.waiting.Add(-1)
		p.running.Add(1)
		defer func() {
			p.running.Add(-1)
			p.done.Add(1)
			p.sem.Release(1)
		}()
		p.run(ctx, fn)
	}()
	return nil
}

func (p *Pool) run(ctx context.Context, fn func(context.Context)) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.ErrorWithContext(p.logger, "worker task panicked", "worker_panic",
				logging.Any("panic", rec),
				logging.String("stack", string(debug.Stack())),
			)
		}
	}()
	fn(ctx)
}

// Close stops accepting tasks and waits for every accepted task to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}

// Closed reports whether Close has been called.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Stats is a point-in-time view of pool activity.
type Stats struct {
	Name      string
	Size      int
	Running   int
	Waiting   int
	Completed uint64
}

// Stats reports current activity.
func (p *Pool) Stats() Stats {
	return Stats{
		Name:      p.name,
		Size:      int(p.size),
		Running:   int(p.running.Load()),
		Waiting:   int(p.waiting.Load()),
		Completed: p.done.Load(),
	}
}
