// Package timesync keeps the host clock aligned with the database server.
//
// The Provider samples the server clock on an interval, stores the offset
// between server and host, and applies it to equipment timestamps before
// plugins persist them. It implements services.Clock.
package timesync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"fabingest/internal/logging"
	"fabingest/internal/services"
)

// DefaultInterval is the server sampling period.
const DefaultInterval = 10 * time.Minute

// Sampler reads the reference clock.
type Sampler interface {
	ServerTime(ctx context.Context) (time.Time, error)
}

// Options configures a Provider.
type Options struct {
	Sampler  Sampler
	Interval time.Duration
	// Location is the zone synchronized times are reported in.
	Location *time.Location
	Logger   *slog.Logger
	Now      func() time.Time
}

// Provider tracks the server clock offset.
type Provider struct {
	sampler  Sampler
	interval time.Duration
	location *time.Location
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	offset   time.Duration
	lastSync time.Time
	lastErr  error

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ services.Clock = (*Provider)(nil)

// New builds a Provider with a zero offset.
func New(opts Options) *Provider {
	p := &Provider{
		sampler:  opts.Sampler,
		interval: opts.Interval,
		location: opts.Location,
		logger:   logging.NewComponentLogger(opts.Logger, "timesync"),
		now:      opts.Now,
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.location == nil {
		p.location = time.Local
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Start samples immediately and then every interval until Stop. Calling
// Start on a running provider is a no-op.
func (p *Provider) Start(ctx context.Context) error {
	if p.sampler == nil {
		return errors.New("timesync: sampler is required")
	}
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.wg.Add(1)
	go p.loop(runCtx)
	return nil
}

// Stop halts sampling and waits for the loop to exit. The last offset stays
// in effect.
func (p *Provider) Stop() {
	p.runMu.Lock()
	if !p.running {
		p.runMu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.runMu.Unlock()

	cancel()
	p.wg.Wait()
}

func (p *Provider) loop(ctx context.Context) {
	defer p.wg.Done()
	_ = p.Sync(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = p.Sync(ctx)
		}
	}
}

// Sync samples the server clock once and updates the offset. On failure the
// previous offset is kept.
func (p *Provider) Sync(ctx context.Context) error {
	if p.sampler == nil {
		return errors.New("timesync: sampler is required")
	}
	server, err := p.sampler.ServerTime(ctx)
	local := p.now()
	if err != nil {
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
		if errors.Is(err, context.Canceled) {
			return err
		}
		logging.WarnWithContext(p.logger, "server time sync failed", "timesync_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the state database"),
			logging.String(logging.FieldImpact, "timestamps use the previous clock offset"),
		)
		return err
	}

	offset := server.Sub(local)
	p.mu.Lock()
	p.offset = offset
	p.lastSync = local
	p.lastErr = nil
	p.mu.Unlock()

	p.logger.Debug("server time synchronized",
		logging.String(logging.FieldEventType, "timesync_completed"),
		logging.Duration("offset", offset),
	)
	return nil
}

// Offset returns server time minus host time from the last good sample.
func (p *Provider) Offset() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.offset
}

// LastSync returns when the last good sample was taken and the error of the
// latest attempt, if it failed.
func (p *Provider) LastSync() (time.Time, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSync, p.lastErr
}

// Location returns the reporting zone.
func (p *Provider) Location() *time.Location {
	return p.location
}

// Now returns the host clock corrected by the offset, in the reporting zone.
func (p *Provider) Now() time.Time {
	return p.Synchronize(p.now())
}

// Synchronize shifts t by the offset and converts it to the reporting zone.
// Equipment timestamps parsed without a zone should be built in time.Local
// first; their absolute instant is what gets shifted.
func (p *Provider) Synchronize(t time.Time) time.Time {
	return t.Add(p.Offset()).In(p.location)
}
