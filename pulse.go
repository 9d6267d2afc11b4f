package beacon

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
)

// DefaultPulseInterval is how often a running Pulse reports liveness.
const DefaultPulseInterval = 15 * time.Second

// Pulse sends a _pulse beacon on a fixed interval while it runs.
//
// A Pulse is owned by the embedding application and starts nothing on its
// own. A client runs at most one pulse at a time. Stop, or ending the
// context passed to Start, releases the client for the next one.
type Pulse struct {
	client   *Client
	interval time.Duration
	clock    quartz.Clock

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type PulseOption func(*Pulse)

// WithPulseInterval overrides DefaultPulseInterval.
func WithPulseInterval(d time.Duration) PulseOption {
	return func(p *Pulse) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithPulseClock sets the clock driving the ticker.
func WithPulseClock(clock quartz.Clock) PulseOption {
	return func(p *Pulse) {
		p.clock = clock
	}
}

// NewPulse creates a stopped pulse for client.
func NewPulse(client *Client, opts ...PulseOption) *Pulse {
	p := &Pulse{
		client:   client,
		interval: DefaultPulseInterval,
		clock:    quartz.NewReal(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Interval returns the time between pulses.
func (p *Pulse) Interval() time.Duration {
	return p.interval
}

// Start begins pulsing until Stop is called or ctx ends. It returns
// ErrPulseRunning if this pulse, or another pulse of the same client, is
// already running.
func (p *Pulse) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return ErrPulseRunning
	}
	if !p.client.claimPulse(p) {
		return ErrPulseRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	waiter := p.clock.TickerFunc(ctx, p.interval, func() error {
		p.client.TrackPulse(ctx)
		return nil
	}, "pulse")

	go func() {
		defer close(done)
		_ = waiter.Wait()
		cancel()

		p.mu.Lock()
		if p.done == done {
			p.cancel, p.done = nil, nil
			p.client.releasePulse(p)
		}
		p.mu.Unlock()
		p.client.loggerAdapter.Debug("Pulse stopped")
	}()

	p.client.loggerAdapter.Debug("Pulse started every %v", p.interval)
	return nil
}

// Running reports whether the ticker is active.
func (p *Pulse) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Stop cancels the ticker and waits for an in-flight pulse to finish.
// Stopping a stopped pulse is a no-op; a stopped pulse can be started again.
func (p *Pulse) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
