package ratelimit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var pacerWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "harvest_pacer_wait_seconds",
	Help:    "Politeness pause applied between sequential page fetches",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5},
})

// DefaultPoliteDelay is the pause inserted between successful fetches.
const DefaultPoliteDelay = 500 * time.Millisecond

// Pacer inserts a fixed pause between successful sequential fetches of one
// collection. A Pacer is not safe for concurrent use; each run owns one.
type Pacer struct {
	delay   time.Duration
	pending bool
	wait    func(ctx context.Context, d time.Duration) error
}

// NewPacer creates a Pacer with the given pause. A zero delay disables pacing.
func NewPacer(delay time.Duration) *Pacer {
	if delay < 0 {
		delay = 0
	}
	return &Pacer{
		delay: delay,
		wait:  waitTimer,
	}
}

// WithWait replaces the wait function (for testing).
func (p *Pacer) WithWait(wait func(ctx context.Context, d time.Duration) error) *Pacer {
	p.wait = wait
	return p
}

// Delay returns the configured pause.
func (p *Pacer) Delay() time.Duration {
	return p.delay
}

// Succeeded records a successful fetch; the next Before call pauses.
func (p *Pacer) Succeeded() {
	p.pending = p.delay > 0
}

// Before blocks for the politeness pause if the previous fetch succeeded.
// It returns ctx's error if cancelled while waiting.
func (p *Pacer) Before(ctx context.Context) error {
	if !p.pending {
		return ctx.Err()
	}
	p.pending = false

	pacerWaitSeconds.Observe(p.delay.Seconds())
	return p.wait(ctx, p.delay)
}

func waitTimer(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
