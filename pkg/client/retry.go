package client

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvest_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the parameters of a RetryPolicy.
type RetryConfig struct {
	// MaxRetries is the number of retries allowed after the initial attempt.
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// ExponentialBase multiplies the delay on every further attempt.
	ExponentialBase float64

	// MaxDelay caps the exponential delay.
	MaxDelay time.Duration

	// RateLimitDelay is the flat wait applied after a 429, whatever the attempt.
	RateLimitDelay time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialDelay:    2 * time.Second,
		ExponentialBase: 2.0,
		MaxDelay:        60 * time.Second,
		RateLimitDelay:  60 * time.Second,
	}
}

// Decision is the outcome of RetryPolicy.Decide.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// RetryPolicy decides whether and when a failed page fetch is attempted again.
// It performs no I/O.
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a policy, filling unset fields from DefaultRetryConfig.
func NewRetryPolicy(cfg RetryConfig) RetryPolicy {
	def := DefaultRetryConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.ExponentialBase < 1 {
		cfg.ExponentialBase = def.ExponentialBase
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.RateLimitDelay <= 0 {
		cfg.RateLimitDelay = def.RateLimitDelay
	}
	return RetryPolicy{config: cfg}
}

// Config returns the effective configuration.
func (p RetryPolicy) Config() RetryConfig {
	return p.config
}

// Decide returns the decision after attempt number attempt (1-based) failed
// with the given class. Rate-limited attempts count toward MaxRetries but
// always wait RateLimitDelay.
func (p RetryPolicy) Decide(attempt int, class ErrorClass) Decision {
	if !shouldRetry(class) {
		return Decision{}
	}

	var delay time.Duration
	if class == ErrorClassRateLimit {
		delay = p.config.RateLimitDelay
	} else {
		delay = p.Backoff(attempt)
	}

	return Decision{
		Retry: attempt <= p.config.MaxRetries,
		Delay: delay,
	}
}

// Backoff computes min(MaxDelay, InitialDelay * ExponentialBase^(attempt-1)).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	scaled := float64(p.config.InitialDelay) * math.Pow(p.config.ExponentialBase, float64(attempt-1))
	if scaled >= float64(p.config.MaxDelay) || math.IsInf(scaled, 0) {
		return p.config.MaxDelay
	}
	return time.Duration(scaled)
}

// Sleeper suspends the caller for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// sleepContext is the default Sleeper.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
	case <-timer.C:
		return nil
	}
}
