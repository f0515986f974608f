package client

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", config.MaxRetries)
	}
	if config.InitialDelay != 2*time.Second {
		t.Errorf("InitialDelay = %v, want 2s", config.InitialDelay)
	}
	if config.ExponentialBase != 2.0 {
		t.Errorf("ExponentialBase = %v, want 2.0", config.ExponentialBase)
	}
	if config.MaxDelay != 60*time.Second {
		t.Errorf("MaxDelay = %v, want 60s", config.MaxDelay)
	}
	if config.RateLimitDelay != 60*time.Second {
		t.Errorf("RateLimitDelay = %v, want 60s", config.RateLimitDelay)
	}
}

func TestNewRetryPolicy_FillsDefaults(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{MaxRetries: -2})
	cfg := policy.Config()

	if cfg.MaxRetries != 0 {
		t.Errorf("MaxRetries = %d, want 0", cfg.MaxRetries)
	}
	if cfg.InitialDelay != 2*time.Second {
		t.Errorf("InitialDelay = %v, want 2s", cfg.InitialDelay)
	}
	if cfg.ExponentialBase != 2.0 {
		t.Errorf("ExponentialBase = %v, want 2.0", cfg.ExponentialBase)
	}
}

func TestRetryPolicy_ServerErrorDelaySequence(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{
		MaxRetries:      100,
		InitialDelay:    2 * time.Second,
		ExponentialBase: 2,
		MaxDelay:        120 * time.Second,
		RateLimitDelay:  60 * time.Second,
	})

	want := []time.Duration{2, 4, 8, 16, 32, 64, 120, 120, 120}
	for i, w := range want {
		attempt := i + 1
		d := policy.Decide(attempt, ErrorClassServer)
		if !d.Retry {
			t.Fatalf("attempt %d: Retry = false, want true", attempt)
		}
		if d.Delay != w*time.Second {
			t.Errorf("attempt %d: Delay = %v, want %v", attempt, d.Delay, w*time.Second)
		}
		if d.Delay > 120*time.Second {
			t.Errorf("attempt %d: Delay %v exceeds MaxDelay", attempt, d.Delay)
		}
	}
}

func TestRetryPolicy_NetworkMatchesServer(t *testing.T) {
	policy := NewRetryPolicy(DefaultRetryConfig())

	for attempt := 1; attempt <= 4; attempt++ {
		server := policy.Decide(attempt, ErrorClassServer)
		network := policy.Decide(attempt, ErrorClassNetwork)
		if server != network {
			t.Errorf("attempt %d: network decision %+v != server decision %+v", attempt, network, server)
		}
	}
}

func TestRetryPolicy_RateLimitFixedWait(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{
		MaxRetries:     5,
		InitialDelay:   time.Second,
		MaxDelay:       10 * time.Second,
		RateLimitDelay: 60 * time.Second,
	})

	for attempt := 1; attempt <= 8; attempt++ {
		d := policy.Decide(attempt, ErrorClassRateLimit)
		if d.Delay != 60*time.Second {
			t.Errorf("attempt %d: Delay = %v, want 60s", attempt, d.Delay)
		}
		if wantRetry := attempt <= 5; d.Retry != wantRetry {
			t.Errorf("attempt %d: Retry = %v, want %v", attempt, d.Retry, wantRetry)
		}
	}
}

func TestRetryPolicy_MaxRetriesExhaustion(t *testing.T) {
	policy := NewRetryPolicy(DefaultRetryConfig())

	tests := []struct {
		attempt int
		want    bool
	}{
		{1, true},
		{2, true},
		{3, true},
		{4, false},
		{10, false},
	}

	for _, tt := range tests {
		if got := policy.Decide(tt.attempt, ErrorClassServer).Retry; got != tt.want {
			t.Errorf("Decide(%d, server).Retry = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicy_NonRetryable(t *testing.T) {
	policy := NewRetryPolicy(DefaultRetryConfig())

	for _, class := range []ErrorClass{ErrorClassClient, ErrorClassMalformed, ""} {
		d := policy.Decide(1, class)
		if d.Retry {
			t.Errorf("Decide(1, %q).Retry = true, want false", class)
		}
		if d.Delay != 0 {
			t.Errorf("Decide(1, %q).Delay = %v, want 0", class, d.Delay)
		}
	}
}

func TestRetryPolicy_BackoffCap(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{
		InitialDelay:    1 * time.Second,
		MaxDelay:        3 * time.Second,
		ExponentialBase: 10.0,
	})

	if got := policy.Backoff(1); got != time.Second {
		t.Errorf("Backoff(1) = %v, want 1s", got)
	}
	if got := policy.Backoff(2); got != 3*time.Second {
		t.Errorf("Backoff(2) = %v, want capped 3s", got)
	}
	if got := policy.Backoff(500); got != 3*time.Second {
		t.Errorf("Backoff(500) = %v, want capped 3s", got)
	}
	if got := policy.Backoff(0); got != time.Second {
		t.Errorf("Backoff(0) = %v, want 1s", got)
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("sleepContext() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := sleepContext(ctx, time.Hour)
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleepContext should return immediately on cancellation")
	}

	if err := sleepContext(ctx, 0); !errors.Is(err, ErrContextCancelled) {
		t.Errorf("zero delay on cancelled context: got %v", err)
	}
}
