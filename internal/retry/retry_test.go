package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/intelbrief/intelbrief/config"
	"github.com/intelbrief/intelbrief/internal/provider"
)

func newTestController(t *testing.T, cfg config.RetryConfig) (*Controller, *[]time.Duration) {
	t.Helper()
	c := NewController("content_quality", cfg, nil)
	var slept []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	c.jitter = func(d time.Duration) time.Duration { return d }
	return c, &slept
}

func transientErr(msg string) error {
	return &provider.AgentCallError{Kind: provider.Transient, Err: errors.New(msg)}
}

func permanentErr(msg string) error {
	return &provider.AgentCallError{Kind: provider.Permanent, Err: errors.New(msg)}
}

func TestDoStopsAfterMaxRetriesPlusOne(t *testing.T) {
	c, slept := newTestController(t, config.RetryConfig{MaxRetries: 2, BaseDelay: 100 * time.Millisecond, Factor: 2})

	calls := 0
	err := c.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return transientErr("upstream 503")
	})
	if err == nil {
		t.Fatalf("expected error after exhausted retries")
	}
	if calls != 3 {
		t.Fatalf("attempts = %d, want maxRetries+1 = 3", calls)
	}
	if len(*slept) != 2 {
		t.Fatalf("sleeps = %d, want 2 (no sleep after last attempt)", len(*slept))
	}
	if (*slept)[0] != 100*time.Millisecond || (*slept)[1] != 200*time.Millisecond {
		t.Fatalf("backoff = %v, want exponential 100ms, 200ms", *slept)
	}
}

func TestDoSucceedsMidSequence(t *testing.T) {
	c, _ := newTestController(t, config.RetryConfig{MaxRetries: 3})

	calls := 0
	err := c.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return transientErr("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("attempts = %d, want 2", calls)
	}
	if got := c.CircuitState(); got != Closed {
		t.Fatalf("circuit = %v, want closed after success", got)
	}
}

func TestDoPermanentSkipsRetriesAndTrips(t *testing.T) {
	c, slept := newTestController(t, config.RetryConfig{MaxRetries: 5})

	calls := 0
	err := c.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return permanentErr("invalid api key")
	})
	if err == nil || !provider.IsPermanent(err) {
		t.Fatalf("expected permanent error back, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("attempts = %d, want 1 for permanent failure", calls)
	}
	if len(*slept) != 0 {
		t.Fatalf("permanent failure must not back off, slept %v", *slept)
	}
	if got := c.CircuitState(); got != Open {
		t.Fatalf("circuit = %v, want open after permanent failure", got)
	}
}

func TestDoZeroCallsWhileOpen(t *testing.T) {
	c, _ := newTestController(t, config.RetryConfig{MaxRetries: 0, CircuitThreshold: 1, CircuitCooldown: time.Hour})

	if err := c.Do(context.Background(), func(ctx context.Context) error {
		return transientErr("down")
	}); err == nil {
		t.Fatalf("expected failure")
	}

	calls := 0
	err := c.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if calls != 0 {
		t.Fatalf("open circuit issued %d backend calls, want 0", calls)
	}
}

func TestDoCanceledContext(t *testing.T) {
	c, _ := newTestController(t, config.RetryConfig{MaxRetries: 3})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := c.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return transientErr("cut off")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("attempts = %d, want 1 after cancellation", calls)
	}
}
