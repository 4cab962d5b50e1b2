package retry

import (
	"testing"
	"time"
)

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *time.Time) {
	b := NewBreaker(threshold, cooldown)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if got := b.State(); got != Closed {
			t.Fatalf("after %d failures state = %v, want closed", i+1, got)
		}
	}
	b.RecordFailure()
	if got := b.State(); got != Open {
		t.Fatalf("after threshold failures state = %v, want open", got)
	}
	if b.Allow() {
		t.Fatalf("open circuit must not allow calls")
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if got := b.State(); got != Closed {
		t.Fatalf("state = %v, want closed after reset", got)
	}
}

func TestBreakerHalfOpenSingleTrial(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)
	b.RecordFailure()
	if b.Allow() {
		t.Fatalf("circuit should be open")
	}

	*now = now.Add(2 * time.Minute)
	if !b.Allow() {
		t.Fatalf("cooldown elapsed, expected one trial allowed")
	}
	if b.Allow() {
		t.Fatalf("second call during trial must be rejected")
	}

	b.RecordSuccess()
	if got := b.State(); got != Closed {
		t.Fatalf("state after successful trial = %v, want closed", got)
	}
	if !b.Allow() {
		t.Fatalf("closed circuit must allow calls")
	}
}

func TestBreakerFailedTrialReopens(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)
	b.RecordFailure()
	*now = now.Add(2 * time.Minute)
	if !b.Allow() {
		t.Fatalf("expected trial after cooldown")
	}
	b.RecordFailure()
	if got := b.State(); got != Open {
		t.Fatalf("state after failed trial = %v, want open", got)
	}
	// window must be reset from the reopen, not the original open
	if b.Allow() {
		t.Fatalf("reopened circuit must not allow before a fresh cooldown")
	}
	*now = now.Add(2 * time.Minute)
	if !b.Allow() {
		t.Fatalf("expected trial after fresh cooldown")
	}
}

func TestBreakerTripOpensImmediately(t *testing.T) {
	b, _ := newTestBreaker(5, time.Minute)
	b.Trip()
	if got := b.State(); got != Open {
		t.Fatalf("state after trip = %v, want open", got)
	}
}
