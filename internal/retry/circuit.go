package retry

import (
	"sync"
	"time"
)

// State of the per-agent-type circuit.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker suppresses AI-backed calls after sustained failure. One breaker
// owns the circuit state for one agent type; all transitions happen under
// its lock so concurrent cycles cannot race on it.
type Breaker struct {
	mu            sync.Mutex
	state         State
	consecutive   int
	threshold     int
	cooldown      time.Duration
	openedAt      time.Time
	trialInFlight bool
	now           func() time.Time
}

// NewBreaker opens the circuit after threshold consecutive exhausted retry
// sequences, for the given cooldown window.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow reports whether an AI-backed call may proceed. While open, it
// half-opens after the cooldown and admits exactly one trial call.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = HalfOpen
		b.trialInFlight = true
		return true
	case HalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	}
	return false
}

// RecordSuccess closes the circuit and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.consecutive = 0
	b.trialInFlight = false
}

// RecordFailure notes one exhausted retry sequence. In half-open state the
// failed trial re-opens the circuit with the cooldown window reset.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case HalfOpen:
		b.reopen()
	case Closed:
		b.consecutive++
		if b.consecutive >= b.threshold {
			b.reopen()
		}
	case Open:
		// already open; keep the window as-is
	}
	b.trialInFlight = false
}

// Trip opens the circuit immediately, bypassing the failure count. Used
// for permanent errors such as a bad credential.
func (b *Breaker) Trip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reopen()
	b.trialInFlight = false
}

func (b *Breaker) reopen() {
	b.state = Open
	b.consecutive = 0
	b.openedAt = b.now()
}

// State returns the current circuit state for observability.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
