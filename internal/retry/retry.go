package retry

import (
	"context"
	"errors"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/intelbrief/intelbrief/config"
	"github.com/intelbrief/intelbrief/internal/provider"
)

// ErrCircuitOpen is returned without any backend attempt while the circuit
// for an agent type is open.
var ErrCircuitOpen = errors.New("circuit open")

// Controller wraps AI-backed calls for one agent type with bounded
// retries, exponential backoff and the shared circuit breaker.
type Controller struct {
	agentType  string
	maxRetries int
	baseDelay  time.Duration
	factor     float64
	timeout    time.Duration
	breaker    *Breaker
	logger     *log.Logger

	// injectable for tests
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration
}

// NewController builds a controller from retry configuration. The breaker
// is owned by the controller and shared across all calls for its agent type.
func NewController(agentType string, cfg config.RetryConfig, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.New(log.Writer(), "[RETRY] ", log.LstdFlags)
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	factor := cfg.Factor
	if factor < 1 {
		factor = 2
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Controller{
		agentType:  agentType,
		maxRetries: cfg.MaxRetries,
		baseDelay:  baseDelay,
		factor:     factor,
		timeout:    timeout,
		breaker:    NewBreaker(cfg.CircuitThreshold, cfg.CircuitCooldown),
		logger:     logger,
		sleep:      sleepCtx,
		jitter:     addJitter,
	}
}

// Do runs fn with per-attempt timeouts and exponential backoff. It issues
// exactly maxRetries+1 attempts before giving up. A permanent error skips
// the remaining attempts and trips the circuit immediately; an exhausted
// sequence counts one failure toward opening it.
func (c *Controller) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !c.breaker.Allow() {
		return ErrCircuitOpen
	}

	var lastErr error
	attempts := c.maxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			c.breaker.RecordSuccess()
			return nil
		}
		if ctx.Err() != nil {
			c.breaker.RecordFailure()
			return ctx.Err()
		}
		if provider.IsPermanent(err) {
			c.logger.Printf("%s: permanent failure, tripping circuit: %v", c.agentType, err)
			c.breaker.Trip()
			return err
		}
		lastErr = err

		if attempt < attempts-1 {
			delay := c.jitter(c.backoffDelay(attempt))
			c.logger.Printf("%s: attempt %d/%d failed, retrying in %v: %v", c.agentType, attempt+1, attempts, delay, err)
			if err := c.sleep(ctx, delay); err != nil {
				c.breaker.RecordFailure()
				return err
			}
		}
	}

	c.breaker.RecordFailure()
	return lastErr
}

// CircuitState exposes the breaker state for the performance surface.
func (c *Controller) CircuitState() State {
	return c.breaker.State()
}

// AgentType returns the agent type this controller guards.
func (c *Controller) AgentType() string { return c.agentType }

func (c *Controller) backoffDelay(attempt int) time.Duration {
	return time.Duration(float64(c.baseDelay) * math.Pow(c.factor, float64(attempt)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func addJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	// up to 20% extra to spread concurrent retries
	return d + time.Duration(rand.Int63n(int64(d)/5+1))
}
