package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/intelbrief/intelbrief/config"
)

// ErrorKind splits agent call failures into the two retry classes.
type ErrorKind int

const (
	// Transient failures (timeout, rate limit, 5xx) are retried by the
	// backoff controller.
	Transient ErrorKind = iota
	// Permanent failures (bad credential, malformed request) skip retries
	// and open the circuit immediately.
	Permanent
)

// AgentCallError is the typed failure of one AI backend call.
type AgentCallError struct {
	Kind ErrorKind
	Err  error
}

func (e *AgentCallError) Error() string {
	kind := "transient"
	if e.Kind == Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("agent call failed (%s): %v", kind, e.Err)
}

func (e *AgentCallError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a permanent agent call failure.
func IsPermanent(err error) bool {
	var ace *AgentCallError
	if errors.As(err, &ace) {
		return ace.Kind == Permanent
	}
	return false
}

// Completion is one successful backend response.
type Completion struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// LLMProvider is the AI backend contract consumed by the AI-backed agents.
type LLMProvider interface {
	Complete(ctx context.Context, prompt string, model string) (Completion, error)
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}

// New builds the configured provider. An API key missing from config falls
// back to the conventional environment variable; no key at all yields no
// provider, which routes every capability to its heuristic variant.
func New(cfg config.LLMConfig) (LLMProvider, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = APIKeyFromEnv()
	}
	if cfg.APIKey == "" {
		return nil, nil
	}
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider type: %s", cfg.Provider)
	}
}
