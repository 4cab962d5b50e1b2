package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/intelbrief/intelbrief/config"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider implements LLMProvider against the chat completions API.
type OpenAIProvider struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewOpenAIProvider creates a provider from the LLM configuration.
func NewOpenAIProvider(cfg config.LLMConfig) *OpenAIProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIProvider{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends one prompt and returns text plus token usage. Failures
// are classified for the retry controller: rate limits, 5xx responses and
// transport errors are transient; auth and request errors are permanent.
func (p *OpenAIProvider) Complete(ctx context.Context, prompt string, model string) (Completion, error) {
	mc, ok := p.cfg.Models[model]
	if !ok {
		return Completion{}, &AgentCallError{Kind: Permanent, Err: fmt.Errorf("model %s not configured", model)}
	}

	reqBody := chatRequest{
		Model:       mc.APIName,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: mc.Temperature,
		MaxTokens:   mc.MaxTokens,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Completion{}, &AgentCallError{Kind: Permanent, Err: fmt.Errorf("marshal request: %w", err)}
	}

	baseURL := p.cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Completion{}, &AgentCallError{Kind: Permanent, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Completion{}, err
		}
		// timeouts and connection failures are retryable
		return Completion{}, &AgentCallError{Kind: Transient, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		callErr := fmt.Errorf("API returned %s: %s", resp.Status, string(b))
		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return Completion{}, &AgentCallError{Kind: Transient, Err: callErr}
		default:
			return Completion{}, &AgentCallError{Kind: Permanent, Err: callErr}
		}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Completion{}, &AgentCallError{Kind: Transient, Err: fmt.Errorf("parse response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return Completion{}, &AgentCallError{Kind: Transient, Err: errors.New("empty choices in response")}
	}

	return Completion{
		Text:         parsed.Choices[0].Message.Content,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}

// CalculateCost prices a call from the per-1K token tables in config.
func (p *OpenAIProvider) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	mc, ok := p.cfg.Models[model]
	if !ok {
		return 0
	}
	inputCost := float64(inputTokens) / 1000.0 * mc.CostPer1K
	outputCost := float64(outputTokens) / 1000.0 * mc.CostPer1KOutput
	return inputCost + outputCost
}

// APIKeyFromEnv resolves the conventional environment variable when the
// config file leaves the key empty.
func APIKeyFromEnv() string {
	return os.Getenv("OPENAI_API_KEY")
}
