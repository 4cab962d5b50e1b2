package provider

import (
	"errors"
	"testing"

	"github.com/intelbrief/intelbrief/config"
)

func TestNewResolvesKeyFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	p, err := New(config.LLMConfig{Provider: "openai"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatalf("env key must yield a provider when config leaves it empty")
	}
}

func TestNewWithoutAnyKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	p, err := New(config.LLMConfig{Provider: "openai"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Fatalf("no key anywhere must yield no provider")
	}
}

func TestNewUnsupportedProvider(t *testing.T) {
	_, err := New(config.LLMConfig{Provider: "anthropic", APIKey: "sk-x"})
	if err == nil {
		t.Fatalf("expected error for unsupported provider type")
	}
}

func TestIsPermanent(t *testing.T) {
	perm := &AgentCallError{Kind: Permanent, Err: errors.New("bad key")}
	if !IsPermanent(perm) {
		t.Fatalf("permanent error not classified")
	}
	trans := &AgentCallError{Kind: Transient, Err: errors.New("503")}
	if IsPermanent(trans) {
		t.Fatalf("transient error classified as permanent")
	}
	if IsPermanent(errors.New("plain")) {
		t.Fatalf("untyped error classified as permanent")
	}
}
