// Package provider defines the uniform contract the debate orchestrator
// uses to ask an agent for its next turn, and the concrete adapters for
// each supported backend (§4.F). Every adapter speaks the same
// (agent, prompt, history) -> (content, tokens_used) contract regardless of
// the wire protocol underneath.
package provider

import (
	"context"
	"errors"
	"fmt"

	"agora/server/internal/config"
)

var errEmptyResponse = errors.New("provider returned no content")

// Turn is one prior turn of the debate, oldest-first context for the next
// call.
type Turn struct {
	Role    string // "system", "user", or "assistant"
	Content string
}

// Request is everything an adapter needs to produce one agent turn.
type Request struct {
	Agent   config.AgentConfig
	Prompt  string
	History []Turn
}

// Response is one agent turn.
type Response struct {
	Content    string
	TokensUsed int
}

// Provider generates the next turn for one agent.
type Provider interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Registry resolves a provider name to its Provider implementation,
// substituting Mock for any provider that has no usable credentials so a
// debate never fails outright for a missing API key (§4.F, §9 open
// question on credential fallback).
type Registry struct {
	providers map[string]Provider
	cfg       config.Config
	mock      Provider
}

// NewRegistry builds a registry from cfg, wiring each provider that has
// resolved credentials and falling back to Mock for the rest.
func NewRegistry(cfg config.Config) *Registry {
	r := &Registry{providers: make(map[string]Provider), cfg: cfg, mock: NewMock()}

	if p, ok := cfg.Providers["openai"]; ok && p.APIKey != "" {
		r.providers["openai"] = NewOpenAI(p.APIKey)
	}
	if p, ok := cfg.Providers["anthropic"]; ok && p.APIKey != "" {
		r.providers["anthropic"] = NewAnthropic(p.APIKey)
	}
	if p, ok := cfg.Providers["gemini"]; ok && p.APIKey != "" {
		r.providers["gemini"] = NewGemini(p.APIKey)
	}
	if p, ok := cfg.Providers["ollama"]; ok {
		baseURL := p.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		r.providers["ollama"] = NewOllama(baseURL)
	}

	return r
}

// For returns the provider to dispatch agent turns to, falling back to
// Mock when the named provider was never wired (missing credentials) or is
// unrecognized.
func (r *Registry) For(providerName string) Provider {
	if providerName == "mock" {
		return r.mock
	}
	if p, ok := r.providers[providerName]; ok {
		return p
	}
	return r.mock
}

// Available reports whether providerName resolves to a real backend rather
// than the mock fallback.
func (r *Registry) Available(providerName string) bool {
	if providerName == "mock" {
		return true
	}
	_, ok := r.providers[providerName]
	return ok
}

func wrapErr(provider string, err error) error {
	return fmt.Errorf("%s provider: %w", provider, err)
}
