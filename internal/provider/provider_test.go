package provider

import (
	"context"
	"strings"
	"testing"

	"agora/server/internal/config"
)

func TestMockGenerateReturnsAgentPrefixedContent(t *testing.T) {
	m := NewMock()
	resp, err := m.Generate(context.Background(), Request{
		Agent:  config.AgentConfig{Name: "Debater One"},
		Prompt: "What about artificial intelligence in schools?",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(resp.Content, "Debater One:") {
		t.Fatalf("expected agent-prefixed content, got %q", resp.Content)
	}
	if resp.TokensUsed <= 0 {
		t.Fatal("expected a positive token count")
	}
}

func TestRegistryFallsBackToMockWithoutCredentials(t *testing.T) {
	cfg := config.Config{
		Providers: map[string]config.ProviderConfig{
			"openai": {Required: true, APIKey: ""},
		},
	}
	reg := NewRegistry(cfg)

	if reg.Available("openai") {
		t.Fatal("expected openai to be unavailable without an api key")
	}
	if _, ok := reg.For("openai").(*Mock); !ok {
		t.Fatal("expected For(openai) to fall back to Mock")
	}
	if !reg.Available("mock") {
		t.Fatal("mock should always be available")
	}
}

func TestRegistryWiresProviderWithCredentials(t *testing.T) {
	cfg := config.Config{
		Providers: map[string]config.ProviderConfig{
			"openai": {APIKey: "sk-test"},
		},
	}
	reg := NewRegistry(cfg)
	if !reg.Available("openai") {
		t.Fatal("expected openai to be available with an api key")
	}
	if _, ok := reg.For("openai").(*OpenAI); !ok {
		t.Fatal("expected For(openai) to return the real OpenAI provider")
	}
}

func TestRegistryUnknownProviderFallsBackToMock(t *testing.T) {
	reg := NewRegistry(config.Config{})
	if _, ok := reg.For("carrier-pigeon").(*Mock); !ok {
		t.Fatal("expected unknown provider to fall back to Mock")
	}
}
