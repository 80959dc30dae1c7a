package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Agents) != 2 {
		t.Fatalf("expected 2 default agents, got %d", len(cfg.Agents))
	}
	if cfg.DebateSettings.MaxRounds != 6 {
		t.Fatalf("expected default max_rounds=6, got %d", cfg.DebateSettings.MaxRounds)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-real-key")
	path := filepath.Join(t.TempDir(), "agents.yaml")
	yamlContent := `
agents:
  debater-1:
    id: debater-1
    name: Debater One
    provider: openai
    model: gpt-4o-mini
    temperature: 0.5
    max_tokens: 400
    system_prompt: Argue for the motion.
    api_key: ""
providers:
  openai:
    api_key: "${TEST_OPENAI_KEY}"
    base_url: "${TEST_OPENAI_BASE:-https://api.openai.com/v1}"
    required: true
debate_settings:
  max_rounds: 4
  max_duration: 60
  turn_timeout: 10
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Providers["openai"].APIKey != "sk-real-key" {
		t.Fatalf("expected expanded api key, got %q", cfg.Providers["openai"].APIKey)
	}
	if cfg.Providers["openai"].BaseURL != "https://api.openai.com/v1" {
		t.Fatalf("expected default base url, got %q", cfg.Providers["openai"].BaseURL)
	}
	if cfg.DebateSettings.MaxRounds != 4 {
		t.Fatalf("expected max_rounds=4, got %d", cfg.DebateSettings.MaxRounds)
	}
}

func TestIsAgentAvailable(t *testing.T) {
	cfg := Config{
		Providers: map[string]ProviderConfig{
			"openai": {Required: true, APIKey: ""},
			"gemini": {Required: true, APIKey: "present"},
		},
	}
	cases := []struct {
		name  string
		agent AgentConfig
		want  bool
	}{
		{"mock always available", AgentConfig{Provider: "mock"}, true},
		{"required provider missing key", AgentConfig{Provider: "openai"}, false},
		{"required provider with key", AgentConfig{Provider: "gemini"}, true},
		{"unconfigured provider defaults available", AgentConfig{Provider: "anthropic"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := cfg.IsAgentAvailable(tc.agent); got != tc.want {
				t.Errorf("IsAgentAvailable() = %v, want %v", got, tc.want)
			}
		})
	}
}
