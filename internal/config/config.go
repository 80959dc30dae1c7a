// Package config loads the agent roster and debate defaults from a YAML
// file, expanding ${VAR} and ${VAR:-default} references against the
// process environment the way the rest of this server's configuration does
// (§4, SUPPLEMENTED FEATURES). When no file is present it falls back to two
// built-in mock agents so the server is usable with zero setup.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AgentConfig describes one configured debate participant.
type AgentConfig struct {
	ID           string  `yaml:"id"`
	Name         string  `yaml:"name"`
	Provider     string  `yaml:"provider"`
	Model        string  `yaml:"model"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	SystemPrompt string  `yaml:"system_prompt"`
	APIKey       string  `yaml:"api_key"`
}

// ProviderConfig holds provider-wide settings such as credentials and, for
// self-hosted providers like ollama, the base URL to call.
type ProviderConfig struct {
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Required bool   `yaml:"required"`
}

// DebateSettings holds the round and duration limits the orchestrator
// applies to every debate it starts; start requests carry no per-debate
// overrides. TurnTimeout is parsed but not read by the orchestrator, whose
// per-turn limit is the fixed debate.TurnTimeout.
type DebateSettings struct {
	MaxRounds   int `yaml:"max_rounds"`
	MaxDuration int `yaml:"max_duration"` // seconds
	TurnTimeout int `yaml:"turn_timeout"` // seconds
}

// Config is the parsed, environment-expanded agents file.
type Config struct {
	Agents         map[string]AgentConfig    `yaml:"agents"`
	Providers      map[string]ProviderConfig `yaml:"providers"`
	DebateSettings DebateSettings            `yaml:"debate_settings"`
}

func defaultConfig() Config {
	return Config{
		Agents: map[string]AgentConfig{
			"mock-a": {ID: "mock-a", Name: "Mock Agent A", Provider: "mock", Model: "mock", Temperature: 0.7, MaxTokens: 500, SystemPrompt: "You are Mock Agent A."},
			"mock-b": {ID: "mock-b", Name: "Mock Agent B", Provider: "mock", Model: "mock", Temperature: 0.7, MaxTokens: 500, SystemPrompt: "You are Mock Agent B."},
		},
		DebateSettings: DebateSettings{MaxRounds: 6, MaxDuration: 90, TurnTimeout: 15},
	}
}

// Load reads and expands the agents config at path. A missing file is not
// an error: Load returns the built-in default configuration instead.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return Config{}, fmt.Errorf("read agents config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse agents config %s: %w", path, err)
	}

	expandEnv(&cfg)
	if cfg.DebateSettings.MaxRounds == 0 && cfg.DebateSettings.MaxDuration == 0 && cfg.DebateSettings.TurnTimeout == 0 {
		cfg.DebateSettings = defaultConfig().DebateSettings
	}
	return cfg, nil
}

func expandEnv(cfg *Config) {
	for id, agent := range cfg.Agents {
		agent.ID = expandRef(agent.ID)
		agent.Name = expandRef(agent.Name)
		agent.Provider = expandRef(agent.Provider)
		agent.Model = expandRef(agent.Model)
		agent.SystemPrompt = expandRef(agent.SystemPrompt)
		agent.APIKey = expandRef(agent.APIKey)
		cfg.Agents[id] = agent
	}
	for name, provider := range cfg.Providers {
		provider.APIKey = expandRef(provider.APIKey)
		provider.BaseURL = expandRef(provider.BaseURL)
		cfg.Providers[name] = provider
	}
}

// expandRef expands a single "${VAR}" or "${VAR:-default}" reference. A
// bare string that is not of this form is returned unchanged, matching the
// original config loader's behavior of leaving literal values alone.
func expandRef(s string) string {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return s
	}
	inner := s[2 : len(s)-1]
	name, def, hasDefault := strings.Cut(inner, ":-")
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	if hasDefault {
		return def
	}
	return ""
}

// IsAgentAvailable reports whether an agent can actually be dispatched to,
// given the runtime-resolved provider credentials. Mock agents are always
// available; a provider that is marked required but has no resolved API
// key is not.
func (c Config) IsAgentAvailable(agent AgentConfig) bool {
	if agent.Provider == "mock" {
		return true
	}
	provider, ok := c.Providers[agent.Provider]
	if !ok {
		return true
	}
	return !provider.Required || provider.APIKey != ""
}
