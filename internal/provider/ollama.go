package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Ollama dispatches agent turns to a self-hosted Ollama server's
// /api/generate endpoint. It is implemented with raw net/http rather than a
// client library because the wire contract is small, fixed, and not
// covered by any lightweight Ollama SDK in this codebase's dependency
// stack.
type Ollama struct {
	baseURL string
	client  *http.Client
}

// NewOllama returns an Ollama provider calling baseURL (e.g.
// "http://localhost:11434").
func NewOllama(baseURL string) *Ollama {
	return &Ollama{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system"`
	Options ollamaOptions `json:"options"`
	Stream  bool          `json:"stream"`
}

type ollamaResponse struct {
	Response  string `json:"response"`
	EvalCount int    `json:"eval_count"`
}

func (p *Ollama) Generate(ctx context.Context, req Request) (Response, error) {
	prompt := req.Prompt
	if len(req.History) > 0 {
		var b strings.Builder
		for _, turn := range req.History {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
		fmt.Fprintf(&b, "user: %s", req.Prompt)
		prompt = b.String()
	}

	body, err := json.Marshal(ollamaRequest{
		Model:  req.Agent.Model,
		Prompt: prompt,
		System: req.Agent.SystemPrompt,
		Options: ollamaOptions{
			Temperature: req.Agent.Temperature,
			NumPredict:  req.Agent.MaxTokens,
		},
		Stream: false,
	})
	if err != nil {
		return Response{}, wrapErr("ollama", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Response{}, wrapErr("ollama", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, wrapErr("ollama", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Response{}, wrapErr("ollama", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, wrapErr("ollama", err)
	}
	if out.Response == "" {
		return Response{}, wrapErr("ollama", errEmptyResponse)
	}
	return Response{Content: out.Response, TokensUsed: out.EvalCount}, nil
}
