package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Mock produces deterministic canned responses so a debate can run
// end to end, and reproducibly, with no API keys configured (§4.F). It is
// always available.
type Mock struct{}

// NewMock returns a ready-to-use Mock provider.
func NewMock() *Mock { return &Mock{} }

// mockLatency approximates the round-trip latency of a real provider call,
// so debate timing logic (turn timeouts, max-duration checks) exercises
// the same code paths it would against a live API.
const mockLatency = time.Second

var mockTemplates = []string{
	"That's an interesting angle. What about %s from the other side?",
	"I see some merit there, but %s also cuts the other way.",
	"Building on what's been said, %s deserves a closer look.",
	"Fair point, though I'd push back on how %s is being framed.",
	"Let's dig into %s a bit more. There's more than one layer here.",
	"That's a strong claim about %s. What's the evidence for it?",
}

var mockKeywords = []string{
	"artificial intelligence", "automation", "education", "healthcare",
	"the economy", "climate policy", "privacy", "regulation",
}

// Generate returns a canned response referencing a keyword found in the
// prompt. The template is chosen by len(prompt) % len(mockTemplates), so
// the same prompt always produces the same response.
func (m *Mock) Generate(ctx context.Context, req Request) (Response, error) {
	select {
	case <-time.After(mockLatency):
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}

	topic := extractTopic(req.Prompt)
	template := mockTemplates[len(req.Prompt)%len(mockTemplates)]
	content := fmt.Sprintf("%s: %s", req.Agent.Name, fmt.Sprintf(template, topic))
	return Response{
		Content:    content,
		TokensUsed: wordCount(content),
	}, nil
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

func extractTopic(prompt string) string {
	lower := strings.ToLower(prompt)
	for _, kw := range mockKeywords {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	return "this topic"
}
