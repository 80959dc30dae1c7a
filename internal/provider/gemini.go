package provider

import (
	"context"

	"google.golang.org/genai"
)

// Gemini dispatches agent turns to the Gemini generateContent API.
type Gemini struct {
	apiKey string
}

// NewGemini returns a Gemini provider authenticated with apiKey. The
// underlying client is constructed per call because genai.NewClient takes
// a context and this provider has none until Generate is invoked.
func NewGemini(apiKey string) *Gemini {
	return &Gemini{apiKey: apiKey}
}

func (p *Gemini) Generate(ctx context.Context, req Request) (Response, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return Response{}, wrapErr("gemini", err)
	}

	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		role := "user"
		if turn.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: turn.Content}},
		})
	}
	contents = append(contents, &genai.Content{
		Role:  "user",
		Parts: []*genai.Part{{Text: req.Prompt}},
	})

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: req.Agent.SystemPrompt}}},
		Temperature:       genai.Ptr(float32(req.Agent.Temperature)),
	}

	resp, err := client.Models.GenerateContent(ctx, req.Agent.Model, contents, cfg)
	if err != nil {
		return Response{}, wrapErr("gemini", err)
	}

	text := resp.Text()
	if text == "" {
		return Response{}, wrapErr("gemini", errEmptyResponse)
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return Response{Content: text, TokensUsed: tokens}, nil
}
