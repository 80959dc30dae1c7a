package provider

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic dispatches agent turns to the Claude messages API.
type Anthropic struct {
	client anthropic.Client
}

// NewAnthropic returns an Anthropic provider authenticated with apiKey.
func NewAnthropic(apiKey string) *Anthropic {
	return &Anthropic{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (p *Anthropic) Generate(ctx context.Context, req Request) (Response, error) {
	messages := make([]anthropic.MessageParam, 0, len(req.History)+1)
	for _, turn := range req.History {
		if turn.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Content)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)))

	maxTokens := int64(req.Agent.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 500
	}

	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Agent.Model),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: req.Agent.SystemPrompt}},
		Messages:  messages,
	})
	if err != nil {
		return Response{}, wrapErr("anthropic", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return Response{Content: block.Text, TokensUsed: int(msg.Usage.InputTokens + msg.Usage.OutputTokens)}, nil
		}
	}
	return Response{}, wrapErr("anthropic", errEmptyResponse)
}
