package provider

import (
	"context"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAI dispatches agent turns to the OpenAI chat completions API.
type OpenAI struct {
	client openai.Client
}

// NewOpenAI returns an OpenAI provider authenticated with apiKey.
func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithMaxRetries(3),
		),
	}
}

func (p *OpenAI) Generate(ctx context.Context, req Request) (Response, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(req.Agent.SystemPrompt),
	}
	for _, turn := range req.History {
		if turn.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(turn.Content))
		} else {
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       req.Agent.Model,
		Messages:    messages,
		Temperature: openai.Float(req.Agent.Temperature),
		MaxTokens:   openai.Int(int64(req.Agent.MaxTokens)),
	})
	if err != nil {
		return Response{}, wrapErr("openai", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, wrapErr("openai", errEmptyResponse)
	}

	tokens := 0
	if resp.Usage.TotalTokens > 0 {
		tokens = int(resp.Usage.TotalTokens)
	}
	return Response{Content: resp.Choices[0].Message.Content, TokensUsed: tokens}, nil
}
