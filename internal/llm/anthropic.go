package llm

import (
	"context"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements the Provider interface for Claude.
// This is the only message-style endpoint; the others speak the
// chat-completions shape (see openai.go).
type AnthropicProvider struct {
	client *anthropic.Client
	model  string
	name   string
}

// NewAnthropic creates a new Anthropic provider with a static API key.
func NewAnthropic(name, apiKey, model string) *AnthropicProvider {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	client := anthropic.NewClient(opts...)

	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	if name == "" {
		name = "claude"
	}

	return &AnthropicProvider{
		client: &client,
		model:  model,
		name:   name,
	}
}

func (p *AnthropicProvider) Name() string { return p.name }

func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var messages []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case "user":
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	message, err := p.client.Messages.New(ctx, params,
		option.WithRequestTimeout(2*time.Minute),
	)
	if err != nil {
		return nil, &ProviderError{
			Message:  err.Error(),
			Provider: p.name,
		}
	}

	var content string
	for _, block := range message.Content {
		if textBlock, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += textBlock.Text
		}
	}

	return &CompletionResponse{
		Content:      content,
		Model:        string(message.Model),
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
		StopReason:   string(message.StopReason),
	}, nil
}
