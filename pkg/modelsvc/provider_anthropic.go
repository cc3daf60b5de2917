package modelsvc

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider for Anthropic Claude
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Call makes an API call to Anthropic Claude
func (p *AnthropicProvider) Call(ctx context.Context, request Request) (*Response, error) {
	anthropicMessages := []anthropic.MessageParam{}

	for _, msg := range request.Messages {
		switch msg.Role {
		case "system":
			continue // System prompt handled separately
		case "user":
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		case "assistant":
			anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(msg.Content),
				},
			})
		}
	}

	reqParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(request.Model),
		Messages:  anthropicMessages,
		MaxTokens: int64(request.MaxTokens),
	}

	if request.SystemPrompt != "" {
		reqParams.System = []anthropic.TextBlockParam{
			{Text: request.SystemPrompt},
		}
	}

	if request.Temperature > 0 {
		reqParams.Temperature = anthropic.Float(request.Temperature)
	}

	response, err := p.client.Messages.New(ctx, reqParams)
	if err != nil {
		return nil, err
	}

	content := ""
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += b.Text
		}
	}

	return &Response{
		Content: content,
		Usage: &TokenUsage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
		},
	}, nil
}
