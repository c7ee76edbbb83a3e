package generator

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-3-5-haiku-latest"

// Anthropic generates challenges with the Messages API.
type Anthropic struct {
	base
	client anthropic.Client
	model  anthropic.Model
}

func NewAnthropic(apiKey, model string, opts ...option.RequestOption) (*Anthropic, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY", errAPIKeyRequired)
	}
	if model == "" {
		model = defaultAnthropicModel
	}
	a := &Anthropic{
		client: anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...),
		model:  anthropic.Model(model),
	}
	a.base = base{provider: "anthropic", call: a.complete, retry: defaultRetry}
	return a, nil
}

func (a *Anthropic) complete(ctx context.Context, system, user string) (string, error) {
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 256,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", err
	}
	if len(message.Content) == 0 {
		return "", fmt.Errorf("%w: no content blocks", ErrMalformedResponse)
	}
	content := message.Content[0]
	if content.Type != "text" {
		return "", fmt.Errorf("%w: not a text block (type=%s)", ErrMalformedResponse, content.Type)
	}
	return content.Text, nil
}
