package generator

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// Gemini generates challenges with Google's GenAI API in JSON mode.
type Gemini struct {
	base
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set GEMINI_API_KEY", errAPIKeyRequired)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	g := &Gemini{client: client, model: model}
	g.base = base{provider: "gemini", call: g.complete, retry: defaultRetry}
	return g, nil
}

func (g *Gemini) complete(ctx context.Context, system, user string) (string, error) {
	temp := float32(0.7)
	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(user), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       &temp,
		MaxOutputTokens:   256,
	})
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}
	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("%w: no candidates", ErrMalformedResponse)
	}
	return text, nil
}
