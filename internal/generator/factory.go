package generator

import (
	"context"
	"fmt"
	"time"
)

const (
	ProviderGroq      = "groq"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Config selects and configures a backend.
type Config struct {
	Provider        string
	GroqAPIKey      string
	GroqModel       string
	GroqBaseURL     string
	AnthropicAPIKey string
	AnthropicModel  string
	GeminiAPIKey    string
	GeminiModel     string
	Timeout         time.Duration
}

// New builds the backend named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Generator, error) {
	switch cfg.Provider {
	case ProviderGroq, "":
		return NewGroq(cfg.GroqAPIKey, cfg.GroqModel, cfg.GroqBaseURL, cfg.Timeout)
	case ProviderAnthropic:
		return NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	case ProviderGemini:
		return NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	default:
		return nil, fmt.Errorf("unknown generator provider %q", cfg.Provider)
	}
}
