package modelsvc

import (
	"context"
	"fmt"

	"github.com/nandika/steward/internal/config"
)

// Provider is an interface for model API providers
type Provider interface {
	// Call makes a model API call
	Call(ctx context.Context, request Request) (*Response, error)

	// Name returns the provider name
	Name() string
}

// NewProvider creates a provider from model configuration
func NewProvider(cfg config.ModelConfig) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey), nil
	case "openai":
		return NewOpenAIProvider(cfg.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}
