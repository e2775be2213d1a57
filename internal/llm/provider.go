// Package llm holds the generative text service clients.
package llm

import (
	"context"
	"fmt"
)

// Provider names accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// Completer is the single operation the insight pipeline needs.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Name() string
}

// Options selects and configures a backend.
type Options struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
}

// New builds the configured backend.
func New(ctx context.Context, opts Options) (Completer, error) {
	switch opts.Provider {
	case ProviderOpenAI, "":
		return NewClientWithBaseURL(opts.APIKey, opts.BaseURL, opts.Model, opts.Temperature), nil
	case ProviderGemini:
		return NewGeminiClient(ctx, opts.APIKey, opts.BaseURL, opts.Model, opts.Temperature)
	case ProviderOllama:
		c := NewOllamaClient(opts.BaseURL, opts.Model, opts.Temperature)
		ok, err := c.HasModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("ollama not reachable at %s: %w", c.baseURL, err)
		}
		if !ok {
			return nil, fmt.Errorf("ollama model %q is not pulled; run: ollama pull %s", opts.Model, opts.Model)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", opts.Provider)
	}
}
