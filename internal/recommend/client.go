// Package recommend builds shopping carts for health profiles by
// prompting an LLM over the screened catalog.
package recommend

import (
	"context"
	"fmt"

	"cravehy/internal/config"
)

// LLMClient is the completion surface cart generation needs.
type LLMClient interface {
	// Complete sends a system and user prompt, returning the raw
	// completion text.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// Name identifies the provider and model.
	Name() string
}

// NewClient creates an LLM client from configuration.
func NewClient(cfg config.LLMConfig) (LLMClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("LLM API key not configured")
	}

	switch cfg.Provider {
	case "gemini", "":
		return NewGeminiClient(cfg), nil
	case "zai":
		return NewZAIClient(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s (use 'gemini' or 'zai')", cfg.Provider)
	}
}
