package ai

import (
	"context"
	"fmt"

	"dealdesk-backend/pkg/gemini"
)

// Config holds AI provider configuration
type Config struct {
	Provider     ProviderType
	GeminiAPIKey string
	GeminiModel  string
	// Ollama settings are read through getters so they can change at runtime
	GetOllamaBaseURL func() string
	GetOllamaModel   func() string
}

// NewGenerator builds the generator chain for cfg.Provider. Auto uses
// Gemini when a key is set, with Ollama behind it.
func NewGenerator(ctx context.Context, cfg Config) (Generator, error) {
	ollama := func() *OllamaService {
		if cfg.GetOllamaBaseURL == nil || cfg.GetOllamaModel == nil {
			return NewOllamaService("", "")
		}
		return NewOllamaServiceWithGetters(cfg.GetOllamaBaseURL, cfg.GetOllamaModel)
	}

	switch cfg.Provider {
	case ProviderNone:
		return nil, nil

	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for Gemini provider")
		}
		return gemini.NewGeminiService(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)

	case ProviderOllama:
		return ollama(), nil

	default:
		if cfg.GeminiAPIKey == "" {
			return ollama(), nil
		}
		g, err := gemini.NewGeminiService(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		return NewFallbackService(g, ollama()), nil
	}
}
