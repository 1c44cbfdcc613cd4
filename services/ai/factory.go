package ai

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/doc-catalog/config"
)

// BuildProviders constructs the configured provider chain in order.
// Providers without an API key are skipped with a warning rather than
// failing startup; at least one must remain.
func BuildProviders(ctx context.Context, cfg *config.AIConfig, log *logrus.Entry) ([]Provider, error) {
	var providers []Provider
	for _, name := range cfg.Providers {
		switch name {
		case "anthropic":
			if cfg.AnthropicAPIKey == "" {
				log.Warn("anthropic provider configured without API key, skipping")
				continue
			}
			providers = append(providers, NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicModel, log))
		case "openai":
			if cfg.OpenAIAPIKey == "" {
				log.Warn("openai provider configured without API key, skipping")
				continue
			}
			providers = append(providers, NewOpenAIProvider(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIEmbedModel, log))
		case "gemini":
			if cfg.GeminiAPIKey == "" {
				log.Warn("gemini provider configured without API key, skipping")
				continue
			}
			provider, err := NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiEmbedModel, log)
			if err != nil {
				return nil, err
			}
			providers = append(providers, provider)
		default:
			return nil, fmt.Errorf("unknown AI provider %q", name)
		}
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no usable AI providers configured")
	}
	return providers, nil
}
