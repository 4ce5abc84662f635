package model

import (
	"context"
	"fmt"

	"contractrag/config"
)

// Provider is the embedder and completer pair selected by LLM_PROVIDER.
type Provider struct {
	Name      string
	Embedder  Embedder
	Completer Completer
	closeFn   func() error
}

func (p *Provider) Close() error {
	if p.closeFn == nil {
		return nil
	}
	return p.closeFn()
}

func NewProvider(ctx context.Context, cfg *config.Config) (*Provider, error) {
	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		c, err := NewOpenAIClient(OpenAIConfig{
			APIKey:         cfg.OpenAIKey,
			BaseURL:        cfg.OpenAIBaseURL,
			ChatModel:      cfg.ChatModel,
			EmbeddingModel: cfg.EmbeddingModel,
			MaxRetries:     cfg.MaxRetries,
			RetryDelay:     cfg.RetryDelay,
		})
		if err != nil {
			return nil, err
		}
		return &Provider{
			Name:      c.Name(),
			Embedder:  c,
			Completer: WithRetry(c, cfg.MaxRetries, cfg.RetryDelay),
		}, nil

	case config.ProviderOllama:
		c := NewOllamaCompleter(cfg.OllamaURL, cfg.OllamaModel)
		return &Provider{
			Name:      c.Name(),
			Embedder:  NewOllamaEmbedder(cfg.OllamaEmbeddingURL, cfg.OllamaEmbeddingModel),
			Completer: WithRetry(c, cfg.MaxRetries, cfg.RetryDelay),
		}, nil

	case config.ProviderGemini:
		c, err := NewGeminiClient(ctx, cfg.GeminiKey, cfg.ChatModel, cfg.EmbeddingModel)
		if err != nil {
			return nil, err
		}
		return &Provider{
			Name:      c.Name(),
			Embedder:  c,
			Completer: WithRetry(c, cfg.MaxRetries, cfg.RetryDelay),
			closeFn:   c.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
}
