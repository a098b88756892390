package llm

import (
	"fmt"

	"github.com/agencyhub/api/internal/config"
)

// NewProvider builds the narrative provider from configuration. It returns
// ErrProviderNotConfigured when no provider is set, which callers treat as
// "narratives disabled".
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	if !cfg.IsConfigured() {
		return nil, ErrProviderNotConfigured
	}

	pt := ProviderType(cfg.Provider)
	if !pt.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProvider, cfg.Provider)
	}

	return NewOpenAIProvider(OpenAIConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
		Azure:   pt == ProviderTypeAzureOpenAI,
		Timeout: cfg.Timeout,
	})
}
