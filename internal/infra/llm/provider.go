// Package llm talks to chat completion models that write analysis narratives.
package llm

import (
	"context"
	"errors"
)

// Provider completes prompts. Implementations must be safe for concurrent use
// by the analysis workers.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Name() string
	Model() string
}

// CompletionRequest is one system plus user prompt exchange.
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int     // 0 uses the provider default
	Temperature  float64 // 0.0 to 1.0
	JSONMode     bool
}

// Usage counts the tokens billed for a completion.
type Usage struct {
	Prompt     int
	Completion int
	Total      int
}

// CompletionResponse is the first choice of a completion.
type CompletionResponse struct {
	Content      string
	Model        string // as reported by the provider
	FinishReason string
	Usage        Usage
}

// ProviderType names a configured provider (LLM_PROVIDER).
type ProviderType string

const (
	ProviderTypeOpenAI      ProviderType = "openai"
	ProviderTypeAzureOpenAI ProviderType = "azure_openai"
)

// IsValid reports whether t is supported.
func (t ProviderType) IsValid() bool {
	return t == ProviderTypeOpenAI || t == ProviderTypeAzureOpenAI
}

var (
	// ErrProviderNotConfigured means narratives are disabled or the key was rejected.
	ErrProviderNotConfigured = errors.New("llm provider not configured")
	ErrInvalidProvider       = errors.New("invalid llm provider")
	ErrRateLimited           = errors.New("llm rate limited")
	ErrInvalidResponse       = errors.New("invalid llm response")
	ErrTokenLimitExceeded    = errors.New("llm prompt exceeds the model context")
)
