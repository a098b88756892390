package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agencyhub/api/internal/config"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.LLMConfig
		wantName string
		wantErr  error
	}{
		{
			name:    "not configured",
			cfg:     config.LLMConfig{},
			wantErr: ErrProviderNotConfigured,
		},
		{
			name:    "unknown provider",
			cfg:     config.LLMConfig{Provider: "claude", APIKey: "k"},
			wantErr: ErrInvalidProvider,
		},
		{
			name:     "openai",
			cfg:      config.LLMConfig{Provider: "openai", APIKey: "k", Model: "gpt-4o-mini"},
			wantName: "openai",
		},
		{
			name:    "azure without endpoint",
			cfg:     config.LLMConfig{Provider: "azure_openai", APIKey: "k"},
			wantErr: ErrProviderNotConfigured,
		},
		{
			name:     "azure",
			cfg:      config.LLMConfig{Provider: "azure_openai", APIKey: "k", BaseURL: "https://example.openai.azure.com"},
			wantName: "azure_openai",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.Name())
		})
	}
}

func TestOpenAIProvider_BuildRequest(t *testing.T) {
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "k", Model: "o3-mini"})
	require.NoError(t, err)

	req := p.buildRequest(CompletionRequest{SystemPrompt: "sys", UserPrompt: "user", JSONMode: true})
	assert.Len(t, req.Messages, 2)
	assert.Equal(t, defaultOpenAIMaxTokens, req.MaxCompletionTokens)
	assert.Zero(t, req.MaxTokens)
	require.NotNil(t, req.ResponseFormat)

	p.model = "gpt-4o-mini"
	req = p.buildRequest(CompletionRequest{UserPrompt: "user", MaxTokens: 100})
	assert.Len(t, req.Messages, 1)
	assert.Equal(t, 100, req.MaxTokens)
	assert.Nil(t, req.ResponseFormat)
}
