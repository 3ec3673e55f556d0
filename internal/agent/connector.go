package agent

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/cohere"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider names a model backend
type Provider string

const (
	ProviderEcho   Provider = "echo"
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderClaude Provider = "claude"
	ProviderCohere Provider = "cohere"
	ProviderOllama Provider = "ollama"
)

// Providers lists every accepted provider name
var Providers = []Provider{ProviderEcho, ProviderOpenAI, ProviderGemini, ProviderClaude, ProviderCohere, ProviderOllama}

// ConnectorOptions selects and authenticates a model
type ConnectorOptions struct {
	Provider Provider
	Model    string
	APIKey   string
	BaseURL  string
}

// New builds the agent for the configured provider. The echo provider needs
// no model and ignores the tool specs.
func New(ctx context.Context, conn ConnectorOptions, specs []ToolSpec, opts LLMOptions) (Agent, error) {
	if conn.Provider == ProviderEcho || conn.Provider == "" {
		log.Info().Msg("Using echo agent")
		return NewEchoAgent(), nil
	}
	model, err := NewModel(ctx, conn)
	if err != nil {
		return nil, err
	}
	log.Info().Str("provider", string(conn.Provider)).Str("model", conn.Model).Int("tools", len(specs)).Msg("Using LLM agent")
	return NewLLMAgent(model, specs, opts), nil
}

// NewModel creates a langchaingo model for the provider
func NewModel(ctx context.Context, conn ConnectorOptions) (llms.Model, error) {
	var model llms.Model
	var err error

	log.Debug().
		Str("provider", string(conn.Provider)).
		Str("model", conn.Model).
		Msg("Creating model connector")

	switch conn.Provider {
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithToken(conn.APIKey)}
		if conn.Model != "" {
			opts = append(opts, openai.WithModel(conn.Model))
		}
		if conn.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(conn.BaseURL))
		}
		model, err = openai.New(opts...)
	case ProviderGemini:
		opts := []googleai.Option{googleai.WithAPIKey(conn.APIKey)}
		if conn.Model != "" {
			opts = append(opts, googleai.WithDefaultModel(conn.Model))
		}
		model, err = googleai.New(ctx, opts...)
	case ProviderClaude:
		opts := []anthropic.Option{anthropic.WithToken(conn.APIKey)}
		if conn.Model != "" {
			opts = append(opts, anthropic.WithModel(conn.Model))
		}
		if conn.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(conn.BaseURL))
		}
		model, err = anthropic.New(opts...)
	case ProviderCohere:
		opts := []cohere.Option{cohere.WithToken(conn.APIKey)}
		if conn.Model != "" {
			opts = append(opts, cohere.WithModel(conn.Model))
		}
		if conn.BaseURL != "" {
			opts = append(opts, cohere.WithBaseURL(conn.BaseURL))
		}
		model, err = cohere.New(opts...)
	case ProviderOllama:
		serverURL := conn.BaseURL
		if serverURL == "" {
			serverURL = "http://localhost:11434"
		}
		model, err = ollama.New(ollama.WithServerURL(serverURL), ollama.WithModel(conn.Model))
	default:
		return nil, fmt.Errorf("unsupported provider: %s", conn.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", conn.Provider, err)
	}
	return model, nil
}

// ValidProvider reports whether p is a known provider
func ValidProvider(p Provider) bool {
	for _, known := range Providers {
		if p == known {
			return true
		}
	}
	return false
}
