package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"github.com/xhad/veritas/internal/models"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
	BaseURL     string // Ollama server URL or OpenAI-compatible endpoint
	APIKey      string
}

// ChatEngine generates answers with an LLM.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Provider == "" {
		config.Provider = ProviderOllama
	}
	if config.Model == "" {
		config.Model = "llama3.2"
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 1000
	}

	llm, err := newClient(config.Provider, config.Model, config.BaseURL, config.APIKey, false)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{
		config: config,
		llm:    llm,
	}, nil
}

func (ce *ChatEngine) Complete(ctx context.Context, payload models.PromptPayload) (string, error) {
	return ce.generate(ctx, payload)
}

// CompleteStream calls onChunk for every token batch the model sends.
func (ce *ChatEngine) CompleteStream(ctx context.Context, payload models.PromptPayload, onChunk func(string) error) (string, error) {
	return ce.generate(ctx, payload, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		return onChunk(string(chunk))
	}))
}

func (ce *ChatEngine) generate(ctx context.Context, payload models.PromptPayload, opts ...llms.CallOption) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, payload.System),
		llms.TextParts(schema.ChatMessageTypeHuman, payload.Prompt),
	}

	opts = append(opts,
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens))

	response, err := ce.llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
		return "", fmt.Errorf("chat error: empty response from %s", ce.config.Provider)
	}

	return response.Choices[0].Content, nil
}

type client interface {
	llms.Model
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

func newClient(provider, model, baseURL, apiKey string, embedding bool) (client, error) {
	switch provider {
	case ProviderOllama:
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return ollama.New(ollama.WithModel(model), ollama.WithServerURL(baseURL))
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithToken(apiKey)}
		if embedding {
			opts = append(opts, openai.WithEmbeddingModel(model))
		} else {
			opts = append(opts, openai.WithModel(model))
		}
		if baseURL != "" {
			opts = append(opts, openai.WithBaseURL(baseURL))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}
