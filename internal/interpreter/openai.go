package interpreter

import (
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIConfig configures an OpenAI-compatible provider.
type OpenAIConfig struct {
	Token   string
	BaseURL string
	Model   string
}

// NewOpenAI builds a model for any OpenAI-compatible endpoint, constrained
// to JSON object responses.
func NewOpenAI(cfg OpenAIConfig) (llms.Model, error) {
	if cfg.Token == "" {
		return nil, errors.New("llm token is required")
	}

	opts := []openai.Option{
		openai.WithToken(cfg.Token),
		openai.WithResponseFormat(&openai.ResponseFormat{
			Type: "json_object",
		}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return model, nil
}
