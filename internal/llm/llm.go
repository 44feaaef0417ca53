package llm

import (
	"context"
	"fmt"

	"github.com/fundscope/researchd/config"
)

// ModelInfo describes a configured model.
type ModelInfo struct {
	Name            string
	Provider        string
	MaxTokens       int
	CostPer1KInput  float64
	CostPer1KOutput float64
}

// Provider generates text from prompts. GenerateStream delivers the
// response incrementally through onDelta and returns the full text.
type Provider interface {
	Generate(ctx context.Context, prompt string, model string) (string, error)
	GenerateStream(ctx context.Context, prompt string, model string, onDelta func(string)) (string, error)
	GetModelInfo(model string) (ModelInfo, error)
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}

// NewProvider creates an LLM provider based on configuration.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no LLM providers configured")
	}
	for _, provider := range cfg.Providers {
		switch provider.Type {
		case "openai":
			return NewOpenAIProvider(provider), nil
		case "anthropic":
			return nil, fmt.Errorf("anthropic provider not implemented yet")
		default:
			return nil, fmt.Errorf("unsupported LLM provider type: %s", provider.Type)
		}
	}
	return nil, fmt.Errorf("no valid LLM providers found")
}
