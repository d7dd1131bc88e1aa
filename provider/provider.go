package provider

import (
	"context"
	"fmt"

	"github.com/datatales/storyteller/config"
	openai_provider "github.com/datatales/storyteller/provider/openai"
)

// LLMProvider is the contract the search core requires from a language-model
// capability. Implementations must be safe for use from multiple goroutines
// and tolerant of transient failure; retrying is the implementation's job.
type LLMProvider interface {
	// Generate generates text for a prompt using the named model.
	Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error)

	// GenerateWithTokens generates text and returns input/output token usage.
	GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error)

	// CalculateCost calculates the dollar cost for a given token usage.
	CalculateCost(inputTokens, outputTokens int64, model string) float64

	// GetModelInfo returns information about a configured model.
	GetModelInfo(model string) (ModelInfo, error)
}

// ModelInfo contains information about an LLM model.
type ModelInfo = openai_provider.ModelInfo

// New creates an LLM provider from configuration.
func New(cfg config.LLMConfig) (LLMProvider, error) {
	switch cfg.Provider {
	case "openai", "":
		return openai_provider.New(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider type: %s", cfg.Provider)
	}
}

var _ LLMProvider = (*openai_provider.Client)(nil)
