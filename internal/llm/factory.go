package llm

import (
	"context"
	"fmt"
	"slices"
)

// NewProviders builds every known provider from configuration, keyed by
// name. Providers without an API key are still returned so the manager
// can report them as not configured.
func NewProviders(ctx context.Context, cfg Config) (map[string]Provider, error) {
	gemini, err := NewGeminiProvider(ctx, cfg.Gemini)
	if err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", ProviderGemini, err)
	}
	return map[string]Provider{
		ProviderOpenAI:     NewOpenAIProvider(cfg.OpenAI),
		ProviderPerplexity: NewOpenAIProvider(cfg.Perplexity),
		ProviderGemini:     gemini,
		ProviderAnthropic:  NewAnthropicProvider(cfg.Anthropic),
	}, nil
}

// NormalizeOrder drops unknown and duplicate names, falling back to
// DefaultProviderOrder when nothing is left.
func NormalizeOrder(names []string, known map[string]Provider) []string {
	var out []string
	for _, n := range names {
		if _, ok := known[n]; ok && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return slices.Clone(DefaultProviderOrder)
	}
	return out
}

// NewManagerFromConfig wires providers, policy and tuning from cfg.
func NewManagerFromConfig(ctx context.Context, cfg Config, models ModelResolver, rec Recorder) (*Manager, error) {
	providers, err := NewProviders(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewManager(Options{
		Providers:             providers,
		Order:                 NormalizeOrder(cfg.Order, providers),
		MaxRetriesPerProvider: cfg.MaxRetriesPerProvider,
		Failover:              NewFailoverPolicy(cfg.FailoverOn),
		Models:                models,
		Recorder:              rec,
		Backoff:               cfg.Backoff,
		Tuning:                cfg.Tuning,
	}), nil
}
