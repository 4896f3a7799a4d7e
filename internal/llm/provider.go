package llm

import (
	"context"
)

// Provider is the core abstraction for one LLM backend.
// The manager holds providers by name and only calls Generate on
// providers that report IsConfigured.
type Provider interface {
	// Name is the unique key of this provider, e.g. "openai".
	Name() string

	// IsConfigured reports whether an API key is present. Unconfigured
	// providers are skipped without a network round trip.
	IsConfigured() bool

	// Generate sends a single request and returns the normalized result.
	// Failures are returned as *Error carrying a Category.
	Generate(ctx context.Context, req CallRequest) (*CallResult, error)
}

// CallRequest describes one generation attempt against one provider.
type CallRequest struct {
	// Task is a stable label used for model selection and telemetry,
	// e.g. "quiz_generation".
	Task string

	// Model is the provider model ID resolved for this task.
	Model string

	SystemPrompt string
	UserPrompt   string

	// Schema is the generic JSON Schema the response should conform to.
	// Providers translate it into their constrained-output format when
	// they support one. Nil for free-text requests.
	Schema map[string]any

	// MaxOutputTokens caps the response length for providers that honour
	// a cap. Zero means no cap.
	MaxOutputTokens int
}

// CallResult is the normalized output of one successful provider call.
type CallResult struct {
	// Text is the generated text. Never empty on success.
	Text string

	// CostUSD is the request cost when the provider reports one or the
	// model has a known price. Nil when unknown.
	CostUSD *float64

	// Usage is the provider's raw usage block, if any.
	Usage map[string]any
}

// Schema names a JSON Schema definition used for structured completions.
type Schema struct {
	// Name identifies this schema (cache key for compiled validators).
	// Snake-case, e.g. "quiz".
	Name string

	// Definition is the JSON Schema as a nested map.
	Definition map[string]any
}
