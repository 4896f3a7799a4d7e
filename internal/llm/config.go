package llm

import (
	"net/http"
	"strings"
	"time"
)

// Provider names understood by NewProviders.
const (
	ProviderOpenAI     = "openai"
	ProviderPerplexity = "perplexity"
	ProviderGemini     = "gemini"
	ProviderAnthropic  = "anthropic"
)

// DefaultProviderOrder is used when configuration names no providers.
var DefaultProviderOrder = []string{ProviderOpenAI, ProviderPerplexity, ProviderGemini}

// Config holds all LLM provider configuration.
type Config struct {
	// Order is the provider priority list. Unknown names are dropped.
	Order []string

	OpenAI     OpenAIConfig
	Perplexity OpenAIConfig
	Gemini     GeminiConfig
	Anthropic  AnthropicConfig

	// MaxRetriesPerProvider is the number of extra attempts per provider.
	MaxRetriesPerProvider int

	// FailoverOn lists the categories that move on to the next provider,
	// or "all".
	FailoverOn []string

	Backoff BackoffConfig
	Tuning  ProviderTuning
}

// OpenAIConfig configures an OpenAI-compatible chat-completions provider.
type OpenAIConfig struct {
	Name    string
	APIKey  string
	BaseURL string // Optional. Override for Perplexity or compatible APIs.
	Timeout time.Duration

	// SupportsJSONSchema attaches a strict json_schema response format
	// when the request carries a schema.
	SupportsJSONSchema bool

	// HonorMaxOutputTokens sends the request's output-token cap.
	HonorMaxOutputTokens bool

	HTTPClient *http.Client
}

// GeminiConfig holds Gemini-specific configuration.
type GeminiConfig struct {
	Name    string
	APIKey  string
	BaseURL string // Default: "https://generativelanguage.googleapis.com/v1beta"
	Timeout time.Duration

	HonorMaxOutputTokens bool

	HTTPClient *http.Client
}

// AnthropicConfig holds Anthropic-specific configuration.
type AnthropicConfig struct {
	Name    string
	APIKey  string
	BaseURL string
	Timeout time.Duration

	HonorMaxOutputTokens bool

	HTTPClient *http.Client
}

// BackoffConfig configures the wait between attempts on the same
// provider. A zero InitialWait disables waiting.
type BackoffConfig struct {
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// ProviderTuning holds per-provider adjustments for providers known to
// truncate long structured output.
type ProviderTuning struct {
	// MaxOutputTokens maps provider -> task prefix -> output-token cap.
	MaxOutputTokens map[string]map[string]int

	// ExtraInvalidJSONRetries maps provider -> task -> extra attempts.
	// Extra attempts append a truncation guard to the user prompt.
	ExtraInvalidJSONRetries map[string]map[string]int
}

// DefaultTuning returns the tuning observed to keep Perplexity quiz
// generation from truncating.
func DefaultTuning() ProviderTuning {
	return ProviderTuning{
		MaxOutputTokens: map[string]map[string]int{
			ProviderPerplexity: {"quiz_generation": 8000},
		},
		ExtraInvalidJSONRetries: map[string]map[string]int{
			ProviderPerplexity: {"quiz_generation": 1},
		},
	}
}

// maxOutputTokens returns the cap for provider/task, matching task by
// prefix so repair sub-calls inherit their parent's cap. Zero means none.
func (t ProviderTuning) maxOutputTokens(provider, task string) int {
	best, bestLen := 0, -1
	for prefix, limit := range t.MaxOutputTokens[provider] {
		if strings.HasPrefix(task, prefix) && len(prefix) > bestLen {
			best, bestLen = limit, len(prefix)
		}
	}
	return best
}

func (t ProviderTuning) extraInvalidJSONRetries(provider, task string) int {
	return max(0, t.ExtraInvalidJSONRetries[provider][task])
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	timeout := 90 * time.Second
	return Config{
		Order: DefaultProviderOrder,
		OpenAI: OpenAIConfig{
			Name:               ProviderOpenAI,
			BaseURL:            "https://api.openai.com/v1",
			Timeout:            timeout,
			SupportsJSONSchema: true,
		},
		Perplexity: OpenAIConfig{
			Name:                 ProviderPerplexity,
			BaseURL:              "https://api.perplexity.ai",
			Timeout:              timeout,
			HonorMaxOutputTokens: true,
		},
		Gemini: GeminiConfig{
			Name:    ProviderGemini,
			BaseURL: "https://generativelanguage.googleapis.com/v1beta",
			Timeout: timeout,
		},
		Anthropic: AnthropicConfig{
			Name:                 ProviderAnthropic,
			Timeout:              timeout,
			HonorMaxOutputTokens: true,
		},
		FailoverOn: []string{failoverAll},
		Backoff: BackoffConfig{
			Multiplier: 2.0,
		},
		Tuning: DefaultTuning(),
	}
}
