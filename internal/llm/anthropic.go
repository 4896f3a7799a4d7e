package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicDefaultMaxTokens is used when a request carries no cap; the
// Messages API requires one.
const anthropicDefaultMaxTokens = 16000

// AnthropicProvider implements Provider using the Anthropic SDK.
type AnthropicProvider struct {
	cfg    AnthropicConfig
	client *anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider. SDK retries are
// disabled because the manager owns the attempt budget.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicProvider{cfg: cfg, client: &client}
}

func (p *AnthropicProvider) Name() string { return p.cfg.Name }

func (p *AnthropicProvider) IsConfigured() bool { return p.cfg.APIKey != "" }

func (p *AnthropicProvider) Generate(ctx context.Context, req CallRequest) (*CallResult, error) {
	if !p.IsConfigured() {
		return nil, newError(CategoryServerError, "Provider %s is not configured", p.cfg.Name)
	}
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	maxTokens := int64(anthropicDefaultMaxTokens)
	if req.MaxOutputTokens > 0 && p.cfg.HonorMaxOutputTokens {
		maxTokens = int64(req.MaxOutputTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: req.SystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
	}

	// Use structured output via JSON output format when schema is provided.
	if req.Schema != nil {
		params.OutputConfig = anthropic.OutputConfigParam{
			Format: anthropic.JSONOutputFormatParam{
				Schema: StrictSchema(req.Schema),
			},
		}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, mapAnthropicError(p.cfg.Name, err)
	}

	var texts []string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			texts = append(texts, block.Text)
		}
	}
	content := strings.TrimSpace(strings.Join(texts, "\n"))
	if content == "" {
		return nil, newError(CategoryServerError, "Provider %s returned empty content", p.cfg.Name)
	}

	return &CallResult{
		Text:    content,
		CostUSD: estimateCost(req.Model, int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)),
		Usage: map[string]any{
			"input_tokens":  msg.Usage.InputTokens,
			"output_tokens": msg.Usage.OutputTokens,
		},
	}, nil
}

func mapAnthropicError(provider string, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return statusError(provider, apiErr.StatusCode, apiErr.RawJSON())
	}
	return transportError(provider, err)
}
