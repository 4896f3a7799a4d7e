package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// reasoningPrefixes are model families that reject max_tokens and take
// max_completion_tokens instead.
var reasoningPrefixes = []string{"o1", "o3", "o4", "gpt-5"}

// OpenAIProvider implements Provider using the OpenAI SDK. It also serves
// OpenAI-compatible APIs (Perplexity) via BaseURL and capability flags.
type OpenAIProvider struct {
	cfg        OpenAIConfig
	httpClient *http.Client
}

// NewOpenAIProvider creates a new OpenAI-compatible provider. A missing
// API key is not an error: the provider reports IsConfigured() == false.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &OpenAIProvider{cfg: cfg, httpClient: hc}
}

func (p *OpenAIProvider) Name() string { return p.cfg.Name }

func (p *OpenAIProvider) IsConfigured() bool { return p.cfg.APIKey != "" }

func (p *OpenAIProvider) Generate(ctx context.Context, req CallRequest) (*CallResult, error) {
	if !p.IsConfigured() {
		return nil, newError(CategoryServerError, "Provider %s is not configured", p.cfg.Name)
	}
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	chatReq, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	// The SDK hides vendor cost fields, so the raw body is kept for
	// extractCostUSD. A client per call keeps the capture race-free.
	capture := &bodyCapture{doer: p.httpClient}
	config := openai.DefaultConfig(p.cfg.APIKey)
	if p.cfg.BaseURL != "" {
		config.BaseURL = strings.TrimRight(p.cfg.BaseURL, "/")
	}
	config.HTTPClient = capture
	client := openai.NewClientWithConfig(config)

	resp, err := client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		e := mapOpenAIError(p.cfg.Name, err)
		if e.Category == CategoryRateLimit {
			e.RetryAfter = parseRetryAfter(capture.header.Get("Retry-After"))
		}
		return nil, e
	}

	if len(resp.Choices) == 0 {
		return nil, newError(CategoryServerError, "Provider %s returned no choices", p.cfg.Name)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, newError(CategoryServerError, "Provider %s returned empty content", p.cfg.Name)
	}

	cost := extractCostUSD(capture.body)
	if cost == nil {
		cost = estimateCost(req.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}

	return &CallResult{
		Text:    content,
		CostUSD: cost,
		Usage:   usageMap(capture.body, "usage"),
	}, nil
}

func (p *OpenAIProvider) buildRequest(req CallRequest) (openai.ChatCompletionRequest, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
	}

	// Use JSON schema response format when schema is provided.
	if req.Schema != nil && p.cfg.SupportsJSONSchema {
		schemaBytes, err := json.Marshal(StrictSchema(req.Schema))
		if err != nil {
			return chatReq, wrapError(CategoryServerError, err, "marshal schema: %v", err)
		}
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.Task + "_response",
				Schema: json.RawMessage(schemaBytes),
				Strict: true,
			},
		}
	}

	if req.MaxOutputTokens > 0 && p.cfg.HonorMaxOutputTokens {
		if isReasoningModel(req.Model) {
			chatReq.MaxCompletionTokens = req.MaxOutputTokens
		} else {
			chatReq.MaxTokens = req.MaxOutputTokens
		}
	}
	return chatReq, nil
}

func isReasoningModel(model string) bool {
	for _, prefix := range reasoningPrefixes {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

func mapOpenAIError(provider string, err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusError(provider, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return statusError(provider, reqErr.HTTPStatusCode, string(reqErr.Body))
	}
	return transportError(provider, err)
}

// bodyCapture is an openai.HTTPDoer that keeps a copy of the last
// response body and headers.
type bodyCapture struct {
	doer   *http.Client
	body   []byte
	header http.Header
}

func (c *bodyCapture) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.doer.Do(req)
	if err != nil || resp.Body == nil {
		return resp, err
	}
	c.header = resp.Header
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	c.body = b
	resp.Body = io.NopCloser(bytes.NewReader(b))
	return resp, nil
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
