package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/genai"

	"github.com/aniketshedge/quiz-me-app/internal/utils/log"
)

// geminiTemperature keeps quiz output close to the source article.
const geminiTemperature = float32(0.2)

// GeminiProvider implements Provider using the Google Gemini SDK.
type GeminiProvider struct {
	cfg    GeminiConfig
	client *genai.Client
}

// NewGeminiProvider creates a new Gemini provider. The SDK client is only
// built when an API key is present.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	p := &GeminiProvider{cfg: cfg}
	if cfg.APIKey == "" {
		return p, nil
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		base, version := splitGeminiBaseURL(cfg.BaseURL)
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: base, APIVersion: version}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	p.client = client
	return p, nil
}

func (p *GeminiProvider) Name() string { return p.cfg.Name }

func (p *GeminiProvider) IsConfigured() bool { return p.cfg.APIKey != "" && p.client != nil }

func (p *GeminiProvider) Generate(ctx context.Context, req CallRequest) (*CallResult, error) {
	if !p.IsConfigured() {
		return nil, newError(CategoryServerError, "Provider %s is not configured", p.cfg.Name)
	}
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	temp := geminiTemperature
	config := &genai.GenerateContentConfig{
		Temperature: &temp,
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		},
	}
	if req.MaxOutputTokens > 0 && p.cfg.HonorMaxOutputTokens {
		config.MaxOutputTokens = int32(req.MaxOutputTokens)
	}

	// Configure structured output.
	schemaRequested := req.Schema != nil
	if schemaRequested {
		config.ResponseMIMEType = "application/json"
		schema, err := toGenaiSchema(GeminiSchema(req.Schema))
		if err != nil {
			log.Warnf("gemini: dropping response schema for %s: %v", req.Task, err)
		} else {
			config.ResponseSchema = schema
		}
	}

	contents := []*genai.Content{genai.NewContentFromText(req.UserPrompt, genai.RoleUser)}

	result, err := p.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil && schemaRequested && config.ResponseSchema != nil && isGeminiSchemaRejection(err) {
		// Some JSON Schema constructs survive conversion but are still
		// rejected. Retry once relying on the prompt and MIME type alone.
		log.Debugf("gemini: schema rejected for %s, retrying without responseSchema", req.Task)
		config.ResponseSchema = nil
		result, err = p.client.Models.GenerateContent(ctx, req.Model, contents, config)
	}
	if err != nil {
		return nil, mapGeminiError(p.cfg.Name, err)
	}

	if len(result.Candidates) == 0 {
		return nil, newError(CategoryServerError, "Provider %s returned no candidates", p.cfg.Name)
	}
	content := geminiText(result.Candidates[0])
	if content == "" {
		return nil, newError(CategoryServerError, "Provider %s returned empty content", p.cfg.Name)
	}

	out := &CallResult{Text: content}
	if um := result.UsageMetadata; um != nil {
		out.CostUSD = estimateCost(req.Model, int(um.PromptTokenCount), int(um.CandidatesTokenCount))
		out.Usage = structToMap(um)
	}
	return out, nil
}

// geminiText joins the non-empty text parts of a candidate.
func geminiText(c *genai.Candidate) string {
	if c == nil || c.Content == nil {
		return ""
	}
	var parts []string
	for _, part := range c.Content.Parts {
		if part != nil && part.Text != "" && !part.Thought {
			parts = append(parts, part.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// toGenaiSchema decodes a converted schema map into the SDK type.
// Keywords the SDK type does not model are dropped.
func toGenaiSchema(m map[string]any) (*genai.Schema, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var s genai.Schema
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// splitGeminiBaseURL splits ".../v1beta" into the SDK's base URL and API
// version. A URL without a version path keeps the SDK default version.
func splitGeminiBaseURL(raw string) (base, version string) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return raw, ""
	}
	path := strings.TrimRight(u.Path, "/")
	idx := strings.LastIndex(path, "/")
	last := path[idx+1:]
	if !strings.HasPrefix(last, "v1") {
		return u.String() + "/", ""
	}
	u.Path = path[:idx] + "/"
	return u.String(), last
}

func isGeminiSchemaRejection(err error) bool {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusBadRequest {
		return false
	}
	details, _ := json.Marshal(apiErr.Details)
	return LooksLikeGeminiSchemaError(apiErr.Message + " " + apiErr.Status + " " + string(details))
}

func mapGeminiError(provider string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return statusError(provider, apiErr.Code, apiErr.Message)
	}
	return transportError(provider, err)
}

func structToMap(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}
