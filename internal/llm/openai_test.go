package llm

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestOpenAIProvider(t *testing.T, cfg OpenAIConfig, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	if cfg.Name == "" {
		cfg.Name = ProviderOpenAI
	}
	cfg.APIKey = "test-key"
	cfg.BaseURL = server.URL + "/v1"
	return NewOpenAIProvider(cfg)
}

func chatCompletion(content string, extra map[string]any) map[string]any {
	body := map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1234567890,
		"model":   "gpt-5-mini",
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     40,
			"completion_tokens": 25,
			"total_tokens":      65,
		},
	}
	for k, v := range extra {
		body[k] = v
	}
	return body
}

func TestOpenAIProvider_HappyPath(t *testing.T) {
	var got map[string]any
	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatCompletion(`{"answer":"5"}`, nil))
	}

	p := newTestOpenAIProvider(t, OpenAIConfig{SupportsJSONSchema: true}, handler)
	res, err := p.Generate(context.Background(), CallRequest{
		Task:         "quiz_generation",
		Model:        "gpt-5-mini",
		SystemPrompt: "You are a quiz writer.",
		UserPrompt:   "Write a quiz.",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"answer": map[string]any{"type": "string"}},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != `{"answer":"5"}` {
		t.Fatalf("unexpected text %q", res.Text)
	}

	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if role := msgs[0].(map[string]any)["role"]; role != "system" {
		t.Fatalf("expected system message first, got %v", role)
	}

	format, _ := got["response_format"].(map[string]any)
	if format["type"] != "json_schema" {
		t.Fatalf("expected json_schema response format, got %v", format["type"])
	}
	js, _ := format["json_schema"].(map[string]any)
	if js["name"] != "quiz_generation_response" || js["strict"] != true {
		t.Fatalf("unexpected json_schema block: %v", js)
	}
	schema, _ := js["schema"].(map[string]any)
	if schema["additionalProperties"] != false {
		t.Fatalf("expected strict schema, got %v", schema)
	}

	// gpt-5-mini has a known price and the body reports no cost.
	if res.CostUSD == nil {
		t.Fatal("expected estimated cost")
	}
	want := 40*0.25/1_000_000 + 25*2.0/1_000_000
	if math.Abs(*res.CostUSD-want) > 1e-12 {
		t.Fatalf("expected cost %v, got %v", want, *res.CostUSD)
	}
	if res.Usage["total_tokens"] != float64(65) {
		t.Fatalf("expected usage passthrough, got %v", res.Usage)
	}
}

func TestOpenAIProvider_ReportedCostWins(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body := chatCompletion("hello", nil)
		body["usage"].(map[string]any)["cost"] = map[string]any{"total_cost": "0.0123"}
		json.NewEncoder(w).Encode(body)
	}

	p := newTestOpenAIProvider(t, OpenAIConfig{Name: ProviderPerplexity}, handler)
	res, err := p.Generate(context.Background(), CallRequest{Task: "t", Model: "sonar"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.CostUSD == nil || *res.CostUSD != 0.0123 {
		t.Fatalf("expected reported cost 0.0123, got %v", res.CostUSD)
	}
}

func TestOpenAIProvider_PerplexityCapsOutputAndSkipsSchema(t *testing.T) {
	var got map[string]any
	handler := func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatCompletion("{}", nil))
	}

	p := newTestOpenAIProvider(t, OpenAIConfig{Name: ProviderPerplexity, HonorMaxOutputTokens: true}, handler)
	_, err := p.Generate(context.Background(), CallRequest{
		Task:            "quiz_generation",
		Model:           "sonar",
		Schema:          map[string]any{"type": "object"},
		MaxOutputTokens: 8000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := got["response_format"]; ok {
		t.Fatal("expected no response_format for a provider without schema support")
	}
	if got["max_tokens"] != float64(8000) {
		t.Fatalf("expected max_tokens 8000, got %v", got["max_tokens"])
	}
}

func TestOpenAIProvider_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   Category
	}{
		{http.StatusTooManyRequests, CategoryRateLimit},
		{http.StatusInternalServerError, CategoryServerError},
		{http.StatusBadGateway, CategoryServerError},
		{http.StatusBadRequest, CategoryServerError},
	}
	for _, tt := range tests {
		handler := func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tt.status)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "nope", "type": "error"},
			})
		}
		p := newTestOpenAIProvider(t, OpenAIConfig{}, handler)
		_, err := p.Generate(context.Background(), CallRequest{Task: "t", Model: "gpt-5-mini"})
		if got := CategoryOf(err); got != tt.want {
			t.Errorf("status %d: expected %s, got %s (%v)", tt.status, tt.want, got, err)
		}
	}
}

func TestOpenAIProvider_RateLimitRetryAfter(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "slow down"}})
	}
	p := newTestOpenAIProvider(t, OpenAIConfig{}, handler)
	_, err := p.Generate(context.Background(), CallRequest{Model: "gpt-5-mini"})
	e, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if e.RetryAfter != 7*time.Second {
		t.Fatalf("expected RetryAfter 7s, got %v", e.RetryAfter)
	}
}

func TestOpenAIProvider_EmptyContent(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatCompletion("   ", nil))
	}
	p := newTestOpenAIProvider(t, OpenAIConfig{}, handler)
	_, err := p.Generate(context.Background(), CallRequest{Model: "gpt-5-mini"})
	if !IsCategory(err, CategoryServerError) {
		t.Fatalf("expected server_error, got %v", err)
	}
}

func TestOpenAIProvider_Timeout(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}
	p := newTestOpenAIProvider(t, OpenAIConfig{Timeout: 50 * time.Millisecond}, handler)
	_, err := p.Generate(context.Background(), CallRequest{Model: "gpt-5-mini"})
	if !IsCategory(err, CategoryTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestOpenAIProvider_NotConfigured(t *testing.T) {
	p := NewOpenAIProvider(OpenAIConfig{Name: ProviderOpenAI})
	if p.IsConfigured() {
		t.Fatal("expected provider without key to be unconfigured")
	}
	if _, err := p.Generate(context.Background(), CallRequest{}); !IsCategory(err, CategoryServerError) {
		t.Fatalf("expected server_error, got %v", err)
	}
}

func TestExtractCostUSD(t *testing.T) {
	tests := []struct {
		name string
		body string
		want *float64
	}{
		{"usage.cost.total_cost", `{"usage":{"cost":{"total_cost":0.5,"total":0.9}}}`, ptr(0.5)},
		{"usage.cost_usd", `{"usage":{"cost_usd":"0.25"}}`, ptr(0.25)},
		{"top-level cost", `{"cost":{"usd":1.5}}`, ptr(1.5)},
		{"cost_usd", `{"cost_usd":2}`, ptr(2)},
		{"negative skipped", `{"usage":{"total_cost":-1},"cost_usd":0.1}`, ptr(0.1)},
		{"non-numeric skipped", `{"usage":{"total_cost":"n/a"}}`, nil},
		{"absent", `{"usage":{"prompt_tokens":3}}`, nil},
		{"not json", `oops`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractCostUSD([]byte(tt.body))
			switch {
			case tt.want == nil && got != nil:
				t.Fatalf("expected nil, got %v", *got)
			case tt.want != nil && (got == nil || *got != *tt.want):
				t.Fatalf("expected %v, got %v", *tt.want, got)
			}
		})
	}
}

func TestIsReasoningModel(t *testing.T) {
	for model, want := range map[string]bool{
		"gpt-5-mini":  true,
		"o3":          true,
		"gpt-4o-mini": false,
		"sonar-pro":   false,
	} {
		if got := isReasoningModel(model); got != want {
			t.Errorf("isReasoningModel(%q) = %v, want %v", model, got, want)
		}
	}
}

func ptr(v float64) *float64 { return &v }
