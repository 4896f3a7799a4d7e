package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func newTestGeminiProvider(t *testing.T, handler http.HandlerFunc) *GeminiProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewGeminiProvider(context.Background(), GeminiConfig{
		Name:    ProviderGemini,
		APIKey:  "test-key",
		BaseURL: server.URL + "/v1beta",
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return p
}

func geminiResponse(parts ...string) map[string]any {
	ps := make([]map[string]any, len(parts))
	for i, p := range parts {
		ps[i] = map[string]any{"text": p}
	}
	return map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"role": "model", "parts": ps}, "finishReason": "STOP"},
		},
		"usageMetadata": map[string]any{
			"promptTokenCount":     100,
			"candidatesTokenCount": 50,
			"totalTokenCount":      150,
		},
	}
}

func TestGeminiProvider_HappyPath(t *testing.T) {
	var got map[string]any
	handler := func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1beta/models/gemini-2.5-flash:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(geminiResponse(`{"a":`, `1}`))
	}

	p := newTestGeminiProvider(t, handler)
	res, err := p.Generate(context.Background(), CallRequest{
		Task:         "quiz_generation",
		Model:        "gemini-2.5-flash",
		SystemPrompt: "system",
		UserPrompt:   "user",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "integer"},
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "{\"a\":\n1}" {
		t.Fatalf("expected parts joined by newline, got %q", res.Text)
	}
	if res.CostUSD == nil {
		t.Fatal("expected estimated cost for a priced model")
	}

	gen, _ := got["generationConfig"].(map[string]any)
	if gen["responseMimeType"] != "application/json" {
		t.Fatalf("expected JSON mime type, got %v", gen["responseMimeType"])
	}
	if gen["temperature"] != 0.2 {
		t.Fatalf("expected temperature 0.2, got %v", gen["temperature"])
	}
	schema, _ := gen["responseSchema"].(map[string]any)
	if schema["type"] != "OBJECT" {
		t.Fatalf("expected upper-cased schema type, got %v", schema["type"])
	}
	if _, ok := got["systemInstruction"]; !ok {
		t.Fatal("expected systemInstruction in payload")
	}
}

func TestGeminiProvider_RetriesWithoutSchemaOnSchemaRejection(t *testing.T) {
	var mu sync.Mutex
	var bodies []map[string]any
	handler := func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		bodies = append(bodies, body)
		n := len(bodies)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{
					"code":    400,
					"message": `Invalid JSON payload received. Unknown name "$defs" at 'generation_config.response_schema': Cannot find field.`,
					"status":  "INVALID_ARGUMENT",
				},
			})
			return
		}
		json.NewEncoder(w).Encode(geminiResponse(`{"ok":true}`))
	}

	p := newTestGeminiProvider(t, handler)
	res, err := p.Generate(context.Background(), CallRequest{
		Model:  "gemini-2.5-flash",
		Schema: map[string]any{"type": "object"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != `{"ok":true}` {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if len(bodies) != 2 {
		t.Fatalf("expected exactly 2 requests, got %d", len(bodies))
	}
	gen, _ := bodies[1]["generationConfig"].(map[string]any)
	if _, ok := gen["responseSchema"]; ok {
		t.Fatal("expected retry without responseSchema")
	}
	if gen["responseMimeType"] != "application/json" {
		t.Fatal("expected retry to keep the JSON mime type")
	}
}

func TestGeminiProvider_PlainBadRequestIsNotRetried(t *testing.T) {
	calls := 0
	handler := func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 400, "message": "API key not valid", "status": "INVALID_ARGUMENT"},
		})
	}

	p := newTestGeminiProvider(t, handler)
	_, err := p.Generate(context.Background(), CallRequest{Model: "gemini-2.5-flash", Schema: map[string]any{"type": "object"}})
	if !IsCategory(err, CategoryServerError) {
		t.Fatalf("expected server_error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestGeminiProvider_RateLimit(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 429, "message": "quota", "status": "RESOURCE_EXHAUSTED"},
		})
	}
	p := newTestGeminiProvider(t, handler)
	_, err := p.Generate(context.Background(), CallRequest{Model: "gemini-2.5-flash"})
	if !IsCategory(err, CategoryRateLimit) {
		t.Fatalf("expected rate_limit, got %v", err)
	}
}

func TestGeminiProvider_NoCandidates(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"candidates": []any{}})
	}
	p := newTestGeminiProvider(t, handler)
	_, err := p.Generate(context.Background(), CallRequest{Model: "gemini-2.5-flash"})
	if !IsCategory(err, CategoryServerError) {
		t.Fatalf("expected server_error, got %v", err)
	}
}

func TestGeminiProvider_UnconfiguredSkipsClient(t *testing.T) {
	p, err := NewGeminiProvider(context.Background(), GeminiConfig{Name: ProviderGemini})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.IsConfigured() {
		t.Fatal("expected unconfigured provider")
	}
}

func TestSplitGeminiBaseURL(t *testing.T) {
	tests := []struct {
		in, base, version string
	}{
		{"https://generativelanguage.googleapis.com/v1beta", "https://generativelanguage.googleapis.com/", "v1beta"},
		{"https://generativelanguage.googleapis.com/v1beta/", "https://generativelanguage.googleapis.com/", "v1beta"},
		{"http://127.0.0.1:9000/proxy/v1", "http://127.0.0.1:9000/proxy/", "v1"},
		{"http://127.0.0.1:9000", "http://127.0.0.1:9000/", ""},
	}
	for _, tt := range tests {
		base, version := splitGeminiBaseURL(tt.in)
		if base != tt.base || version != tt.version {
			t.Errorf("splitGeminiBaseURL(%q) = (%q, %q), want (%q, %q)", tt.in, base, version, tt.base, tt.version)
		}
	}
}
