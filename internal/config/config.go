// Package config loads application settings from the environment and an
// optional config file.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/viper"

	"github.com/aniketshedge/quiz-me-app/internal/llm"
)

// Task labels used for model selection and telemetry.
const (
	TaskTopicGuardrail = "topic_guardrail"
	TaskQuizGeneration = "quiz_generation"
	TaskShortGrading   = "short_grading"
)

var allowedProviders = []string{llm.ProviderOpenAI, llm.ProviderPerplexity, llm.ProviderGemini, llm.ProviderAnthropic}

// Settings is the resolved application configuration.
type Settings struct {
	AppEnv             string
	AppBasePath        string
	CORSOrigins        []string
	MaxContentLengthMB int
	HTTPHost           string
	HTTPPort           int
	LogLevel           string
	SessionDB          string

	LLMProviderOrder         []string
	LLMTimeout               time.Duration
	LLMMaxRetriesPerProvider int
	LLMFailoverOn            []string
	LLMRetryInitialWait      time.Duration
	LLMRetryMaxWait          time.Duration
	LLMAllowMock             bool
	LLMForceMockMode         bool
	LLMTelemetryEnabled      bool
	LLMTelemetryDir          string

	ModelTopicGuardrail string
	ModelQuizGeneration string
	ModelShortGrading   string

	OpenAIAPIKey      string
	OpenAIBaseURL     string
	PerplexityAPIKey  string
	PerplexityBaseURL string
	GeminiAPIKey      string
	GeminiBaseURL     string
	AnthropicAPIKey   string
	AnthropicBaseURL  string

	WikiMaxChars           int
	WikiSummaryTargetChars int
	WikiLang               string
	WikiUserAgent          string
	WikiBaseURL            string

	MaxReqPer10Min           int
	MaxQuizCreationsPer10Min int

	ShortGradeConfidenceThreshold float64

	v *viper.Viper
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "development")
	v.SetDefault("app_base_path", "")
	v.SetDefault("cors_origins", "*")
	v.SetDefault("max_content_length_mb", 2)
	v.SetDefault("http_host", "0.0.0.0")
	v.SetDefault("http_port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("session_db", "")

	v.SetDefault("llm_provider_1", llm.ProviderOpenAI)
	v.SetDefault("llm_provider_2", llm.ProviderPerplexity)
	v.SetDefault("llm_provider_3", llm.ProviderGemini)
	v.SetDefault("llm_timeout_ms", 90000)
	v.SetDefault("llm_max_retries_per_provider", 0)
	v.SetDefault("llm_failover_on", "all")
	v.SetDefault("llm_retry_initial_wait_ms", 0)
	v.SetDefault("llm_retry_max_wait_ms", 0)
	v.SetDefault("llm_allow_mock", true)
	v.SetDefault("llm_force_mock_mode", false)
	v.SetDefault("llm_telemetry_enabled", true)
	v.SetDefault("llm_telemetry_dir", "runtime/llm_telemetry")

	v.SetDefault("model_topic_guardrail", "gpt-5-nano")
	v.SetDefault("model_quiz_generation", "gpt-5-mini")
	v.SetDefault("model_short_grading", "gpt-5-mini")

	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("perplexity_api_key", "")
	v.SetDefault("perplexity_base_url", "https://api.perplexity.ai")
	v.SetDefault("gemini_api_key", "")
	v.SetDefault("gemini_base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("anthropic_api_key", "")
	v.SetDefault("anthropic_base_url", "")

	v.SetDefault("wiki_max_chars", 24000)
	v.SetDefault("wiki_summary_target_chars", 8000)
	v.SetDefault("wiki_lang", "en")
	v.SetDefault("wiki_user_agent", "quiz-me-app/0.1 (https://apps.aniketshedge.com/quiz-me/; quiz-me-demo)")
	v.SetDefault("wiki_base_url", "")

	v.SetDefault("max_req_per_10min", 60)
	v.SetDefault("max_quiz_creations_per_10min", 5)
	v.SetDefault("short_grade_confidence_threshold", 0.6)
}

// Load reads settings from the environment and, when path is set, from a
// config file using the same key names in lower case. Environment values
// win over the file. Malformed numbers and booleans fall back to defaults.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	s := &Settings{
		AppEnv:             v.GetString("app_env"),
		AppBasePath:        normalizeBasePath(v.GetString("app_base_path")),
		CORSOrigins:        csv(v.GetString("cors_origins"), []string{"*"}),
		MaxContentLengthMB: asInt(v, "max_content_length_mb"),
		HTTPHost:           v.GetString("http_host"),
		HTTPPort:           asInt(v, "http_port"),
		LogLevel:           v.GetString("log_level"),
		SessionDB:          v.GetString("session_db"),

		LLMProviderOrder:         providerOrder(v),
		LLMTimeout:               time.Duration(asInt(v, "llm_timeout_ms")) * time.Millisecond,
		LLMMaxRetriesPerProvider: asInt(v, "llm_max_retries_per_provider"),
		LLMFailoverOn:            csv(v.GetString("llm_failover_on"), []string{"all"}),
		LLMRetryInitialWait:      time.Duration(asInt(v, "llm_retry_initial_wait_ms")) * time.Millisecond,
		LLMRetryMaxWait:          time.Duration(asInt(v, "llm_retry_max_wait_ms")) * time.Millisecond,
		LLMAllowMock:             asBool(v, "llm_allow_mock"),
		LLMForceMockMode:         asBool(v, "llm_force_mock_mode"),
		LLMTelemetryEnabled:      asBool(v, "llm_telemetry_enabled"),
		LLMTelemetryDir:          v.GetString("llm_telemetry_dir"),

		ModelTopicGuardrail: v.GetString("model_topic_guardrail"),
		ModelQuizGeneration: v.GetString("model_quiz_generation"),
		ModelShortGrading:   v.GetString("model_short_grading"),

		OpenAIAPIKey:      v.GetString("openai_api_key"),
		OpenAIBaseURL:     v.GetString("openai_base_url"),
		PerplexityAPIKey:  v.GetString("perplexity_api_key"),
		PerplexityBaseURL: v.GetString("perplexity_base_url"),
		GeminiAPIKey:      v.GetString("gemini_api_key"),
		GeminiBaseURL:     v.GetString("gemini_base_url"),
		AnthropicAPIKey:   v.GetString("anthropic_api_key"),
		AnthropicBaseURL:  v.GetString("anthropic_base_url"),

		WikiMaxChars:           asInt(v, "wiki_max_chars"),
		WikiSummaryTargetChars: asInt(v, "wiki_summary_target_chars"),
		WikiLang:               v.GetString("wiki_lang"),
		WikiUserAgent:          v.GetString("wiki_user_agent"),
		WikiBaseURL:            v.GetString("wiki_base_url"),

		MaxReqPer10Min:           asInt(v, "max_req_per_10min"),
		MaxQuizCreationsPer10Min: asInt(v, "max_quiz_creations_per_10min"),

		ShortGradeConfidenceThreshold: asFloat(v, "short_grade_confidence_threshold"),

		v: v,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that the settings are usable.
func (s *Settings) Validate() error {
	var errs []error
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http_port %d out of range", s.HTTPPort))
	}
	if s.LLMTimeout <= 0 {
		errs = append(errs, errors.New("llm_timeout_ms must be positive"))
	}
	if s.LLMMaxRetriesPerProvider < 0 {
		errs = append(errs, errors.New("llm_max_retries_per_provider must not be negative"))
	}
	if s.ShortGradeConfidenceThreshold < 0 || s.ShortGradeConfidenceThreshold > 1 {
		errs = append(errs, errors.New("short_grade_confidence_threshold must be within [0, 1]"))
	}
	if s.WikiMaxChars <= 0 {
		errs = append(errs, errors.New("wiki_max_chars must be positive"))
	}
	return errors.Join(errs...)
}

// TaskModel returns the model a provider uses for task. A
// <PROVIDER>_MODEL_<TASK> override wins over the per-task default;
// unknown tasks use the quiz generation model.
func (s *Settings) TaskModel(provider, task string) string {
	if s.v != nil {
		key := strings.ToLower(provider) + "_model_" + strings.ToLower(task)
		if specific := strings.TrimSpace(s.v.GetString(key)); specific != "" {
			return specific
		}
	}
	switch strings.ToLower(task) {
	case TaskTopicGuardrail:
		return s.ModelTopicGuardrail
	case TaskShortGrading:
		return s.ModelShortGrading
	default:
		return s.ModelQuizGeneration
	}
}

// LLMConfig maps the settings onto the provider configuration.
func (s *Settings) LLMConfig() llm.Config {
	cfg := llm.DefaultConfig()
	cfg.Order = s.LLMProviderOrder
	cfg.MaxRetriesPerProvider = s.LLMMaxRetriesPerProvider
	cfg.FailoverOn = s.LLMFailoverOn
	cfg.Backoff.InitialWait = s.LLMRetryInitialWait
	cfg.Backoff.MaxWait = s.LLMRetryMaxWait

	cfg.OpenAI.APIKey = s.OpenAIAPIKey
	cfg.OpenAI.BaseURL = s.OpenAIBaseURL
	cfg.OpenAI.Timeout = s.LLMTimeout
	cfg.Perplexity.APIKey = s.PerplexityAPIKey
	cfg.Perplexity.BaseURL = s.PerplexityBaseURL
	cfg.Perplexity.Timeout = s.LLMTimeout
	cfg.Gemini.APIKey = s.GeminiAPIKey
	cfg.Gemini.BaseURL = s.GeminiBaseURL
	cfg.Gemini.Timeout = s.LLMTimeout
	cfg.Anthropic.APIKey = s.AnthropicAPIKey
	cfg.Anthropic.BaseURL = s.AnthropicBaseURL
	cfg.Anthropic.Timeout = s.LLMTimeout
	return cfg
}

// APIPrefix is the mount point of the JSON API.
func (s *Settings) APIPrefix() string {
	return s.AppBasePath + "/api"
}

// Addr is the HTTP listen address.
func (s *Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.HTTPHost, s.HTTPPort)
}

func providerOrder(v *viper.Viper) []string {
	var order []string
	for i := 1; i <= 3; i++ {
		name := strings.ToLower(strings.TrimSpace(v.GetString(fmt.Sprintf("llm_provider_%d", i))))
		if lo.Contains(allowedProviders, name) {
			order = append(order, name)
		}
	}
	if len(order) == 0 {
		return append([]string(nil), llm.DefaultProviderOrder...)
	}
	return order
}

func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimRight(p, "/")
}

func csv(value string, def []string) []string {
	out := lo.FilterMap(strings.Split(value, ","), func(s string, _ int) (string, bool) {
		s = strings.TrimSpace(s)
		return s, s != ""
	})
	if len(out) == 0 {
		return def
	}
	return out
}

// asInt reads key leniently, falling back to its default when the value
// does not parse.
func asInt(v *viper.Viper, key string) int {
	raw := strings.TrimSpace(v.GetString(key))
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	n, _ := strconv.Atoi(fmt.Sprint(defaultOf(key)))
	return n
}

func asFloat(v *viper.Viper, key string) float64 {
	raw := strings.TrimSpace(v.GetString(key))
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	f, _ := strconv.ParseFloat(fmt.Sprint(defaultOf(key)), 64)
	return f
}

func asBool(v *viper.Viper, key string) bool {
	switch strings.ToLower(strings.TrimSpace(v.GetString(key))) {
	case "1", "true", "yes", "on":
		return true
	case "":
		return defaultOf(key) == true
	default:
		return false
	}
}

// defaultOf returns the registered default for key.
func defaultOf(key string) any {
	d := viper.New()
	setDefaults(d)
	return d.Get(key)
}
