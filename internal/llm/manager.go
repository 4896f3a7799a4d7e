package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aniketshedge/quiz-me-app/internal/telemetry"
	"github.com/aniketshedge/quiz-me-app/internal/utils/log"
)

// Telemetry operation labels.
const (
	OperationCompleteText = "complete_text"
	OperationCompleteJSON = "complete_json_model"
	OperationRepairJSON   = "repair_json"
)

// truncationGuard is appended to the user prompt on extra attempts granted
// to providers that tend to cut long structured output short.
const truncationGuard = "\n\nCRITICAL: Return one COMPLETE JSON object with all required fields and all 15 questions. " +
	"Do not truncate. Ensure all arrays/objects are fully closed."

// ModelResolver returns the model ID a provider should use for a task.
type ModelResolver func(provider, task string) string

// Recorder receives one telemetry event per attempt.
type Recorder interface {
	Record(ev telemetry.Event) error
}

type nopRecorder struct{}

func (nopRecorder) Record(telemetry.Event) error { return nil }

// Options configures a Manager.
type Options struct {
	// Providers holds every known provider by name.
	Providers map[string]Provider

	// Order is the priority list. Names missing from Providers are ignored.
	Order []string

	MaxRetriesPerProvider int
	Failover              FailoverPolicy
	Models                ModelResolver
	Recorder              Recorder
	Backoff               BackoffConfig
	Tuning                ProviderTuning
}

// Manager drives the attempt, retry and failover state machine across the
// configured providers. It is safe for concurrent use.
type Manager struct {
	providers  map[string]Provider
	order      []string
	maxRetries int
	failover   FailoverPolicy
	models     ModelResolver
	rec        Recorder
	backoff    BackoffConfig
	tuning     ProviderTuning
}

// Execution is the outcome of a successful text completion.
type Execution struct {
	Provider string
	Text     string
}

// ProviderStatus describes one provider in priority order.
type ProviderStatus struct {
	Name       string
	Configured bool
}

// NewManager creates a Manager from opts.
func NewManager(opts Options) *Manager {
	m := &Manager{
		providers:  opts.Providers,
		maxRetries: max(0, opts.MaxRetriesPerProvider),
		failover:   opts.Failover,
		models:     opts.Models,
		rec:        opts.Recorder,
		backoff:    opts.Backoff,
		tuning:     opts.Tuning,
	}
	for _, name := range opts.Order {
		if _, ok := opts.Providers[name]; ok {
			m.order = append(m.order, name)
		}
	}
	if m.rec == nil {
		m.rec = nopRecorder{}
	}
	if m.models == nil {
		m.models = func(string, string) string { return "" }
	}
	return m
}

// AnyProviderConfigured reports whether at least one provider in the
// priority list has credentials.
func (m *Manager) AnyProviderConfigured() bool {
	for _, name := range m.order {
		if m.providers[name].IsConfigured() {
			return true
		}
	}
	return false
}

// Providers lists the providers in priority order.
func (m *Manager) Providers() []ProviderStatus {
	out := make([]ProviderStatus, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, ProviderStatus{Name: name, Configured: m.providers[name].IsConfigured()})
	}
	return out
}

// Model returns the model the given provider uses for task.
func (m *Manager) Model(provider, task string) string {
	return m.models(provider, task)
}

// CompleteText returns the raw text of the first provider that succeeds.
func (m *Manager) CompleteText(ctx context.Context, task, system, user string) (*Execution, error) {
	var errs []string

	for _, name := range m.order {
		p := m.providers[name]
		if !p.IsConfigured() {
			errs = append(errs, name+": not configured")
			continue
		}

		model := m.models(name, task)
		var lastErr error
		for attempt := 1; attempt <= m.maxRetries+1; attempt++ {
			if err := m.wait(ctx, attempt, lastErr); err != nil {
				return nil, err
			}

			start := time.Now()
			res, err := p.Generate(ctx, CallRequest{
				Task:            task,
				Model:           model,
				SystemPrompt:    system,
				UserPrompt:      user,
				MaxOutputTokens: m.tuning.maxOutputTokens(name, task),
			})
			m.record(ctx, start, OperationCompleteText, task, name, model, attempt, resultCost(res), err)
			if err == nil {
				return &Execution{Provider: name, Text: res.Text}, nil
			}

			lastErr = classify(err)
			errs = append(errs, fmt.Sprintf("%s: %s", name, lastErr))
			if !m.failover.ShouldFailover(CategoryOf(lastErr)) {
				return nil, lastErr
			}
		}
	}

	return nil, newError(CategoryServerError, "All providers failed for text completion. %s", strings.Join(errs, " | "))
}

// CompleteJSON asks each provider in turn for an object matching schema,
// repairing malformed output once per attempt, and decodes it into T. When
// T implements Validator its rules are applied after schema validation.
// It returns the decoded value and the name of the provider that produced it.
func CompleteJSON[T any](ctx context.Context, m *Manager, task, system, user string, schema *Schema) (T, string, error) {
	var zero T
	var errs []string

	var definition map[string]any
	if schema != nil {
		definition = schema.Definition
	}

	for _, name := range m.order {
		p := m.providers[name]
		if !p.IsConfigured() {
			errs = append(errs, name+": not configured")
			continue
		}

		model := m.models(name, task)
		base := m.maxRetries + 1
		total := base + m.tuning.extraInvalidJSONRetries(name, task)
		var lastErr error
		for i := 0; i < total; i++ {
			attempt := i + 1
			if err := m.wait(ctx, attempt, lastErr); err != nil {
				return zero, "", err
			}

			prompt := user
			if i >= base {
				prompt = user + truncationGuard
			}

			start := time.Now()
			res, err := p.Generate(ctx, CallRequest{
				Task:            task,
				Model:           model,
				SystemPrompt:    system,
				UserPrompt:      prompt,
				Schema:          definition,
				MaxOutputTokens: m.tuning.maxOutputTokens(name, task),
			})
			if err != nil {
				m.record(ctx, start, OperationCompleteJSON, task, name, model, attempt, nil, err)
			} else {
				var out T
				out, err = parseJSON[T](schema, res.Text)
				m.record(ctx, start, OperationCompleteJSON, task, name, model, attempt, res.CostUSD, err)
				if IsCategory(err, CategoryInvalidJSON) {
					out, err = repairJSON[T](ctx, m, p, task, model, res.Text, schema, err.Error())
				}
				if err == nil {
					return out, name, nil
				}
			}

			lastErr = classify(err)
			cat := CategoryOf(lastErr)
			if cat == CategoryInvalidJSON && i < total-1 {
				continue
			}
			errs = append(errs, fmt.Sprintf("%s: %s", name, lastErr))
			if !m.failover.ShouldFailover(cat) {
				return zero, "", lastErr
			}
		}
	}

	return zero, "", newError(CategoryInvalidJSON, "All providers failed for JSON completion. %s", strings.Join(errs, " | "))
}

// CompleteJSONDict runs a text completion and parses the result as a JSON
// object, repairing it once without a schema when it does not parse.
func (m *Manager) CompleteJSONDict(ctx context.Context, task, system, user string) (map[string]any, string, error) {
	exec, err := m.CompleteText(ctx, task, system, user)
	if err != nil {
		return nil, "", err
	}

	out, err := parseJSON[map[string]any](nil, exec.Text)
	if err == nil {
		return out, exec.Provider, nil
	}

	p := m.providers[exec.Provider]
	out, err = repairJSON[map[string]any](ctx, m, p, task, m.models(exec.Provider, task), exec.Text, nil, "")
	if err != nil {
		return nil, "", err
	}
	return out, exec.Provider, nil
}

// wait sleeps before same-provider retries when backoff is configured.
func (m *Manager) wait(ctx context.Context, attempt int, lastErr error) error {
	if err := ctx.Err(); err != nil {
		return wrapError(CategoryTimeout, err, "llm call cancelled: %v", err)
	}
	if attempt == 1 || lastErr == nil {
		return nil
	}
	if err := sleep(ctx, m.backoff.backoff(attempt-2, lastErr)); err != nil {
		return wrapError(CategoryTimeout, err, "llm call cancelled: %v", err)
	}
	return nil
}

// record reports one attempt to telemetry and the log.
func (m *Manager) record(ctx context.Context, start time.Time, op, task, provider, model string, attempt int, cost *float64, err error) {
	ev := telemetry.Event{
		Operation:  op,
		Task:       task,
		Provider:   provider,
		Model:      model,
		Attempt:    attempt,
		Outcome:    telemetry.OutcomeSuccess,
		Category:   string(CategorySuccess),
		DurationMS: time.Since(start).Milliseconds(),
		CostUSD:    cost,
		RequestID:  RequestIDFrom(ctx),
	}
	logger := log.With("op", op, "task", task, "provider", provider, "model", model, "attempt", attempt)
	if err != nil {
		msg := err.Error()
		ev.Outcome = telemetry.OutcomeError
		ev.Category = string(CategoryOf(err))
		ev.ErrorMessage = &msg
		logger.Warnf("llm attempt failed (%s): %s", ev.Category, msg)
	} else {
		logger.Debugf("llm attempt succeeded in %dms", ev.DurationMS)
	}
	if rerr := m.rec.Record(ev); rerr != nil {
		logger.Errorf("record telemetry: %v", rerr)
	}
}

// classify normalises any error into a *Error.
func classify(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return wrapError(CategoryOf(err), err, "Unexpected provider error: %v", err)
}

func resultCost(res *CallResult) *float64 {
	if res == nil {
		return nil
	}
	return res.CostUSD
}
