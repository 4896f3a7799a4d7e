package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Length caps for the sections of a repair prompt, in characters.
const (
	repairMaxErrorChars   = 4000
	repairMaxSchemaChars  = 12000
	repairMaxPayloadChars = 24000
)

const repairSystemPrompt = "You are a deterministic JSON repair engine. " +
	"Return exactly one valid JSON object. " +
	"No markdown, no comments, no code fences, no extra text."

var repairInstructions = []string{
	"Fix the payload so it parses as valid JSON and matches the target constraints.",
	"Preserve original semantic meaning as much as possible.",
	"Use proper JSON types: booleans true/false, numbers unquoted, strings quoted.",
	"Return only the corrected JSON object and nothing else.",
}

// buildRepairPrompt assembles the repair user prompt. Empty detail and a
// nil schema leave their sections out.
func buildRepairPrompt(broken string, schema map[string]any, detail string) string {
	sections := append([]string(nil), repairInstructions...)
	if detail != "" {
		sections = append(sections, "Validation error details:\n"+truncateRunes(detail, repairMaxErrorChars))
	}
	if schema != nil {
		if b, err := json.Marshal(schema); err == nil {
			sections = append(sections, "Target JSON schema:\n"+truncateRunes(string(b), repairMaxSchemaChars))
		}
	}
	sections = append(sections, "Broken payload:\n"+truncateRunes(broken, repairMaxPayloadChars))
	return strings.Join(sections, "\n\n")
}

// repairJSON issues one repair sub-call to the provider that produced the
// broken payload and parses its answer. The sub-call is recorded under
// "<task>_repair" and is never itself repaired.
func repairJSON[T any](ctx context.Context, m *Manager, p Provider, task, model, broken string, schema *Schema, detail string) (T, error) {
	var zero T
	var definition map[string]any
	if schema != nil {
		definition = schema.Definition
	}

	repairTask := task + "_repair"
	start := time.Now()
	res, err := p.Generate(ctx, CallRequest{
		Task:            repairTask,
		Model:           model,
		SystemPrompt:    repairSystemPrompt,
		UserPrompt:      buildRepairPrompt(broken, definition, detail),
		MaxOutputTokens: m.tuning.maxOutputTokens(p.Name(), repairTask),
	})
	m.record(ctx, start, OperationRepairJSON, repairTask, p.Name(), model, 1, resultCost(res), err)
	if err != nil {
		return zero, err
	}
	return parseJSON[T](schema, res.Text)
}

// parseJSON extracts, validates and decodes a JSON object from model text.
func parseJSON[T any](schema *Schema, text string) (T, error) {
	extracted, err := ExtractJSON(text)
	if err != nil {
		var zero T
		return zero, err
	}
	return decodeValidated[T](schema, extracted)
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
