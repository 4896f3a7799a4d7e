// Package guardrail decides whether a topic is acceptable for quiz
// generation.
package guardrail

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/aniketshedge/quiz-me-app/internal/llm"
	"github.com/aniketshedge/quiz-me-app/internal/utils/log"
)

// Task is the LLM task label of topic classification.
const Task = "topic_guardrail"

// Decision is the outcome of classifying a topic.
type Decision string

const (
	Allow     Decision = "allow"
	Disallow  Decision = "disallow"
	Uncertain Decision = "uncertain"
)

// Result is a classification verdict.
type Result struct {
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason"`
}

// Validate rejects decisions outside the known set.
func (r Result) Validate() error {
	switch r.Decision {
	case Allow, Disallow, Uncertain:
		return nil
	}
	return fmt.Errorf("unknown decision %q", r.Decision)
}

// Allowed reports whether quiz generation may proceed.
func (r Result) Allowed() bool {
	return r.Decision == Allow
}

// Schema is the JSON Schema of a classification verdict.
var Schema = &llm.Schema{
	Name: "topic_guardrail",
	Definition: map[string]any{
		"title": "TopicGuardrailResult",
		"type":  "object",
		"properties": map[string]any{
			"decision": map[string]any{
				"type": "string",
				"enum": []any{string(Allow), string(Disallow), string(Uncertain)},
			},
			"reason": map[string]any{"type": "string"},
		},
		"required": []any{"decision", "reason"},
	},
}

var blocked = []*regexp.Regexp{
	regexp.MustCompile(`\bhow to build a bomb\b`),
	regexp.MustCompile(`\bmake meth\b`),
	regexp.MustCompile(`\bcredit card fraud\b`),
	regexp.MustCompile(`\bchild sexual\b`),
	regexp.MustCompile(`\bterror attack\b`),
}

const systemPrompt = "You are a topic safety classifier for an educational quiz app. " +
	"Return exactly one JSON object with keys decision and reason. " +
	"No markdown, no code fences, no extra keys. " +
	"Decision must be one of allow, disallow, uncertain. " +
	"Allow mainstream educational topics including war and history."

const userPromptPrefix = "Classify whether this topic can be used to generate a neutral educational quiz. " +
	"Disallow only if it clearly requests harmful wrongdoing guidance.\n\n" +
	"Topic: "

// Classifier classifies topics with the LLM manager, falling back to a
// keyword heuristic when no provider is available.
type Classifier struct {
	llm       *llm.Manager
	forceMock bool
}

// New creates a Classifier. With forceMock set the heuristic is always used.
func New(m *llm.Manager, forceMock bool) *Classifier {
	return &Classifier{llm: m, forceMock: forceMock}
}

// Classify returns the verdict for topic. Model failures yield Uncertain.
func (c *Classifier) Classify(ctx context.Context, topic string) Result {
	if c.forceMock || !c.llm.AnyProviderConfigured() {
		return Heuristic(topic)
	}

	res, provider, err := llm.CompleteJSON[Result](ctx, c.llm, Task, systemPrompt, userPromptPrefix+topic, Schema)
	if err != nil {
		log.Warnf("topic guardrail failed: %v", err)
		return Result{Decision: Uncertain, Reason: "Could not confidently classify topic safety."}
	}
	log.Debugf("topic %q classified %s by %s", topic, res.Decision, provider)
	return res
}

// Heuristic classifies topic against a fixed blocklist.
func Heuristic(topic string) Result {
	normalized := strings.ToLower(strings.TrimSpace(topic))
	for _, re := range blocked {
		if re.MatchString(normalized) {
			return Result{Decision: Disallow, Reason: "Topic appears to request harmful or illegal guidance."}
		}
	}
	return Result{Decision: Allow, Reason: "No obvious policy issue detected by heuristic guardrail."}
}
