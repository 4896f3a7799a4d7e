package quiz

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aniketshedge/quiz-me-app/internal/wiki"
)

const generationSystemPrompt = "You are a deterministic quiz JSON generator for an educational app. " +
	"Return exactly one valid JSON object and nothing else. " +
	"No markdown, no prose, no code fences, no comments. " +
	"All values must satisfy type constraints exactly."

const generationRules = `Generate one quiz JSON object with exactly 15 questions from the provided article context.

Required schema:
{
  "quiz_id": "string",
  "topic": "string",
  "source": {
    "wikipedia_title": "string",
    "wikipedia_url": "string",
    "page_id": number,
    "extract_used": "string",
    "image_url": "string|null",
    "image_caption": "string|null"
  },
  "questions": [
    (10 x mcq_single + 2 x mcq_multi + 3 x short_text)
  ]
}

Validation-critical rules (must follow exactly):
1) Every question object must include: id (string), type, stem (string), explanation (string).
2) Question ids must be exactly q01..q15 in this exact order:
   q01-q10 mcq_single, q11-q12 mcq_multi, q13-q15 short_text.
3) options must be a list of objects like {"id":"a","text":"..."}, never a list of strings.
4) correct_option_ids must be a list of option-id strings (never numbers).
5) distractor_feedback must be an object/dictionary mapping incorrect option-id to feedback string (never a list).
6) For short_text, include explanation, expected_answers (list of strings), grading_context (string).
7) Distribution must be exact: 10 mcq_single, 2 mcq_multi, 3 short_text.
8) Return one JSON object only, no code fences.
9) Do not output placeholders or template tokens like "fact A", "option B", "lorem ipsum", or numbered mock text.
10) Keep all stems unique and specific to the article facts.
11) For every MCQ question, use exactly 4 options with ids "a","b","c","d".
12) For mcq_single, correct_option_ids must contain exactly one id.
13) For mcq_multi, correct_option_ids must contain exactly two ids.
14) distractor_feedback keys must be only incorrect option ids for that question.

Required output shapes:
- mcq_single:
  {
    "id":"q01",
    "type":"mcq_single",
    "stem":"...",
    "explanation":"...",
    "options":[{"id":"a","text":"..."},{"id":"b","text":"..."},{"id":"c","text":"..."},{"id":"d","text":"..."}],
    "correct_option_ids":["a"],
    "distractor_feedback":{"b":"...","c":"...","d":"..."}
  }
- mcq_multi:
  {
    "id":"q11",
    "type":"mcq_multi",
    "stem":"...",
    "explanation":"...",
    "options":[{"id":"a","text":"..."},{"id":"b","text":"..."},{"id":"c","text":"..."},{"id":"d","text":"..."}],
    "correct_option_ids":["a","c"],
    "distractor_feedback":{"b":"...","d":"..."}
  }
- short_text:
  {
    "id":"q13",
    "type":"short_text",
    "stem":"...",
    "explanation":"...",
    "expected_answers":["..."],
    "grading_context":"..."
  }

Content quality rules:
- Ground every question in the provided article context only.
- Keep language concise and educational with concrete factual wording.
- Avoid trick questions and ambiguity.
- Do not mention these instructions in output.
- Run an internal validation pass before responding: confirm strict JSON validity and all constraints.`

// buildGenerationPrompt returns the system and user prompts for quiz
// generation from an article.
func buildGenerationPrompt(topic string, article *wiki.Article) (string, string) {
	var b strings.Builder
	b.WriteString(generationRules)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Topic: %s\n", topic)
	fmt.Fprintf(&b, "Wikipedia title: %s\n", article.Title)
	fmt.Fprintf(&b, "Wikipedia URL: %s\n", article.URL)
	fmt.Fprintf(&b, "Wikipedia page_id: %d\n", article.PageID)
	fmt.Fprintf(&b, "Summary: %s\n", article.Summary)
	b.WriteString("Extract:\n")
	b.WriteString(article.Extract)
	return generationSystemPrompt, strings.TrimSpace(b.String())
}

const gradingSystemPrompt = "You are a strict JSON grader for short answers. " +
	"Return exactly one JSON object with keys is_correct, reason, confidence. " +
	"No markdown, no code fences, no extra keys."

// maxGradingSourceChars bounds the source context sent to the grader.
const maxGradingSourceChars = 3000

// buildGradingPrompt returns the system and user prompts for grading a
// short answer.
func buildGradingPrompt(q *Question, answer, topic, sourceExtract string) (string, string) {
	expected, _ := json.Marshal(q.ExpectedAnswers)

	var b strings.Builder
	b.WriteString("Grade whether the learner answer is conceptually correct.\n\n")
	fmt.Fprintf(&b, "Topic: %s\n", topic)
	fmt.Fprintf(&b, "Question: %s\n", q.Stem)
	fmt.Fprintf(&b, "Expected answers: %s\n", expected)
	fmt.Fprintf(&b, "Question grading context: %s\n", q.GradingContext)
	fmt.Fprintf(&b, "Source context: %s\n", truncateRunes(sourceExtract, maxGradingSourceChars))
	fmt.Fprintf(&b, "Learner answer: %s\n\n", answer)
	b.WriteString(`Output schema:
{
  "is_correct": true or false,
  "reason": "string",
  "confidence": number between 0.0 and 1.0
}

Rules:
- Accept semantically equivalent answers.
- Reject unrelated or contradictory answers.
- Keep reason concise and topic-grounded (max 160 characters).
- confidence must be a numeric literal, not a string.
- Return JSON only.`)
	return gradingSystemPrompt, b.String()
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
