package quiz

import "github.com/aniketshedge/quiz-me-app/internal/llm"

func nullableString(description string) map[string]any {
	return map[string]any{
		"anyOf":       []any{map[string]any{"type": "string"}, map[string]any{"type": "null"}},
		"default":     nil,
		"description": description,
	}
}

func boundedString(minLen, maxLen int) map[string]any {
	return map[string]any{"type": "string", "minLength": minLen, "maxLength": maxLen}
}

func questionBase(typ QuestionType, title string) map[string]any {
	return map[string]any{
		"title": title,
		"type":  "object",
		"properties": map[string]any{
			"id":          boundedString(1, 20),
			"type":        map[string]any{"type": "string", "enum": []any{string(typ)}},
			"stem":        boundedString(5, 2000),
			"explanation": boundedString(5, 2000),
		},
		"required": []any{"id", "type", "stem", "explanation"},
	}
}

func mcqQuestion(typ QuestionType, title string, minOpts, maxOpts, minCorrect, maxCorrect int) map[string]any {
	q := questionBase(typ, title)
	props := q["properties"].(map[string]any)
	props["options"] = map[string]any{
		"type":     "array",
		"items":    map[string]any{"$ref": "#/$defs/Option"},
		"minItems": minOpts,
		"maxItems": maxOpts,
	}
	props["correct_option_ids"] = map[string]any{
		"type":     "array",
		"items":    map[string]any{"type": "string"},
		"minItems": minCorrect,
		"maxItems": maxCorrect,
	}
	props["distractor_feedback"] = map[string]any{
		"type":                 "object",
		"additionalProperties": map[string]any{"type": "string"},
		"description":          "Maps each incorrect option id to feedback.",
	}
	q["required"] = append(q["required"].([]any), "options", "correct_option_ids", "distractor_feedback")
	return q
}

func shortTextQuestion() map[string]any {
	q := questionBase(TypeShortText, "ShortTextQuestion")
	props := q["properties"].(map[string]any)
	props["expected_answers"] = map[string]any{
		"type":     "array",
		"items":    map[string]any{"type": "string"},
		"minItems": 1,
		"maxItems": 5,
	}
	props["grading_context"] = boundedString(1, 3000)
	q["required"] = append(q["required"].([]any), "expected_answers", "grading_context")
	return q
}

// QuizSchema is the generic JSON Schema of a generated quiz. Question
// variants live under $defs and are referenced through anyOf; optional
// source fields are [string, null] unions.
var QuizSchema = &llm.Schema{
	Name: "quiz",
	Definition: map[string]any{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"title":   "Quiz",
		"type":    "object",
		"$defs": map[string]any{
			"Option": map[string]any{
				"title": "Option",
				"type":  "object",
				"properties": map[string]any{
					"id":   boundedString(1, 20),
					"text": boundedString(1, 500),
				},
				"required": []any{"id", "text"},
			},
			"QuizSource": map[string]any{
				"title": "QuizSource",
				"type":  "object",
				"properties": map[string]any{
					"wikipedia_title": map[string]any{"type": "string"},
					"wikipedia_url":   map[string]any{"type": "string"},
					"page_id":         map[string]any{"type": "integer"},
					"extract_used":    map[string]any{"type": "string"},
					"image_url":       nullableString("Thumbnail URL of the article, if any."),
					"image_caption":   nullableString("Short description of the article image, if any."),
				},
				"required": []any{"wikipedia_title", "wikipedia_url", "page_id", "extract_used"},
			},
			"MCQSingleQuestion": mcqQuestion(TypeMCQSingle, "MCQSingleQuestion", 4, 4, 1, 1),
			"MCQMultiQuestion":  mcqQuestion(TypeMCQMulti, "MCQMultiQuestion", 4, 6, 2, 3),
			"ShortTextQuestion": shortTextQuestion(),
		},
		"properties": map[string]any{
			"quiz_id": map[string]any{"type": "string"},
			"topic":   map[string]any{"type": "string"},
			"source":  map[string]any{"$ref": "#/$defs/QuizSource"},
			"questions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"anyOf": []any{
						map[string]any{"$ref": "#/$defs/MCQSingleQuestion"},
						map[string]any{"$ref": "#/$defs/MCQMultiQuestion"},
						map[string]any{"$ref": "#/$defs/ShortTextQuestion"},
					},
				},
				"minItems": QuestionCount,
				"maxItems": QuestionCount,
			},
		},
		"required": []any{"quiz_id", "topic", "source", "questions"},
	},
}

// ShortGradingSchema is the JSON Schema of a short answer verdict.
var ShortGradingSchema = &llm.Schema{
	Name: "short_grading",
	Definition: map[string]any{
		"title": "ShortGradingResult",
		"type":  "object",
		"properties": map[string]any{
			"is_correct": map[string]any{"type": "boolean"},
			"reason":     map[string]any{"type": "string"},
			"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		},
		"required": []any{"is_correct", "reason", "confidence"},
	},
}
