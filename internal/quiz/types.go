package quiz

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
)

// QuestionType discriminates the three question shapes.
type QuestionType string

const (
	TypeMCQSingle QuestionType = "mcq_single"
	TypeMCQMulti  QuestionType = "mcq_multi"
	TypeShortText QuestionType = "short_text"
)

// Required question distribution of every quiz.
const (
	QuestionCount  = 15
	MCQSingleCount = 10
	MCQMultiCount  = 2
	ShortTextCount = 3
)

// Quiz is a generated quiz grounded in one Wikipedia article.
type Quiz struct {
	QuizID    string     `json:"quiz_id"`
	Topic     string     `json:"topic"`
	Source    Source     `json:"source"`
	Questions []Question `json:"questions"`
}

// Source describes the article a quiz was generated from.
type Source struct {
	WikipediaTitle string  `json:"wikipedia_title"`
	WikipediaURL   string  `json:"wikipedia_url"`
	PageID         int     `json:"page_id"`
	ExtractUsed    string  `json:"extract_used"`
	ImageURL       *string `json:"image_url"`
	ImageCaption   *string `json:"image_caption"`
}

// Option is one choice of a multiple-choice question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is a single quiz question. The fields used depend on Type:
// MCQ questions carry options, correct ids and distractor feedback;
// short_text questions carry expected answers and grading context.
type Question struct {
	ID          string       `json:"id"`
	Type        QuestionType `json:"type"`
	Stem        string       `json:"stem"`
	Explanation string       `json:"explanation"`

	Options            []Option          `json:"options,omitempty"`
	CorrectOptionIDs   []string          `json:"correct_option_ids,omitempty"`
	DistractorFeedback map[string]string `json:"distractor_feedback,omitempty"`

	ExpectedAnswers []string `json:"expected_answers,omitempty"`
	GradingContext  string   `json:"grading_context,omitempty"`
}

// IsMCQ reports whether the question is answered by selecting options.
func (q *Question) IsMCQ() bool {
	return q.Type == TypeMCQSingle || q.Type == TypeMCQMulti
}

// OptionIDs returns the ids of the question's options in order.
func (q *Question) OptionIDs() []string {
	return lo.Map(q.Options, func(o Option, _ int) string { return o.ID })
}

// CorrectOptionTexts returns the texts of the correct options.
func (q *Question) CorrectOptionTexts() []string {
	return lo.FilterMap(q.Options, func(o Option, _ int) (string, bool) {
		return o.Text, lo.Contains(q.CorrectOptionIDs, o.ID)
	})
}

// Question returns the question with the given id, or nil.
func (qz *Quiz) Question(id string) *Question {
	for i := range qz.Questions {
		if qz.Questions[i].ID == id {
			return &qz.Questions[i]
		}
	}
	return nil
}

// Validate enforces the quiz business rules: 15 questions split 10/2/3 by
// type, unique ids and well-formed questions. Expected answers are trimmed
// and blank entries dropped in place.
func (qz *Quiz) Validate() error {
	if len(qz.Questions) != QuestionCount {
		return fmt.Errorf("quiz must contain exactly %d questions, got %d", QuestionCount, len(qz.Questions))
	}

	counts := map[QuestionType]int{}
	seen := map[string]bool{}
	for i := range qz.Questions {
		q := &qz.Questions[i]
		if seen[q.ID] {
			return errors.New("question ids must be unique")
		}
		seen[q.ID] = true
		if err := q.Validate(); err != nil {
			return fmt.Errorf("question %s: %w", q.ID, err)
		}
		counts[q.Type]++
	}

	if counts[TypeMCQSingle] != MCQSingleCount {
		return fmt.Errorf("quiz must contain exactly %d mcq_single questions", MCQSingleCount)
	}
	if counts[TypeMCQMulti] != MCQMultiCount {
		return fmt.Errorf("quiz must contain exactly %d mcq_multi questions", MCQMultiCount)
	}
	if counts[TypeShortText] != ShortTextCount {
		return fmt.Errorf("quiz must contain exactly %d short_text questions", ShortTextCount)
	}
	return nil
}

// Validate checks a single question against the rules of its type.
func (q *Question) Validate() error {
	if err := checkLen("id", q.ID, 1, 20); err != nil {
		return err
	}
	if err := checkLen("stem", q.Stem, 5, 2000); err != nil {
		return err
	}
	if err := checkLen("explanation", q.Explanation, 5, 2000); err != nil {
		return err
	}

	switch q.Type {
	case TypeMCQSingle:
		return q.validateMCQ(4, 4, 1, 1)
	case TypeMCQMulti:
		return q.validateMCQ(4, 6, 2, 3)
	case TypeShortText:
		cleaned := lo.FilterMap(q.ExpectedAnswers, func(a string, _ int) (string, bool) {
			a = strings.TrimSpace(a)
			return a, a != ""
		})
		if len(q.ExpectedAnswers) < 1 || len(q.ExpectedAnswers) > 5 {
			return errors.New("short_text expected_answers must have 1 to 5 entries")
		}
		if len(cleaned) == 0 {
			return errors.New("expected_answers must contain non-empty strings")
		}
		q.ExpectedAnswers = cleaned
		return checkLen("grading_context", q.GradingContext, 1, 3000)
	default:
		return fmt.Errorf("unknown question type %q", q.Type)
	}
}

func (q *Question) validateMCQ(minOpts, maxOpts, minCorrect, maxCorrect int) error {
	if n := len(q.Options); n < minOpts || n > maxOpts {
		return fmt.Errorf("%s must have %d to %d options, got %d", q.Type, minOpts, maxOpts, n)
	}
	for _, o := range q.Options {
		if err := checkLen("option id", o.ID, 1, 20); err != nil {
			return err
		}
		if err := checkLen("option text", o.Text, 1, 500); err != nil {
			return err
		}
	}
	if n := len(q.CorrectOptionIDs); n < minCorrect || n > maxCorrect {
		return fmt.Errorf("%s must have %d to %d correct_option_ids, got %d", q.Type, minCorrect, maxCorrect, n)
	}

	ids := q.OptionIDs()
	if missing, _ := lo.Difference(q.CorrectOptionIDs, ids); len(missing) > 0 {
		return fmt.Errorf("%s correct_option_ids must exist in options", q.Type)
	}
	for key := range q.DistractorFeedback {
		if !lo.Contains(ids, key) {
			return fmt.Errorf("%s distractor_feedback keys must exist in options", q.Type)
		}
	}
	return nil
}

func checkLen(field, value string, minLen, maxLen int) error {
	if n := utf8.RuneCountInString(value); n < minLen || n > maxLen {
		return fmt.Errorf("%s length must be between %d and %d, got %d", field, minLen, maxLen, n)
	}
	return nil
}

// ShortGradingResult is the verdict on a learner's short answer.
type ShortGradingResult struct {
	IsCorrect  bool    `json:"is_correct"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// Validate keeps confidence within [0, 1].
func (r ShortGradingResult) Validate() error {
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range [0, 1]", r.Confidence)
	}
	return nil
}
