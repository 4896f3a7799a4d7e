package quiz

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/aniketshedge/quiz-me-app/internal/llm"
	"github.com/aniketshedge/quiz-me-app/internal/utils/log"
	"github.com/aniketshedge/quiz-me-app/internal/wiki"
)

// Task labels of the LLM calls made by the builder.
const (
	TaskQuizGeneration = "quiz_generation"
	TaskShortGrading   = "short_grading"
)

// MockProvider is reported as the provider of locally generated quizzes.
const MockProvider = "mock"

// Config controls the Builder.
type Config struct {
	// AllowMock permits a locally generated quiz when no provider is
	// configured.
	AllowMock bool

	// ForceMock always uses the local quiz and grading fallbacks.
	ForceMock bool

	// SummaryTargetChars bounds the extract stored in mock quiz sources.
	SummaryTargetChars int
}

// Builder generates quizzes and grades short answers.
type Builder struct {
	llm *llm.Manager
	cfg Config
}

// NewBuilder creates a Builder backed by the given manager.
func NewBuilder(m *llm.Manager, cfg Config) *Builder {
	return &Builder{llm: m, cfg: cfg}
}

// MockMode reports whether the builder answers without calling providers.
func (b *Builder) MockMode() bool {
	return b.cfg.ForceMock || !b.llm.AnyProviderConfigured()
}

// BuildQuiz generates a quiz for topic from article and returns it with
// the name of the provider that produced it.
func (b *Builder) BuildQuiz(ctx context.Context, topic string, article *wiki.Article) (*Quiz, string, error) {
	if b.MockMode() {
		if b.cfg.ForceMock || b.cfg.AllowMock {
			return b.mockQuiz(topic, article), MockProvider, nil
		}
		return nil, "", &llm.Error{Category: llm.CategoryServerError, Message: "No LLM providers are configured"}
	}

	system, user := buildGenerationPrompt(topic, article)
	q, provider, err := llm.CompleteJSON[Quiz](ctx, b.llm, TaskQuizGeneration, system, user, QuizSchema)
	if err != nil {
		return nil, "", err
	}
	log.Infof("quiz %s generated by %s for %q", q.QuizID, provider, topic)
	return &q, provider, nil
}

var whitespace = regexp.MustCompile(`\s+`)

func normalizeAnswer(s string) string {
	return whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}

// GradeShortAnswer grades a learner's answer to a short_text question.
// An exact normalized match is always correct; otherwise the grading model
// decides, and any failure yields a low-confidence incorrect verdict.
func (b *Builder) GradeShortAnswer(ctx context.Context, q *Question, answer, topic, sourceExtract string) ShortGradingResult {
	normalized := normalizeAnswer(answer)
	expected := lo.Map(q.ExpectedAnswers, func(a string, _ int) string { return normalizeAnswer(a) })
	if lo.Contains(expected, normalized) {
		return ShortGradingResult{
			IsCorrect:  true,
			Reason:     "Your answer matches an accepted expected answer.",
			Confidence: 1.0,
		}
	}

	if b.MockMode() {
		return ShortGradingResult{
			IsCorrect:  false,
			Reason:     "Answer does not match expected concepts in mock mode.",
			Confidence: 0.3,
		}
	}

	system, user := buildGradingPrompt(q, answer, topic, sourceExtract)
	result, _, err := llm.CompleteJSON[ShortGradingResult](ctx, b.llm, TaskShortGrading, system, user, ShortGradingSchema)
	if err != nil {
		log.Warnf("short answer grading failed: %v", err)
		return ShortGradingResult{
			IsCorrect:  false,
			Reason:     "Could not confirm answer as correct with available grading service.",
			Confidence: 0.2,
		}
	}
	return result
}

func (b *Builder) mockQuiz(topic string, article *wiki.Article) *Quiz {
	extract := article.Extract
	if b.cfg.SummaryTargetChars > 0 {
		extract = truncateRunes(extract, b.cfg.SummaryTargetChars)
	}

	qz := &Quiz{
		QuizID: "quiz-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10],
		Topic:  topic,
		Source: Source{
			WikipediaTitle: article.Title,
			WikipediaURL:   article.URL,
			PageID:         article.PageID,
			ExtractUsed:    extract,
			ImageURL:       article.ImageURL,
			ImageCaption:   article.ImageCaption,
		},
	}

	ids := []string{"a", "b", "c", "d"}
	for i := 1; i <= MCQSingleCount; i++ {
		correct := ids[rand.IntN(len(ids))]
		feedback := map[string]string{}
		for _, id := range lo.Without(ids, correct) {
			feedback[id] = fmt.Sprintf("This choice is not aligned with the source context for question %d.", i)
		}
		qz.Questions = append(qz.Questions, Question{
			ID:          fmt.Sprintf("q%02d", i),
			Type:        TypeMCQSingle,
			Stem:        fmt.Sprintf("Which statement is most supported by the article about %s?", article.Title),
			Explanation: "The correct option best matches the article context.",
			Options: lo.Map(ids, func(id string, _ int) Option {
				return Option{ID: id, Text: fmt.Sprintf("%s fact %s %d", article.Title, strings.ToUpper(id), i)}
			}),
			CorrectOptionIDs:   []string{correct},
			DistractorFeedback: feedback,
		})
	}

	for i := MCQSingleCount + 1; i <= MCQSingleCount+MCQMultiCount; i++ {
		unsupported := "This statement is not supported by the article."
		qz.Questions = append(qz.Questions, Question{
			ID:          fmt.Sprintf("q%02d", i),
			Type:        TypeMCQMulti,
			Stem:        fmt.Sprintf("Select all statements that align with the article on %s.", article.Title),
			Explanation: "Multiple answers are correct for this question.",
			Options: []Option{
				{ID: "a", Text: "Supported point 1"},
				{ID: "b", Text: "Supported point 2"},
				{ID: "c", Text: "Unsupported point 1"},
				{ID: "d", Text: "Unsupported point 2"},
				{ID: "e", Text: "Unsupported point 3"},
			},
			CorrectOptionIDs:   []string{"a", "b"},
			DistractorFeedback: map[string]string{"c": unsupported, "d": unsupported, "e": unsupported},
		})
	}

	gradingContext := truncateRunes(article.Summary, 500)
	if gradingContext == "" {
		gradingContext = truncateRunes(article.Extract, 500)
	}
	for i := MCQSingleCount + MCQMultiCount + 1; i <= QuestionCount; i++ {
		qz.Questions = append(qz.Questions, Question{
			ID:              fmt.Sprintf("q%02d", i),
			Type:            TypeShortText,
			Stem:            fmt.Sprintf("In 1-5 words, name one key idea associated with %s.", article.Title),
			Explanation:     "A short factual concept from the article is expected.",
			ExpectedAnswers: []string{article.Title, topic},
			GradingContext:  gradingContext,
		})
	}
	return qz
}
