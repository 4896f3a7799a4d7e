package quiz

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aniketshedge/quiz-me-app/internal/llm"
	"github.com/aniketshedge/quiz-me-app/internal/wiki"
)

func testArticle() *wiki.Article {
	return &wiki.Article{
		Title:   "Python",
		PageID:  1,
		URL:     "https://example.com",
		Summary: "Python summary",
		Extract: "Python extract",
	}
}

func validQuiz() *Quiz {
	qz := &Quiz{
		QuizID: "quiz-1",
		Topic:  "Demo",
		Source: Source{WikipediaTitle: "Demo", WikipediaURL: "https://example.com", PageID: 1, ExtractUsed: "context"},
	}
	opts := []Option{{"a", "A"}, {"b", "B"}, {"c", "C"}, {"d", "D"}}
	for i := 1; i <= 10; i++ {
		qz.Questions = append(qz.Questions, Question{
			ID: fmt.Sprintf("q%02d", i), Type: TypeMCQSingle,
			Stem: "Question stem long enough", Explanation: "Explanation long enough",
			Options: opts, CorrectOptionIDs: []string{"a"},
			DistractorFeedback: map[string]string{"b": "x", "c": "x", "d": "x"},
		})
	}
	for i := 11; i <= 12; i++ {
		qz.Questions = append(qz.Questions, Question{
			ID: fmt.Sprintf("q%02d", i), Type: TypeMCQMulti,
			Stem: "Question stem long enough", Explanation: "Explanation long enough",
			Options: opts, CorrectOptionIDs: []string{"a", "b"},
			DistractorFeedback: map[string]string{"c": "x", "d": "x"},
		})
	}
	for i := 13; i <= 15; i++ {
		qz.Questions = append(qz.Questions, Question{
			ID: fmt.Sprintf("q%02d", i), Type: TypeShortText,
			Stem: "Question stem long enough", Explanation: "Explanation long enough",
			ExpectedAnswers: []string{" answer ", "  "}, GradingContext: "context",
		})
	}
	return qz
}

func TestQuizValidate_Distribution(t *testing.T) {
	qz := validQuiz()
	require.NoError(t, qz.Validate())
	assert.Equal(t, []string{"answer"}, qz.Question("q13").ExpectedAnswers, "expected answers are trimmed")
}

func TestQuizValidate_Failures(t *testing.T) {
	tests := map[string]struct {
		mutate func(*Quiz)
		want   string
	}{
		"too few questions": {func(q *Quiz) { q.Questions = q.Questions[:14] }, "exactly 15 questions"},
		"duplicate ids":     {func(q *Quiz) { q.Questions[1].ID = "q01" }, "unique"},
		"wrong split": {func(q *Quiz) {
			q.Questions[0] = q.Questions[10]
			q.Questions[0].ID = "q01"
		}, "10 mcq_single"},
		"unknown correct id":     {func(q *Quiz) { q.Questions[0].CorrectOptionIDs = []string{"z"} }, "must exist in options"},
		"feedback key not option": {func(q *Quiz) { q.Questions[0].DistractorFeedback["z"] = "x" }, "distractor_feedback keys"},
		"single with two correct": {func(q *Quiz) { q.Questions[0].CorrectOptionIDs = []string{"a", "b"} }, "correct_option_ids"},
		"multi with one correct":  {func(q *Quiz) { q.Questions[10].CorrectOptionIDs = []string{"a"} }, "correct_option_ids"},
		"single with five options": {func(q *Quiz) {
			q.Questions[0].Options = append(append([]Option(nil), q.Questions[0].Options...), Option{"e", "E"})
		}, "options"},
		"blank expected answers": {func(q *Quiz) { q.Questions[12].ExpectedAnswers = []string{" ", ""} }, "non-empty"},
		"short stem":             {func(q *Quiz) { q.Questions[3].Stem = "Why?" }, "stem length"},
		"unknown type":           {func(q *Quiz) { q.Questions[3].Type = "essay" }, "unknown question type"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			qz := validQuiz()
			tt.mutate(qz)
			err := qz.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMockQuizIsValid(t *testing.T) {
	b := NewBuilder(llm.NewManager(llm.Options{}), Config{AllowMock: true, SummaryTargetChars: 8})

	qz, provider, err := b.BuildQuiz(context.Background(), "Python", testArticle())
	require.NoError(t, err)
	assert.Equal(t, MockProvider, provider)
	assert.True(t, strings.HasPrefix(qz.QuizID, "quiz-"))
	assert.Len(t, qz.QuizID, len("quiz-")+10)
	assert.Equal(t, "Python e", qz.Source.ExtractUsed)
	require.NoError(t, qz.Validate())
	assert.Equal(t, []string{"Python", "Python"}, qz.Question("q15").ExpectedAnswers)
}

func TestBuildQuiz_NoProviderWithoutMock(t *testing.T) {
	b := NewBuilder(llm.NewManager(llm.Options{}), Config{AllowMock: false})

	_, _, err := b.BuildQuiz(context.Background(), "Python", testArticle())
	require.Error(t, err)
	assert.Equal(t, llm.CategoryServerError, llm.CategoryOf(err))
}

func newManager(p *llm.MockProvider) *llm.Manager {
	return llm.NewManager(llm.Options{
		Providers: map[string]llm.Provider{p.Name(): p},
		Order:     []string{p.Name()},
		Failover:  llm.NewFailoverPolicy([]string{"all"}),
	})
}

func TestBuildQuiz_UsesProvider(t *testing.T) {
	raw, err := json.Marshal(validQuiz())
	require.NoError(t, err)

	p := llm.NewMockProvider("openai", llm.MockResponse{Text: "```json\n" + string(raw) + "\n```"})
	b := NewBuilder(newManager(p), Config{AllowMock: true})

	qz, provider, err := b.BuildQuiz(context.Background(), "Demo", testArticle())
	require.NoError(t, err)
	assert.Equal(t, "openai", provider)
	assert.Len(t, qz.Questions, QuestionCount)

	call := p.Calls[0]
	assert.Equal(t, TaskQuizGeneration, call.Task)
	assert.Equal(t, generationSystemPrompt, call.SystemPrompt)
	assert.Contains(t, call.UserPrompt, "Wikipedia page_id: 1")
	assert.True(t, strings.HasSuffix(call.UserPrompt, "Extract:\nPython extract"))
	assert.Equal(t, QuizSchema.Definition, call.Schema)
}

func TestBuildQuiz_ForceMockSkipsProviders(t *testing.T) {
	p := llm.NewMockProvider("openai")
	b := NewBuilder(newManager(p), Config{ForceMock: true})

	_, provider, err := b.BuildQuiz(context.Background(), "Demo", testArticle())
	require.NoError(t, err)
	assert.Equal(t, MockProvider, provider)
	assert.Zero(t, p.CallCount())
}

func TestQuizSchemaRejectsMalformedQuiz(t *testing.T) {
	bad := validQuiz()
	bad.Questions[0].Options = nil
	raw, err := json.Marshal(bad)
	require.NoError(t, err)

	p := llm.NewMockProvider("openai",
		llm.MockResponse{Text: string(raw)},
		llm.MockResponse{Text: string(raw)},
	)
	b := NewBuilder(newManager(p), Config{})

	_, _, err = b.BuildQuiz(context.Background(), "Demo", testArticle())
	assert.Equal(t, llm.CategoryInvalidJSON, llm.CategoryOf(err))
	assert.Equal(t, TaskQuizGeneration+"_repair", p.Calls[1].Task)
}

func TestQuizSchemaTranslatesForGemini(t *testing.T) {
	out, err := json.Marshal(llm.GeminiSchema(QuizSchema.Definition))
	require.NoError(t, err)
	assert.NotContains(t, string(out), "$ref")
	assert.NotContains(t, string(out), "$defs")
	assert.Contains(t, string(out), `"nullable":true`)
}

func TestGradeShortAnswer(t *testing.T) {
	q := &Question{
		ID: "q13", Type: TypeShortText, Stem: "Name the language.",
		ExpectedAnswers: []string{"Python  Language"}, GradingContext: "ctx",
	}

	t.Run("normalized exact match", func(t *testing.T) {
		p := llm.NewMockProvider("openai")
		b := NewBuilder(newManager(p), Config{})
		got := b.GradeShortAnswer(context.Background(), q, "  python language ", "Python", "")
		assert.True(t, got.IsCorrect)
		assert.Equal(t, 1.0, got.Confidence)
		assert.Zero(t, p.CallCount())
	})

	t.Run("mock mode", func(t *testing.T) {
		b := NewBuilder(llm.NewManager(llm.Options{}), Config{AllowMock: true})
		got := b.GradeShortAnswer(context.Background(), q, "snake", "Python", "")
		assert.False(t, got.IsCorrect)
		assert.Equal(t, 0.3, got.Confidence)
	})

	t.Run("model verdict", func(t *testing.T) {
		p := llm.NewMockProvider("openai", llm.MockResponse{Text: `{"is_correct":true,"reason":"Equivalent.","confidence":0.9}`})
		b := NewBuilder(newManager(p), Config{})
		got := b.GradeShortAnswer(context.Background(), q, "the python programming language", "Python", strings.Repeat("s", 5000))
		assert.True(t, got.IsCorrect)
		assert.Equal(t, 0.9, got.Confidence)
		assert.Equal(t, TaskShortGrading, p.Calls[0].Task)
		assert.Contains(t, p.Calls[0].UserPrompt, `Expected answers: ["Python  Language"]`)
		assert.Contains(t, p.Calls[0].UserPrompt, "Source context: "+strings.Repeat("s", maxGradingSourceChars)+"\n")
	})

	t.Run("grader failure", func(t *testing.T) {
		p := llm.NewMockProvider("openai", llm.MockResponse{Err: &llm.Error{Category: llm.CategoryTimeout, Message: "slow"}})
		b := NewBuilder(newManager(p), Config{})
		got := b.GradeShortAnswer(context.Background(), q, "snake", "Python", "")
		assert.False(t, got.IsCorrect)
		assert.Equal(t, 0.2, got.Confidence)
	})

	t.Run("out of range confidence is repaired", func(t *testing.T) {
		p := llm.NewMockProvider("openai",
			llm.MockResponse{Text: `{"is_correct":true,"reason":"ok","confidence":"high"}`},
			llm.MockResponse{Text: `{"is_correct":true,"reason":"ok","confidence":0.7}`},
		)
		b := NewBuilder(newManager(p), Config{})
		got := b.GradeShortAnswer(context.Background(), q, "snake", "Python", "")
		assert.Equal(t, 0.7, got.Confidence)
	})
}
