package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aniketshedge/quiz-me-app/internal/quiz"
	"github.com/aniketshedge/quiz-me-app/internal/store"
)

type fakeGrader struct {
	result quiz.ShortGradingResult
	calls  int
}

func (g *fakeGrader) GradeShortAnswer(_ context.Context, _ *quiz.Question, _, _, _ string) quiz.ShortGradingResult {
	g.calls++
	return g.result
}

func testQuiz() *quiz.Quiz {
	opts := []quiz.Option{
		{ID: "a", Text: "Mercury"},
		{ID: "b", Text: "Venus"},
		{ID: "c", Text: "Mars"},
		{ID: "d", Text: "Jupiter"},
	}
	return &quiz.Quiz{
		QuizID: "quiz-1",
		Topic:  "Planets",
		Source: quiz.Source{WikipediaTitle: "Planet", ExtractUsed: "Planets orbit stars."},
		Questions: []quiz.Question{
			{
				ID: "q01", Type: quiz.TypeMCQSingle, Stem: "Closest planet to the Sun?",
				Options: opts, CorrectOptionIDs: []string{"a"},
				DistractorFeedback: map[string]string{
					"b": "Venus is second.",
					"c": "Think of the planet named Mercury.",
				},
			},
			{
				ID: "q02", Type: quiz.TypeMCQMulti, Stem: "Which are rocky planets?",
				Options: opts, CorrectOptionIDs: []string{"c", "a"},
				DistractorFeedback: map[string]string{"d": "Jupiter is a gas giant."},
			},
			{
				ID: "q03", Type: quiz.TypeShortText, Stem: "Name the red planet.",
				ExpectedAnswers: []string{"Mars"}, GradingContext: "Mars is red.",
			},
		},
	}
}

func newTestManager(g Grader) *Manager {
	return NewManager(g, Config{ConfidenceThreshold: 0.6})
}

func strPtr(s string) *string { return &s }

func TestSubmit_SingleCorrectLocks(t *testing.T) {
	m := newTestManager(&fakeGrader{})
	ctx := context.Background()
	id := m.Create(ctx, "Planets", testQuiz())

	res, err := m.Submit(ctx, id, Submission{QuestionID: "q01", SelectedOptionIDs: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, &Result{
		Status:            StatusAccepted,
		AttemptsUsed:      1,
		AttemptsRemaining: 2,
		IsCorrect:         true,
		Locked:            true,
		Feedback:          "Correct answer.",
	}, res)

	again, err := m.Submit(ctx, id, Submission{QuestionID: "q01", SelectedOptionIDs: []string{"b"}})
	require.NoError(t, err)
	assert.Equal(t, StatusLocked, again.Status)
	assert.True(t, again.IsCorrect)
	assert.Equal(t, "Correct answer.", again.Feedback)
	assert.Equal(t, 1, again.AttemptsUsed)
}

func TestSubmit_SingleExhaustsAttempts(t *testing.T) {
	m := newTestManager(&fakeGrader{})
	ctx := context.Background()
	id := m.Create(ctx, "Planets", testQuiz())

	var res *Result
	for i := 0; i < MaxAttempts; i++ {
		var err error
		res, err = m.Submit(ctx, id, Submission{QuestionID: "q01", SelectedOptionIDs: []string{"b"}})
		require.NoError(t, err)
		assert.Equal(t, StatusAccepted, res.Status)
		assert.Equal(t, "Venus is second.", res.Feedback)
	}
	assert.True(t, res.Locked)
	assert.False(t, res.IsCorrect)
	assert.Zero(t, res.AttemptsRemaining)
}

func TestSubmit_SingleFeedbackNeverLeaks(t *testing.T) {
	m := newTestManager(&fakeGrader{})
	ctx := context.Background()
	id := m.Create(ctx, "Planets", testQuiz())

	res, err := m.Submit(ctx, id, Submission{QuestionID: "q01", SelectedOptionIDs: []string{"c"}})
	require.NoError(t, err)
	assert.Equal(t, GenericIncorrectFeedback, res.Feedback, "feedback naming the correct option text is replaced")

	res, err = m.Submit(ctx, id, Submission{QuestionID: "q01", SelectedOptionIDs: []string{"d"}})
	require.NoError(t, err)
	assert.Equal(t, "That option is not correct for this question.", res.Feedback)
}

func TestSubmit_InvalidDoesNotConsumeAttempts(t *testing.T) {
	m := newTestManager(&fakeGrader{})
	ctx := context.Background()
	id := m.Create(ctx, "Planets", testQuiz())

	tests := []struct {
		sub  Submission
		want string
	}{
		{Submission{QuestionID: "q01", SelectedOptionIDs: []string{"a", "b"}}, "Select exactly one option."},
		{Submission{QuestionID: "q02"}, "Select one or more options."},
		{Submission{QuestionID: "q03", ShortAnswer: strPtr("   ")}, "Enter a short answer before checking."},
		{Submission{QuestionID: "q99"}, "Question not found."},
	}
	for _, tt := range tests {
		res, err := m.Submit(ctx, id, tt.sub)
		require.NoError(t, err)
		assert.Equal(t, StatusInvalid, res.Status)
		assert.Equal(t, tt.want, res.Feedback)
		assert.Zero(t, res.AttemptsUsed)
	}

	st, err := m.State(ctx, id)
	require.NoError(t, err)
	for _, a := range st.Answers {
		assert.Zero(t, a.AttemptsUsed)
	}
}

func TestSubmit_Multi(t *testing.T) {
	m := newTestManager(&fakeGrader{})
	ctx := context.Background()
	id := m.Create(ctx, "Planets", testQuiz())

	res, err := m.Submit(ctx, id, Submission{QuestionID: "q02", SelectedOptionIDs: []string{"a", "d"}})
	require.NoError(t, err)
	assert.False(t, res.IsCorrect)
	assert.Equal(t, "Jupiter is a gas giant.", res.Feedback)

	res, err = m.Submit(ctx, id, Submission{QuestionID: "q02", SelectedOptionIDs: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, "The selected set is not correct. Review and try again.", res.Feedback)

	res, err = m.Submit(ctx, id, Submission{QuestionID: "q02", SelectedOptionIDs: []string{"c", "a", "c"}})
	require.NoError(t, err)
	assert.True(t, res.IsCorrect)
	assert.True(t, res.Locked)
	assert.Equal(t, "Correct answer set selected.", res.Feedback)

	st, err := m.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, st.Answers["q02"].SelectedOptionIDs)
}

func TestSubmit_ShortText(t *testing.T) {
	tests := map[string]struct {
		grade       quiz.ShortGradingResult
		wantCorrect bool
		wantFB      string
	}{
		"confident correct": {
			grade:       quiz.ShortGradingResult{IsCorrect: true, Reason: "Right, the red planet.", Confidence: 0.9},
			wantCorrect: true,
			wantFB:      "Right, the red planet.",
		},
		"below threshold": {
			grade:  quiz.ShortGradingResult{IsCorrect: true, Reason: "Probably fine.", Confidence: 0.5},
			wantFB: "Probably fine.",
		},
		"reason leaks answer": {
			grade:  quiz.ShortGradingResult{IsCorrect: false, Reason: "It is Mars, not Venus.", Confidence: 0.9},
			wantFB: GenericIncorrectFeedback,
		},
		"reason reveals pattern": {
			grade:  quiz.ShortGradingResult{IsCorrect: false, Reason: "The answer should be a planet name.", Confidence: 0.9},
			wantFB: GenericIncorrectFeedback,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			g := &fakeGrader{result: tt.grade}
			m := newTestManager(g)
			ctx := context.Background()
			id := m.Create(ctx, "Planets", testQuiz())

			res, err := m.Submit(ctx, id, Submission{QuestionID: "q03", ShortAnswer: strPtr("  venus ")})
			require.NoError(t, err)
			assert.Equal(t, 1, g.calls)
			assert.Equal(t, tt.wantCorrect, res.IsCorrect)
			assert.Equal(t, tt.wantCorrect, res.Locked)
			assert.Equal(t, tt.wantFB, res.Feedback)

			st, err := m.State(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "venus", *st.Answers["q03"].ShortAnswer)
		})
	}
}

func TestState(t *testing.T) {
	m := newTestManager(&fakeGrader{})
	ctx := context.Background()
	id := m.Create(ctx, "Planets", testQuiz())

	st, err := m.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, st.SessionID)
	assert.Equal(t, 3, st.TotalQuestions)
	assert.Zero(t, st.CurrentIndex)
	assert.Equal(t, MaxAttempts, st.Answers["q01"].AttemptsRemaining)

	_, err = m.Submit(ctx, id, Submission{QuestionID: "q01", SelectedOptionIDs: []string{"a"}})
	require.NoError(t, err)
	st, err = m.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Score)
	assert.Equal(t, 1, st.CorrectCount)
	assert.Equal(t, 1, st.CurrentIndex)

	_, err = m.Submit(ctx, id, Submission{QuestionID: "q02", SelectedOptionIDs: []string{"a", "c"}})
	require.NoError(t, err)
	for i := 0; i < MaxAttempts; i++ {
		_, err = m.Submit(ctx, id, Submission{QuestionID: "q03", ShortAnswer: strPtr("venus")})
		require.NoError(t, err)
	}
	st, err = m.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Score)
	assert.Equal(t, 2, st.CurrentIndex, "all locked points at the last question")
}

func TestUnknownSession(t *testing.T) {
	m := newTestManager(&fakeGrader{})
	ctx := context.Background()

	_, err := m.State(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Submit(ctx, "nope", Submission{QuestionID: "q01"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, m.Reset(ctx, "nope"))
}

func TestReset(t *testing.T) {
	m := newTestManager(&fakeGrader{})
	ctx := context.Background()
	id := m.Create(ctx, "Planets", testQuiz())
	require.Equal(t, 1, m.Len())

	require.NoError(t, m.Reset(ctx, id))
	assert.Zero(t, m.Len())
	_, err := m.State(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepoWriteThrough(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	first := NewManager(&fakeGrader{}, Config{ConfidenceThreshold: 0.6, Repo: s.SessionRepo()})
	id := first.Create(ctx, "Planets", testQuiz())
	_, err = first.Submit(ctx, id, Submission{QuestionID: "q01", SelectedOptionIDs: []string{"b"}})
	require.NoError(t, err)

	// A fresh manager over the same database picks the session up.
	second := NewManager(&fakeGrader{}, Config{ConfidenceThreshold: 0.6, Repo: s.SessionRepo()})
	st, err := second.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Planets", st.Quiz.Topic)
	assert.Equal(t, 1, st.Answers["q01"].AttemptsUsed)
	assert.Equal(t, []string{"b"}, st.Answers["q01"].SelectedOptionIDs)
	require.NotNil(t, st.Answers["q01"].Feedback)
	assert.Equal(t, "Venus is second.", *st.Answers["q01"].Feedback)

	require.NoError(t, second.Reset(ctx, id))
	third := NewManager(&fakeGrader{}, Config{Repo: s.SessionRepo()})
	_, err = third.State(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRevealsAnswer(t *testing.T) {
	tests := []struct {
		feedback  string
		sensitive []string
		want      bool
	}{
		{"", nil, true},
		{"The correct answer is elsewhere.", nil, true},
		{"Option B is correct here.", nil, true},
		{"Your response does not match.", nil, true},
		{"Think about orbital distance.", []string{"a", "Mercury"}, false},
		{"Think about Mercury.", []string{"Mercury"}, true},
		{"A planet with rings.", []string{"a"}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, revealsAnswer(tt.feedback, tt.sensitive), tt.feedback)
	}
}
