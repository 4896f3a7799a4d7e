// Package session tracks learners' answers to a generated quiz.
package session

import (
	"sync"
	"time"

	"github.com/aniketshedge/quiz-me-app/internal/quiz"
)

// MaxAttempts is the number of answers allowed per question before it locks.
const MaxAttempts = 3

// Status is the outcome of an answer submission.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusInvalid  Status = "invalid"
	StatusLocked   Status = "locked"
	StatusError    Status = "error"
)

// Answer is the learner's progress on one question.
type Answer struct {
	QuestionID        string   `json:"question_id"`
	AttemptsUsed      int      `json:"attempts_used"`
	IsCorrect         bool     `json:"is_correct"`
	Locked            bool     `json:"locked"`
	SelectedOptionIDs []string `json:"selected_option_ids"`
	ShortAnswer       *string  `json:"short_answer"`
	Feedback          *string  `json:"feedback"`
}

func (a *Answer) attemptsRemaining() int {
	return max(0, MaxAttempts-a.AttemptsUsed)
}

// Session is one learner's run through a quiz.
type Session struct {
	ID        string             `json:"session_id"`
	Topic     string             `json:"topic"`
	Quiz      *quiz.Quiz         `json:"quiz"`
	Answers   map[string]*Answer `json:"answers"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`

	// mu serializes submissions; grading may call out to a model.
	mu sync.Mutex
}

func newSession(id, topic string, qz *quiz.Quiz, now time.Time) *Session {
	s := &Session{
		ID:        id,
		Topic:     topic,
		Quiz:      qz,
		Answers:   make(map[string]*Answer, len(qz.Questions)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, q := range qz.Questions {
		s.Answers[q.ID] = &Answer{QuestionID: q.ID}
	}
	return s
}

// Submission is a learner's answer to one question.
type Submission struct {
	QuestionID        string   `json:"question_id" binding:"required,min=1,max=20"`
	SelectedOptionIDs []string `json:"selected_option_ids" binding:"max=10"`
	ShortAnswer       *string  `json:"short_answer" binding:"omitempty,max=300"`
}

// Result is the outcome of a Submission.
type Result struct {
	Status            Status `json:"status"`
	AttemptsUsed      int    `json:"attempts_used"`
	AttemptsRemaining int    `json:"attempts_remaining"`
	IsCorrect         bool   `json:"is_correct"`
	Locked            bool   `json:"locked"`
	Feedback          string `json:"feedback"`
}

// AnswerState is an Answer with its remaining attempts.
type AnswerState struct {
	Answer
	AttemptsRemaining int `json:"attempts_remaining"`
}

// State is a snapshot of a session for the client.
type State struct {
	SessionID      string                 `json:"session_id"`
	Score          int                    `json:"score"`
	CorrectCount   int                    `json:"correct_count"`
	TotalQuestions int                    `json:"total_questions"`
	CurrentIndex   int                    `json:"current_index"`
	Answers        map[string]AnswerState `json:"answers"`
	Quiz           *quiz.Quiz             `json:"quiz"`
}

// state builds the client snapshot. current_index is the first question
// that is not locked, or the last question once all are locked.
func (s *Session) state() *State {
	st := &State{
		SessionID:      s.ID,
		TotalQuestions: len(s.Quiz.Questions),
		Answers:        make(map[string]AnswerState, len(s.Answers)),
		Quiz:           s.Quiz,
		CurrentIndex:   -1,
	}
	for i, q := range s.Quiz.Questions {
		a, ok := s.Answers[q.ID]
		if !ok {
			a = &Answer{QuestionID: q.ID}
		}
		if a.IsCorrect {
			st.Score++
		}
		st.Answers[q.ID] = AnswerState{Answer: *a, AttemptsRemaining: a.attemptsRemaining()}
		if st.CurrentIndex < 0 && !a.Locked {
			st.CurrentIndex = i
		}
	}
	if st.CurrentIndex < 0 {
		st.CurrentIndex = max(0, len(s.Quiz.Questions)-1)
	}
	st.CorrectCount = st.Score
	return st
}
