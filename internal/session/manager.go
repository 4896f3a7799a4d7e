package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/aniketshedge/quiz-me-app/internal/quiz"
	"github.com/aniketshedge/quiz-me-app/internal/store"
	"github.com/aniketshedge/quiz-me-app/internal/utils/log"
)

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("session not found")

// Grader grades short_text answers.
type Grader interface {
	GradeShortAnswer(ctx context.Context, q *quiz.Question, answer, topic, sourceExtract string) quiz.ShortGradingResult
}

// Repo persists sessions. store.SessionRepo satisfies it.
type Repo interface {
	Save(ctx context.Context, rec *store.SessionRecord) error
	Load(ctx context.Context, id string) (*store.SessionRecord, error)
	Delete(ctx context.Context, id string) error
}

// Config controls a Manager.
type Config struct {
	// ConfidenceThreshold is the minimum grader confidence for a short
	// answer to count as correct.
	ConfidenceThreshold float64

	// Repo, when set, receives every session change and serves sessions
	// missing from memory.
	Repo Repo
}

// Manager holds the live sessions. It is safe for concurrent use.
type Manager struct {
	grader Grader
	cfg    Config

	mu       sync.RWMutex
	sessions map[string]*Session

	now func() time.Time
}

// NewManager creates a Manager that grades short answers with grader.
func NewManager(grader Grader, cfg Config) *Manager {
	return &Manager{
		grader:   grader,
		cfg:      cfg,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Create starts a session for qz and returns its id.
func (m *Manager) Create(ctx context.Context, topic string, qz *quiz.Quiz) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	s := newSession(id, topic, qz, m.now().UTC())
	m.persist(ctx, s)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return id
}

// Get returns the session with the given id, loading it from the repo
// when it is not in memory.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}
	if m.cfg.Repo == nil {
		return nil, ErrNotFound
	}

	rec, err := m.cfg.Repo.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	loaded := &Session{}
	if err := json.Unmarshal(rec.Payload, loaded); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	if loaded.Quiz == nil {
		return nil, fmt.Errorf("decode session %s: missing quiz", id)
	}
	if loaded.Answers == nil {
		loaded.Answers = make(map[string]*Answer)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	m.sessions[id] = loaded
	return loaded, nil
}

// State returns the client snapshot of a session.
func (m *Manager) State(ctx context.Context, id string) (*State, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state(), nil
}

// Reset discards a session. Unknown ids are ignored.
func (m *Manager) Reset(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	if m.cfg.Repo != nil {
		if err := m.cfg.Repo.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	return nil
}

// Len returns the number of sessions held in memory.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Submit checks an answer and updates the question's attempts, lock and
// feedback. Malformed submissions and locked questions do not consume an
// attempt.
func (m *Manager) Submit(ctx context.Context, id string, sub Submission) (*Result, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.Quiz.Question(sub.QuestionID)
	if q == nil {
		return &Result{Status: StatusInvalid, Feedback: "Question not found."}, nil
	}
	a, ok := s.Answers[q.ID]
	if !ok {
		a = &Answer{QuestionID: q.ID}
		s.Answers[q.ID] = a
	}

	if a.Locked {
		feedback := "Question is locked."
		if a.Feedback != nil && *a.Feedback != "" {
			feedback = *a.Feedback
		}
		return &Result{
			Status:            StatusLocked,
			AttemptsUsed:      a.AttemptsUsed,
			AttemptsRemaining: a.attemptsRemaining(),
			IsCorrect:         a.IsCorrect,
			Locked:            true,
			Feedback:          feedback,
		}, nil
	}

	invalid := func(msg string) *Result {
		return &Result{
			Status:            StatusInvalid,
			AttemptsUsed:      a.AttemptsUsed,
			AttemptsRemaining: a.attemptsRemaining(),
			Feedback:          msg,
		}
	}

	var (
		correct  bool
		feedback string
	)
	switch q.Type {
	case quiz.TypeMCQSingle:
		if len(sub.SelectedOptionIDs) != 1 {
			return invalid("Select exactly one option."), nil
		}
		correct, feedback = checkSingle(q, sub.SelectedOptionIDs[0])
		a.SelectedOptionIDs = slices.Clone(sub.SelectedOptionIDs)

	case quiz.TypeMCQMulti:
		selected := lo.Uniq(sub.SelectedOptionIDs)
		slices.Sort(selected)
		if len(selected) == 0 {
			return invalid("Select one or more options."), nil
		}
		correct, feedback = checkMulti(q, selected)
		a.SelectedOptionIDs = selected

	case quiz.TypeShortText:
		answer := ""
		if sub.ShortAnswer != nil {
			answer = strings.TrimSpace(*sub.ShortAnswer)
		}
		if answer == "" {
			return invalid("Enter a short answer before checking."), nil
		}
		grade := m.grader.GradeShortAnswer(ctx, q, answer, s.Topic, s.Quiz.Source.ExtractUsed)
		correct = grade.IsCorrect && grade.Confidence >= m.cfg.ConfidenceThreshold
		if correct {
			feedback = grade.Reason
		} else {
			feedback = safeIncorrectFeedback(grade.Reason, q.ExpectedAnswers)
		}
		a.ShortAnswer = &answer

	default:
		return &Result{
			Status:            StatusError,
			AttemptsUsed:      a.AttemptsUsed,
			AttemptsRemaining: a.attemptsRemaining(),
			Feedback:          "Unsupported question type.",
		}, nil
	}

	a.AttemptsUsed++
	a.IsCorrect = correct
	if correct || a.AttemptsUsed >= MaxAttempts {
		a.Locked = true
	}
	a.Feedback = &feedback
	s.UpdatedAt = m.now().UTC()

	m.persist(ctx, s)

	return &Result{
		Status:            StatusAccepted,
		AttemptsUsed:      a.AttemptsUsed,
		AttemptsRemaining: a.attemptsRemaining(),
		IsCorrect:         a.IsCorrect,
		Locked:            a.Locked,
		Feedback:          feedback,
	}, nil
}

func checkSingle(q *quiz.Question, chosen string) (bool, string) {
	if lo.Contains(q.CorrectOptionIDs, chosen) {
		return true, "Correct answer."
	}
	raw, ok := q.DistractorFeedback[chosen]
	if !ok {
		raw = "That option is not correct for this question."
	}
	sensitive := append(slices.Clone(q.CorrectOptionIDs), q.CorrectOptionTexts()...)
	return false, safeIncorrectFeedback(raw, sensitive)
}

// checkMulti compares the sorted, de-duplicated selection with the correct
// set. Feedback comes from the first wrongly selected option that has any.
func checkMulti(q *quiz.Question, selected []string) (bool, string) {
	expected := lo.Uniq(q.CorrectOptionIDs)
	slices.Sort(expected)
	if slices.Equal(selected, expected) {
		return true, "Correct answer set selected."
	}

	sensitive := append(slices.Clone(expected), q.CorrectOptionTexts()...)
	for _, id := range selected {
		if lo.Contains(expected, id) {
			continue
		}
		if fb := q.DistractorFeedback[id]; fb != "" {
			return false, safeIncorrectFeedback(fb, sensitive)
		}
	}
	return false, safeIncorrectFeedback("The selected set is not correct. Review and try again.", sensitive)
}

// persist writes s through to the repo. The in-memory session stays
// authoritative when the write fails.
func (m *Manager) persist(ctx context.Context, s *Session) {
	if m.cfg.Repo == nil {
		return
	}
	payload, err := json.Marshal(s)
	if err != nil {
		log.Errorf("encode session %s: %v", s.ID, err)
		return
	}
	rec := &store.SessionRecord{
		ID:        s.ID,
		Topic:     s.Topic,
		Payload:   payload,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	if err := m.cfg.Repo.Save(ctx, rec); err != nil {
		log.Warnf("persist session %s: %v", s.ID, err)
	}
}
