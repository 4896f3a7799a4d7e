package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aniketshedge/quiz-me-app/internal/guardrail"
	"github.com/aniketshedge/quiz-me-app/internal/llm"
	"github.com/aniketshedge/quiz-me-app/internal/quiz"
	"github.com/aniketshedge/quiz-me-app/internal/session"
	"github.com/aniketshedge/quiz-me-app/internal/utils/log"
	"github.com/aniketshedge/quiz-me-app/internal/wiki"
)

func (s *Server) registerRoutes() {
	s.engine.GET("/", s.root)

	api := s.engine.Group(s.APIPrefix())
	api.GET("/health", s.health)
	api.POST("/topic/resolve", s.rateLimit(s.cfg.MaxReqPer10Min), s.resolveTopic)
	api.POST("/quiz/create", s.rateLimit(s.cfg.MaxQuizCreationsPer10Min), s.createQuiz)
	api.POST("/quiz/:session_id/answer", s.rateLimit(s.cfg.MaxReqPer10Min), s.submitAnswer)
	api.GET("/quiz/:session_id/state", s.rateLimit(s.cfg.MaxReqPer10Min), s.quizState)
	api.POST("/quiz/:session_id/reset", s.rateLimit(s.cfg.MaxReqPer10Min), s.resetSession)
}

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":     "quiz-me-api",
		"status":   statusOK,
		"api_base": s.APIPrefix(),
	})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": statusOK, "mock_mode": s.cfg.MockMode})
}

// bindJSON decodes the body into v, answering 413 or 400 itself when it
// cannot. invalidStatus is the status field of the 400 body.
func bindJSON(c *gin.Context, v any, invalidStatus string) bool {
	err := c.ShouldBindJSON(v)
	if err == nil {
		return true
	}
	if tooLarge(err) {
		errorJSON(c, http.StatusRequestEntityTooLarge, errPayloadTooLarge)
		return false
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, Message{Status: invalidStatus, Message: err.Error()})
	return false
}

type resolveRequest struct {
	Topic string `json:"topic" binding:"required,min=2,max=200"`
}

// ResolveResponse is the body of a topic resolution.
type ResolveResponse struct {
	Status           string           `json:"status"`
	Message          *string          `json:"message"`
	PrimaryCandidate *wiki.Candidate  `json:"primary_candidate"`
	Alternatives     []wiki.Candidate `json:"alternatives"`
}

const (
	resolveStatusBlocked   = "blocked"
	resolveStatusNoMatch   = "no_match"
	resolveStatusAmbiguous = "ambiguous"
)

func resolveMessage(status, message string) ResolveResponse {
	return ResolveResponse{Status: status, Message: &message}
}

func (s *Server) resolveTopic(c *gin.Context) {
	var req resolveRequest
	if !bindJSON(c, &req, statusError) {
		return
	}
	ctx := c.Request.Context()

	if verdict := s.deps.Guardrail.Classify(ctx, req.Topic); verdict.Decision != guardrail.Allow {
		log.Infof("topic %q blocked (%s): %s", req.Topic, verdict.Decision, verdict.Reason)
		c.JSON(http.StatusOK, resolveMessage(resolveStatusBlocked, "Please try another topic."))
		return
	}

	candidates, err := s.deps.Wiki.ResolveTopic(ctx, req.Topic)
	if err != nil {
		log.Errorf("resolve topic %q: %v", req.Topic, err)
		c.JSON(http.StatusInternalServerError, resolveMessage(statusError, "Could not resolve topic at the moment."))
		return
	}
	if len(candidates) == 0 {
		c.JSON(http.StatusOK, resolveMessage(resolveStatusNoMatch, "No matching Wikipedia article found. Try another topic."))
		return
	}

	c.JSON(http.StatusOK, rankCandidates(candidates))
}

// rankCandidates puts regular articles ahead of disambiguation pages,
// keeping search order within each group, and offers up to five
// alternatives to the first.
func rankCandidates(candidates []wiki.Candidate) ResolveResponse {
	ranked := make([]wiki.Candidate, 0, len(candidates))
	for _, cand := range candidates {
		if !cand.IsDisambiguation {
			ranked = append(ranked, cand)
		}
	}
	for _, cand := range candidates {
		if cand.IsDisambiguation {
			ranked = append(ranked, cand)
		}
	}

	primary := ranked[0]
	resp := ResolveResponse{Status: statusOK, PrimaryCandidate: &primary}
	if alts := ranked[1:min(len(ranked), 6)]; len(alts) > 0 {
		resp.Alternatives = alts
	}
	if primary.IsDisambiguation {
		msg := "Top result is a disambiguation page. Pick a specific alternative."
		resp.Status = resolveStatusAmbiguous
		resp.Message = &msg
	}
	return resp
}

type createRequest struct {
	Topic          string `json:"topic" binding:"required,min=2,max=200"`
	SelectedPageID int    `json:"selected_page_id" binding:"required"`
}

// CreateResponse is the body of a created quiz session.
type CreateResponse struct {
	SessionID string      `json:"session_id"`
	Quiz      *quiz.Quiz  `json:"quiz"`
	Source    quiz.Source `json:"source"`
	Provider  string      `json:"provider"`
}

func (s *Server) createQuiz(c *gin.Context) {
	var req createRequest
	if !bindJSON(c, &req, statusError) {
		return
	}
	ctx := c.Request.Context()

	article, err := s.deps.Wiki.GetArticle(ctx, req.SelectedPageID)
	if err != nil {
		log.Errorf("load article %d: %v", req.SelectedPageID, err)
		errorDetails(c, http.StatusInternalServerError, "Failed to create quiz. Try another topic.", err)
		return
	}

	qz, provider, err := s.deps.Builder.BuildQuiz(ctx, req.Topic, article)
	if err != nil {
		log.Errorf("build quiz for %q: %v", req.Topic, err)
		if llm.IsCategory(err, llm.CategoryInvalidJSON) {
			errorDetails(c, http.StatusBadGateway, "Quiz generation returned invalid schema.", err)
			return
		}
		errorDetails(c, http.StatusInternalServerError, "Failed to create quiz. Try another topic.", err)
		return
	}

	id := s.deps.Sessions.Create(ctx, req.Topic, qz)
	log.Infof("session %s created for %q (%s)", id, req.Topic, provider)
	c.JSON(http.StatusOK, CreateResponse{
		SessionID: id,
		Quiz:      qz,
		Source:    qz.Source,
		Provider:  provider,
	})
}

func (s *Server) submitAnswer(c *gin.Context) {
	var sub session.Submission
	if !bindJSON(c, &sub, string(session.StatusInvalid)) {
		return
	}

	res, err := s.deps.Sessions.Submit(c.Request.Context(), c.Param("session_id"), sub)
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, session.Result{Status: session.StatusError, Feedback: errSessionNotFound})
		return
	}
	if err != nil {
		log.Errorf("submit answer: %v", err)
		errorJSON(c, http.StatusInternalServerError, errInternalServer)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) quizState(c *gin.Context) {
	st, err := s.deps.Sessions.State(c.Request.Context(), c.Param("session_id"))
	if errors.Is(err, session.ErrNotFound) {
		errorJSON(c, http.StatusNotFound, errSessionNotFound)
		return
	}
	if err != nil {
		log.Errorf("session state: %v", err)
		errorJSON(c, http.StatusInternalServerError, errInternalServer)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) resetSession(c *gin.Context) {
	if err := s.deps.Sessions.Reset(c.Request.Context(), c.Param("session_id")); err != nil {
		log.Errorf("reset session: %v", err)
		errorJSON(c, http.StatusInternalServerError, errInternalServer)
		return
	}
	c.JSON(http.StatusOK, Message{Status: statusOK, Message: "Session reset."})
}
