// Package server exposes the quiz API over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aniketshedge/quiz-me-app/internal/guardrail"
	"github.com/aniketshedge/quiz-me-app/internal/quiz"
	"github.com/aniketshedge/quiz-me-app/internal/session"
	"github.com/aniketshedge/quiz-me-app/internal/utils/log"
	"github.com/aniketshedge/quiz-me-app/internal/wiki"
)

// Resolver finds and loads Wikipedia articles.
type Resolver interface {
	ResolveTopic(ctx context.Context, topic string) ([]wiki.Candidate, error)
	GetArticle(ctx context.Context, pageID int) (*wiki.Article, error)
}

// Classifier decides whether a topic may be quizzed on.
type Classifier interface {
	Classify(ctx context.Context, topic string) guardrail.Result
}

// QuizBuilder generates quizzes from articles.
type QuizBuilder interface {
	BuildQuiz(ctx context.Context, topic string, article *wiki.Article) (*quiz.Quiz, string, error)
}

// Config controls the HTTP surface.
type Config struct {
	Addr string

	// BasePath prefixes the API routes, e.g. "/quiz" serves "/quiz/api".
	BasePath string

	CORSOrigins  []string
	MaxBodyBytes int64

	// Per-client limits per 10-minute window. Zero disables a limit.
	MaxReqPer10Min           int
	MaxQuizCreationsPer10Min int

	// MockMode is reported by the health endpoint.
	MockMode bool
	Debug    bool
}

// Deps are the services the handlers call.
type Deps struct {
	Wiki      Resolver
	Guardrail Classifier
	Builder   QuizBuilder
	Sessions  *session.Manager
}

// Server is the HTTP API.
type Server struct {
	cfg      Config
	deps     Deps
	engine   *gin.Engine
	limiters []*limiter
}

// New builds the gin engine with middleware and routes.
func New(cfg Config, deps Deps) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{cfg: cfg, deps: deps}

	r := gin.New()
	r.Use(recovery())
	r.Use(requestID())
	r.Use(accessLog())
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(bodyLimit(cfg.MaxBodyBytes))
	s.engine = r

	s.registerRoutes()
	return s
}

// APIPrefix returns the path the API routes are mounted under.
func (s *Server) APIPrefix() string {
	return s.cfg.BasePath + "/api"
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.sweepLimiters(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s (api %s)", s.cfg.Addr, s.APIPrefix())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	log.Infof("shutting down http server")
	return srv.Shutdown(shutdownCtx)
}

// sweepLimiters drops expired rate limit windows once a minute.
func (s *Server) sweepLimiters(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, l := range s.limiters {
				l.cleanup()
			}
		}
	}
}
