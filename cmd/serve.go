package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aniketshedge/quiz-me-app/internal/guardrail"
	"github.com/aniketshedge/quiz-me-app/internal/llm"
	"github.com/aniketshedge/quiz-me-app/internal/quiz"
	"github.com/aniketshedge/quiz-me-app/internal/server"
	"github.com/aniketshedge/quiz-me-app/internal/session"
	"github.com/aniketshedge/quiz-me-app/internal/store"
	"github.com/aniketshedge/quiz-me-app/internal/telemetry"
	"github.com/aniketshedge/quiz-me-app/internal/utils/log"
	"github.com/aniketshedge/quiz-me-app/internal/wiki"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the quiz HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides HTTP_HOST and HTTP_PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(settings.LLMTelemetryEnabled, settings.LLMTelemetryDir)
	if err != nil {
		return fmt.Errorf("open telemetry: %w", err)
	}

	mgr, err := llm.NewManagerFromConfig(ctx, settings.LLMConfig(), settings.TaskModel, tel)
	if err != nil {
		return fmt.Errorf("init llm providers: %w", err)
	}
	for _, p := range mgr.Providers() {
		log.Infof("llm provider %s configured=%t", p.Name, p.Configured)
	}
	if !mgr.AnyProviderConfigured() && !settings.LLMAllowMock {
		log.Warnf("no llm provider configured and mock fallback disabled; quiz creation will fail")
	}

	builder := quiz.NewBuilder(mgr, quiz.Config{
		AllowMock:          settings.LLMAllowMock,
		ForceMock:          settings.LLMForceMockMode,
		SummaryTargetChars: settings.WikiSummaryTargetChars,
	})

	sessCfg := session.Config{ConfidenceThreshold: settings.ShortGradeConfidenceThreshold}
	if settings.SessionDB != "" {
		st, err := store.Open(settings.SessionDB)
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		defer st.Close()
		sessCfg.Repo = st.SessionRepo()
		log.Infof("persisting sessions to %s", settings.SessionDB)
	}

	addr := settings.Addr()
	if a, _ := cmd.Flags().GetString("addr"); a != "" {
		addr = a
	}

	srv := server.New(server.Config{
		Addr:                     addr,
		BasePath:                 settings.AppBasePath,
		CORSOrigins:              settings.CORSOrigins,
		MaxBodyBytes:             int64(settings.MaxContentLengthMB) << 20,
		MaxReqPer10Min:           settings.MaxReqPer10Min,
		MaxQuizCreationsPer10Min: settings.MaxQuizCreationsPer10Min,
		MockMode:                 settings.LLMForceMockMode,
		Debug:                    settings.AppEnv == "development",
	}, server.Deps{
		Wiki: wiki.New(wiki.Config{
			Lang:      settings.WikiLang,
			UserAgent: settings.WikiUserAgent,
			BaseURL:   settings.WikiBaseURL,
			MaxChars:  settings.WikiMaxChars,
			Timeout:   20 * time.Second,
		}),
		Guardrail: guardrail.New(mgr, settings.LLMForceMockMode),
		Builder:   builder,
		Sessions:  session.NewManager(builder, sessCfg),
	})

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	log.Infof("server stopped")
	return nil
}
