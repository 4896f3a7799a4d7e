package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aniketshedge/quiz-me-app/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage persisted quiz sessions",
}

var sessionsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Count persisted sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSessionStore()
		if err != nil {
			return err
		}
		defer s.Close()

		n, err := s.SessionRepo().Count(cmd.Context())
		if err != nil {
			return fmt.Errorf("count sessions: %w", err)
		}
		fmt.Printf("%d sessions in %s\n", n, settings.SessionDB)
		return nil
	},
}

var sessionsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete sessions not updated recently",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan <= 0 {
			return errors.New("--older-than must be positive")
		}

		s, err := openSessionStore()
		if err != nil {
			return err
		}
		defer s.Close()

		cutoff := time.Now().Add(-olderThan)
		n, err := s.SessionRepo().Prune(cmd.Context(), cutoff)
		if err != nil {
			return fmt.Errorf("prune sessions: %w", err)
		}
		fmt.Printf("Deleted %d sessions last updated before %s.\n", n, cutoff.Local().Format("2006-01-02 15:04:05"))
		return nil
	},
}

func openSessionStore() (*store.Store, error) {
	if settings.SessionDB == "" {
		return nil, errors.New("session persistence is disabled (SESSION_DB is empty)")
	}
	s, err := store.Open(settings.SessionDB)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return s, nil
}

func init() {
	sessionsPruneCmd.Flags().Duration("older-than", 24*time.Hour, "Delete sessions idle for longer than this")

	sessionsCmd.AddCommand(sessionsCountCmd)
	sessionsCmd.AddCommand(sessionsPruneCmd)
}
