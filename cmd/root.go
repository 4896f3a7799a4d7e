package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aniketshedge/quiz-me-app/internal/config"
	"github.com/aniketshedge/quiz-me-app/internal/utils/log"
)

// settings is loaded before any subcommand runs.
var settings *config.Settings

var rootCmd = &cobra.Command{
	Use:           "quiz-me",
	Short:         "Wikipedia quiz generator",
	Long:          "quiz-me generates 15-question quizzes from Wikipedia articles with a failover chain of LLM providers.",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		s, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		settings = s
		log.SetLevel(s.LogLevel)
		return nil
	},
}

func Execute() error {
	defer log.Sync()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a config file (yaml, json or toml); environment variables take precedence")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(telemetryCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(versionCmd)
}
