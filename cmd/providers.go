package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aniketshedge/quiz-me-app/internal/config"
	"github.com/aniketshedge/quiz-me-app/internal/llm"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List LLM providers in failover order",
	RunE: func(cmd *cobra.Command, args []string) error {
		providers, err := llm.NewProviders(cmd.Context(), settings.LLMConfig())
		if err != nil {
			return fmt.Errorf("init providers: %w", err)
		}
		order := llm.NormalizeOrder(settings.LLMProviderOrder, providers)

		tasks := []string{config.TaskTopicGuardrail, config.TaskQuizGeneration, config.TaskShortGrading}

		fmt.Printf("%-3s  %-12s  %-10s  %-22s  %-22s  %s\n",
			"#", "Provider", "Configured", "Guardrail", "Quiz", "Grading")
		fmt.Println(strings.Repeat("─", 100))
		for i, name := range order {
			ok := "✓"
			if !providers[name].IsConfigured() {
				ok = "✗"
			}
			models := make([]string, len(tasks))
			for j, task := range tasks {
				models[j] = truncate(settings.TaskModel(name, task), 22)
			}
			fmt.Printf("%-3d  %-12s  %-10s  %-22s  %-22s  %s\n",
				i+1, name, ok, models[0], models[1], models[2])
		}

		fmt.Println()
		fmt.Printf("Retries per provider: %d\n", settings.LLMMaxRetriesPerProvider)
		fmt.Printf("Failover on:          %s\n", strings.Join(settings.LLMFailoverOn, ", "))
		fmt.Printf("Mock fallback:        %t (forced: %t)\n", settings.LLMAllowMock, settings.LLMForceMockMode)
		return nil
	},
}
