package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/aniketshedge/quiz-me-app/internal/telemetry"
)

var telemetryCmd = &cobra.Command{
	Use:   "telemetry",
	Short: "Inspect LLM attempt telemetry",
}

var telemetryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregated attempts, errors and cost",
	RunE: func(cmd *cobra.Command, args []string) error {
		month, _ := cmd.Flags().GetString("month")

		tel, err := openTelemetry()
		if err != nil {
			return err
		}
		snap := tel.Snapshot()

		period := &snap.Period
		title := "All time"
		if month != "" {
			p, ok := snap.Monthly[month]
			if !ok {
				fmt.Printf("No LLM attempts recorded for %s.\n", month)
				return nil
			}
			period = p
			title = month
		}

		if period.Totals.Attempts == 0 {
			fmt.Println("No LLM attempts recorded yet.")
			return nil
		}

		fmt.Printf("%s (updated %s)\n\n", title, snap.Meta.UpdatedAt)
		printBuckets("Provider", period.Providers)
		printBuckets("Task", period.Tasks)
		printBuckets("Model", period.Models)
		printBuckets("Category", period.Categories)

		fmt.Println(strings.Repeat("─", 72))
		printBucketRow("TOTAL", period.Totals)

		if month == "" && len(snap.Monthly) > 0 {
			fmt.Println()
			fmt.Println("By Month")
			fmt.Println(strings.Repeat("─", 72))
			months := sortedKeys(snap.Monthly)
			slices.Reverse(months)
			for _, m := range months {
				printBucketRow(m, snap.Monthly[m].Totals)
			}
		}
		return nil
	},
}

var telemetryEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recent LLM attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		task, _ := cmd.Flags().GetString("task")

		tel, err := openTelemetry()
		if err != nil {
			return err
		}
		events, err := tel.Events(0)
		if err != nil {
			return fmt.Errorf("read events: %w", err)
		}
		if task != "" {
			events = lo.Filter(events, func(e telemetry.Event, _ int) bool { return e.Task == task })
		}
		if limit > 0 && len(events) > limit {
			events = events[len(events)-limit:]
		}

		if len(events) == 0 {
			fmt.Println("No LLM events found.")
			return nil
		}

		fmt.Printf("%-20s  %-12s  %-24s  %-28s  %-3s  %-13s  %7s  %s\n",
			"Timestamp", "Provider", "Task", "Model", "#", "Category", "Ms", "Cost")
		fmt.Println(strings.Repeat("─", 130))
		for _, e := range events {
			cost := "-"
			if e.CostUSD != nil {
				cost = formatCost(*e.CostUSD)
			}
			fmt.Printf("%-20s  %-12s  %-24s  %-28s  %-3d  %-13s  %7d  %s\n",
				e.TS,
				e.Provider,
				truncate(e.Task, 24),
				truncate(e.Model, 28),
				e.Attempt,
				e.Category,
				e.DurationMS,
				cost,
			)
			if e.ErrorMessage != nil {
				fmt.Printf("%22s└ %s\n", "", truncate(*e.ErrorMessage, 100))
			}
		}
		return nil
	},
}

func openTelemetry() (*telemetry.Store, error) {
	// Opened disabled so reading never creates the directory.
	tel, err := telemetry.New(false, settings.LLMTelemetryDir)
	if err != nil {
		return nil, fmt.Errorf("open telemetry: %w", err)
	}
	return tel, nil
}

func printBuckets(label string, buckets map[string]*telemetry.Bucket) {
	if len(buckets) == 0 {
		return
	}
	fmt.Println(strings.Repeat("─", 72))
	fmt.Printf("%-32s  %8s  %8s  %8s  %10s\n", label, "Attempts", "Success", "Error", "Cost")
	fmt.Println(strings.Repeat("─", 72))
	for _, k := range sortedKeys(buckets) {
		printBucketRow(k, *buckets[k])
	}
	fmt.Println()
}

func printBucketRow(label string, b telemetry.Bucket) {
	fmt.Printf("%-32s  %8d  %8d  %8d  %10s\n",
		truncate(label, 32), b.Attempts, b.Success, b.Error, formatCost(b.CostUSD))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func formatCost(usd float64) string {
	if usd < 0.01 {
		return fmt.Sprintf("$%.4f", usd)
	}
	return fmt.Sprintf("$%.2f", usd)
}

func init() {
	telemetryStatsCmd.Flags().String("month", "", "Restrict to one month (YYYY-MM, UTC)")
	telemetryEventsCmd.Flags().IntP("limit", "n", 20, "Number of events to show")
	telemetryEventsCmd.Flags().StringP("task", "t", "", "Filter by task (e.g. quiz_generation, topic_guardrail)")

	telemetryCmd.AddCommand(telemetryStatsCmd)
	telemetryCmd.AddCommand(telemetryEventsCmd)
}
