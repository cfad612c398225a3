package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-resilience/internal/history"
	"github.com/miradorstack/mirador-resilience/internal/models"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the stored score history and its trend",
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	rt, cleanup, err := buildRuntime(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	tracker := history.Load(cmd.Context(), rt.Store, logger)
	fmt.Fprint(cmd.OutOrStdout(), renderHistory(tracker.Entries(), tracker.Trend()))
	return nil
}

func renderHistory(entries []models.HistoryEntry, trend string) string {
	if len(entries) == 0 {
		return "No history recorded yet.\n"
	}
	t := table.New().Border(lipgloss.NormalBorder()).
		Headers("Timestamp", "Run", "Score", "Recovery", "Avg UX", "Perf", "Anomalies")
	for _, e := range entries {
		t.Row(
			e.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			e.RunID,
			fmt.Sprintf("%d", e.ResilienceScore),
			fmt.Sprintf("%.1f%%", e.RecoverySuccessRate*100),
			fmt.Sprintf("%.2f", e.AvgUXSeverity),
			fmt.Sprintf("%.1f%%", e.PerformanceBenchmarkPassRate*100),
			fmt.Sprintf("%d", e.AnomalyCount),
		)
	}
	return fmt.Sprintf("%s\nTrend: %s\n", t.Render(), trend)
}
