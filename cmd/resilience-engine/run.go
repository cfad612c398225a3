package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-resilience/internal/engine"
	"github.com/miradorstack/mirador-resilience/internal/metrics"
	"github.com/miradorstack/mirador-resilience/internal/report"
)

var (
	runChaosLevel int
	runDuration   time.Duration
	runSeed       uint64
	runReportDir  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one resilience run and write its report",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().IntVar(&runChaosLevel, "chaos-level", 0, "Chaos level 1-5 (default from config)")
	runCmd.Flags().DurationVar(&runDuration, "duration", 0, "Spread tests over this duration (0 runs unpaced)")
	runCmd.Flags().Uint64Var(&runSeed, "seed", 0, "Seed for test selection and injection (default from config)")
	runCmd.Flags().StringVar(&runReportDir, "report-dir", "", "Directory for report.txt, report.json and graphs")
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, cleanup, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	level := cfg.Run.ChaosLevel
	if cmd.Flags().Changed("chaos-level") {
		level = runChaosLevel
	}
	seed := cfg.Run.Seed
	if cmd.Flags().Changed("seed") {
		seed = runSeed
	}
	duration := cfg.Run.Duration
	if cmd.Flags().Changed("duration") {
		duration = runDuration
	}
	reportDir := cfg.Run.ReportDir
	if runReportDir != "" {
		reportDir = runReportDir
	}

	plan, err := rt.Planner.Build(rt.Targets.Names(), level, seed, duration)
	if err != nil {
		return err
	}
	logger.Info("run planned",
		slog.String("run_id", plan.RunID),
		slog.Int("chaos_level", plan.ChaosLevel),
		slog.Int("tests", len(plan.Cases)),
		slog.Float64("failure_rate", plan.FailureRate),
	)

	result, err := rt.Scoreboard.Execute(ctx, plan)
	if err != nil {
		return err
	}
	if err := writeReports(reportDir, result); err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), result.Report)
	return nil
}

// writeReports writes the text and JSON reports plus both Mermaid graphs into dir.
func writeReports(dir string, result engine.RunResult) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	data, err := report.RenderJSON(result.ReportInput())
	if err != nil {
		return err
	}
	files := map[string][]byte{
		"report.txt":   []byte(result.Report),
		"report.json":  data,
		"cascade.mmd":  []byte(result.CascadeGraph.Mermaid()),
		"recovery.mmd": []byte(result.RecoveryGraph.Mermaid()),
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}
