package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-resilience/internal/config"
	"github.com/miradorstack/mirador-resilience/internal/services"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

var (
	version = "dev"

	configPath string
	verbose    bool
	traceSpans bool
)

var rootCmd = &cobra.Command{
	Use:           "resilience-engine",
	Short:         "Fault injection and resilience scoring for distributed components",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (default $RESILIENCE_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&traceSpans, "trace", false, "Export harness spans to stdout")

	rootCmd.AddCommand(runCmd, serveCmd, historyCmd, graphCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads the config and builds the logger shared by every subcommand.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	logger := utils.NewLoggerTo(os.Stderr, level, cfg.Logging.JSON)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// buildRuntime wires the engine and installs tracing when requested. The returned func releases both.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*services.Runtime, func(), error) {
	shutdownTracing, err := installTracing(traceSpans)
	if err != nil {
		return nil, nil, err
	}
	rt, err := services.Build(ctx, cfg, logger)
	if err != nil {
		shutdownTracing(context.Background())
		return nil, nil, err
	}
	cleanup := func() {
		if err := rt.Close(); err != nil {
			logger.Warn("runtime close", slog.Any("error", err))
		}
		shutdownTracing(context.Background())
	}
	return rt, cleanup, nil
}
