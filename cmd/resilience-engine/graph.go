package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-resilience/internal/report"
)

var (
	graphFormat string
	graphKind   string
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Render the stored cascade map or recovery catalog",
	RunE:  runGraph,
}

func init() {
	graphCmd.Flags().StringVar(&graphFormat, "format", "mermaid", "Output format: mermaid or dot")
	graphCmd.Flags().StringVar(&graphKind, "kind", "cascade", "Graph to render: cascade or recovery")
}

func runGraph(cmd *cobra.Command, _ []string) error {
	if graphFormat != "mermaid" && graphFormat != "dot" {
		return fmt.Errorf("unknown format %q", graphFormat)
	}
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	rt, cleanup, err := buildRuntime(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	var g report.Graph
	switch graphKind {
	case "cascade":
		g = rt.Scoreboard.CascadeGraph(cmd.Context())
	case "recovery":
		g = rt.Scoreboard.RecoveryGraph(cmd.Context())
	default:
		return fmt.Errorf("unknown graph kind %q", graphKind)
	}

	if graphFormat == "dot" {
		fmt.Fprint(cmd.OutOrStdout(), g.DOT())
	} else {
		fmt.Fprint(cmd.OutOrStdout(), g.Mermaid())
	}
	return nil
}
