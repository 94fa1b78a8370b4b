// Command nexusd is the NEXUS gateway's entry point: it loads the
// closed configuration surface, wires the bus and every service
// (identity, persistence, context builder, LLM pool, tool executor,
// orchestrator, commands, learning) onto it, and mounts the SSE/HTTP
// boundary.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, set via -ldflags at release build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "nexusd",
		Short:        "NEXUS gateway daemon",
		Long:         "nexusd runs the NEXUS bus-mediated agentic loop behind a signed REST/SSE boundary.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd(), buildHealthcheckCmd())
	return root
}
