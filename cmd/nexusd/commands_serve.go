package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates "nexusd serve": loads config, wires the bus and
// every service, and serves the SSE/HTTP boundary until an interrupt.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		pgDSN      string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the NEXUS gateway",
		Long: `Start the NEXUS gateway: the bus, every subscribing service, and the
signed REST/SSE boundary.

Graceful shutdown runs on SIGINT/SIGTERM: the HTTP server stops
accepting new connections first, then the bus drains in-flight
handlers before the process exits.`,
		Example: `  # Start with the default config path
  nexusd serve

  # Start against a Postgres-backed message store
  nexusd serve --config /etc/nexus/nexus.yaml --pg-dsn "postgres://..."`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), serveOptions{
				configPath: configPath,
				addr:       addr,
				pgDSN:      pgDSN,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "nexus.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address for the SSE/HTTP boundary")
	cmd.Flags().StringVar(&pgDSN, "pg-dsn", "", "Postgres DSN for message persistence (defaults to an in-memory store)")

	return cmd
}

// buildHealthcheckCmd creates "nexusd healthcheck": a thin CLI probe
// against a running gateway's GET /healthz, for container liveness
// probes that would rather shell out than curl.
func buildHealthcheckCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe a running gateway's /healthz endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "Base URL of the running gateway")
	return cmd
}
