package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/agent-relay/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP invocation endpoint",
		Long: `Serve POST /invocations, GET /ping and GET /metrics.

Each invocation streams outbound events as server-sent events
("data: {...}\n\n"), or as newline-delimited JSON when the request
accepts application/x-ndjson.`,
		RunE: runServe,
	}

	cmd.Flags().String("addr", ":8080", "Listen address")
	cmd.Flags().Bool("metrics", true, "Expose Prometheus metrics on /metrics")
	cmd.Flags().Bool("h2c", false, "Accept HTTP/2 without TLS")
	bindFlags(v, map[string]string{
		"server.addr":            "addr",
		"server.metrics_enabled": "metrics",
		"server.h2c":             "h2c",
	}, cmd.Flags())

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.logger.Sync() }()

	srv := server.New(a.cfg.Server, a.orchestrator, a.metrics, a.logger)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
