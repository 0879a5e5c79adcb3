package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/agent-relay/internal/mcpserver"
)

var (
	serverTransport string
	listenAddr      string
)

func newMCPServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Expose the merged tool set as an MCP server",
		Long: `Run an MCP server exposing every local and gateway tool under its own
name, plus list_tools, describe_tool, call_tool and invoke_agent.

The gateway session is opened once at startup and stays open for the
lifetime of the server. It keeps the machine token acquired at startup,
so gateway tools called directly or through call_tool fail once that
token expires; restart the server to pick up a fresh one. invoke_agent
is not affected because every invocation acquires its own token.`,
		RunE: runMCPServer,
	}

	cmd.Flags().StringVar(&serverTransport, "server-transport", mcpserver.TransportStdio, "Transport protocol for the MCP server (stdio, streamable-http)")
	cmd.Flags().StringVar(&listenAddr, "listen-addr", ":8899", "Listen address for streamable-http server (path is fixed to /mcp)")

	return cmd
}

func runMCPServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.logger.Sync() }()

	set, sess, err := a.orchestrator.Tools(ctx)
	if err != nil {
		a.logger.Warning("Tool gateway unavailable, serving local tools only: %v", err)
	}
	if sess != nil {
		defer func() { _ = sess.Close() }()
	}

	srv, err := mcpserver.New(set, a.orchestrator, serverTransport, version, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	a.logger.Info("Starting agent-relay MCP server (transport: %s, %d tools)...", serverTransport, set.Len())
	if err := srv.Start(ctx, listenAddr); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
