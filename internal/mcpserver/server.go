// Package mcpserver exposes the relay's merged tool set over MCP so other
// MCP clients can inspect and call the same tools the agent sees.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/agent-relay/internal/event"
	"github.com/giantswarm/agent-relay/internal/logging"
	"github.com/giantswarm/agent-relay/internal/relay"
	"github.com/giantswarm/agent-relay/internal/tools"
)

// Transport names accepted by Start.
const (
	TransportStdio          = "stdio"
	TransportStreamableHTTP = "streamable-http"
)

// Invoker runs one relay invocation.
type Invoker interface {
	Invoke(ctx context.Context, req relay.Request, emit func(event.Outbound) error) error
}

// Server wraps the tool set and exposes it via MCP.
type Server struct {
	set       *tools.Set
	invoker   Invoker
	logger    *logging.Logger
	mcpServer *server.MCPServer
	transport string
}

// New creates an MCP server for the tool set. invoker may be nil, in which
// case the invoke_agent tool is not registered.
func New(set *tools.Set, invoker Invoker, transport, version string, logger *logging.Logger) (*Server, error) {
	switch transport {
	case TransportStdio, TransportStreamableHTTP:
	default:
		return nil, fmt.Errorf("unsupported server transport: %s", transport)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if version == "" {
		version = "dev"
	}

	s := &Server{
		set:     set,
		invoker: invoker,
		logger:  logger,
		mcpServer: server.NewMCPServer(
			"agent-relay",
			version,
			server.WithToolCapabilities(false),
		),
		transport: transport,
	}

	s.registerMetaTools()
	s.registerToolSet()
	return s, nil
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// HTTPHandler returns a streamable HTTP handler serving /mcp.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer, server.WithEndpointPath("/mcp"))
}

// Start serves on the configured transport. listenAddr is only used for
// streamable-http.
func (s *Server) Start(ctx context.Context, listenAddr string) error {
	switch s.transport {
	case TransportStdio:
		return server.ServeStdio(s.mcpServer)
	default:
		httpServer := server.NewStreamableHTTPServer(s.mcpServer, server.WithEndpointPath("/mcp"))
		errCh := make(chan error, 1)
		go func() { errCh <- httpServer.Start(listenAddr) }()

		s.logger.Info("MCP server listening on %s/mcp", listenAddr)
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return httpServer.Shutdown(context.Background())
		}
	}
}

var metaToolNames = map[string]bool{
	"list_tools":    true,
	"describe_tool": true,
	"call_tool":     true,
	"invoke_agent":  true,
}

func (s *Server) registerMetaTools() {
	s.mcpServer.AddTool(mcp.NewTool("list_tools",
		mcp.WithDescription("List every tool available to the agent"),
	), s.handleListTools)

	s.mcpServer.AddTool(mcp.NewTool("describe_tool",
		mcp.WithDescription("Get the description and input schema of a tool"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Name of the tool to describe"),
		),
	), s.handleDescribeTool)

	s.mcpServer.AddTool(mcp.NewTool("call_tool",
		mcp.WithDescription("Execute a tool with the given arguments"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Name of the tool to call"),
		),
		mcp.WithObject("arguments",
			mcp.Description("Arguments to pass to the tool (as JSON object)"),
		),
	), s.handleCallTool)

	if s.invoker != nil {
		s.mcpServer.AddTool(mcp.NewTool("invoke_agent",
			mcp.WithDescription("Run the agent on a prompt and return the streamed events"),
			mcp.WithString("prompt",
				mcp.Required(),
				mcp.Description("User prompt"),
			),
			mcp.WithString("timezone",
				mcp.Description("IANA timezone of the user"),
			),
		), s.handleInvokeAgent)
	}
}

// registerToolSet exposes each tool under its own name.
func (s *Server) registerToolSet() {
	for _, t := range s.set.Tools() {
		if metaToolNames[t.Name()] {
			s.logger.Warning("Not exposing tool %s directly: name is reserved", t.Name())
			continue
		}
		schema, err := json.Marshal(t.InputSchema())
		if err != nil {
			s.logger.Warning("Not exposing tool %s: %v", t.Name(), err)
			continue
		}
		s.mcpServer.AddTool(mcp.NewToolWithRawSchema(t.Name(), t.Description(), schema), s.toolHandler(t))
	}
}
