package toolsession

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const testToken = "gateway-token"

// MockGateway is an MCP streamable-http server that requires a bearer token.
type MockGateway struct {
	*httptest.Server
	Requests atomic.Int32
}

// NewMockGateway starts a gateway exposing echo, fail and any extra tools.
func NewMockGateway(t *testing.T, opts ...server.ServerOption) *MockGateway {
	t.Helper()

	opts = append([]server.ServerOption{server.WithToolCapabilities(false)}, opts...)
	mcpServer := server.NewMCPServer("mock-gateway", "1.0.0", opts...)

	mcpServer.AddTool(
		mcp.NewTool("echo",
			mcp.WithDescription("Echo the value back"),
			mcp.WithString("value", mcp.Required(), mcp.Description("Value to echo")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText("echo:" + req.GetString("value", "")), nil
		},
	)
	mcpServer.AddTool(
		mcp.NewTool("fail", mcp.WithDescription("Always fails")),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultError("calendar backend unavailable"), nil
		},
	)
	mcpServer.AddTool(
		mcp.NewTool("get_calendar", mcp.WithDescription("List calendar events")),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText("[]"), nil
		},
	)

	handler := server.NewStreamableHTTPServer(mcpServer)

	g := &MockGateway{}
	mux := http.NewServeMux()
	mux.Handle("/mcp", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.Requests.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			http.Error(w, `{"message":"Unauthorized"}`, http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	}))
	g.Server = httptest.NewServer(mux)
	t.Cleanup(g.Close)
	return g
}

// Endpoint returns the MCP endpoint URL.
func (g *MockGateway) Endpoint() string {
	return g.Server.URL + "/mcp"
}

// countingClient records how often Close reaches the transport.
type countingClient struct {
	mcpClient
	closes atomic.Int32
}

func (c *countingClient) Close() error {
	c.closes.Add(1)
	return c.mcpClient.Close()
}

// trackCloses wraps every dialled client for the duration of the test.
func trackCloses(t *testing.T) func() []*countingClient {
	t.Helper()

	var mu sync.Mutex
	var clients []*countingClient

	orig := dial
	dial = func(cfg Config, token string) (mcpClient, error) {
		c, err := orig(cfg, token)
		if err != nil {
			return nil, err
		}
		cc := &countingClient{mcpClient: c}
		mu.Lock()
		clients = append(clients, cc)
		mu.Unlock()
		return cc, nil
	}
	t.Cleanup(func() { dial = orig })

	return func() []*countingClient {
		mu.Lock()
		defer mu.Unlock()
		return append([]*countingClient(nil), clients...)
	}
}
