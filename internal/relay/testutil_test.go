package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/agent-relay/internal/config"
	"github.com/giantswarm/agent-relay/internal/event"
	"github.com/giantswarm/agent-relay/internal/runtime"
	"github.com/giantswarm/agent-relay/internal/tools"
)

const gatewayToken = "gateway-token"

// mockTokenServer issues a fixed token or fails with a fixed status.
type mockTokenServer struct {
	*httptest.Server
	requests atomic.Int32
}

func newMockTokenServer(t *testing.T, status int, accessToken string) *mockTokenServer {
	t.Helper()
	m := &mockTokenServer{}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"` + accessToken + `","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(m.Close)
	return m
}

// mockGateway is an MCP server behind bearer authentication.
type mockGateway struct {
	*httptest.Server
	requests atomic.Int32
}

func newMockGateway(t *testing.T) *mockGateway {
	t.Helper()
	s := server.NewMCPServer("mock-gateway", "1.0.0", server.WithToolCapabilities(false))
	s.AddTool(mcp.NewTool("echo", mcp.WithDescription("Echo"), mcp.WithString("value")),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText("echo:" + req.GetString("value", "")), nil
		})
	s.AddTool(mcp.NewTool("get_calendar", mcp.WithDescription("Calendar")),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText("[]"), nil
		})
	s.AddTool(mcp.NewTool("rss", mcp.WithDescription("Remote rss that must be shadowed")),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText("remote"), nil
		})
	handler := server.NewStreamableHTTPServer(s)

	g := &mockGateway{}
	g.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.requests.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+gatewayToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(g.Close)
	return g
}

func testConfig(tokenURL, gatewayURL string) *config.Config {
	return &config.Config{
		Gateway: config.GatewayConfig{
			Enabled:        true,
			URL:            gatewayURL + "/mcp",
			ClientID:       "client",
			ClientSecret:   "very-secret",
			CognitoDomain:  tokenURL,
			Scope:          config.DefaultScope,
			TokenTimeout:   5 * time.Second,
			SessionTimeout: 5 * time.Second,
		},
		Relay: config.RelayConfig{BaseInstruction: "You are a helpful assistant."},
	}
}

// scriptedRuntime replays raw events and records what it was asked.
type scriptedRuntime struct {
	mu        sync.Mutex
	events    []event.Raw
	err       error
	toolCalls []string
	calls     int
	lastReq   runtime.Request
	toolNames []string
	toolOut   []string
}

func (s *scriptedRuntime) Stream(ctx context.Context, req runtime.Request, emit func(event.Raw) error) error {
	s.mu.Lock()
	s.calls++
	s.lastReq = req
	s.toolNames = req.Tools.Names()
	s.mu.Unlock()

	for _, name := range s.toolCalls {
		out, err := req.Tools.Call(ctx, name, map[string]any{"value": "x"})
		if err != nil {
			out = "error: " + err.Error()
		}
		s.toolOut = append(s.toolOut, out)
	}
	for _, ev := range s.events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(ev); err != nil {
			return err
		}
	}
	return s.err
}

func textDelta(text string) event.Raw {
	return event.Raw{"event": map[string]any{
		"contentBlockDelta": map[string]any{"delta": map[string]any{"text": text}},
	}}
}

func toolStart(name string) event.Raw {
	return event.Raw{"event": map[string]any{
		"contentBlockStart": map[string]any{"start": map[string]any{"toolUse": map[string]any{"name": name}}},
	}}
}

func result(parts ...string) event.Raw {
	content := make([]any, 0, len(parts))
	for _, p := range parts {
		content = append(content, map[string]any{"text": p})
	}
	return event.Raw{"result": map[string]any{"message": map[string]any{"role": "assistant", "content": content}}}
}

func localRSS() tools.Tool {
	return tools.Func{
		ToolName: "rss",
		Desc:     "local rss",
		Fn: func(context.Context, map[string]any) (string, error) {
			return "local", nil
		},
	}
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, rt runtime.Runtime) *Orchestrator {
	t.Helper()
	o, err := New(Options{Config: cfg, Runtime: rt, LocalTools: []tools.Tool{localRSS()}, ClientVersion: "test"})
	require.NoError(t, err)
	return o
}

func invoke(t *testing.T, o *Orchestrator, req Request) ([]event.Outbound, error) {
	t.Helper()
	var out []event.Outbound
	err := o.Invoke(context.Background(), req, func(ev event.Outbound) error {
		out = append(out, ev)
		return nil
	})
	return out, err
}
