package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/giantswarm/agent-relay/internal/event"
	"github.com/giantswarm/agent-relay/internal/relay"
	"github.com/giantswarm/agent-relay/internal/tools"
	"github.com/giantswarm/agent-relay/internal/toolsession"
)

type invokerFunc func(ctx context.Context, req relay.Request, emit func(event.Outbound) error) error

func (f invokerFunc) Invoke(ctx context.Context, req relay.Request, emit func(event.Outbound) error) error {
	return f(ctx, req, emit)
}

func testSet() *tools.Set {
	return tools.NewSet(
		tools.Func{
			ToolName: "echo",
			Desc:     "Echo the input",
			Schema: tools.ObjectSchema(map[string]any{
				"text": map[string]any{"type": "string"},
			}, "text"),
			Fn: func(_ context.Context, args map[string]any) (string, error) {
				s, _ := args["text"].(string)
				return "echo:" + s, nil
			},
		},
		tools.Func{
			ToolName: "broken",
			Desc:     "Always fails",
			Fn: func(context.Context, map[string]any) (string, error) {
				return "", errors.New("boom")
			},
		},
		tools.Func{ToolName: "call_tool", Desc: "shadowed by the meta tool"},
	)
}

// openSession serves s over HTTP and opens a client session against it.
func openSession(t *testing.T, s *Server) *toolsession.Session {
	t.Helper()
	ts := httptest.NewServer(s.HTTPHandler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	sess, err := toolsession.Open(ctx, toolsession.Config{URL: ts.URL + "/mcp", Timeout: 5 * time.Second}, "unused")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func toolNames(sess *toolsession.Session) []string {
	var names []string
	for _, t := range sess.Tools() {
		names = append(names, t.Name())
	}
	sort.Strings(names)
	return names
}

func TestNewRejectsUnknownTransport(t *testing.T) {
	_, err := New(testSet(), nil, "sse", "", nil)
	require.Error(t, err)
}

func TestServerExposesToolSet(t *testing.T) {
	s, err := New(testSet(), nil, TransportStreamableHTTP, "test", nil)
	require.NoError(t, err)
	sess := openSession(t, s)

	require.Equal(t, []string{"broken", "call_tool", "describe_tool", "echo", "list_tools"}, toolNames(sess))

	out, err := sess.CallTool(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	require.Equal(t, "echo:hi", out)

	_, err = sess.CallTool(context.Background(), "broken", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestMetaTools(t *testing.T) {
	s, err := New(testSet(), nil, TransportStreamableHTTP, "test", nil)
	require.NoError(t, err)
	sess := openSession(t, s)
	ctx := context.Background()

	t.Run("list_tools", func(t *testing.T) {
		out, err := sess.CallTool(ctx, "list_tools", nil)
		require.NoError(t, err)

		var list []toolDescription
		require.NoError(t, json.Unmarshal([]byte(out), &list))
		require.Len(t, list, 3)
		require.Equal(t, "echo", list[0].Name)
	})

	t.Run("describe_tool", func(t *testing.T) {
		out, err := sess.CallTool(ctx, "describe_tool", map[string]any{"name": "echo"})
		require.NoError(t, err)

		var desc toolDescription
		require.NoError(t, json.Unmarshal([]byte(out), &desc))
		require.Equal(t, "Echo the input", desc.Description)
		require.Equal(t, "object", desc.InputSchema["type"])
	})

	t.Run("describe_tool unknown", func(t *testing.T) {
		_, err := sess.CallTool(ctx, "describe_tool", map[string]any{"name": "nope"})
		require.Error(t, err)
		require.Contains(t, err.Error(), "tool not found")
	})

	t.Run("call_tool", func(t *testing.T) {
		out, err := sess.CallTool(ctx, "call_tool", map[string]any{
			"name":      "echo",
			"arguments": map[string]any{"text": "meta"},
		})
		require.NoError(t, err)
		require.Equal(t, "echo:meta", out)
	})

	t.Run("call_tool missing name", func(t *testing.T) {
		_, err := sess.CallTool(ctx, "call_tool", map[string]any{})
		require.Error(t, err)
	})
}

func TestInvokeAgent(t *testing.T) {
	var got relay.Request
	inv := invokerFunc(func(_ context.Context, req relay.Request, emit func(event.Outbound) error) error {
		got = req
		if err := emit(event.ToolUse("rss")); err != nil {
			return err
		}
		return emit(event.Text("done"))
	})

	s, err := New(testSet(), inv, TransportStreamableHTTP, "test", nil)
	require.NoError(t, err)
	sess := openSession(t, s)

	out, err := sess.CallTool(context.Background(), "invoke_agent", map[string]any{
		"prompt":   "what's new?",
		"timezone": "Asia/Tokyo",
	})
	require.NoError(t, err)
	require.Equal(t, "\n[tool_use: rss]\ndone", out)
	require.Equal(t, "what's new?", got.Prompt)
	require.Equal(t, "Asia/Tokyo", got.Timezone)
	require.NotEmpty(t, got.CurrentDateTime)
}

func TestInvokeAgentFailure(t *testing.T) {
	inv := invokerFunc(func(context.Context, relay.Request, func(event.Outbound) error) error {
		return relay.ErrEmptyPrompt
	})
	s, err := New(testSet(), inv, TransportStreamableHTTP, "test", nil)
	require.NoError(t, err)
	sess := openSession(t, s)

	_, err = sess.CallTool(context.Background(), "invoke_agent", map[string]any{"prompt": " "})
	require.Error(t, err)
	require.Contains(t, err.Error(), "prompt")
}
