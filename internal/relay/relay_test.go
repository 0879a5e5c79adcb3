package relay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/giantswarm/agent-relay/internal/event"
	"github.com/giantswarm/agent-relay/internal/tools"
)

func TestInvokeWithGateway(t *testing.T) {
	tokenSrv := newMockTokenServer(t, http.StatusOK, gatewayToken)
	gw := newMockGateway(t)
	rt := &scriptedRuntime{
		toolCalls: []string{"echo", "rss"},
		events: []event.Raw{
			{"init_event_loop": true},
			textDelta("Here "),
			toolStart("get_calendar"),
			textDelta("you go"),
			result("Here you go"),
		},
	}
	o := newTestOrchestrator(t, testConfig(tokenSrv.URL, gw.URL), rt)

	out, err := invoke(t, o, Request{Prompt: "what's on today?", CognitoToken: "caller-token"})
	require.NoError(t, err)

	require.Equal(t, []event.Outbound{
		event.Text("Here "),
		event.ToolUse("get_calendar"),
		event.Text("you go"),
	}, out)
	require.Equal(t, []string{"rss", "echo", "get_calendar"}, rt.toolNames)
	require.Equal(t, []string{"echo:x", "local"}, rt.toolOut)
	require.Equal(t, int32(1), tokenSrv.requests.Load())
}

func TestInvokeVerboseDiagnostics(t *testing.T) {
	tokenSrv := newMockTokenServer(t, http.StatusOK, gatewayToken)
	gw := newMockGateway(t)
	cfg := testConfig(tokenSrv.URL, gw.URL)
	cfg.Relay.VerboseDiagnostics = true
	rt := &scriptedRuntime{events: []event.Raw{textDelta("ok")}}

	out, err := invoke(t, newTestOrchestrator(t, cfg, rt), Request{Prompt: "hi"})
	require.NoError(t, err)

	texts := dataOf(out)
	require.Contains(t, texts, "[INFO] Skipped gateway tools already provided locally: rss")
	require.Contains(t, texts, "[INFO] Connected to tool gateway (3 tools)")
	require.Contains(t, texts, "[DEBUG] Available tools: rss, echo, get_calendar")
	require.Equal(t, "ok", texts[len(texts)-1])
	for _, ev := range out {
		require.NotContains(t, ev.Data, gatewayToken)
	}
}

func TestInvokeTokenFailureDegrades(t *testing.T) {
	tokenSrv := newMockTokenServer(t, http.StatusBadRequest, "")
	gw := newMockGateway(t)
	rt := &scriptedRuntime{events: []event.Raw{textDelta("local answer")}}
	o := newTestOrchestrator(t, testConfig(tokenSrv.URL, gw.URL), rt)

	out, err := invoke(t, o, Request{Prompt: "hi"})
	require.NoError(t, err)

	require.Len(t, out, 2)
	require.True(t, strings.HasPrefix(out[0].Data, PrefixError), out[0].Data)
	require.Contains(t, out[0].Data, "status 400")
	require.NotContains(t, out[0].Data, "very-secret")
	require.Equal(t, event.Text("local answer"), out[1])

	require.Equal(t, []string{"rss"}, rt.toolNames)
	require.Zero(t, gw.requests.Load())
}

func TestInvokeMissingConfiguration(t *testing.T) {
	tokenSrv := newMockTokenServer(t, http.StatusOK, gatewayToken)
	gw := newMockGateway(t)
	cfg := testConfig(tokenSrv.URL, gw.URL)
	cfg.Gateway.ClientSecret = ""
	rt := &scriptedRuntime{events: []event.Raw{textDelta("never")}}

	out, err := invoke(t, newTestOrchestrator(t, cfg, rt), Request{Prompt: "hi"})
	require.NoError(t, err)

	require.Len(t, out, 1)
	require.True(t, strings.HasPrefix(out[0].Data, "[ERROR] Configuration error"))
	require.Contains(t, out[0].Data, "MACHINE_CLIENT_SECRET")
	require.Zero(t, tokenSrv.requests.Load())
	require.Zero(t, gw.requests.Load())
	require.Zero(t, rt.calls)
}

func TestInvokeGatewayRejectsCredential(t *testing.T) {
	tokenSrv := newMockTokenServer(t, http.StatusOK, "not-the-gateway-token")
	gw := newMockGateway(t)
	rt := &scriptedRuntime{events: []event.Raw{textDelta("answer")}}
	o := newTestOrchestrator(t, testConfig(tokenSrv.URL, gw.URL), rt)

	out, err := invoke(t, o, Request{Prompt: "hi"})
	require.NoError(t, err)

	require.Len(t, out, 2)
	require.Contains(t, out[0].Data, "[ERROR] Tool gateway unavailable (initialize)")
	require.NotContains(t, out[0].Data, "not-the-gateway-token")
	require.Equal(t, event.Text("answer"), out[1])
	require.Equal(t, []string{"rss"}, rt.toolNames)
}

func TestInvokeGatewayDisabled(t *testing.T) {
	tokenSrv := newMockTokenServer(t, http.StatusOK, gatewayToken)
	gw := newMockGateway(t)
	cfg := testConfig(tokenSrv.URL, gw.URL)
	cfg.Gateway.Enabled = false
	cfg.Gateway.ClientSecret = ""
	rt := &scriptedRuntime{events: []event.Raw{textDelta("hi")}}

	out, err := invoke(t, newTestOrchestrator(t, cfg, rt), Request{Prompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, []event.Outbound{event.Text("hi")}, out)
	require.Zero(t, tokenSrv.requests.Load())
	require.Equal(t, []string{"rss"}, rt.toolNames)
}

func TestInvokePanickingToolKeepsStreamWellFormed(t *testing.T) {
	tokenSrv := newMockTokenServer(t, http.StatusOK, gatewayToken)
	gw := newMockGateway(t)
	cfg := testConfig(tokenSrv.URL, gw.URL)

	panicky := tools.Func{
		ToolName: "rss",
		Desc:     "local rss",
		Fn: func(context.Context, map[string]any) (string, error) {
			panic("feed parser blew up")
		},
	}
	rt := &scriptedRuntime{
		toolCalls: []string{"rss"},
		events:    []event.Raw{toolStart("rss"), textDelta("The feed is unavailable.")},
	}
	o, err := New(Options{Config: cfg, Runtime: rt, LocalTools: []tools.Tool{panicky}})
	require.NoError(t, err)

	var out []event.Outbound
	require.NotPanics(t, func() {
		out, err = invoke(t, o, Request{Prompt: "what's new?"})
	})
	require.NoError(t, err)
	require.Equal(t, []event.Outbound{event.ToolUse("rss"), event.Text("The feed is unavailable.")}, out)
	require.Len(t, rt.toolOut, 1)
	require.Contains(t, rt.toolOut[0], "tool rss panicked: feed parser blew up")
}

func TestInvokeStreamingError(t *testing.T) {
	cfg := testConfig("", "")
	cfg.Gateway.Enabled = false
	rt := &scriptedRuntime{
		events: []event.Raw{textDelta("partial")},
		err:    errors.New("model throttled"),
	}

	out, err := invoke(t, newTestOrchestrator(t, cfg, rt), Request{Prompt: "hi"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, event.Text("partial"), out[0])
	require.Equal(t, "[ERROR] Agent streaming failed: model throttled", out[1].Data)
}

func TestInvokeResultWithoutDeltas(t *testing.T) {
	cfg := testConfig("", "")
	cfg.Gateway.Enabled = false
	rt := &scriptedRuntime{events: []event.Raw{toolStart(""), result("A", "B")}}

	out, err := invoke(t, newTestOrchestrator(t, cfg, rt), Request{Prompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, []event.Outbound{event.ToolUse("unknown"), event.Text("A"), event.Text("B")}, out)
}

func TestInvokeEmitFailure(t *testing.T) {
	cfg := testConfig("", "")
	cfg.Gateway.Enabled = false
	rt := &scriptedRuntime{events: []event.Raw{textDelta("a"), textDelta("b")}}
	o := newTestOrchestrator(t, cfg, rt)

	sentinel := errors.New("client went away")
	calls := 0
	err := o.Invoke(context.Background(), Request{Prompt: "hi"}, func(event.Outbound) error {
		calls++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, calls)
}

func TestInvokeCancelled(t *testing.T) {
	tokenSrv := newMockTokenServer(t, http.StatusOK, gatewayToken)
	gw := newMockGateway(t)
	rt := &scriptedRuntime{events: []event.Raw{textDelta("a"), textDelta("b"), textDelta("c")}}
	o := newTestOrchestrator(t, testConfig(tokenSrv.URL, gw.URL), rt)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out []event.Outbound
	err := o.Invoke(ctx, Request{Prompt: "hi"}, func(ev event.Outbound) error {
		out = append(out, ev)
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []event.Outbound{event.Text("a")}, out)
}

func TestInvokeEmptyPrompt(t *testing.T) {
	cfg := testConfig("", "")
	rt := &scriptedRuntime{}
	_, err := invoke(t, newTestOrchestrator(t, cfg, rt), Request{Prompt: "   "})
	require.ErrorIs(t, err, ErrEmptyPrompt)
	require.Zero(t, rt.calls)
}

func TestInvokeBuildsSystemPrompt(t *testing.T) {
	cfg := testConfig("", "")
	cfg.Gateway.Enabled = false
	rt := &scriptedRuntime{}

	_, err := invoke(t, newTestOrchestrator(t, cfg, rt), Request{
		Prompt:           "what's on today?",
		CurrentDateTime:  "2025-01-01T00:00:00Z",
		Timezone:         "Asia/Tokyo",
		GraphAccessToken: "graph-token",
		UserEmail:        "user@example.com",
	})
	require.NoError(t, err)

	sp := rt.lastReq.SystemPrompt
	require.True(t, strings.HasPrefix(sp, "You are a helpful assistant."))
	require.Contains(t, sp, "2025-01-01 09:00 (Wednesday) JST")
	require.Contains(t, sp, `userEmail="user@example.com"`)
	require.Equal(t, "what's on today?", rt.lastReq.Prompt)
}

func TestTools(t *testing.T) {
	tokenSrv := newMockTokenServer(t, http.StatusOK, gatewayToken)
	gw := newMockGateway(t)
	o := newTestOrchestrator(t, testConfig(tokenSrv.URL, gw.URL), &scriptedRuntime{})

	set, session, err := o.Tools(context.Background())
	require.NoError(t, err)
	require.NotNil(t, session)
	defer session.Close()
	require.Equal(t, []string{"rss", "echo", "get_calendar"}, set.Names())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	_, err = New(Options{Config: testConfig("", "")})
	require.Error(t, err)
}

func dataOf(out []event.Outbound) []string {
	texts := make([]string, 0, len(out))
	for _, ev := range out {
		if ev.Type == event.TypeText {
			texts = append(texts, ev.Data)
		}
	}
	return texts
}
