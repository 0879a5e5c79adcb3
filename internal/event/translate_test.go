package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		raw  Raw
		want []Outbound
	}{
		{
			name: "nil event",
			raw:  nil,
			want: nil,
		},
		{
			name: "unrecognized event",
			raw:  Raw{"init_event_loop": true},
			want: nil,
		},
		{
			name: "text delta",
			raw: Raw{"event": map[string]any{
				"contentBlockDelta": map[string]any{"delta": map[string]any{"text": "hello"}},
			}},
			want: []Outbound{Text("hello")},
		},
		{
			name: "empty text delta",
			raw: Raw{"event": map[string]any{
				"contentBlockDelta": map[string]any{"delta": map[string]any{"text": ""}},
			}},
			want: nil,
		},
		{
			name: "tool input delta is dropped",
			raw: Raw{"event": map[string]any{
				"contentBlockDelta": map[string]any{"delta": map[string]any{"toolUse": map[string]any{"input": "{\"u"}}},
			}},
			want: nil,
		},
		{
			name: "tool use start",
			raw: Raw{"event": map[string]any{
				"contentBlockStart": map[string]any{"start": map[string]any{"toolUse": map[string]any{"name": "rss", "toolUseId": "t1"}}},
			}},
			want: []Outbound{ToolUse("rss")},
		},
		{
			name: "tool use start without name",
			raw: Raw{"event": map[string]any{
				"contentBlockStart": map[string]any{"start": map[string]any{"toolUse": map[string]any{"toolUseId": "t1"}}},
			}},
			want: []Outbound{{Type: TypeToolUse, ToolName: "unknown"}},
		},
		{
			name: "text block start is dropped",
			raw: Raw{"event": map[string]any{
				"contentBlockStart": map[string]any{"start": map[string]any{}},
			}},
			want: nil,
		},
		{
			name: "message stop is dropped",
			raw:  Raw{"event": map[string]any{"messageStop": map[string]any{"stopReason": "end_turn"}}},
			want: nil,
		},
		{
			name: "result message content parts",
			raw: Raw{"result": map[string]any{
				"message": map[string]any{
					"role":    "assistant",
					"content": []any{map[string]any{"text": "A"}, map[string]any{"toolUse": map[string]any{}}, map[string]any{"text": "B"}},
				},
			}},
			want: []Outbound{Text("A"), Text("B")},
		},
		{
			name: "result content fallback",
			raw: Raw{"result": map[string]any{
				"content": []map[string]any{{"text": "only"}},
			}},
			want: []Outbound{Text("only")},
		},
		{
			name: "result with string message",
			raw:  Raw{"result": map[string]any{"message": "done"}},
			want: []Outbound{Text("done")},
		},
		{
			name: "result without text",
			raw:  Raw{"result": map[string]any{"stop_reason": "end_turn"}},
			want: nil,
		},
		{
			name: "wrongly typed fields",
			raw: Raw{"event": map[string]any{
				"contentBlockDelta": "not-a-map",
				"contentBlockStart": map[string]any{"start": 42},
			}},
			want: nil,
		},
		{
			name: "decoded json",
			raw:  mustDecode(t, `{"event":{"contentBlockDelta":{"delta":{"text":"from json"}}}}`),
			want: []Outbound{Text("from json")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Translate(tt.raw))
		})
	}
}

func TestClassifyPrecedence(t *testing.T) {
	raw := Raw{"event": map[string]any{
		"contentBlockDelta": map[string]any{"delta": map[string]any{"text": "x"}},
		"contentBlockStart": map[string]any{"start": map[string]any{"toolUse": map[string]any{"name": "rss"}}},
	}}
	require.Equal(t, KindTextDelta, Classify(raw).Kind)
}

func TestOutboundJSONShapes(t *testing.T) {
	b, err := json.Marshal(Text("hi"))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"text","data":"hi"}`, string(b))

	b, err = json.Marshal(ToolUse("rss"))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"tool_use","tool_name":"rss"}`, string(b))

	b, err = json.Marshal(Text(""))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"text","data":""}`, string(b))

	_, err = json.Marshal(Outbound{Type: "raw"})
	require.Error(t, err)

	var o Outbound
	require.NoError(t, json.Unmarshal([]byte(`{"type":"tool_use"}`), &o))
	require.Equal(t, ToolUse("unknown"), o)
}

func mustDecode(t *testing.T, s string) Raw {
	t.Helper()
	var r Raw
	require.NoError(t, json.Unmarshal([]byte(s), &r))
	return r
}

func TestInspectKinds(t *testing.T) {
	require.Equal(t, KindResult, Inspect(Raw{"result": map[string]any{"message": "x"}}).Kind)
	require.Equal(t, KindToolUseStart, Inspect(Raw{"event": map[string]any{
		"contentBlockStart": map[string]any{"start": map[string]any{"toolUse": map[string]any{"name": "rss"}}},
	}}).Kind)
	require.Equal(t, KindUnrecognized, Inspect(Raw{"message": map[string]any{"role": "user"}}).Kind)
	require.Equal(t, "unrecognized", KindUnrecognized.String())
	require.Nil(t, Classified{Kind: KindUnrecognized}.Outbound())
}
