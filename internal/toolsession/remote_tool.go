package toolsession

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/giantswarm/agent-relay/internal/tools"
)

// remoteTool calls a gateway tool through the owning session.
type remoteTool struct {
	session *Session
	def     mcp.Tool
}

var _ tools.Tool = (*remoteTool)(nil)

func (t *remoteTool) Name() string        { return t.def.Name }
func (t *remoteTool) Description() string { return t.def.Description }

func (t *remoteTool) InputSchema() map[string]any {
	return SchemaOf(t.def)
}

func (t *remoteTool) Call(ctx context.Context, args map[string]any) (string, error) {
	return t.session.CallTool(ctx, t.def.Name, args)
}

// CallTool invokes a gateway tool and flattens its content to text. A result
// flagged as an error is returned as an error carrying that text.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	s.logger.Request("tools/call", req.Params)

	result, err := s.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("call %s: %w", name, err)
	}

	s.logger.Response("tools/call", result)

	text := ResultText(result)
	if result.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", fmt.Errorf("%s: %s", name, text)
	}
	return text, nil
}

// ResultText joins the textual content of a tool result. Non-text content
// is rendered as JSON.
func ResultText(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	var parts []string
	for _, content := range result.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, text.Text)
			continue
		}
		if b, err := json.Marshal(content); err == nil {
			parts = append(parts, string(b))
		}
	}
	if len(parts) == 0 && result.StructuredContent != nil {
		if b, err := json.Marshal(result.StructuredContent); err == nil {
			parts = append(parts, string(b))
		}
	}
	return strings.Join(parts, "\n")
}

// SchemaOf returns a tool's input schema as a generic JSON object.
func SchemaOf(def mcp.Tool) map[string]any {
	var raw []byte
	if len(def.RawInputSchema) > 0 {
		raw = def.RawInputSchema
	} else if b, err := json.Marshal(def.InputSchema); err == nil {
		raw = b
	}

	schema := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &schema)
	}
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]any{}
	}
	return schema
}
