package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/giantswarm/agent-relay/internal/event"
	"github.com/giantswarm/agent-relay/internal/relay"
	"github.com/giantswarm/agent-relay/internal/tools"
)

// toolDescription is the JSON shape returned by list_tools and describe_tool.
type toolDescription struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// handleListTools handles the list_tools tool request
func (s *Server) handleListTools(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list := make([]toolDescription, 0, s.set.Len())
	for _, t := range s.set.Tools() {
		list = append(list, toolDescription{Name: t.Name(), Description: t.Description()})
	}

	data, err := json.Marshal(list)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal tools: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// handleDescribeTool handles the describe_tool request
func (s *Server) handleDescribeTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := request.GetString("name", "")
	if name == "" {
		return mcp.NewToolResultError("missing or invalid 'name' argument"), nil
	}

	t, ok := s.set.Get(name)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("tool not found: %s", name)), nil
	}

	data, err := json.Marshal(toolDescription{Name: t.Name(), Description: t.Description(), InputSchema: t.InputSchema()})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal tool: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// handleCallTool handles the call_tool request
func (s *Server) handleCallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	name, ok := args["name"].(string)
	if !ok || name == "" {
		return mcp.NewToolResultError("missing or invalid 'name' argument"), nil
	}

	var toolArgs map[string]any
	if v, exists := args["arguments"]; exists {
		toolArgs, _ = v.(map[string]any)
	}

	out, err := s.set.Call(ctx, name, toolArgs)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("tool call failed: %v", err)), nil
	}
	return mcp.NewToolResultText(out), nil
}

// handleInvokeAgent runs the relay and returns the collected events.
func (s *Server) handleInvokeAgent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt := request.GetString("prompt", "")
	if strings.TrimSpace(prompt) == "" {
		return mcp.NewToolResultError("missing or invalid 'prompt' argument"), nil
	}

	req := relay.Request{
		Prompt:          prompt,
		Timezone:        request.GetString("timezone", ""),
		CurrentDateTime: time.Now().UTC().Format(time.RFC3339),
	}

	var b strings.Builder
	err := s.invoker.Invoke(ctx, req, func(ev event.Outbound) error {
		switch ev.Type {
		case event.TypeText:
			b.WriteString(ev.Data)
		case event.TypeToolUse:
			fmt.Fprintf(&b, "\n[tool_use: %s]\n", ev.ToolName)
		}
		return nil
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invocation failed: %v", err)), nil
	}
	return mcp.NewToolResultText(b.String()), nil
}

// toolHandler adapts a tool to an MCP tool handler.
func (s *Server) toolHandler(t tools.Tool) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s.logger.Request("tools/call "+t.Name(), request.Params.Arguments)

		out, err := t.Call(ctx, request.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		s.logger.Response("tools/call "+t.Name(), out)
		return mcp.NewToolResultText(out), nil
	}
}
