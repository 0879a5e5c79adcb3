package repl

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/giantswarm/agent-relay/internal/event"
	"github.com/giantswarm/agent-relay/internal/logging"
)

// parseToolArgs parses JSON arguments for a tool call
func (r *REPL) parseToolArgs(argsStr string, toolName string) (map[string]any, error) {
	if argsStr == "" {
		return nil, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(argsStr), &args); err != nil {
		fmt.Fprintln(r.out, "Error: Arguments must be valid JSON")
		fmt.Fprintf(r.out, "Example: call %s {\"param1\": \"value1\", \"param2\": 123}\n", toolName)
		return nil, fmt.Errorf("invalid JSON arguments: %w", err)
	}
	return args, nil
}

// displayText prints text, pretty-printing JSON if possible
func (r *REPL) displayText(text string) {
	var jsonData any
	if err := json.Unmarshal([]byte(text), &jsonData); err == nil {
		fmt.Fprintln(r.out, logging.PrettyJSON(jsonData))
	} else {
		fmt.Fprintln(r.out, text)
	}
}

// handleCallTool executes a tool with the given arguments
func (r *REPL) handleCallTool(ctx context.Context, toolName string, argsStr string) error {
	if _, ok := r.tools.Get(toolName); !ok {
		return fmt.Errorf("tool not found: %s", toolName)
	}

	args, err := r.parseToolArgs(argsStr, toolName)
	if err != nil {
		return err
	}

	fmt.Fprintf(r.out, "Executing tool: %s...\n", toolName)
	out, err := r.tools.Call(ctx, toolName, args)
	if err != nil {
		return fmt.Errorf("tool execution failed: %w", err)
	}

	fmt.Fprintln(r.out, "Result:")
	r.displayText(out)
	return nil
}

// handleAsk sends a prompt to the agent and prints the streamed events.
func (r *REPL) handleAsk(ctx context.Context, prompt string) error {
	if r.invoker == nil {
		return fmt.Errorf("no agent configured")
	}

	req := r.template
	req.Prompt = prompt
	req.CurrentDateTime = r.now().UTC().Format(time.RFC3339)

	midLine := false
	err := r.invoker.Invoke(ctx, req, func(ev event.Outbound) error {
		switch ev.Type {
		case event.TypeText:
			fmt.Fprint(r.out, ev.Data)
			midLine = ev.Data != "" && ev.Data[len(ev.Data)-1] != '\n'
		case event.TypeToolUse:
			if midLine {
				fmt.Fprintln(r.out)
			}
			fmt.Fprintf(r.out, "[using tool: %s]\n", ev.ToolName)
			midLine = false
		}
		return nil
	})
	if midLine {
		fmt.Fprintln(r.out)
	}
	if err != nil {
		return fmt.Errorf("invocation failed: %w", err)
	}
	return nil
}
