// Package repl is an interactive chat loop over the relay. Lines that are
// not commands are sent to the agent as prompts and the streamed answer is
// printed as it arrives.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/giantswarm/agent-relay/internal/event"
	"github.com/giantswarm/agent-relay/internal/logging"
	"github.com/giantswarm/agent-relay/internal/relay"
	"github.com/giantswarm/agent-relay/internal/tools"
)

// errExit is a sentinel error used to signal REPL exit
var errExit = errors.New("exit")

// Invoker runs one relay invocation.
type Invoker interface {
	Invoke(ctx context.Context, req relay.Request, emit func(event.Outbound) error) error
}

// Options configures a REPL.
type Options struct {
	Invoker Invoker

	// Tools is the merged tool set used for list/describe/call. May be nil.
	Tools *tools.Set

	// Template supplies the per-user request fields; Prompt and
	// CurrentDateTime are filled in for each line.
	Template relay.Request

	Logger *logging.Logger

	// Out overrides the destination for command output (default: stdout)
	Out io.Writer
}

// REPL represents the Read-Eval-Print Loop for chatting with the agent
type REPL struct {
	invoker         Invoker
	tools           *tools.Set
	template        relay.Request
	logger          *logging.Logger
	out             io.Writer
	now             func() time.Time
	commandHandlers map[string]commandHandler
}

// New creates a new REPL instance
func New(opts Options) *REPL {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	r := &REPL{
		invoker:  opts.Invoker,
		tools:    opts.Tools,
		template: opts.Template,
		logger:   logger,
		out:      out,
		now:      time.Now,
	}
	r.commandHandlers = r.buildCommandHandlers()
	return r
}

// Run starts the REPL
func (r *REPL) Run(ctx context.Context) error {
	historyFile := filepath.Join(os.TempDir(), ".agent_relay_history")

	config := &readline.Config{
		Prompt:          "agent> ",
		HistoryFile:     historyFile,
		AutoComplete:    r.createCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	}

	rl, err := readline.NewEx(config)
	if err != nil {
		return fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer func() { _ = rl.Close() }()
	r.out = rl.Stdout()

	r.logger.Info("Agent REPL started. Type a question, or 'help' for commands.")
	fmt.Fprintln(r.out)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("REPL shutting down...")
			return nil
		default:
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				continue
			}
		} else if err == io.EOF {
			r.logger.Info("Goodbye!")
			return nil
		} else if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if err := r.executeCommand(ctx, input); err != nil {
			if errors.Is(err, errExit) {
				r.logger.Info("Goodbye!")
				return nil
			}
			r.logger.Error("Error: %v", err)
		}

		fmt.Fprintln(r.out)
	}
}

// buildPcItems converts a slice of strings to readline completer items
func buildPcItems(names []string) []readline.PrefixCompleterInterface {
	items := make([]readline.PrefixCompleterInterface, len(names))
	for i, name := range names {
		items[i] = readline.PcItem(name)
	}
	return items
}

// createCompleter creates the tab completion configuration
func (r *REPL) createCompleter() *readline.PrefixCompleter {
	toolCompleter := buildPcItems(r.tools.Names())

	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("?"),
		readline.PcItem("exit"),
		readline.PcItem("quit"),
		readline.PcItem("list", readline.PcItem("tools")),
		readline.PcItem("describe", toolCompleter...),
		readline.PcItem("call", toolCompleter...),
		readline.PcItem("ask"),
		readline.PcItem("verbose",
			readline.PcItem("on"),
			readline.PcItem("off"),
		),
	)
}

// filterInput filters input characters for readline
func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

// commandHandler defines a REPL command with its handler and argument requirements
type commandHandler struct {
	minArgs int
	usage   string
	handler func(ctx context.Context, parts []string) error
}

// buildCommandHandlers creates the map of command handlers
func (r *REPL) buildCommandHandlers() map[string]commandHandler {
	return map[string]commandHandler{
		"help": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.showHelp()
		}},
		"?": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.showHelp()
		}},
		"exit": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return errExit
		}},
		"quit": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return errExit
		}},
		"list": {
			minArgs: 2,
			usage:   "usage: list tools",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleList(parts[1])
			},
		},
		"describe": {
			minArgs: 2,
			usage:   "usage: describe <tool-name>",
			handler: func(ctx context.Context, parts []string) error {
				return r.describeTool(parts[1])
			},
		},
		"call": {
			minArgs: 2,
			usage:   "usage: call <tool-name> [json]",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleCallTool(ctx, parts[1], strings.Join(parts[2:], " "))
			},
		},
		"ask": {
			minArgs: 2,
			usage:   "usage: ask <prompt>",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleAsk(ctx, strings.Join(parts[1:], " "))
			},
		},
		"verbose": {
			minArgs: 2,
			usage:   "usage: verbose <on|off>",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleVerbose(parts[1])
			},
		},
	}
}

// executeCommand runs a command, or sends the line to the agent when the
// first word is not a command.
func (r *REPL) executeCommand(ctx context.Context, input string) error {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	handler, exists := r.commandHandlers[strings.ToLower(parts[0])]
	if !exists {
		return r.handleAsk(ctx, input)
	}

	if len(parts) < handler.minArgs {
		return errors.New(handler.usage)
	}

	return handler.handler(ctx, parts)
}

// showHelp displays available commands
func (r *REPL) showHelp() error {
	lines := []string{
		"Available commands:",
		"  help, ?                      - Show this help message",
		"  list tools                   - List all available tools",
		"  describe <tool>              - Show detailed information about a tool",
		"  call <tool> {json}           - Execute a tool with JSON arguments",
		"  ask <prompt>                 - Send a prompt to the agent",
		"  verbose <on|off>             - Toggle verbose logging",
		"  exit, quit                   - Exit the REPL",
		"",
		"Any other input is sent to the agent as a prompt.",
		"",
		"Examples:",
		"  What's new on AWS this week?",
		"  call rss {\"action\": \"fetch\", \"url\": \"https://aws.amazon.com/about-aws/whats-new/recent/feed/\"}",
	}
	for _, l := range lines {
		fmt.Fprintln(r.out, l)
	}
	return nil
}

// handleList handles list commands
func (r *REPL) handleList(target string) error {
	switch strings.ToLower(target) {
	case "tools", "tool":
		return r.listTools()
	default:
		return fmt.Errorf("unknown list target: %s. Use 'tools'", target)
	}
}

// listTools displays available tools
func (r *REPL) listTools() error {
	ts := r.tools.Tools()
	if len(ts) == 0 {
		fmt.Fprintln(r.out, "No tools available.")
		return nil
	}

	fmt.Fprintf(r.out, "Available tools (%d):\n", len(ts))
	for i, t := range ts {
		fmt.Fprintf(r.out, "  %d. %-30s - %s\n", i+1, t.Name(), t.Description())
	}
	return nil
}

// describeTool shows detailed information about a tool
func (r *REPL) describeTool(name string) error {
	t, ok := r.tools.Get(name)
	if !ok {
		return fmt.Errorf("tool not found: %s", name)
	}
	fmt.Fprintf(r.out, "Tool: %s\n", t.Name())
	fmt.Fprintf(r.out, "Description: %s\n", t.Description())
	fmt.Fprintln(r.out, "Input Schema:")
	fmt.Fprintln(r.out, logging.PrettyJSON(t.InputSchema()))
	return nil
}

// handleVerbose toggles verbose logging
func (r *REPL) handleVerbose(setting string) error {
	switch strings.ToLower(setting) {
	case "on":
		r.logger.SetVerbose(true)
		fmt.Fprintln(r.out, "Verbose logging enabled")
	case "off":
		r.logger.SetVerbose(false)
		fmt.Fprintln(r.out, "Verbose logging disabled")
	default:
		return fmt.Errorf("invalid setting: %s. Use 'on' or 'off'", setting)
	}
	return nil
}
