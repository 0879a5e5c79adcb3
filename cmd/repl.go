package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/agent-relay/internal/repl"
)

var (
	replTimezone string
	replUser     userFlags
)

func newREPLCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Chat with the agent interactively",
		Long: `Start an interactive session. Lines are sent to the agent as prompts;
the commands list, describe and call work directly against the merged
tool set (local tools plus the gateway tools discovered at startup).

The gateway session used by list, describe and call keeps the machine
token acquired at startup, so calling a gateway tool fails once that
token expires; restart the REPL to pick up a fresh one. Prompts are not
affected because every prompt acquires its own token.`,
		RunE: runREPL,
	}

	cmd.Flags().StringVar(&replTimezone, "timezone", "", "IANA timezone of the user (default: UTC)")
	replUser.register(cmd)

	return cmd
}

func runREPL(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.logger.Sync() }()

	// The session here only serves list/describe/call; each prompt opens
	// its own session through the orchestrator.
	set, sess, err := a.orchestrator.Tools(ctx)
	if err != nil {
		a.logger.Warning("Tool gateway unavailable, showing local tools only: %v", err)
	}
	if sess != nil {
		defer func() { _ = sess.Close() }()
	}

	r := repl.New(repl.Options{
		Invoker:  a.orchestrator,
		Tools:    set,
		Template: replUser.request(replTimezone),
		Logger:   a.logger,
	})
	if err := r.Run(ctx); err != nil {
		return fmt.Errorf("REPL error: %w", err)
	}
	return nil
}
