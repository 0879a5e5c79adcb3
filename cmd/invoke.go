package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/agent-relay/internal/event"
	"github.com/giantswarm/agent-relay/internal/relay"
)

var (
	invokeOutput   string
	invokeTimezone string
	invokeUser     userFlags
)

// userFlags carries the per-user request fields shared by invoke and repl.
type userFlags struct {
	email            string
	principalName    string
	graphAccessToken string
}

func (u *userFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&u.email, "user-email", "", "User email passed to calendar tools")
	cmd.Flags().StringVar(&u.principalName, "user-principal-name", "", "User principal name (used when --user-email is empty)")
	cmd.Flags().StringVar(&u.graphAccessToken, "graph-access-token", os.Getenv("GRAPH_ACCESS_TOKEN"), "Delegated Graph token passed to calendar tools")
}

func (u *userFlags) request(timezone string) relay.Request {
	return relay.Request{
		GraphAccessToken:  u.graphAccessToken,
		UserEmail:         u.email,
		UserPrincipalName: u.principalName,
		Timezone:          timezone,
	}
}

func newInvokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoke <prompt>",
		Short: "Run a single prompt and print the streamed events",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runInvoke,
	}

	cmd.Flags().StringVar(&invokeOutput, "output", "json", "Output format (json lines, or text)")
	cmd.Flags().StringVar(&invokeTimezone, "timezone", "", "IANA timezone of the user (default: UTC)")
	invokeUser.register(cmd)

	return cmd
}

func runInvoke(cmd *cobra.Command, args []string) error {
	if invokeOutput != "text" && invokeOutput != "json" {
		return fmt.Errorf("unsupported output format %q (use text or json)", invokeOutput)
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.logger.Sync() }()

	req := invokeUser.request(invokeTimezone)
	req.Prompt = strings.Join(args, " ")
	req.CurrentDateTime = time.Now().UTC().Format(time.RFC3339)

	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	err = a.orchestrator.Invoke(ctx, req, func(ev event.Outbound) error {
		if invokeOutput == "json" {
			return enc.Encode(ev)
		}
		switch ev.Type {
		case event.TypeText:
			_, err := fmt.Fprint(out, ev.Data)
			return err
		default:
			_, err := fmt.Fprintf(out, "\n[using tool: %s]\n", ev.ToolName)
			return err
		}
	})
	if invokeOutput == "text" {
		fmt.Fprintln(out)
	}
	return err
}
