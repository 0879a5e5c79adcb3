package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/giantswarm/agent-relay/internal/config"
	"github.com/giantswarm/agent-relay/internal/logging"
)

var (
	version    string
	configPath string

	// v holds defaults, environment bindings and the persistent flags
	v = config.New()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "agent-relay",
	Short: "Relay prompts to a managed agent with tools from a remote gateway",
	Long: `agent-relay accepts a prompt, runs it through a managed model agent and
streams simplified events back to the caller.

For each request it acquires a machine-to-machine OAuth token, opens an MCP
session against the tool gateway, merges the gateway tools with the bundled
rss tool and closes the session when the agent is done. If the token or the
gateway is unavailable the request continues with local tools only and the
caller is told why through an [ERROR] text event.

Configuration is read from agent-relay.yaml (or --config), AGENT_RELAY_*
environment variables and the gateway variables MACHINE_CLIENT_ID,
MACHINE_CLIENT_SECRET, COGNITO_DOMAIN, COGNITO_SCOPE and GATEWAY_URL.

Modes:
- serve: HTTP invocation endpoint (/invocations, /ping, /metrics)
- invoke: run a single prompt and print the streamed events
- repl: interactive chat with the agent
- mcp-server: expose the merged tool set as an MCP server
- gateway: check credentials and tool discovery against the gateway`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// SetVersion sets the version for the application
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to a YAML config file (default: ./agent-relay.yaml if present)")
	pf.Bool("verbose", false, "Enable verbose logging")
	pf.Bool("no-color", false, "Disable colored output")
	pf.Bool("json-rpc", false, "Enable full JSON-RPC message logging")
	pf.String("log-format", "console", "Log format (console, json)")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")

	bindFlags(v, map[string]string{
		"logging.verbose":  "verbose",
		"logging.json_rpc": "json-rpc",
		"logging.format":   "log-format",
		"logging.level":    "log-level",
	}, pf)

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newInvokeCmd())
	rootCmd.AddCommand(newREPLCmd())
	rootCmd.AddCommand(newMCPServerCmd())
	rootCmd.AddCommand(newGatewayCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}

// loadConfig reads the configuration and builds the logger for a command.
func loadConfig(cmd *cobra.Command) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return nil, nil, err
	}

	noColor, _ := cmd.Flags().GetBool("no-color")
	logger, err := logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Verbose: cfg.Logging.Verbose,
		Color:   cfg.Logging.Color && !noColor,
		JSONRPC: cfg.Logging.JSONRPC,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

// bindFlags binds config keys to flags so an explicitly set flag overrides
// the file and the environment.
func bindFlags(v *viper.Viper, keys map[string]string, fs *pflag.FlagSet) {
	for key, name := range keys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

// signalContext returns a context cancelled on interrupt or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
