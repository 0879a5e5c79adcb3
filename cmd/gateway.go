package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/agent-relay/internal/config"
	"github.com/giantswarm/agent-relay/internal/credential"
	"github.com/giantswarm/agent-relay/internal/logging"
	"github.com/giantswarm/agent-relay/internal/toolsession"
)

func newGatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Check connectivity to the tool gateway",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "env",
		Short: "Show the gateway configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			printGatewayEnv(cmd.OutOrStdout(), cfg.Gateway)
			if err := cfg.RequireGateway(); err != nil {
				return err
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "token",
		Short: "Acquire a machine token and print its claims",
		RunE:  runGatewayToken,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "tools",
		Short: "Acquire a token, open a session and list the gateway tools",
		RunE:  runGatewayTools,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Run env, token and tools in sequence with a single token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runGatewayCheck(cmd.Context(), cmd.OutOrStdout(), cfg, logger)
		},
	})

	return cmd
}

func printGatewayEnv(w io.Writer, g config.GatewayConfig) {
	show := func(name, value string) {
		if value == "" {
			value = "(not set)"
		}
		fmt.Fprintf(w, "  %-22s %s\n", name, value)
	}

	fmt.Fprintln(w, "Tool gateway configuration:")
	show("enabled", fmt.Sprintf("%t", g.Enabled))
	show(config.EnvGatewayURL, g.URL)
	show(config.EnvCognitoDomain, g.CognitoDomain)
	show("token endpoint", g.TokenURL())
	show(config.EnvClientID, g.ClientID)
	show(config.EnvClientSecret, logging.Redact(g.ClientSecret))
	show(config.EnvScope, g.EffectiveScope())
}

// runGatewayCheck prints the configuration, acquires one token, prints its
// claims and lists the gateway tools with it.
func runGatewayCheck(ctx context.Context, w io.Writer, cfg *config.Config, logger *logging.Logger) error {
	printGatewayEnv(w, cfg.Gateway)
	if err := cfg.RequireGateway(); err != nil {
		return err
	}

	tok, err := acquireGatewayToken(ctx, cfg.Gateway, logger)
	if err != nil {
		return err
	}
	fmt.Fprintln(w)
	printToken(w, logger, tok)
	fmt.Fprintln(w)
	return listGatewayTools(ctx, w, cfg.Gateway, logger, tok)
}

func acquireGatewayToken(ctx context.Context, g config.GatewayConfig, logger *logging.Logger) (*credential.Token, error) {
	logger.Info("Requesting token from %s (scope %s)...", g.TokenURL(), g.EffectiveScope())
	tok, err := credential.Acquire(ctx, credential.Config{
		ClientID:     g.ClientID,
		ClientSecret: g.ClientSecret,
		TokenURL:     g.TokenURL(),
		Scope:        g.EffectiveScope(),
		Timeout:      g.TokenTimeout,
	})
	if err != nil {
		return nil, err
	}
	logger.Success("Token acquired")
	return tok, nil
}

// loadGatewayToken loads the config and acquires a token for the token and
// tools subcommands.
func loadGatewayToken(cmd *cobra.Command) (*config.Config, *logging.Logger, *credential.Token, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.RequireGateway(); err != nil {
		return nil, nil, nil, err
	}
	tok, err := acquireGatewayToken(cmd.Context(), cfg.Gateway, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, tok, nil
}

func runGatewayToken(cmd *cobra.Command, args []string) error {
	_, logger, tok, err := loadGatewayToken(cmd)
	if err != nil {
		return err
	}
	printToken(cmd.OutOrStdout(), logger, tok)
	return nil
}

func runGatewayTools(cmd *cobra.Command, args []string) error {
	cfg, logger, tok, err := loadGatewayToken(cmd)
	if err != nil {
		return err
	}
	return listGatewayTools(cmd.Context(), cmd.OutOrStdout(), cfg.Gateway, logger, tok)
}

func printToken(w io.Writer, logger *logging.Logger, tok *credential.Token) {
	fmt.Fprintf(w, "Token:      %s\n", tok)
	if !tok.Expiry.IsZero() {
		fmt.Fprintf(w, "Expires in: %s\n", time.Until(tok.Expiry).Round(time.Second))
	}

	claims, err := credential.DecodeClaims(tok.AccessToken)
	if err != nil {
		logger.Warning("Token is not a JWT, skipping claims: %v", err)
		return
	}
	fmt.Fprintf(w, "Client ID:  %s\n", claims.ClientID)
	fmt.Fprintf(w, "Scope:      %s\n", claims.Scope)
	fmt.Fprintf(w, "Issuer:     %s\n", claims.Issuer)
	if claims.TokenUse != "" {
		fmt.Fprintf(w, "Token use:  %s\n", claims.TokenUse)
	}
	if len(claims.Audience) > 0 {
		fmt.Fprintf(w, "Audience:   %s\n", strings.Join(claims.Audience, ", "))
	}
}

func listGatewayTools(ctx context.Context, w io.Writer, g config.GatewayConfig, logger *logging.Logger, tok *credential.Token) error {
	return toolsession.With(ctx, toolsession.Config{
		URL:           g.URL,
		Timeout:       g.SessionTimeout,
		ClientName:    "agent-relay",
		ClientVersion: version,
		Logger:        logger,
	}, tok.AccessToken, func(s *toolsession.Session) error {
		info := s.ServerInfo()
		fmt.Fprintf(w, "Gateway: %s %s\n", info.Name, info.Version)

		defs := s.Descriptors()
		fmt.Fprintf(w, "Available tools (%d):\n", len(defs))
		for i, d := range defs {
			fmt.Fprintf(w, "  %d. %-30s - %s\n", i+1, d.Name, d.Description)
		}
		return nil
	})
}
