package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/agent-relay/internal/config"
	"github.com/giantswarm/agent-relay/internal/logging"
	"github.com/giantswarm/agent-relay/internal/metrics"
	"github.com/giantswarm/agent-relay/internal/relay"
	"github.com/giantswarm/agent-relay/internal/runtime/bedrock"
	"github.com/giantswarm/agent-relay/internal/tools"
	"github.com/giantswarm/agent-relay/internal/tools/rss"
)

// app bundles what every agent-facing command needs.
type app struct {
	cfg          *config.Config
	logger       *logging.Logger
	metrics      *metrics.Metrics
	orchestrator *relay.Orchestrator
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	rt, err := bedrock.New(ctx, bedrock.Options{
		ModelID:     cfg.Agent.ModelID,
		Region:      cfg.Agent.Region,
		MaxTurns:    cfg.Agent.MaxTurns,
		MaxTokens:   cfg.Agent.MaxTokens,
		Temperature: cfg.Agent.Temperature,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent runtime: %w", err)
	}

	m := metrics.New()
	o, err := relay.New(relay.Options{
		Config:        cfg,
		Runtime:       rt,
		LocalTools:    localTools(cfg),
		Logger:        logger,
		Metrics:       m,
		ClientName:    "agent-relay",
		ClientVersion: version,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Gateway.Enabled {
		if err := cfg.RequireGateway(); err != nil {
			logger.Warning("Tool gateway is not usable, requests will report: %v", err)
		}
	}

	return &app{cfg: cfg, logger: logger, metrics: m, orchestrator: o}, nil
}

func localTools(cfg *config.Config) []tools.Tool {
	return []tools.Tool{
		rss.New(
			rss.WithTimeout(cfg.RSS.Timeout),
			rss.WithMaxEntries(cfg.RSS.MaxEntries),
			rss.WithUserAgent(cfg.RSS.UserAgent),
		),
	}
}
