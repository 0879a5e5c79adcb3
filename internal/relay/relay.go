// Package relay wires credential acquisition, the tool gateway session and
// the agent runtime into a single streamed invocation.
package relay

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/giantswarm/agent-relay/internal/config"
	"github.com/giantswarm/agent-relay/internal/credential"
	"github.com/giantswarm/agent-relay/internal/event"
	"github.com/giantswarm/agent-relay/internal/logging"
	"github.com/giantswarm/agent-relay/internal/metrics"
	"github.com/giantswarm/agent-relay/internal/prompt"
	"github.com/giantswarm/agent-relay/internal/runtime"
	"github.com/giantswarm/agent-relay/internal/tools"
	"github.com/giantswarm/agent-relay/internal/toolsession"
)

// ErrEmptyPrompt is returned before anything is streamed.
var ErrEmptyPrompt = errors.New("prompt is required")

// Request is one inbound invocation.
type Request struct {
	Prompt string `json:"prompt"`
	// CognitoToken is the caller's own token. It is accepted for
	// compatibility and never sent to the tool gateway.
	CognitoToken      string `json:"cognitoToken,omitempty"`
	GraphAccessToken  string `json:"graphAccessToken,omitempty"`
	UserEmail         string `json:"userEmail,omitempty"`
	UserPrincipalName string `json:"userPrincipalName,omitempty"`
	CurrentDateTime   string `json:"currentDateTime,omitempty"`
	Timezone          string `json:"timezone,omitempty"`
}

// Options configures an Orchestrator.
type Options struct {
	Config     *config.Config
	Runtime    runtime.Runtime
	LocalTools []tools.Tool
	Logger     *logging.Logger
	Metrics    *metrics.Metrics

	// ClientName and ClientVersion identify the relay to the gateway
	ClientName    string
	ClientVersion string

	// HTTPClient is used for the token endpoint and the gateway
	HTTPClient *http.Client
}

// Orchestrator runs invocations. It holds no per-request state and can be
// shared between concurrent requests.
type Orchestrator struct {
	cfg        *config.Config
	runtime    runtime.Runtime
	localTools []tools.Tool
	logger     *logging.Logger
	metrics    *metrics.Metrics
	clientName string
	clientVer  string
	httpClient *http.Client
}

// New validates options and returns an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Config == nil {
		return nil, errors.New("relay: config is required")
	}
	if opts.Runtime == nil {
		return nil, errors.New("relay: runtime is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	name := opts.ClientName
	if name == "" {
		name = "agent-relay"
	}
	return &Orchestrator{
		cfg:        opts.Config,
		runtime:    opts.Runtime,
		localTools: append([]tools.Tool(nil), opts.LocalTools...),
		logger:     logger,
		metrics:    opts.Metrics,
		clientName: name,
		clientVer:  opts.ClientVersion,
		httpClient: opts.HTTPClient,
	}, nil
}

// Invoke runs one request and streams outbound events through emit.
//
// Failures are reported to the caller as diagnostic text events. Invoke
// returns an error only for an empty prompt, when emit fails, or when ctx
// is cancelled.
func (o *Orchestrator) Invoke(ctx context.Context, req Request, emit func(event.Outbound) error) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return ErrEmptyPrompt
	}

	inv := &invocation{
		o:       o,
		req:     req,
		emit:    emit,
		verbose: o.cfg.Relay.VerboseDiagnostics,
		outcome: outcomeOK,
	}
	start := time.Now()
	defer func() {
		o.metrics.RecordInvocation(inv.outcome, time.Since(start))
	}()

	if req.CognitoToken != "" {
		o.logger.Debug("Caller token present; the gateway is reached with the machine credential only")
	}

	set := tools.NewSet(o.localTools...)

	if !o.cfg.Gateway.Enabled {
		inv.debug("Tool gateway disabled, using %d local tools", set.Len())
		return inv.finish(ctx, inv.run(ctx, set))
	}

	return inv.finish(ctx, inv.withGateway(ctx, set))
}

// withGateway acquires a credential and opens the gateway session around
// the agent run. Credential and session failures degrade to local tools.
func (inv *invocation) withGateway(ctx context.Context, set *tools.Set) error {
	o := inv.o
	gw := o.cfg.Gateway

	if err := o.cfg.RequireGateway(); err != nil {
		inv.outcome = outcomeConfigError
		o.logger.Error("Configuration error: %v", err)
		return inv.errorf("Configuration error: %v", err)
	}

	inv.debug("Requesting gateway token from %s", gw.TokenURL())
	tok, err := credential.Acquire(ctx, o.credentialConfig())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		inv.outcome = outcomeDegraded
		var te *credential.TokenAcquisitionError
		status := "0"
		if errors.As(err, &te) {
			status = strconv.Itoa(te.StatusCode)
		}
		o.metrics.RecordTokenFailure(status)
		o.logger.Warning("Gateway token acquisition failed: %v", err)
		if err := inv.errorf("Failed to acquire tool gateway token: %v. Continuing with local tools only.", err); err != nil {
			return err
		}
		return inv.run(ctx, set)
	}
	inv.debug("Gateway token acquired (%s)", tok)

	entered := false
	err = toolsession.With(ctx, o.sessionConfig(), tok.AccessToken, func(s *toolsession.Session) error {
		entered = true
		remote := s.Tools()
		o.metrics.ObserveTools(len(remote))

		if skipped := set.Add(remote...); len(skipped) > 0 {
			o.logger.Warning("Gateway tools shadowed by local tools: %s", strings.Join(skipped, ", "))
			if err := inv.info("Skipped gateway tools already provided locally: %s", strings.Join(skipped, ", ")); err != nil {
				return err
			}
		}
		if err := inv.info("Connected to tool gateway (%d tools)", len(remote)); err != nil {
			return err
		}
		if err := inv.debug("Available tools: %s", strings.Join(set.Names(), ", ")); err != nil {
			return err
		}
		return inv.run(ctx, set)
	})

	var serr *toolsession.Error
	if !entered && errors.As(err, &serr) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		inv.outcome = outcomeDegraded
		o.metrics.RecordSessionFailure(string(serr.Stage))
		o.logger.Warning("Tool gateway session failed: %v", err)
		if err := inv.errorf("Tool gateway unavailable (%s): %v. Continuing with local tools only.", serr.Stage, serr.Err); err != nil {
			return err
		}
		return inv.run(ctx, set)
	}
	return err
}

func (o *Orchestrator) systemPrompt(req Request) string {
	return prompt.Build(o.cfg.Relay.BaseInstruction, prompt.Context{
		CurrentDateTime:   req.CurrentDateTime,
		Timezone:          req.Timezone,
		GraphAccessToken:  req.GraphAccessToken,
		UserEmail:         req.UserEmail,
		UserPrincipalName: req.UserPrincipalName,
	})
}

// Tools returns the local tools merged with the gateway tools, without
// running the agent. The returned session, if any, must be closed.
func (o *Orchestrator) Tools(ctx context.Context) (*tools.Set, *toolsession.Session, error) {
	set := tools.NewSet(o.localTools...)
	if !o.cfg.Gateway.Enabled {
		return set, nil, nil
	}
	if err := o.cfg.RequireGateway(); err != nil {
		return set, nil, err
	}

	tok, err := credential.Acquire(ctx, o.credentialConfig())
	if err != nil {
		return set, nil, err
	}

	s, err := toolsession.Open(ctx, o.sessionConfig(), tok.AccessToken)
	if err != nil {
		return set, nil, err
	}
	if skipped := set.Add(s.Tools()...); len(skipped) > 0 {
		o.logger.Warning("Gateway tools shadowed by local tools: %s", strings.Join(skipped, ", "))
	}
	return set, s, nil
}

func (o *Orchestrator) credentialConfig() credential.Config {
	gw := o.cfg.Gateway
	return credential.Config{
		ClientID:     gw.ClientID,
		ClientSecret: gw.ClientSecret,
		TokenURL:     gw.TokenURL(),
		Scope:        gw.EffectiveScope(),
		Timeout:      gw.TokenTimeout,
		HTTPClient:   o.httpClient,
	}
}

func (o *Orchestrator) sessionConfig() toolsession.Config {
	gw := o.cfg.Gateway
	return toolsession.Config{
		URL:           gw.URL,
		Timeout:       gw.SessionTimeout,
		ClientName:    o.clientName,
		ClientVersion: o.clientVer,
		HTTPClient:    o.httpClient,
		Logger:        o.logger,
	}
}
