// Package toolsession opens scoped MCP sessions against the remote tool
// gateway and exposes the discovered tools.
package toolsession

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/giantswarm/agent-relay/internal/logging"
	"github.com/giantswarm/agent-relay/internal/tools"
)

// maxDiscoveryPages guards against gateways that never stop paginating.
const maxDiscoveryPages = 50

// Config describes how to reach the gateway.
type Config struct {
	URL           string
	Timeout       time.Duration
	ClientName    string
	ClientVersion string

	// HTTPClient optionally replaces the transport's HTTP client
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Stage identifies the setup step that failed.
type Stage string

const (
	StageConnect    Stage = "connect"
	StageInitialize Stage = "initialize"
	StageDiscover   Stage = "discover"
)

// Error is returned when a session cannot be set up.
type Error struct {
	Stage Stage
	// Unauthorized is a best-effort guess from the transport error text.
	// Do not base policy on it.
	Unauthorized bool
	Err          error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("tool session %s failed: %v", e.Stage, e.Err)
	if e.Unauthorized {
		msg += " (gateway rejected the credential)"
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// mcpClient is the subset of the mcp-go client used by a session.
type mcpClient interface {
	Start(ctx context.Context) error
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// dial creates the underlying client; replaced in tests.
var dial = func(cfg Config, token string) (mcpClient, error) {
	opts := []transport.StreamableHTTPCOption{
		transport.WithHTTPHeaders(map[string]string{
			"Authorization": "Bearer " + token,
		}),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, transport.WithHTTPTimeout(cfg.Timeout))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, transport.WithHTTPBasicClient(cfg.HTTPClient))
	}
	return client.NewStreamableHttpClient(cfg.URL, opts...)
}

// Session is an open, initialized connection to the gateway.
type Session struct {
	client  mcpClient
	logger  *logging.Logger
	server  mcp.Implementation
	defs    []mcp.Tool
	handles []tools.Tool

	closeOnce sync.Once
	closeErr  error
}

// With opens a session, runs fn with it and closes the session on every
// exit path. Setup failures are returned as *Error; errors from fn are
// returned unchanged.
func With(ctx context.Context, cfg Config, token string, fn func(*Session) error) error {
	s, err := Open(ctx, cfg, token)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			s.logger.Warning("Closing tool session: %v", cerr)
		}
	}()
	return fn(s)
}

// Open connects, initializes and discovers tools. The caller owns the
// returned session and must Close it.
func Open(ctx context.Context, cfg Config, token string) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "agent-relay"
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "dev"
	}

	logger.Info("Connecting to tool gateway at %s...", cfg.URL)

	c, err := dial(cfg, token)
	if err != nil {
		return nil, newError(StageConnect, err)
	}
	s := &Session{client: c, logger: logger}

	if err := c.Start(ctx); err != nil {
		s.closeQuietly()
		return nil, newError(StageConnect, err)
	}

	if err := s.initialize(ctx, cfg); err != nil {
		s.closeQuietly()
		return nil, newError(StageInitialize, err)
	}

	if err := s.discover(ctx); err != nil {
		s.closeQuietly()
		return nil, newError(StageDiscover, err)
	}

	logger.Success("Tool gateway session ready (%d tools)", len(s.defs))
	return s, nil
}

// Close releases the session. It is safe to call more than once; only the
// first call reaches the transport.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}

func (s *Session) closeQuietly() {
	if err := s.Close(); err != nil {
		s.logger.Debug("Closing failed tool session: %v", err)
	}
}

// Tools returns handles for the discovered tools.
func (s *Session) Tools() []tools.Tool {
	out := make([]tools.Tool, len(s.handles))
	copy(out, s.handles)
	return out
}

// Descriptors returns the raw tool descriptors reported by the gateway.
func (s *Session) Descriptors() []mcp.Tool {
	out := make([]mcp.Tool, len(s.defs))
	copy(out, s.defs)
	return out
}

// ServerInfo returns the gateway's implementation info from initialize.
func (s *Session) ServerInfo() mcp.Implementation {
	return s.server
}

func (s *Session) initialize(ctx context.Context, cfg Config) error {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{
		Name:    cfg.ClientName,
		Version: cfg.ClientVersion,
	}
	req.Params.Capabilities = mcp.ClientCapabilities{}

	s.logger.Request("initialize", req.Params)

	result, err := s.client.Initialize(ctx, req)
	if err != nil {
		return err
	}

	s.logger.Response("initialize", result)
	s.server = result.ServerInfo
	return nil
}

func (s *Session) discover(ctx context.Context) error {
	var cursor mcp.Cursor
	for page := 0; page < maxDiscoveryPages; page++ {
		req := mcp.ListToolsRequest{}
		req.Params.Cursor = cursor

		s.logger.Request("tools/list", req.Params)

		result, err := s.client.ListTools(ctx, req)
		if err != nil {
			return err
		}

		s.logger.Response("tools/list", result)

		for _, def := range result.Tools {
			s.defs = append(s.defs, def)
			s.handles = append(s.handles, &remoteTool{session: s, def: def})
		}

		if result.NextCursor == "" {
			return nil
		}
		cursor = result.NextCursor
	}
	return fmt.Errorf("tools/list did not finish after %d pages", maxDiscoveryPages)
}

func newError(stage Stage, err error) *Error {
	return &Error{Stage: stage, Unauthorized: looksUnauthorized(err), Err: err}
}

// looksUnauthorized inspects the transport error text, which is all the
// streamable HTTP transport exposes for rejected credentials.
func looksUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "status 401") ||
		strings.Contains(msg, "status 403") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "forbidden")
}
