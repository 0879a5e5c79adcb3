// Package logging provides the relay's console/JSON logger.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls how a Logger renders its output.
type Options struct {
	// Level is one of debug, info, warn, error (default: info)
	Level string

	// Format is "console" or "json" (default: console)
	Format string

	// Verbose enables the *Verbose helpers
	Verbose bool

	// Color enables ANSI colored level names (console format only)
	Color bool

	// JSONRPC enables full JSON-RPC request/response payload logging
	JSONRPC bool

	// Writer overrides the destination (default: stderr)
	Writer io.Writer
}

// Logger wraps a zap logger with the message helpers used across the relay.
type Logger struct {
	zl        *zap.Logger
	sugar     *zap.SugaredLogger
	level     zap.AtomicLevel
	baseLevel zapcore.Level
	verbose   atomic.Bool
	jsonRPC   bool
}

// New builds a Logger from options.
func New(opts Options) (*Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.Set(strings.ToLower(opts.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(opts.Format) {
	case "json":
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	case "", "console":
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		if opts.Color {
			cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		encoder = zapcore.NewConsoleEncoder(cfg)
	default:
		return nil, fmt.Errorf("invalid log format %q (use console or json)", opts.Format)
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	atomicLevel := zap.NewAtomicLevelAt(level)
	core := zapcore.NewCore(encoder, zapcore.AddSync(w), atomicLevel)

	l := &Logger{
		zl:        zap.New(core),
		level:     atomicLevel,
		baseLevel: level,
		jsonRPC:   opts.JSONRPC,
	}
	l.sugar = l.zl.Sugar()
	l.SetVerbose(opts.Verbose)
	return l, nil
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	l := &Logger{
		zl:        zap.NewNop(),
		level:     zap.NewAtomicLevelAt(zapcore.InfoLevel),
		baseLevel: zapcore.InfoLevel,
	}
	l.sugar = l.zl.Sugar()
	return l
}

// Zap exposes the underlying zap logger for structured call sites.
func (l *Logger) Zap() *zap.Logger {
	return l.zl
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

// SetVerbose toggles verbose output at runtime. Verbose mode also lowers
// the level to debug.
func (l *Logger) SetVerbose(v bool) {
	l.verbose.Store(v)
	if v && l.baseLevel > zapcore.DebugLevel {
		l.level.SetLevel(zapcore.DebugLevel)
		return
	}
	l.level.SetLevel(l.baseLevel)
}

// IsVerbose reports whether verbose output is enabled.
func (l *Logger) IsVerbose() bool {
	return l.verbose.Load()
}

// Debug logs at debug level.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Success logs a completed step.
func (l *Logger) Success(format string, args ...interface{}) {
	l.sugar.Infof("✓ "+format, args...)
}

// Warning logs a warning.
func (l *Logger) Warning(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error.
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// InfoVerbose logs only when verbose mode is enabled. Safe on a nil Logger.
func (l *Logger) InfoVerbose(format string, args ...interface{}) {
	if l != nil && l.verbose.Load() {
		l.Info(format, args...)
	}
}

// WarningVerbose logs only when verbose mode is enabled. Safe on a nil Logger.
func (l *Logger) WarningVerbose(format string, args ...interface{}) {
	if l != nil && l.verbose.Load() {
		l.Warning(format, args...)
	}
}

// Request logs an outgoing JSON-RPC request when JSON-RPC logging is on.
func (l *Logger) Request(method string, params interface{}) {
	if !l.jsonRPC {
		return
	}
	l.zl.Info("→ "+method, zap.String("params", PrettyJSON(params)))
}

// Response logs an incoming JSON-RPC response when JSON-RPC logging is on.
func (l *Logger) Response(method string, result interface{}) {
	if !l.jsonRPC {
		return
	}
	l.zl.Info("← "+method, zap.String("result", PrettyJSON(result)))
}

// PrettyJSON pretty-prints a value for logging.
func PrettyJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}

// Redact shortens a secret to a recognisable prefix.
func Redact(secret string) string {
	const keep = 6
	if secret == "" {
		return ""
	}
	if len(secret) <= keep {
		return strings.Repeat("*", len(secret))
	}
	return secret[:keep] + "..."
}
