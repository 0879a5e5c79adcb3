// Package runtime defines the contract between the relay and the agent
// runtime that produces raw events.
package runtime

import (
	"context"

	"github.com/giantswarm/agent-relay/internal/event"
	"github.com/giantswarm/agent-relay/internal/tools"
)

// Request is a single agent invocation.
type Request struct {
	SystemPrompt string
	Prompt       string
	// Tools the agent may call. Nil means no tools.
	Tools *tools.Set
}

// Runtime streams raw agent events for a request. Stream returns when the
// agent finishes, emit fails, or ctx is cancelled.
type Runtime interface {
	Stream(ctx context.Context, req Request, emit func(event.Raw) error) error
}

// Func adapts a function to the Runtime interface.
type Func func(ctx context.Context, req Request, emit func(event.Raw) error) error

func (f Func) Stream(ctx context.Context, req Request, emit func(event.Raw) error) error {
	return f(ctx, req, emit)
}
