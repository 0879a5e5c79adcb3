package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/agent-relay/internal/event"
	"github.com/giantswarm/agent-relay/internal/runtime"
	"github.com/giantswarm/agent-relay/internal/tools"
)

// Diagnostic prefixes for text events generated by the relay itself.
const (
	PrefixError = "[ERROR] "
	PrefixInfo  = "[INFO] "
	PrefixDebug = "[DEBUG] "
)

// Invocation outcomes used as metric labels.
const (
	outcomeOK          = "ok"
	outcomeDegraded    = "degraded"
	outcomeConfigError = "config_error"
	outcomeStreamError = "stream_error"
	outcomeCancelled   = "cancelled"
	outcomeEmitError   = "emit_error"
)

// invocation is the state of a single Invoke call.
type invocation struct {
	o       *Orchestrator
	req     Request
	emit    func(event.Outbound) error
	verbose bool

	// emitErr is sticky: once the caller stops accepting events every
	// later send fails with the same error.
	emitErr  error
	streamed bool
	outcome  string
}

func (inv *invocation) send(ev event.Outbound) error {
	if inv.emitErr != nil {
		return inv.emitErr
	}
	if err := inv.emit(ev); err != nil {
		inv.emitErr = err
		return err
	}
	inv.o.metrics.RecordEvent(string(ev.Type))
	return nil
}

func (inv *invocation) errorf(format string, args ...any) error {
	return inv.send(event.Text(PrefixError + fmt.Sprintf(format, args...)))
}

func (inv *invocation) info(format string, args ...any) error {
	if !inv.verbose {
		return nil
	}
	return inv.send(event.Text(PrefixInfo + fmt.Sprintf(format, args...)))
}

func (inv *invocation) debug(format string, args ...any) error {
	if !inv.verbose {
		return nil
	}
	return inv.send(event.Text(PrefixDebug + fmt.Sprintf(format, args...)))
}

// run invokes the agent with the given tools and relays its events.
// Streaming failures become a diagnostic event.
func (inv *invocation) run(ctx context.Context, set *tools.Set) error {
	o := inv.o

	inv.debug("Invoking agent with %d tools", set.Len())

	err := o.runtime.Stream(ctx, runtime.Request{
		SystemPrompt: o.systemPrompt(inv.req),
		Prompt:       inv.req.Prompt,
		Tools:        set,
	}, inv.relay)
	if err == nil {
		return nil
	}

	if inv.emitErr != nil {
		return inv.emitErr
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	inv.outcome = outcomeStreamError
	o.logger.Error("Agent stream failed: %v", err)
	return inv.errorf("Agent streaming failed: %v", err)
}

// relay translates one raw event. Text from the terminal result is dropped
// when the same answer was already streamed as deltas.
func (inv *invocation) relay(raw event.Raw) error {
	c := event.Inspect(raw)
	switch c.Kind {
	case event.KindTextDelta:
		inv.streamed = true
	case event.KindResult:
		if inv.streamed {
			return nil
		}
	}

	for _, ev := range c.Outbound() {
		if err := inv.send(ev); err != nil {
			return err
		}
	}
	return nil
}

// finish maps the final error to the documented Invoke contract.
func (inv *invocation) finish(ctx context.Context, err error) error {
	switch {
	case inv.emitErr != nil:
		inv.outcome = outcomeEmitError
		return inv.emitErr
	case ctx.Err() != nil:
		inv.outcome = outcomeCancelled
		return ctx.Err()
	case err != nil && errors.Is(err, context.Canceled):
		inv.outcome = outcomeCancelled
		return err
	case err != nil:
		inv.o.logger.Error("Invocation failed: %v", err)
		if inv.outcome == outcomeOK {
			inv.outcome = outcomeStreamError
		}
		return inv.errorf("Invocation failed: %v", err)
	}
	return nil
}
