package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/giantswarm/agent-relay/internal/event"
	"github.com/giantswarm/agent-relay/internal/logging"
	"github.com/giantswarm/agent-relay/internal/metrics"
	"github.com/giantswarm/agent-relay/internal/relay"
)

const (
	contentTypeSSE    = "text/event-stream"
	contentTypeNDJSON = "application/x-ndjson"

	// RequestIDHeader carries the per-invocation identifier.
	RequestIDHeader = "X-Request-Id"

	maxRequestBody = 1 << 20
)

// Invoker runs one relay invocation.
type Invoker interface {
	Invoke(ctx context.Context, req relay.Request, emit func(event.Outbound) error) error
}

// InvocationHandler serves POST /invocations as an SSE stream, or NDJSON
// when the caller accepts application/x-ndjson.
type InvocationHandler struct {
	invoker Invoker
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// NewInvocationHandler constructs a handler instance.
func NewInvocationHandler(invoker Invoker, m *metrics.Metrics, logger *logging.Logger) *InvocationHandler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &InvocationHandler{invoker: invoker, metrics: m, logger: logger}
}

func (h *InvocationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, requestID)

	var req relay.Request
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		http.Error(w, "invalid request: prompt is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	transport := "sse"
	write := writeSSE
	if acceptsNDJSON(r.Header.Get("Accept")) {
		transport = "ndjson"
		write = writeNDJSON
	}

	h.metrics.IncActiveStreams(transport)
	defer h.metrics.DecActiveStreams(transport)

	if transport == "sse" {
		w.Header().Set("Content-Type", contentTypeSSE)
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
	} else {
		w.Header().Set("Content-Type", contentTypeNDJSON)
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Info("Invocation %s started (%s)", requestID, transport)

	bw := bufio.NewWriter(w)
	err := h.invoker.Invoke(r.Context(), req, func(ev event.Outbound) error {
		b, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if err := write(bw, b); err != nil {
			return err
		}
		if err := bw.Flush(); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})

	switch {
	case err == nil:
		h.logger.Info("Invocation %s finished", requestID)
	case errors.Is(err, context.Canceled):
		h.logger.Warning("Invocation %s cancelled by caller", requestID)
	default:
		h.logger.Error("Invocation %s aborted: %v", requestID, err)
	}
}

func writeSSE(w *bufio.Writer, payload []byte) error {
	if _, err := w.WriteString("data: "); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err := w.WriteString("\n\n")
	return err
}

func writeNDJSON(w *bufio.Writer, payload []byte) error {
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return w.WriteByte('\n')
}

func acceptsNDJSON(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mediaType := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if strings.EqualFold(mediaType, contentTypeNDJSON) {
			return true
		}
	}
	return false
}
