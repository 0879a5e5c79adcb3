// Package metrics holds the Prometheus collectors for the relay. All
// recorders are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agent_relay"

// Metrics bundles Prometheus collectors for the relay.
type Metrics struct {
	registry        *prometheus.Registry
	Invocations     *prometheus.CounterVec
	Duration        *prometheus.HistogramVec
	TokenFailures   *prometheus.CounterVec
	SessionFailures *prometheus.CounterVec
	ToolsDiscovered prometheus.Histogram
	Events          *prometheus.CounterVec
	ActiveStreams   *prometheus.GaugeVec
}

// New constructs a registry with the relay collectors plus the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	invocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "invocations_total",
		Help:      "Relay invocations by outcome",
	}, []string{"outcome"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "invocation_duration_seconds",
		Help:      "Relay invocation duration in seconds",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
	}, []string{"outcome"})

	tokenFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_acquisition_failures_total",
		Help:      "Failed client-credentials exchanges by HTTP status (0 for transport errors)",
	}, []string{"status"})

	sessionFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_session_failures_total",
		Help:      "Tool gateway session setup failures by stage",
	}, []string{"stage"})

	tools := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "gateway_tools_discovered",
		Help:      "Number of tools discovered on the gateway per invocation",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
	})

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbound_events_total",
		Help:      "Events streamed to callers by type",
	}, []string{"type"})

	active := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_streams",
		Help:      "Active invocation streams by transport",
	}, []string{"transport"})

	reg.MustRegister(
		invocations, duration, tokenFailures, sessionFailures, tools, events, active,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry:        reg,
		Invocations:     invocations,
		Duration:        duration,
		TokenFailures:   tokenFailures,
		SessionFailures: sessionFailures,
		ToolsDiscovered: tools,
		Events:          events,
		ActiveStreams:   active,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordInvocation records the outcome and duration of an invocation.
func (m *Metrics) RecordInvocation(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	outcome = orUnknown(outcome)
	m.Invocations.WithLabelValues(outcome).Inc()
	m.Duration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordTokenFailure counts a failed token exchange.
func (m *Metrics) RecordTokenFailure(status string) {
	if m == nil {
		return
	}
	m.TokenFailures.WithLabelValues(orUnknown(status)).Inc()
}

// RecordSessionFailure counts a failed tool session setup.
func (m *Metrics) RecordSessionFailure(stage string) {
	if m == nil {
		return
	}
	m.SessionFailures.WithLabelValues(orUnknown(stage)).Inc()
}

// ObserveTools records how many gateway tools were discovered.
func (m *Metrics) ObserveTools(n int) {
	if m == nil {
		return
	}
	m.ToolsDiscovered.Observe(float64(n))
}

// RecordEvent counts an outbound event.
func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(orUnknown(eventType)).Inc()
}

// IncActiveStreams increments the active stream gauge.
func (m *Metrics) IncActiveStreams(transport string) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(orUnknown(transport)).Inc()
}

// DecActiveStreams decrements the active stream gauge.
func (m *Metrics) DecActiveStreams(transport string) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(orUnknown(transport)).Dec()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
