// Package observability holds the logging, metrics and tracing helpers
// shared by the gateway, the assembler, the orchestrator and ledgerd.
//
// Metrics are Prometheus collectors registered on a caller-supplied
// registry; a nil *Metrics is valid and records nothing. Spans go through
// the global OpenTelemetry tracer provider, which is a no-op until a
// process installs one.
package observability

import (
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/herbionyx/traceability"

// Metrics groups the collectors exported by the verification stack.
type Metrics struct {
	gatewayCalls     *prometheus.CounterVec
	verifications    *prometheus.CounterVec
	assembleDuration prometheus.Histogram
	ledgerRequests   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "herbionyx",
			Name:      "gateway_calls_total",
			Help:      "Ledger gateway calls by kind, function and outcome.",
		}, []string{"kind", "function", "outcome"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "herbionyx",
			Name:      "verifications_total",
			Help:      "Completed verification attempts by outcome.",
		}, []string{"outcome"}),
		assembleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "herbionyx",
			Name:      "assemble_duration_seconds",
			Help:      "Time spent assembling a batch journey.",
			Buckets:   prometheus.DefBuckets,
		}),
		ledgerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "herbionyx",
			Name:      "ledgerd_requests_total",
			Help:      "Development ledger HTTP requests by endpoint and status.",
		}, []string{"endpoint", "status"}),
	}
	if reg != nil {
		reg.MustRegister(m.gatewayCalls, m.verifications, m.assembleDuration, m.ledgerRequests)
	}
	return m
}

// GatewayCall counts one gateway call.
func (m *Metrics) GatewayCall(kind, function, outcome string) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(kind, function, outcome).Inc()
}

// Verification counts one finished verification attempt.
func (m *Metrics) Verification(outcome string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(outcome).Inc()
}

// AssembleSeconds records one assembly duration.
func (m *Metrics) AssembleSeconds(seconds float64) {
	if m == nil {
		return
	}
	m.assembleDuration.Observe(seconds)
}

// LedgerRequest counts one ledgerd HTTP request.
func (m *Metrics) LedgerRequest(endpoint string, status int) {
	if m == nil {
		return
	}
	m.ledgerRequests.WithLabelValues(endpoint, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	}
	return "2xx"
}

// Tracer returns the tracer for a package of this module.
func Tracer(pkg string) trace.Tracer {
	return otel.Tracer(instrumentationName + "/" + pkg)
}

// Logger returns the default logger tagged with a component name.
func Logger(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
