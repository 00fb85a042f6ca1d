package observability

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.GatewayCall("query", "GetProvenance", "ok")
	m.GatewayCall("query", "GetProvenance", "ok")
	m.Verification("verified")
	m.AssembleSeconds(0.02)
	m.LedgerRequest("/api/fabric/query", 200)
	m.LedgerRequest("/api/fabric/query", 404)
	m.LedgerRequest("/api/fabric/invoke", 503)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.gatewayCalls.WithLabelValues("query", "GetProvenance", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("verified")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerRequests.WithLabelValues("/api/fabric/query", "4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerRequests.WithLabelValues("/api/fabric/invoke", "5xx")))

	err := testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP herbionyx_verifications_total Completed verification attempts by outcome.
# TYPE herbionyx_verifications_total counter
herbionyx_verifications_total{outcome="verified"} 1
`), "herbionyx_verifications_total")
	require.NoError(t, err)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.GatewayCall("invoke", "CreateBatch", "error")
		m.Verification("error")
		m.AssembleSeconds(1)
		m.LedgerRequest("/metrics", 200)
	})
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for name, want := range cases {
		assert.Equal(t, want, ParseLevel(name), name)
	}
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "3xx", statusClass(302))
	assert.Equal(t, "4xx", statusClass(400))
	assert.Equal(t, "5xx", statusClass(502))
}
