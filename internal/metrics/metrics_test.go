package metrics

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ExportsProtocolInstruments(t *testing.T) {
	reg := prom.NewRegistry()
	m, handler, err := SetupWithRegistry("argenta-test", reg)
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordAction(ctx, "borrow", "ok")
	m.RecordAction(ctx, "borrow", "UNDERCOLLATERALIZED")
	m.RecordLiquidation(ctx, "keeper")
	m.RecordHTTPRequest(ctx, "GET", "/v1/protocol", 200, 15*time.Millisecond)
	require.NoError(t, m.ObserveTotalDebt(func() float64 { return 1000 }))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	assert.Contains(t, body, "arg_protocol_actions_total")
	assert.Contains(t, body, `result="UNDERCOLLATERALIZED"`)
	assert.Contains(t, body, "arg_liquidations_total")
	assert.Contains(t, body, "arg_total_debt")
	assert.Contains(t, body, "arg_http_requests_total")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordAction(ctx, "open", "ok")
		m.RecordLiquidation(ctx, "api")
		m.RecordKeeperScan(ctx, 0)
		m.RecordCacheHit(ctx, "k")
		m.RecordCacheMiss(ctx, "k")
		m.IncrementConnections(ctx)
		m.DecrementConnections(ctx)
		m.RecordHTTPRequest(ctx, "GET", "/", 200, time.Millisecond)
	})
	assert.NoError(t, m.ObserveTotalDebt(func() float64 { return 0 }))
}
