package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersCollectors(t *testing.T) {
	m := NewMetrics()
	require.NotNil(t, m.Registry())

	m.RecordAPIRequest("GET", "/api/v1/secret-imports", "200", 0.05)
	m.RecordImportMutation("create")
	m.RecordCryptoOp("decrypt")
	m.ResolveCycleSkips.Inc()
	m.SetDBConnections(3, 2)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("GET", "/api/v1/secret-imports", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ImportMutationsTotal.WithLabelValues("create")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ResolveCycleSkips))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.DBConnectionsActive))
}

func TestMetricsHandlerServes(t *testing.T) {
	m := NewMetrics()
	m.RecordAPIRequest("GET", "/healthz", "200", 0.001)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "keyfold_http_requests_total")
}
