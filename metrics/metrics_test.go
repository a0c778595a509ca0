package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Frame("delivered")
		m.BytesRead(10)
		m.Operation("start_payment", "CARD", "success")
		m.BackendRequest("transaction", 200)
	})
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()
	m.Frame("delivered")
	m.Frame("delivered")
	m.Frame("dropped")
	m.Operation("start_payment", "CASH", "success")
	m.BackendRequest("transaction/cash", 201)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FrameCounter("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FrameCounter("dropped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationCounter("start_payment", "CASH", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendCounter("transaction/cash", 201)))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.BytesRead(42)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "paybridge_terminal_bytes_read_total 42"))
}
