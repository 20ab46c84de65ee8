package telemetry_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zeroledger/internal/telemetry"
)

func TestRecorders(t *testing.T) {
	m := telemetry.New(prometheus.NewRegistry())

	m.RecordCacheLookup("classification", "hit")
	m.RecordCacheLookup("classification", "hit")
	m.RecordExternalCall("classifier", "success", 120*time.Millisecond)
	m.RecordResolution("fallback")
	m.RecordInconsistency()
	m.SetBreakerState("generator", 1)

	assert.InDelta(t, 2, testutil.ToFloat64(m.CacheLookups.WithLabelValues("classification", "hit")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ExternalCalls.WithLabelValues("classifier", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Resolutions.WithLabelValues("fallback")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Inconsistencies), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.BreakerState.WithLabelValues("generator")), 0)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *telemetry.Metrics

	assert.NotPanics(t, func() {
		m.RecordCacheLookup("resolution", "miss")
		m.RecordRetry("generator")
		m.RecordSnapshotBuild("full", time.Second, 10)
		m.RecordIngest(1, 1)
	})
}

func TestHandlerServesRegistry(t *testing.T) {
	m := telemetry.New(prometheus.NewRegistry())
	m.RecordClassification("accepted")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `zeroledger_classifications_total{decision="accepted"} 1`)
}
