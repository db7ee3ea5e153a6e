package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RowsLoaded("crop_yields", 3)
		m.RowExcluded("crop_yields", "unresolved_entity")
		m.TableFailed("crop_yields", "referential_integrity_violation")
		m.Resolution("alias")
		m.Simulation(time.Millisecond, nil)
		m.CacheLookup(true)
		m.HTTPRequest("/healthz", "200", time.Millisecond)
	})
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()
	m.RowsLoaded("crop_yields", 3)
	m.RowsLoaded("crop_yields", 2)
	m.RowExcluded("crop_yields", "unresolved_entity")
	m.Resolution("matched")
	m.Resolution("matched")
	m.CacheLookup(false)
	m.Simulation(2*time.Millisecond, errors.New("boom"))

	assert.InDelta(t, 5, testutil.ToFloat64(m.rowsLoaded.WithLabelValues("crop_yields")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.rowsExcluded.WithLabelValues("crop_yields", "unresolved_entity")), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(m.resolutions.WithLabelValues("matched")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.cache.WithLabelValues("miss")), 1e-9)
	assert.Equal(t, 1, testutil.CollectAndCount(m.simulation))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.RowsLoaded("monthly_weather", 12)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `agrisim_rebuild_rows_loaded_total{table="monthly_weather"} 12`)
}
