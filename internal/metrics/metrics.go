// Package metrics holds the Prometheus collectors for rebuilds, resolution,
// scenario simulation and the HTTP API. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agrisim"

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	rowsLoaded   *prometheus.CounterVec
	rowsExcluded *prometheus.CounterVec
	tableFailed  *prometheus.CounterVec
	resolutions  *prometheus.CounterVec
	simulation   *prometheus.HistogramVec
	cache        *prometheus.CounterVec
	httpRequests *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		// Labels: table
		rowsLoaded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebuild",
			Name:      "rows_loaded_total",
			Help:      "Rows written to normalized tables by rebuilds",
		}, []string{"table"}),
		// Labels: table, kind (unresolved_entity, invalid_value, duplicate_key)
		rowsExcluded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebuild",
			Name:      "rows_excluded_total",
			Help:      "Rows excluded from normalized tables by issue kind",
		}, []string{"table", "kind"}),
		// Labels: table, kind
		tableFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebuild",
			Name:      "table_failures_total",
			Help:      "Table replacements that kept the prior state",
		}, []string{"table", "kind"}),
		// Labels: outcome (alias, exact, matched, ambiguous, no_match)
		resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "resolutions_total",
			Help:      "District name resolutions by outcome",
		}, []string{"outcome"}),
		// Labels: status (ok, error)
		simulation: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scenario",
			Name:      "duration_seconds",
			Help:      "Scenario simulation latency in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"status"}),
		// Labels: result (hit, miss)
		cache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scenario",
			Name:      "vector_cache_total",
			Help:      "Feature vector cache lookups",
		}, []string{"result"}),
		// Labels: route, code
		httpRequests: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RowsLoaded counts rows written to table.
func (m *Metrics) RowsLoaded(table string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.rowsLoaded.WithLabelValues(table).Add(float64(n))
}

// RowExcluded counts one row kept out of table.
func (m *Metrics) RowExcluded(table, kind string) {
	if m == nil {
		return
	}
	m.rowsExcluded.WithLabelValues(table, kind).Inc()
}

// TableFailed counts a table replacement that was abandoned.
func (m *Metrics) TableFailed(table, kind string) {
	if m == nil {
		return
	}
	m.tableFailed.WithLabelValues(table, kind).Inc()
}

// Resolution counts one resolver outcome.
func (m *Metrics) Resolution(outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(outcome).Inc()
}

// Simulation observes the duration of one scenario run.
func (m *Metrics) Simulation(d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.simulation.WithLabelValues(status).Observe(d.Seconds())
}

// CacheLookup counts a feature vector cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cache.WithLabelValues(result).Inc()
}

// HTTPRequest observes one served request.
func (m *Metrics) HTTPRequest(route, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, code).Observe(d.Seconds())
}
