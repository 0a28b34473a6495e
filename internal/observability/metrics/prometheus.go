package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics collects pipeline metrics in a private registry. A nil
// *PrometheusMetrics is valid and records nothing, so components can take it optionally.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	variablesFitted     *prometheus.CounterVec
	strataSummarized    prometheus.Counter
	strataSimulated     prometheus.Counter
	recordsGenerated    prometheus.Counter
	unitFailures        *prometheus.CounterVec
	warnings            *prometheus.CounterVec
	covarianceRepairs   prometheus.Counter
	simulationDuration  prometheus.Histogram
	storageOperations   *prometheus.CounterVec
	storageDuration     *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewPrometheusMetrics creates and registers every metric under namespace.
func NewPrometheusMetrics(namespace string) (*PrometheusMetrics, error) {
	pm := &PrometheusMetrics{registry: prometheus.NewRegistry()}

	pm.variablesFitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "variables_fitted_total",
		Help:      "Continuous variables normalized and simplified",
	}, []string{"transform"})
	pm.strataSummarized = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "strata_summarized_total",
		Help:      "Strata summarized",
	})
	pm.strataSimulated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "strata_simulated_total",
		Help:      "Strata successfully simulated",
	})
	pm.recordsGenerated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "synthetic_records_total",
		Help:      "Synthetic individuals generated",
	})
	pm.unitFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "unit_failures_total",
		Help:      "Variables or strata that failed and were skipped",
	}, []string{"kind", "type"})
	pm.warnings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "warnings_total",
		Help:      "Values affected by recoverable warnings",
	}, []string{"kind"})
	pm.covarianceRepairs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "covariance_repairs_total",
		Help:      "Stratum covariance matrices replaced by their nearest positive-semidefinite matrix",
	})
	pm.simulationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stratum_simulation_seconds",
		Help:      "Time spent simulating one stratum",
		Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5},
	})
	pm.storageOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "storage_operations_total",
		Help:      "Artifact store operations",
	}, []string{"backend", "operation", "status"})
	pm.storageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "storage_operation_duration_seconds",
		Help:      "Artifact store operation duration in seconds",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
	}, []string{"backend", "operation"})
	pm.httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "route", "status"})
	pm.httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	collectors := []prometheus.Collector{
		pm.variablesFitted, pm.strataSummarized, pm.strataSimulated, pm.recordsGenerated,
		pm.unitFailures, pm.warnings, pm.covarianceRepairs, pm.simulationDuration,
		pm.storageOperations, pm.storageDuration, pm.httpRequestsTotal, pm.httpRequestDuration,
	}
	for _, c := range collectors {
		if err := pm.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return pm, nil
}

// Registry exposes the underlying registry, mainly for tests.
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	if pm == nil {
		return nil
	}
	return pm.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (pm *PrometheusMetrics) Handler() http.Handler {
	if pm == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (pm *PrometheusMetrics) RecordVariableFitted(transformed bool) {
	if pm == nil {
		return
	}
	pm.variablesFitted.WithLabelValues(fmt.Sprint(transformed)).Inc()
}

func (pm *PrometheusMetrics) RecordStratumSummarized() {
	if pm == nil {
		return
	}
	pm.strataSummarized.Inc()
}

func (pm *PrometheusMetrics) RecordStratumSimulated(records int, duration time.Duration) {
	if pm == nil {
		return
	}
	pm.strataSimulated.Inc()
	pm.recordsGenerated.Add(float64(records))
	pm.simulationDuration.Observe(duration.Seconds())
}

func (pm *PrometheusMetrics) RecordCovarianceRepair() {
	if pm == nil {
		return
	}
	pm.covarianceRepairs.Inc()
}

func (pm *PrometheusMetrics) RecordUnitFailure(kind, errType string) {
	if pm == nil {
		return
	}
	pm.unitFailures.WithLabelValues(kind, errType).Inc()
}

func (pm *PrometheusMetrics) RecordWarning(kind string, count int) {
	if pm == nil {
		return
	}
	pm.warnings.WithLabelValues(kind).Add(float64(count))
}

func (pm *PrometheusMetrics) RecordStorageOperation(backend, operation string, err error, duration time.Duration) {
	if pm == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	pm.storageOperations.WithLabelValues(backend, operation, status).Inc()
	pm.storageDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

func (pm *PrometheusMetrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if pm == nil {
		return
	}
	pm.httpRequestsTotal.WithLabelValues(method, route, fmt.Sprint(status)).Inc()
	pm.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
