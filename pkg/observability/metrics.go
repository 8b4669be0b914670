package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing, so
// components can take one optionally.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Lifecycle metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	InstalledPlugins  prometheus.Gauge

	// Registry and download metrics
	RegistryFetchesTotal *prometheus.CounterVec
	FetchRetriesTotal    *prometheus.CounterVec

	// Dependency metrics
	DependencyInstallsTotal   *prometheus.CounterVec
	DependencyInstallDuration prometheus.Histogram

	// Loader metrics
	PluginLoadsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledmatrix_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledmatrix_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledmatrix_plugin_operations_total",
				Help: "Total number of plugin lifecycle operations",
			},
			[]string{"operation", "outcome"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledmatrix_plugin_operation_duration_seconds",
				Help:    "Plugin lifecycle operation duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"operation"},
		),
		InstalledPlugins: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledmatrix_plugins_installed",
				Help: "Number of plugins installed on disk",
			},
		),

		RegistryFetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledmatrix_registry_fetches_total",
				Help: "Total number of registry index fetches",
			},
			[]string{"source", "status"},
		),
		FetchRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledmatrix_fetch_retries_total",
				Help: "Total number of retried HTTP fetches",
			},
			[]string{"kind"},
		),

		DependencyInstallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledmatrix_dependency_installs_total",
				Help: "Total number of plugin dependency installs",
			},
			[]string{"status"},
		),
		DependencyInstallDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ledmatrix_dependency_install_duration_seconds",
				Help:    "Plugin dependency install duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
		),

		PluginLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledmatrix_plugin_loads_total",
				Help: "Total number of plugin loads",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.OperationsTotal,
		m.OperationDuration,
		m.InstalledPlugins,
		m.RegistryFetchesTotal,
		m.FetchRetriesTotal,
		m.DependencyInstallsTotal,
		m.DependencyInstallDuration,
		m.PluginLoadsTotal,
	)

	return m
}

// RecordOperation counts a finished lifecycle operation
func (m *Metrics) RecordOperation(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetInstalled records how many plugins are on disk
func (m *Metrics) SetInstalled(count int) {
	if m == nil {
		return
	}
	m.InstalledPlugins.Set(float64(count))
}

// RecordRegistryFetch counts a registry index fetch; status is "ok" or "failed"
func (m *Metrics) RecordRegistryFetch(source, status string) {
	if m == nil {
		return
	}
	m.RegistryFetchesTotal.WithLabelValues(source, status).Inc()
}

// RecordRetry counts a retried fetch by failure kind
func (m *Metrics) RecordRetry(kind string) {
	if m == nil {
		return
	}
	m.FetchRetriesTotal.WithLabelValues(kind).Inc()
}

// RecordDependencyInstall counts a dependency install run
func (m *Metrics) RecordDependencyInstall(ok bool, duration time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.DependencyInstallsTotal.WithLabelValues(status).Inc()
	m.DependencyInstallDuration.Observe(duration.Seconds())
}

// RecordLoad counts a plugin load
func (m *Metrics) RecordLoad(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	m.PluginLoadsTotal.WithLabelValues(status).Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests. route names the path label;
// nil uses the raw URL path.
func HTTPMetricsMiddleware(metrics *Metrics, route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if route != nil {
				path = route(r)
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
