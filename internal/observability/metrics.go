package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the BFF.
type Metrics struct {
	// HTTP
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Table controllers
	TableFetchesTotal        *prometheus.CounterVec
	TableFetchDuration       *prometheus.HistogramVec
	TableStaleResponsesTotal *prometheus.CounterVec

	// Backend fetches
	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState *prometheus.GaugeVec
	BackendRetriesTotal        *prometheus.CounterVec

	// Page cache
	PageCacheHitsTotal   prometheus.Counter
	PageCacheMissesTotal prometheus.Counter

	// Definitions
	DefinitionReloadTotal    *prometheus.CounterVec
	DefinitionsLoaded        prometheus.Gauge
	OpenAPIOperationsIndexed *prometheus.GaugeVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "concierge_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "concierge_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "concierge_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		TableFetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "concierge_table_fetches_total",
			Help: "Accepted table fetches by outcome.",
		}, []string{"table", "outcome"}),
		TableFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "concierge_table_fetch_duration_seconds",
			Help:    "Duration of accepted table fetches in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"table"}),
		TableStaleResponsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "concierge_table_stale_responses_total",
			Help: "Fetch responses discarded because a newer request was issued.",
		}, []string{"table"}),

		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "concierge_backend_requests_total",
			Help: "Total number of backend service requests.",
		}, []string{"service", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "concierge_backend_request_duration_seconds",
			Help:    "Backend request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"service"}),
		BackendCircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "concierge_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"service"}),
		BackendRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "concierge_backend_retries_total",
			Help: "Total number of backend request retries.",
		}, []string{"service"}),

		PageCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "concierge_page_cache_hits_total",
			Help: "Total page cache hits.",
		}),
		PageCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "concierge_page_cache_misses_total",
			Help: "Total page cache misses.",
		}),

		DefinitionReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "concierge_definition_reload_total",
			Help: "Total definition reloads.",
		}, []string{"status"}),
		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "concierge_definitions_loaded",
			Help: "Number of loaded table definitions.",
		}),
		OpenAPIOperationsIndexed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "concierge_openapi_operations_indexed",
			Help: "Number of indexed OpenAPI operations.",
		}, []string{"service"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSizeBytes,
		m.TableFetchesTotal,
		m.TableFetchDuration,
		m.TableStaleResponsesTotal,
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.BackendCircuitBreakerState,
		m.BackendRetriesTotal,
		m.PageCacheHitsTotal,
		m.PageCacheMissesTotal,
		m.DefinitionReloadTotal,
		m.DefinitionsLoaded,
		m.OpenAPIOperationsIndexed,
	)

	return m
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, respSize int) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordBackendRequest records a backend call. Status 0 means the request
// never produced a response.
func (m *Metrics) RecordBackendRequest(service string, status int, duration time.Duration) {
	label := strconv.Itoa(status)
	if status == 0 {
		label = "error"
	}
	m.BackendRequestsTotal.WithLabelValues(service, label).Inc()
	m.BackendRequestDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// SetBackendCircuitBreakerState sets the breaker gauge for a service.
func (m *Metrics) SetBackendCircuitBreakerState(service string, state float64) {
	m.BackendCircuitBreakerState.WithLabelValues(service).Set(state)
}

// RecordBackendRetry records a backend request retry.
func (m *Metrics) RecordBackendRetry(service string) {
	m.BackendRetriesTotal.WithLabelValues(service).Inc()
}

// RecordPageCacheHit records a page cache hit.
func (m *Metrics) RecordPageCacheHit() { m.PageCacheHitsTotal.Inc() }

// RecordPageCacheMiss records a page cache miss.
func (m *Metrics) RecordPageCacheMiss() { m.PageCacheMissesTotal.Inc() }

// RecordDefinitionReload records a definition reload.
func (m *Metrics) RecordDefinitionReload(status string) {
	m.DefinitionReloadTotal.WithLabelValues(status).Inc()
}

// SetDefinitionsLoaded sets the number of loaded definitions.
func (m *Metrics) SetDefinitionsLoaded(count float64) {
	m.DefinitionsLoaded.Set(count)
}

// SetOpenAPIOperationsIndexed sets the number of indexed operations.
func (m *Metrics) SetOpenAPIOperationsIndexed(service string, count float64) {
	m.OpenAPIOperationsIndexed.WithLabelValues(service).Set(count)
}

// TableRecorder reports controller events for one table.
type TableRecorder struct {
	m     *Metrics
	table string
}

// TableRecorder returns a recorder labelled with the table ID.
func (m *Metrics) TableRecorder(table string) *TableRecorder {
	return &TableRecorder{m: m, table: table}
}

// FetchCompleted records an accepted fetch.
func (r *TableRecorder) FetchCompleted(outcome string, elapsed time.Duration) {
	r.m.TableFetchesTotal.WithLabelValues(r.table, outcome).Inc()
	r.m.TableFetchDuration.WithLabelValues(r.table).Observe(elapsed.Seconds())
}

// StaleDiscarded records a response dropped by the sequence guard.
func (r *TableRecorder) StaleDiscarded() {
	r.m.TableStaleResponsesTotal.WithLabelValues(r.table).Inc()
}

// MetricsMiddleware records request metrics labelled with chi's route
// pattern rather than the raw path, keeping label cardinality bounded.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start), sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.ReplaceAll(pattern, "/*/", "/")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	w.written = true
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
