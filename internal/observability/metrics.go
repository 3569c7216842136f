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

var httpDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric instruments for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Session lifecycle metrics
	SessionStartsTotal  *prometheus.CounterVec
	SessionResumesTotal *prometheus.CounterVec
	SessionClosesTotal  *prometheus.CounterVec

	// Definition metrics
	DefinitionReloadTotal *prometheus.CounterVec
	DefinitionsLoaded     prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmode_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskmode_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		SessionStartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmode_session_starts_total",
			Help: "Sessions opened, labelled fresh or pending a resume decision.",
		}, []string{"workflow_id", "mode"}),
		SessionResumesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmode_session_resumes_total",
			Help: "Resume decisions, labelled continue or restart.",
		}, []string{"workflow_id", "mode"}),
		SessionClosesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmode_session_closes_total",
			Help: "Sessions closed, labelled completed or abandoned.",
		}, []string{"workflow_id", "outcome"}),

		DefinitionReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmode_definition_reload_total",
			Help: "Workflow definition reload attempts by status.",
		}, []string{"status"}),
		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskmode_definitions_loaded",
			Help: "Number of workflow definitions currently loaded.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SessionStartsTotal,
		m.SessionResumesTotal,
		m.SessionClosesTotal,
		m.DefinitionReloadTotal,
		m.DefinitionsLoaded,
	)
	return m
}

// RegisterSessionsGauge registers a gauge reporting the live session count.
func RegisterSessionsGauge(reg prometheus.Registerer, count func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "taskmode_sessions_active",
		Help: "Number of live sessions.",
	}, func() float64 { return float64(count()) }))
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordSessionStart records a session open. Mode is "fresh" or "pending".
func (m *Metrics) RecordSessionStart(workflowID, mode string) {
	m.SessionStartsTotal.WithLabelValues(workflowID, mode).Inc()
}

// RecordSessionResume records a resume decision. Mode is "continue" or "restart".
func (m *Metrics) RecordSessionResume(workflowID, mode string) {
	m.SessionResumesTotal.WithLabelValues(workflowID, mode).Inc()
}

// RecordSessionClose records a session close. Outcome is "completed" or "abandoned".
func (m *Metrics) RecordSessionClose(workflowID, outcome string) {
	m.SessionClosesTotal.WithLabelValues(workflowID, outcome).Inc()
}

// RecordDefinitionReload records a definition reload attempt.
func (m *Metrics) RecordDefinitionReload(status string) {
	m.DefinitionReloadTotal.WithLabelValues(status).Inc()
}

// SetDefinitionsLoaded sets the loaded definitions gauge.
func (m *Metrics) SetDefinitionsLoaded(count float64) {
	m.DefinitionsLoaded.Set(count)
}

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
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
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}
