package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)

	m.RecordHTTPRequest(http.MethodGet, "/ui/taskmode/sessions/{sessionId}", 200, 10*time.Millisecond)
	m.RecordSessionStart("renewal-planning", "fresh")
	m.RecordSessionResume("renewal-planning", "continue")
	m.RecordSessionClose("renewal-planning", "completed")
	m.RecordDefinitionReload("ok")
	m.SetDefinitionsLoaded(3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error = %v", err)
	}
	want := map[string]bool{
		"taskmode_http_requests_total":           false,
		"taskmode_http_request_duration_seconds": false,
		"taskmode_session_starts_total":          false,
		"taskmode_session_resumes_total":         false,
		"taskmode_session_closes_total":          false,
		"taskmode_definition_reload_total":       false,
		"taskmode_definitions_loaded":            false,
	}
	for _, f := range families {
		if _, ok := want[f.GetName()]; ok {
			want[f.GetName()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("metric %s not gathered", name)
		}
	}
}

func TestRecordSessionLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)

	m.RecordSessionStart("renewal-planning", "pending")
	m.RecordSessionStart("renewal-planning", "pending")
	m.RecordSessionClose("renewal-planning", "abandoned")

	starts := testutil.ToFloat64(m.SessionStartsTotal.WithLabelValues("renewal-planning", "pending"))
	if starts != 2 {
		t.Errorf("starts = %v, want 2", starts)
	}
	closes := testutil.ToFloat64(m.SessionClosesTotal.WithLabelValues("renewal-planning", "abandoned"))
	if closes != 1 {
		t.Errorf("closes = %v, want 1", closes)
	}
}

func TestRegisterSessionsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterSessionsGauge(reg, func() int { return 7 })

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error = %v", err)
	}
	for _, f := range families {
		if f.GetName() == "taskmode_sessions_active" {
			if v := f.GetMetric()[0].GetGauge().GetValue(); v != 7 {
				t.Errorf("sessions_active = %v, want 7", v)
			}
			return
		}
	}
	t.Error("taskmode_sessions_active not gathered")
}

func TestMetricsMiddleware_usesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/ui/taskmode/sessions/{sessionId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ui/taskmode/sessions/abc-123", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	count := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(
		http.MethodGet, "/ui/taskmode/sessions/{sessionId}", "200"))
	if count != 1 {
		t.Errorf("count for pattern label = %v, want 1", count)
	}
}

func TestMetricsMiddleware_capturesStatusCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/boom", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	count := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/boom", "500"))
	if count != 1 {
		t.Errorf("count = %v, want 1", count)
	}
}

func TestHandler_servesMetrics(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
}
