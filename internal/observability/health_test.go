package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubChecker struct {
	err error
}

func (s stubChecker) HealthCheck(context.Context) error { return s.err }

func TestHandleHealth_returnsOK(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleHealth()(rec, httptest.NewRequest(http.MethodGet, "/ui/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("Status = %q", body.Status)
	}
	if body.Version == "" {
		t.Error("Version should be set")
	}
}

func TestHandleReady_allHealthy(t *testing.T) {
	h := HandleReady(ReadinessChecks{
		DefinitionsLoaded: func() bool { return true },
		SnapshotStore:     stubChecker{},
	})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/ui/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body ReadinessResponse
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Status != "ready" {
		t.Errorf("Status = %q", body.Status)
	}
	if body.Checks["definitions"].Status != "ok" {
		t.Errorf("definitions = %+v", body.Checks["definitions"])
	}
	if body.Checks["snapshot_store"].Status != "ok" {
		t.Errorf("snapshot_store = %+v", body.Checks["snapshot_store"])
	}
}

func TestHandleReady_definitionsNotLoaded(t *testing.T) {
	h := HandleReady(ReadinessChecks{
		DefinitionsLoaded: func() bool { return false },
	})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/ui/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	var body ReadinessResponse
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Status != "not_ready" {
		t.Errorf("Status = %q", body.Status)
	}
}

func TestHandleReady_storeDown(t *testing.T) {
	h := HandleReady(ReadinessChecks{
		DefinitionsLoaded: func() bool { return true },
		SnapshotStore:     stubChecker{err: errors.New("connection refused")},
	})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/ui/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	var body ReadinessResponse
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Checks["snapshot_store"].Error != "connection refused" {
		t.Errorf("snapshot_store = %+v", body.Checks["snapshot_store"])
	}
}

func TestHandleReady_withoutOptionalChecks(t *testing.T) {
	h := HandleReady(ReadinessChecks{
		DefinitionsLoaded: func() bool { return true },
	})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/ui/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body ReadinessResponse
	json.NewDecoder(rec.Body).Decode(&body)
	if _, ok := body.Checks["snapshot_store"]; ok {
		t.Error("snapshot_store check should be absent when no checker is configured")
	}
}
