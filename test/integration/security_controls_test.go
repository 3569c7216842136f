package integration

import (
	"net/http"
	"testing"
)

func TestSecurity_authenticationRequired(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/ui/taskmode/workflows", "")
	h.AssertErrorCode(t, resp, http.StatusUnauthorized, "UNAUTHORIZED")

	resp = h.GETWithHeaders("/ui/taskmode/workflows", "", map[string]string{
		"Authorization": "Basic dXNlcjpwYXNz",
	})
	h.AssertErrorCode(t, resp, http.StatusUnauthorized, "UNAUTHORIZED")

	resp = h.GET("/ui/taskmode/workflows", "not-a-jwt")
	h.AssertErrorCode(t, resp, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestSecurity_expiredTokenRejected(t *testing.T) {
	h := NewTestHarness(t)

	token := h.GenerateExpiredToken(CSMClaims())
	resp := h.GET("/ui/taskmode/workflows", token)
	h.AssertErrorCode(t, resp, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestSecurity_publicEndpointsBypassAuth(t *testing.T) {
	h := NewTestHarness(t)

	for _, path := range []string{"/ui/health", "/ui/ready", "/metrics"} {
		resp := h.GET(path, "")
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d without a token, want 200", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestSecurity_responseHeaders(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(CSMClaims())

	resp := h.GET("/ui/taskmode/workflows", token)
	defer resp.Body.Close()

	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if resp.Header.Get("X-Correlation-Id") == "" {
		t.Error("correlation ID not generated")
	}

	resp2 := h.GETWithHeaders("/ui/taskmode/workflows", token, map[string]string{
		"X-Correlation-Id": "corr-abc-123",
	})
	defer resp2.Body.Close()
	if got := resp2.Header.Get("X-Correlation-Id"); got != "corr-abc-123" {
		t.Errorf("correlation ID = %q, want passthrough", got)
	}
}

func TestSecurity_sessionsIsolatedPerUser(t *testing.T) {
	h := NewTestHarness(t)
	owner := h.GenerateToken(CSMClaims())
	other := h.GenerateToken(TestClaims{
		SubjectID: "user-other",
		TenantID:  "rival-corp",
		Email:     "other@rival.example.com",
		Roles:     []string{"csm"},
	})

	env := h.StartSession(t, owner, "renewal-review", "cust-900")
	base := "/ui/taskmode/sessions/" + env.SessionID

	// Another user cannot see, drive, or close the session.
	resp := h.GET(base, other)
	h.AssertErrorCode(t, resp, http.StatusNotFound, "SESSION_NOT_FOUND")

	resp = h.POST(base+"/text", map[string]string{"text": "hello"}, other)
	h.AssertErrorCode(t, resp, http.StatusNotFound, "SESSION_NOT_FOUND")

	resp = h.POST(base+"/close", map[string]bool{"completed": true}, other)
	h.AssertErrorCode(t, resp, http.StatusNotFound, "SESSION_NOT_FOUND")

	// The owner still has it.
	resp = h.GET(base, owner)
	h.AssertStatus(t, resp, http.StatusOK)
}
