// Package integration provides a reusable harness for end-to-end testing of
// the Task Mode service. It starts the full HTTP router with a live session
// registry, an in-memory snapshot store, a test JWT issuer, and an optional
// mock greeting service.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/harborcs/taskmode/internal/config"
	"github.com/harborcs/taskmode/internal/definition"
	"github.com/harborcs/taskmode/internal/dialogue"
	"github.com/harborcs/taskmode/internal/greeting"
	"github.com/harborcs/taskmode/internal/observability"
	"github.com/harborcs/taskmode/internal/session"
	"github.com/harborcs/taskmode/internal/transport"
	"github.com/harborcs/taskmode/model"
)

// TestHarness encapsulates a fully wired Task Mode instance for
// integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Definitions *definition.Registry
	Sessions    *session.Registry
	Store       *session.MemorySnapshotStore
	Greeting    *MockGreeting

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	workflows       []model.WorkflowDefinition
	greetingEnabled bool
	engine          dialogue.Config
	handlerTimeout  time.Duration
}

// WithWorkflows replaces the default workflow set.
func WithWorkflows(defs ...model.WorkflowDefinition) HarnessOption {
	return func(c *harnessConfig) {
		c.workflows = defs
	}
}

// WithGreetingService starts a mock greeting service and wires a real
// greeting fetcher against it.
func WithGreetingService() HarnessOption {
	return func(c *harnessConfig) {
		c.greetingEnabled = true
	}
}

// WithEngineTiming overrides the dialogue engine timing. The defaults are
// tightened for tests so timer-driven behavior settles in milliseconds.
func WithEngineTiming(cfg dialogue.Config) HarnessOption {
	return func(c *harnessConfig) {
		c.engine = cfg
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// NewTestHarness creates and starts a full Task Mode test instance. The
// server is cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		engine: dialogue.Config{
			DefaultAdvanceDelay: 20 * time.Millisecond,
			PrefetchFloor:       30 * time.Millisecond,
			PrefetchCeiling:     500 * time.Millisecond,
			PrefetchPoll:        10 * time.Millisecond,
		},
	}
	for _, opt := range opts {
		opt(hc)
	}
	if len(hc.workflows) == 0 {
		hc.workflows = []model.WorkflowDefinition{RenewalWorkflow()}
	}

	h := &TestHarness{t: t}
	h.issuer = newTokenIssuer(t)
	h.Definitions = definition.NewRegistry(hc.workflows)
	h.Store = session.NewMemorySnapshotStore(time.Hour)

	var greeter dialogue.Greeter
	if hc.greetingEnabled {
		h.Greeting = newMockGreeting(t)
		greeter = greeting.New(config.GreetingConfig{
			Enabled:          true,
			Endpoint:         h.Greeting.URL(),
			Timeout:          2 * time.Second,
			FailureThreshold: 3,
			Cooldown:         time.Minute,
		}, zap.NewNop())
	}

	h.Sessions = session.NewRegistry(session.Options{
		Definitions: h.Definitions,
		Store:       h.Store,
		Greeter:     greeter,
		Logger:      zap.NewNop(),
		Engine:      hc.engine,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.Sessions.Shutdown(ctx)
	})

	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Identity.Issuer = h.issuer.Issuer()
	h.cfg.Identity.Audience = h.issuer.Audience()
	h.cfg.Identity.JWKSURL = h.issuer.JWKSURL()

	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), 1*time.Hour)
	router := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Authenticate: transport.JWTAuthenticator(h.cfg.Identity, jwks),
		Sessions:     h.Sessions,
		Definitions:  h.Definitions,
		Readiness: observability.ReadinessChecks{
			DefinitionsLoaded: func() bool { return len(h.Definitions.AllWorkflows()) > 0 },
		},
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// RenewalWorkflow returns the default three-slide test workflow: a scripted
// kickoff with a pricing trigger, a usage review with a dynamic greeting,
// and a wrap-up.
func RenewalWorkflow() model.WorkflowDefinition {
	return model.WorkflowDefinition{
		ID:      "renewal-review",
		Title:   "Renewal Review",
		Version: "1.0.0",
		Customer: model.CustomerMeta{
			Name: "Harbor Corp",
		},
		Slides: []model.SlideDefinition{
			{
				ID:    "kickoff",
				Title: "Kickoff",
				Chat: model.ChatDefinition{
					Initial: model.InitialMessage{
						Text:    "Ready to start the renewal review?",
						Buttons: []model.ButtonDefinition{{Label: "Start now", Value: "start"}},
					},
					Triggers: []model.TriggerRule{
						{Pattern: "pricing", Branch: "pricing-question"},
					},
					Branches: map[string]model.BranchDefinition{
						"pricing-question": {
							Response: "Pricing comes up on the usage review step.",
							Buttons:  []model.ButtonDefinition{{Label: "Got it", Value: "start"}},
						},
					},
				},
			},
			{
				ID:    "usage-review",
				Title: "Usage Review",
				Chat: model.ChatDefinition{
					DynamicGreeting: true,
					Initial: model.InitialMessage{
						Text:    "Let's look at recent usage.",
						Buttons: []model.ButtonDefinition{{Label: "Continue", Value: "continue"}},
					},
				},
			},
			{
				ID:    "wrap-up",
				Title: "Wrap Up",
				Chat: model.ChatDefinition{
					Initial: model.InitialMessage{
						Text:    "Anything else before we wrap up?",
						Buttons: []model.ButtonDefinition{{Label: "Done", Value: "continue"}},
					},
				},
			},
		},
		Dashboard: &model.DashboardDefinition{
			Panels: []model.PanelDefinition{{ID: "arr", Title: "ARR", Kind: "stat"}},
		},
	}
}

// SessionEnvelope mirrors the transport layer's session response shape.
type SessionEnvelope struct {
	SessionID       string            `json:"session_id"`
	ResumeAvailable bool              `json:"resume_available"`
	SavedAt         string            `json:"saved_at"`
	View            model.SessionView `json:"view"`
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// StartSession starts a session over HTTP and returns the parsed envelope.
func (h *TestHarness) StartSession(t *testing.T, token, workflowID, customerID string) SessionEnvelope {
	t.Helper()
	resp := h.POST("/ui/taskmode/sessions", map[string]string{
		"workflow_id": workflowID,
		"customer_id": customerID,
	}, token)
	var env SessionEnvelope
	h.AssertJSON(t, resp, http.StatusCreated, &env)
	return env
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// GETWithHeaders performs an authenticated GET request with additional headers.
func (h *TestHarness) GETWithHeaders(path, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, headers)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	url := h.server.URL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// AssertErrorCode checks the status and the error envelope code.
func (h *TestHarness) AssertErrorCode(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	var parsed struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	h.AssertJSON(t, resp, status, &parsed)
	if parsed.Error.Code != code {
		t.Errorf("error code = %q, want %q (message: %s)", parsed.Error.Code, code, parsed.Error.Message)
	}
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
