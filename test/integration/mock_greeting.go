package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockGreeting is an HTTP test server standing in for the greeting
// generation service. It serves a configurable queue of responses and
// records every request for later assertion.
type MockGreeting struct {
	t      *testing.T
	server *httptest.Server

	mu        sync.Mutex
	responses []*greetingResponse
	current   int
	received  []*GreetingRequest
}

// GreetingRequest captures one request received by the mock service.
type GreetingRequest struct {
	WorkflowID string
	SlideID    string
	State      map[string]any
	Headers    http.Header
	ReceivedAt time.Time
}

type greetingResponse struct {
	status    int
	greeting  string
	delay     time.Duration
	connError bool
}

// newMockGreeting starts a mock greeting server. With no configured
// responses it greets every request with a canned line.
func newMockGreeting(t *testing.T) *MockGreeting {
	t.Helper()

	mg := &MockGreeting{t: t}
	mg.server = httptest.NewServer(http.HandlerFunc(mg.handle))
	t.Cleanup(mg.server.Close)
	return mg
}

// URL returns the base URL of the mock server.
func (mg *MockGreeting) URL() string {
	return mg.server.URL
}

// GreetWith queues a successful response with the given greeting text.
func (mg *MockGreeting) GreetWith(text string) *MockGreeting {
	return mg.add(&greetingResponse{status: http.StatusOK, greeting: text})
}

// GreetWithDelay queues a slow successful response.
func (mg *MockGreeting) GreetWithDelay(delay time.Duration, text string) *MockGreeting {
	return mg.add(&greetingResponse{status: http.StatusOK, greeting: text, delay: delay})
}

// FailWith queues an error response with the given status code.
func (mg *MockGreeting) FailWith(status int) *MockGreeting {
	return mg.add(&greetingResponse{status: status})
}

// FailWithConnectionError queues a dropped connection.
func (mg *MockGreeting) FailWithConnectionError() *MockGreeting {
	return mg.add(&greetingResponse{connError: true})
}

func (mg *MockGreeting) add(resp *greetingResponse) *MockGreeting {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	mg.responses = append(mg.responses, resp)
	return mg
}

func (mg *MockGreeting) handle(w http.ResponseWriter, r *http.Request) {
	rec := &GreetingRequest{
		Headers:    r.Header.Clone(),
		ReceivedAt: time.Now(),
	}
	if body, err := io.ReadAll(r.Body); err == nil && len(body) > 0 {
		var parsed struct {
			WorkflowID string         `json:"workflowId"`
			SlideID    string         `json:"slideId"`
			State      map[string]any `json:"state"`
		}
		if json.Unmarshal(body, &parsed) == nil {
			rec.WorkflowID = parsed.WorkflowID
			rec.SlideID = parsed.SlideID
			rec.State = parsed.State
		}
	}

	mg.mu.Lock()
	mg.received = append(mg.received, rec)
	resp := mg.next()
	mg.mu.Unlock()

	if resp == nil {
		resp = &greetingResponse{status: http.StatusOK, greeting: "Welcome back."}
	}

	if resp.connError {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, _ := hj.Hijack(); conn != nil {
				conn.Close()
			}
		}
		return
	}
	if resp.delay > 0 {
		time.Sleep(resp.delay)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	if resp.status == http.StatusOK {
		json.NewEncoder(w).Encode(map[string]string{"greeting": resp.greeting})
	}
}

// next pops the next queued response, repeating the final one once the
// queue is exhausted. Must be called with the lock held.
func (mg *MockGreeting) next() *greetingResponse {
	if len(mg.responses) == 0 {
		return nil
	}
	idx := mg.current
	if idx >= len(mg.responses) {
		idx = len(mg.responses) - 1
	} else {
		mg.current++
	}
	return mg.responses[idx]
}

// Calls returns how many requests the mock has received.
func (mg *MockGreeting) Calls() int {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	return len(mg.received)
}

// LastRequest returns the most recent recorded request, or nil.
func (mg *MockGreeting) LastRequest() *GreetingRequest {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	if len(mg.received) == 0 {
		return nil
	}
	return mg.received[len(mg.received)-1]
}
