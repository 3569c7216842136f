package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/harborcs/taskmode/internal/definition"
	"github.com/harborcs/taskmode/internal/observability"
	"github.com/harborcs/taskmode/internal/session"
	"github.com/harborcs/taskmode/model"
)

// Handlers holds the dependencies shared by all request handlers.
type Handlers struct {
	Sessions    *session.Registry
	Definitions *definition.Registry
	Metrics     *observability.Metrics
}

// sessionResponse is the envelope returned for session reads and mutations.
// When the session is awaiting a resume decision, ResumeAvailable is true,
// SavedAt carries the stored snapshot's timestamp, and View reflects the
// not-yet-started engine.
type sessionResponse struct {
	SessionID       string            `json:"session_id"`
	ResumeAvailable bool              `json:"resume_available"`
	SavedAt         string            `json:"saved_at,omitempty"`
	View            model.SessionView `json:"view"`
}

func sessionEnvelope(sess *session.Session) sessionResponse {
	resp := sessionResponse{
		SessionID: sess.ID,
		View:      sess.Engine.View(),
	}
	if snap, pending := sess.Pending(); pending {
		resp.ResumeAvailable = true
		resp.SavedAt = snap.SavedAt
	}
	return resp
}

type startSessionRequest struct {
	WorkflowID string `json:"workflow_id"`
	CustomerID string `json:"customer_id"`
}

// StartSession opens a session for a workflow and customer. When a stored
// snapshot exists for the caller's scope the session comes back pending and
// every dialogue operation is rejected until /resume settles the choice.
func (h *Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, model.NewBadRequestError("Invalid JSON body"))
		return
	}

	var details []model.FieldError
	if req.WorkflowID == "" {
		details = append(details, model.FieldError{
			Field: "workflow_id", Code: "REQUIRED", Message: "workflow_id is required"})
	}
	if req.CustomerID == "" {
		details = append(details, model.FieldError{
			Field: "customer_id", Code: "REQUIRED", Message: "customer_id is required"})
	}
	if len(details) > 0 {
		WriteValidationError(w, details)
		return
	}

	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		WriteError(w, model.NewUnauthorizedError("Missing request identity"))
		return
	}

	sess, err := h.Sessions.Start(r.Context(), rctx, req.WorkflowID, req.CustomerID)
	if err != nil {
		WriteError(w, err)
		return
	}

	resp := sessionEnvelope(sess)
	if h.Metrics != nil {
		mode := "fresh"
		if resp.ResumeAvailable {
			mode = "pending"
		}
		h.Metrics.RecordSessionStart(req.WorkflowID, mode)
	}
	WriteJSON(w, http.StatusCreated, resp)
}

type resumeRequest struct {
	Fresh bool `json:"fresh"`
}

// ResumeSession settles a pending session: fresh restarts the workflow from
// the first slide, otherwise the stored snapshot is rehydrated.
func (h *Handlers) ResumeSession(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, model.NewBadRequestError("Invalid JSON body"))
		return
	}

	if _, err := h.lookupSession(r); err != nil {
		WriteError(w, err)
		return
	}
	sess, err := h.Sessions.Resume(chi.URLParam(r, "sessionId"), req.Fresh)
	if err != nil {
		WriteError(w, err)
		return
	}

	if h.Metrics != nil {
		mode := "continue"
		if req.Fresh {
			mode = "restart"
		}
		h.Metrics.RecordSessionResume(sess.WorkflowID, mode)
	}
	WriteJSON(w, http.StatusOK, sessionEnvelope(sess))
}

// GetSession returns the current session view. Pending sessions are
// readable so the UI can render the resume prompt.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.lookupSession(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	resp := sessionEnvelope(sess)
	slog.Debug("session state",
		"session_id", sess.ID,
		"state", observability.RedactBody(resp.View.WorkflowState, nil),
	)
	WriteJSON(w, http.StatusOK, resp)
}

type textRequest struct {
	Text string `json:"text"`
}

// SendText delivers free-form user text to the dialogue engine.
func (h *Handlers) SendText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, model.NewBadRequestError("Invalid JSON body"))
		return
	}
	if req.Text == "" {
		WriteValidationError(w, []model.FieldError{
			{Field: "text", Code: "REQUIRED", Message: "text is required"}})
		return
	}

	sess, err := h.activeSession(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := sess.Engine.SendUserText(req.Text); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sessionEnvelope(sess))
}

type buttonRequest struct {
	Value string `json:"value"`
}

// ClickButton delivers a button click to the dialogue engine.
func (h *Handlers) ClickButton(w http.ResponseWriter, r *http.Request) {
	var req buttonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, model.NewBadRequestError("Invalid JSON body"))
		return
	}
	if req.Value == "" {
		WriteValidationError(w, []model.FieldError{
			{Field: "value", Code: "REQUIRED", Message: "value is required"}})
		return
	}

	sess, err := h.activeSession(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := sess.Engine.ClickButton(req.Value); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sessionEnvelope(sess))
}

// componentRequest leaves the value untyped so numbers and booleans keep
// their JSON type on the way into workflow state.
type componentRequest struct {
	Component string `json:"component"`
	Value     any    `json:"value"`
}

// SetComponent delivers an interactive component value to the dialogue engine.
func (h *Handlers) SetComponent(w http.ResponseWriter, r *http.Request) {
	var req componentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, model.NewBadRequestError("Invalid JSON body"))
		return
	}
	if req.Component == "" {
		WriteValidationError(w, []model.FieldError{
			{Field: "component", Code: "REQUIRED", Message: "component is required"}})
		return
	}
	if req.Value == nil {
		WriteValidationError(w, []model.FieldError{
			{Field: "value", Code: "REQUIRED", Message: "value is required"}})
		return
	}

	sess, err := h.activeSession(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := sess.Engine.SetComponentValue(req.Component, req.Value); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sessionEnvelope(sess))
}

type jumpRequest struct {
	SlideIndex int `json:"slide_index"`
}

// JumpToSlide navigates directly to a slide. Jumping backward onto a
// completed slide stages a reopen that must be confirmed or cancelled via
// /reopen.
func (h *Handlers) JumpToSlide(w http.ResponseWriter, r *http.Request) {
	var req jumpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, model.NewBadRequestError("Invalid JSON body"))
		return
	}

	sess, err := h.activeSession(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := sess.Engine.JumpToSlide(req.SlideIndex); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sessionEnvelope(sess))
}

type reopenRequest struct {
	Confirm bool `json:"confirm"`
}

// Reopen settles a staged reopen: confirm clears completion from the target
// slide onward and navigates there, cancel leaves everything untouched.
func (h *Handlers) Reopen(w http.ResponseWriter, r *http.Request) {
	var req reopenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, model.NewBadRequestError("Invalid JSON body"))
		return
	}

	sess, err := h.activeSession(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	if req.Confirm {
		err = sess.Engine.ConfirmReopen()
	} else {
		err = sess.Engine.CancelReopen()
	}
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sessionEnvelope(sess))
}

type closeRequest struct {
	Completed bool `json:"completed"`
}

// CloseSession ends a session. Completed closes discard the stored
// snapshot; abandoning closes flush it for a later resume.
func (h *Handlers) CloseSession(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if r.Body != nil {
		// An empty body closes as abandoned.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	sess, err := h.lookupSession(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	sessionID := sess.ID
	workflowID := sess.WorkflowID

	if err := h.Sessions.Close(r.Context(), sessionID, req.Completed); err != nil {
		WriteError(w, err)
		return
	}

	if h.Metrics != nil {
		outcome := "abandoned"
		if req.Completed {
			outcome = "completed"
		}
		h.Metrics.RecordSessionClose(workflowID, outcome)
	}
	w.WriteHeader(http.StatusNoContent)
}

// lookupSession resolves the session ID from the route and enforces
// ownership. A foreign session reads as not found so the existence of
// other users' sessions never leaks.
func (h *Handlers) lookupSession(r *http.Request) (*session.Session, error) {
	sessionID := chi.URLParam(r, "sessionId")
	sess, err := h.Sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil || rctx.SubjectID != sess.UserID {
		return nil, model.NewSessionNotFoundError(sessionID)
	}
	return sess, nil
}

// activeSession resolves the session from the URL and rejects sessions that
// still await a resume decision.
func (h *Handlers) activeSession(r *http.Request) (*session.Session, error) {
	sess, err := h.lookupSession(r)
	if err != nil {
		return nil, err
	}
	if _, pending := sess.Pending(); pending {
		return nil, model.NewSessionPendingError(sess.ID)
	}
	return sess, nil
}
