package transport

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/harborcs/taskmode/model"
)

// workflowSummary is the catalog entry for one workflow definition.
type workflowSummary struct {
	ID         string             `json:"id"`
	Title      string             `json:"title"`
	Version    string             `json:"version"`
	Customer   model.CustomerMeta `json:"customer"`
	Layout     string             `json:"layout,omitempty"`
	SlideCount int                `json:"slide_count"`
}

// ListWorkflows returns summaries of all loaded workflow definitions.
func (h *Handlers) ListWorkflows(w http.ResponseWriter, _ *http.Request) {
	defs := h.Definitions.AllWorkflows()
	summaries := make([]workflowSummary, 0, len(defs))
	for _, def := range defs {
		summaries = append(summaries, workflowSummary{
			ID:         def.ID,
			Title:      def.Title,
			Version:    def.Version,
			Customer:   def.Customer,
			Layout:     def.Layout,
			SlideCount: len(def.Slides),
		})
	}

	type listResponse struct {
		Workflows []workflowSummary `json:"workflows"`
		Checksum  string            `json:"checksum"`
	}
	WriteJSON(w, http.StatusOK, listResponse{
		Workflows: summaries,
		Checksum:  h.Definitions.Checksum(),
	})
}

// GetDashboard returns the dashboard definition for one workflow.
func (h *Handlers) GetDashboard(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowId")
	def, ok := h.Definitions.GetWorkflow(workflowID)
	if !ok {
		WriteNotFound(w, fmt.Sprintf("workflow %q not found", workflowID))
		return
	}
	if def.Dashboard == nil {
		WriteNotFound(w, fmt.Sprintf("workflow %q has no dashboard", workflowID))
		return
	}
	WriteJSON(w, http.StatusOK, def.Dashboard)
}
