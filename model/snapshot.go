package model

import (
	"maps"
	"sort"
	"time"
)

// Snapshot is the serializable projection of RuntimeState used for session
// resume. Field names follow the persisted-state contract consumed by the
// frontend: camelCase keys, sets as arrays, timestamps as ISO-8601 strings.
type Snapshot struct {
	WorkflowID        string            `json:"workflowId"`
	CustomerID        string            `json:"customerId"`
	UserID            string            `json:"userId"`
	CurrentSlideIndex int               `json:"currentSlideIndex"`
	CompletedSlides   []int             `json:"completedSlides"`
	SkippedSlides     []int             `json:"skippedSlides"`
	SnoozedSlides     []int             `json:"snoozedSlides,omitempty"`
	WorkflowState     map[string]any    `json:"workflowState"`
	ChatMessages      []SnapshotMessage `json:"chatMessages"`
	CurrentBranch     *string           `json:"currentBranch"`
	SavedAt           string            `json:"savedAt"`
}

// SnapshotMessage mirrors ChatMessage with the timestamp as an ISO string.
type SnapshotMessage struct {
	ID               string             `json:"id"`
	Sender           string             `json:"sender"`
	Text             string             `json:"text"`
	Timestamp        string             `json:"timestamp"`
	Buttons          []ButtonDefinition `json:"buttons,omitempty"`
	Component        string             `json:"component,omitempty"`
	IsHistorical     bool               `json:"isHistorical,omitempty"`
	IsSlideSeparator bool               `json:"isSlideSeparator,omitempty"`
	IsDivider        bool               `json:"isDivider,omitempty"`
}

// SnapshotFromState projects RuntimeState into its persisted form.
func SnapshotFromState(workflowID, customerID, userID string, state RuntimeState, savedAt time.Time) Snapshot {
	snap := Snapshot{
		WorkflowID:        workflowID,
		CustomerID:        customerID,
		UserID:            userID,
		CurrentSlideIndex: state.CurrentSlide,
		CompletedSlides:   sortedIndices(state.Completed),
		SkippedSlides:     sortedIndices(state.Skipped),
		SnoozedSlides:     sortedIndices(state.Snoozed),
		WorkflowState:     maps.Clone(state.WorkflowState),
		SavedAt:           savedAt.UTC().Format(time.RFC3339),
	}
	if state.CurrentBranch != "" {
		b := state.CurrentBranch
		snap.CurrentBranch = &b
	}
	snap.ChatMessages = make([]SnapshotMessage, 0, len(state.Messages))
	for _, m := range state.Messages {
		snap.ChatMessages = append(snap.ChatMessages, SnapshotMessage{
			ID:               m.ID,
			Sender:           m.Sender,
			Text:             m.Text,
			Timestamp:        m.Timestamp.UTC().Format(time.RFC3339),
			Buttons:          m.Buttons,
			Component:        m.Component,
			IsHistorical:     m.IsHistorical,
			IsSlideSeparator: m.IsSlideSeparator,
			IsDivider:        m.IsDivider,
		})
	}
	return snap
}

// RestoreState hydrates a RuntimeState from the snapshot. Timestamps that
// fail to parse fall back to the zero time rather than aborting the resume.
func (s Snapshot) RestoreState() RuntimeState {
	state := NewRuntimeState()
	state.CurrentSlide = s.CurrentSlideIndex
	for _, i := range s.CompletedSlides {
		state.Completed[i] = true
	}
	for _, i := range s.SkippedSlides {
		state.Skipped[i] = true
	}
	for _, i := range s.SnoozedSlides {
		state.Snoozed[i] = true
	}
	if s.WorkflowState != nil {
		state.WorkflowState = maps.Clone(s.WorkflowState)
	}
	if s.CurrentBranch != nil {
		state.CurrentBranch = *s.CurrentBranch
	}
	state.Messages = make([]ChatMessage, 0, len(s.ChatMessages))
	for _, m := range s.ChatMessages {
		ts, _ := time.Parse(time.RFC3339, m.Timestamp)
		state.Messages = append(state.Messages, ChatMessage{
			ID:               m.ID,
			Sender:           m.Sender,
			Text:             m.Text,
			Timestamp:        ts,
			Buttons:          m.Buttons,
			Component:        m.Component,
			IsHistorical:     m.IsHistorical,
			IsSlideSeparator: m.IsSlideSeparator,
			IsDivider:        m.IsDivider,
		})
	}
	return state
}

func sortedIndices(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for i := range set {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
