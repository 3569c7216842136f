package model

import (
	"encoding/json"
	"testing"
	"time"
)

func sampleState() RuntimeState {
	state := NewRuntimeState()
	state.CurrentSlide = 2
	state.Completed[0] = true
	state.Completed[1] = true
	state.Skipped[3] = true
	state.CurrentBranch = "pricing"
	state.WorkflowState["price"] = 0.08
	state.Messages = []ChatMessage{
		{
			ID:        "m1",
			Sender:    SenderAI,
			Text:      "Welcome back",
			Timestamp: time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC),
			Buttons:   []ButtonDefinition{{Label: "Start", Value: "start"}},
		},
		{
			ID:           "m2",
			Sender:       SenderUser,
			Text:         "let's go",
			Timestamp:    time.Date(2025, 3, 10, 9, 31, 0, 0, time.UTC),
			IsHistorical: true,
		},
	}
	return state
}

func TestSnapshotFromState_roundTrip(t *testing.T) {
	state := sampleState()
	savedAt := time.Date(2025, 3, 10, 9, 32, 0, 0, time.UTC)

	snap := SnapshotFromState("renewal-planning", "cust-9", "user-1", state, savedAt)

	if snap.CurrentSlideIndex != 2 {
		t.Errorf("CurrentSlideIndex = %d, want 2", snap.CurrentSlideIndex)
	}
	if len(snap.CompletedSlides) != 2 || snap.CompletedSlides[0] != 0 || snap.CompletedSlides[1] != 1 {
		t.Errorf("CompletedSlides = %v, want [0 1]", snap.CompletedSlides)
	}
	if snap.CurrentBranch == nil || *snap.CurrentBranch != "pricing" {
		t.Errorf("CurrentBranch = %v, want pricing", snap.CurrentBranch)
	}
	if snap.SavedAt != "2025-03-10T09:32:00Z" {
		t.Errorf("SavedAt = %q", snap.SavedAt)
	}

	// Round trip through JSON, then back to runtime state.
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	restored := decoded.RestoreState()
	if restored.CurrentSlide != 2 {
		t.Errorf("restored CurrentSlide = %d", restored.CurrentSlide)
	}
	if !restored.Completed[0] || !restored.Completed[1] {
		t.Errorf("restored Completed = %v", restored.Completed)
	}
	if !restored.Skipped[3] {
		t.Errorf("restored Skipped = %v", restored.Skipped)
	}
	if restored.CurrentBranch != "pricing" {
		t.Errorf("restored CurrentBranch = %q", restored.CurrentBranch)
	}
	if got := restored.WorkflowState["price"]; got != 0.08 {
		t.Errorf("restored WorkflowState[price] = %v, want 0.08", got)
	}
	if len(restored.Messages) != 2 {
		t.Fatalf("restored messages = %d, want 2", len(restored.Messages))
	}
	if restored.Messages[0].Text != "Welcome back" {
		t.Errorf("messages[0].Text = %q", restored.Messages[0].Text)
	}
	if len(restored.Messages[0].Buttons) != 1 {
		t.Errorf("messages[0].Buttons = %v", restored.Messages[0].Buttons)
	}
	if !restored.Messages[0].Timestamp.Equal(time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("messages[0].Timestamp = %v", restored.Messages[0].Timestamp)
	}
	if !restored.Messages[1].IsHistorical {
		t.Error("messages[1].IsHistorical = false, want true")
	}
}

func TestSnapshot_nullBranch(t *testing.T) {
	state := NewRuntimeState()
	snap := SnapshotFromState("wf", "c", "u", state, time.Now())

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, ok := raw["currentBranch"]; !ok || v != nil {
		t.Errorf("currentBranch = %v, want explicit null", v)
	}
}

func TestSnapshot_badTimestampFallsBack(t *testing.T) {
	snap := Snapshot{
		ChatMessages: []SnapshotMessage{{ID: "m1", Sender: SenderAI, Timestamp: "not-a-time"}},
	}
	restored := snap.RestoreState()
	if len(restored.Messages) != 1 {
		t.Fatalf("messages = %d", len(restored.Messages))
	}
	if !restored.Messages[0].Timestamp.IsZero() {
		t.Errorf("Timestamp = %v, want zero", restored.Messages[0].Timestamp)
	}
}
