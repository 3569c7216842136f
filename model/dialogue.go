package model

import "time"

// Message sender constants.
const (
	SenderAI     = "ai"
	SenderUser   = "user"
	SenderSystem = "system"
)

// Session status constants.
const (
	SessionStatusPending   = "pending" // snapshot found, resume choice outstanding
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
	SessionStatusClosed    = "closed"
)

// Action tags recognized by the dialogue engine. Unknown tags are logged
// and skipped, never fatal.
const (
	ActionAdvanceSlide     = "advance-slide"
	ActionRetreatSlide     = "retreat-slide"
	ActionEnterStep        = "enter-step"
	ActionCompleteStep     = "complete-step"
	ActionSkipSlide        = "skip-slide"
	ActionSnoozeSlide      = "snooze-slide"
	ActionShowArtifact     = "show-artifact"
	ActionRemoveArtifact   = "remove-artifact"
	ActionCloseWorkflow    = "close-workflow"
	ActionExitTaskMode     = "exit-task-mode"
	ActionNextCustomer     = "next-customer"
	ActionResetChat        = "reset-chat"
	ActionTriggerConfetti  = "trigger-confetti"
	ActionPrefetchGreeting = "prefetch-llm"
	ActionAdvanceWhenReady = "advance-when-ready"
)

// Pseudo button values recognized regardless of branch context.
const (
	ButtonSnooze = "snooze"
	ButtonSkip   = "skip"
	// Legacy sentinels that advance to the next slide.
	ButtonStart    = "start"
	ButtonContinue = "continue"
)

// Shared pseudo-branch names for the workflow-level snooze/skip subflows.
const (
	BranchSnoozeWorkflow = "snooze-workflow"
	BranchSkipWorkflow   = "skip-workflow"
)

// ChatMessage is one rendered turn of the conversation. History is
// append-only within a session; a message is never mutated once appended
// except to strip interactivity when a new slide begins.
type ChatMessage struct {
	ID               string             `json:"id"`
	Sender           string             `json:"sender"`
	Text             string             `json:"text"`
	Timestamp        time.Time          `json:"timestamp"`
	Buttons          []ButtonDefinition `json:"buttons,omitempty"`
	Component        string             `json:"component,omitempty"`
	IsHistorical     bool               `json:"is_historical,omitempty"`
	IsSlideSeparator bool               `json:"is_slide_separator,omitempty"`
	IsDivider        bool               `json:"is_divider,omitempty"`
}

// RuntimeState is the mutable dialogue state owned by one engine instance.
// It is created fresh at session start, optionally hydrated from a
// persisted snapshot, and mutated exclusively through engine operations.
type RuntimeState struct {
	CurrentSlide  int
	Completed     map[int]bool
	Skipped       map[int]bool
	Snoozed       map[int]bool
	CurrentBranch string // empty means no active branch
	WorkflowState map[string]any
	Messages      []ChatMessage
}

// NewRuntimeState returns an empty RuntimeState positioned at slide 0.
func NewRuntimeState() RuntimeState {
	return RuntimeState{
		Completed:     make(map[int]bool),
		Skipped:       make(map[int]bool),
		Snoozed:       make(map[int]bool),
		WorkflowState: make(map[string]any),
	}
}

// Effect is an outbound side effect forwarded to presentation collaborators
// (confetti, step completion, next-customer chaining). Effects carry no
// dialogue state and are drained by the caller.
type Effect struct {
	Kind   string `json:"kind"`
	Target string `json:"target,omitempty"`
}

// Effect kind constants.
const (
	EffectConfetti     = "confetti"
	EffectEnterStep    = "enter-step"
	EffectCompleteStep = "complete-step"
	EffectNextCustomer = "next-customer"
)

// ArtifactView is the derived visibility of one artifact section.
type ArtifactView struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Kind    string `json:"kind,omitempty"`
	Visible bool   `json:"visible"`
}

// SessionView is the reactive snapshot exposed to the presentation layer.
type SessionView struct {
	SessionID         string               `json:"session_id"`
	WorkflowID        string               `json:"workflow_id"`
	CustomerID        string               `json:"customer_id"`
	Status            string               `json:"status"`
	CurrentSlideIndex int                  `json:"current_slide_index"`
	SlideID           string               `json:"slide_id"`
	SlideTitle        string               `json:"slide_title"`
	Messages          []ChatMessage        `json:"messages"`
	CurrentBranch     *string              `json:"current_branch"`
	WorkflowState     map[string]any       `json:"workflow_state"`
	ShowArtifacts     bool                 `json:"show_artifacts"`
	Artifacts         []ArtifactView       `json:"artifacts"`
	PendingReopen     *int                 `json:"pending_reopen,omitempty"`
	Effects           []Effect             `json:"effects,omitempty"`
	SidePanel         *SidePanelDefinition `json:"side_panel,omitempty"`
}
