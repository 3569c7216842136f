package model

// WorkflowDefinition is the root structure of a workflow definition file.
// Each file declares one guided workflow: an ordered list of slides, each
// carrying its own chat script and artifact sections, plus presentational
// dashboard metadata that the engine serves verbatim and never interprets.
type WorkflowDefinition struct {
	ID        string               `yaml:"id"       json:"id"`
	Title     string               `yaml:"title"    json:"title"`
	Version   string               `yaml:"version"  json:"version"`
	Customer  CustomerMeta         `yaml:"customer" json:"customer"`
	Layout    string               `yaml:"layout"   json:"layout,omitempty"`
	Slides    []SlideDefinition    `yaml:"slides"   json:"slides"`
	Dashboard *DashboardDefinition `yaml:"dashboard" json:"dashboard,omitempty"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// CustomerMeta carries customer display metadata for the workflow header.
// The engine treats it as opaque display data.
type CustomerMeta struct {
	Name      string `yaml:"name"     json:"name"`
	Segment   string `yaml:"segment"  json:"segment,omitempty"`
	LogoURL   string `yaml:"logo_url" json:"logo_url,omitempty"`
	ARR       string `yaml:"arr"      json:"arr,omitempty"`
	RenewalOn string `yaml:"renewal_on" json:"renewal_on,omitempty"`
}

// SlideDefinition describes one step of a guided workflow. Slides are
// referenced by integer index in runtime state; the index is the primary key
// for progression tracking.
type SlideDefinition struct {
	ID          string               `yaml:"id"           json:"id"`
	Title       string               `yaml:"title"        json:"title"`
	Label       string               `yaml:"label"        json:"label,omitempty"`
	StepMapping string               `yaml:"step_mapping" json:"step_mapping,omitempty"`
	Chat        ChatDefinition       `yaml:"chat"         json:"chat"`
	Artifacts   []ArtifactSection    `yaml:"artifacts"    json:"artifacts,omitempty"`
	SidePanel   *SidePanelDefinition `yaml:"side_panel"   json:"side_panel,omitempty"`
}

// ChatDefinition is the per-slide dialogue script.
type ChatDefinition struct {
	Initial         InitialMessage              `yaml:"initial_message" json:"initial_message"`
	Branches        map[string]BranchDefinition `yaml:"branches"        json:"branches,omitempty"`
	Triggers        []TriggerRule               `yaml:"triggers"        json:"triggers,omitempty"`
	DefaultMessage  string                      `yaml:"default_message" json:"default_message,omitempty"`
	DynamicGreeting bool                        `yaml:"dynamic_greeting" json:"dynamic_greeting,omitempty"`
}

// InitialMessage is the message shown when a slide becomes current.
// When DynamicGreeting is set on the ChatDefinition, Text doubles as the
// static fallback for the generated greeting.
type InitialMessage struct {
	Text         string             `yaml:"text"          json:"text"`
	Buttons      []ButtonDefinition `yaml:"buttons"       json:"buttons,omitempty"`
	NextBranches map[string]string  `yaml:"next_branches" json:"next_branches,omitempty"`
}

// ButtonDefinition is a label/value pair rendered as a chat button.
type ButtonDefinition struct {
	Label string `yaml:"label" json:"label"`
	Value string `yaml:"value" json:"value"`
}

// BranchDefinition is one node of a slide's conversation graph.
type BranchDefinition struct {
	Response     string             `yaml:"response"      json:"response"`
	Buttons      []ButtonDefinition `yaml:"buttons"       json:"buttons,omitempty"`
	NextBranches map[string]string  `yaml:"next_branches" json:"next_branches,omitempty"`
	Actions      []string           `yaml:"actions"       json:"actions,omitempty"`
	ArtifactID   string             `yaml:"artifact_id"   json:"artifact_id,omitempty"`
	Component    string             `yaml:"component"     json:"component,omitempty"`
	TargetSlide  *int               `yaml:"target_slide"  json:"target_slide,omitempty"`

	// Predelay defers appending the response by this many seconds.
	Predelay float64 `yaml:"predelay" json:"predelay,omitempty"`
	// Delay is the pause before an auto-advance fires, in seconds.
	// Zero means the engine default of one second.
	Delay float64 `yaml:"delay" json:"delay,omitempty"`
	// AutoAdvance names a branch to navigate to automatically after Delay.
	AutoAdvance string `yaml:"auto_advance" json:"auto_advance,omitempty"`
	// NextBranchOnText is a catch-all branch for free-text replies while
	// this branch is active.
	NextBranchOnText string `yaml:"next_branch_on_text" json:"next_branch_on_text,omitempty"`
	// StoreAs persists the user-supplied value under this workflow-state key.
	StoreAs string `yaml:"store_as" json:"store_as,omitempty"`
}

// TriggerRule maps a regex pattern to a branch name. Rules are an ordered
// list, not a map: first match wins, in declaration order.
type TriggerRule struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Branch  string `yaml:"branch"  json:"branch"`
}

// ArtifactSection is a named, optionally-visible content section shown
// alongside the chat. Content is presentational and served verbatim.
type ArtifactSection struct {
	ID             string         `yaml:"id"               json:"id"`
	Title          string         `yaml:"title"            json:"title"`
	Kind           string         `yaml:"kind"             json:"kind,omitempty"`
	Visible        *bool          `yaml:"visible"          json:"visible,omitempty"`
	ShowWhenBranch string         `yaml:"show_when_branch" json:"show_when_branch,omitempty"`
	Content        map[string]any `yaml:"content"          json:"content,omitempty"`
}

// SidePanelDefinition is a presentational descriptor for a slide's side
// panel. The engine passes it through untouched.
type SidePanelDefinition struct {
	Kind   string         `yaml:"kind"   json:"kind"`
	Config map[string]any `yaml:"config" json:"config,omitempty"`
}

// DashboardDefinition carries the metric panels and task-list columns of
// the surrounding dashboard. It is validated for id uniqueness and served
// verbatim; the dialogue engine never reads it.
type DashboardDefinition struct {
	Panels []PanelDefinition   `yaml:"panels" json:"panels,omitempty"`
	Tasks  *TaskListDefinition `yaml:"tasks"  json:"tasks,omitempty"`
}

// PanelDefinition describes one metric panel on the dashboard.
type PanelDefinition struct {
	ID     string         `yaml:"id"     json:"id"`
	Title  string         `yaml:"title"  json:"title"`
	Kind   string         `yaml:"kind"   json:"kind"`
	Config map[string]any `yaml:"config" json:"config,omitempty"`
}

// TaskListDefinition describes the dashboard task list.
type TaskListDefinition struct {
	Title   string                 `yaml:"title"   json:"title,omitempty"`
	Columns []TaskColumnDefinition `yaml:"columns" json:"columns"`
}

// TaskColumnDefinition describes one task-list column.
type TaskColumnDefinition struct {
	Field string `yaml:"field" json:"field"`
	Label string `yaml:"label" json:"label"`
	Type  string `yaml:"type"  json:"type,omitempty"`
}
