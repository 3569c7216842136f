package definition

import (
	"fmt"
	"regexp"

	"github.com/harborcs/taskmode/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator validates workflow definitions structurally and referentially:
// every branch name mentioned anywhere in a slide must resolve to a branch
// declared in that slide, every trigger pattern must compile, and every
// artifact reference must name a declared section.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all definitions.
func (v *Validator) Validate(defs []model.WorkflowDefinition) []VError {
	var errs []VError
	seen := make(map[string]bool)
	for i, def := range defs {
		prefix := fmt.Sprintf("definitions[%d]", i)
		if def.ID != "" && seen[def.ID] {
			errs = append(errs, VError{
				Path:    prefix + ".id",
				Code:    "DUPLICATE",
				Message: fmt.Sprintf("workflow id %q declared more than once", def.ID),
			})
		}
		seen[def.ID] = true
		errs = append(errs, v.validateWorkflow(prefix, def)...)
	}
	return errs
}

func (v *Validator) validateWorkflow(prefix string, def model.WorkflowDefinition) []VError {
	var errs []VError

	if def.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if def.Title == "" {
		errs = append(errs, VError{Path: prefix + ".title", Code: "REQUIRED", Message: "title is required"})
	}
	if def.Version == "" {
		errs = append(errs, VError{Path: prefix + ".version", Code: "REQUIRED", Message: "version is required"})
	}
	if len(def.Slides) == 0 {
		errs = append(errs, VError{Path: prefix + ".slides", Code: "REQUIRED", Message: "at least one slide is required"})
	}

	slideIDs := make(map[string]bool)
	for i, s := range def.Slides {
		sp := fmt.Sprintf("%s.slides[%d]", prefix, i)
		if s.ID != "" && slideIDs[s.ID] {
			errs = append(errs, VError{
				Path:    sp + ".id",
				Code:    "DUPLICATE",
				Message: fmt.Sprintf("slide id %q declared more than once", s.ID),
			})
		}
		slideIDs[s.ID] = true
		errs = append(errs, v.validateSlide(sp, s, len(def.Slides))...)
	}

	if def.Dashboard != nil {
		errs = append(errs, v.validateDashboard(prefix+".dashboard", *def.Dashboard)...)
	}

	return errs
}

func (v *Validator) validateSlide(prefix string, s model.SlideDefinition, slideCount int) []VError {
	var errs []VError

	if s.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if s.Title == "" {
		errs = append(errs, VError{Path: prefix + ".title", Code: "REQUIRED", Message: "title is required"})
	}

	artifactIDs := make(map[string]bool)
	for i, a := range s.Artifacts {
		ap := fmt.Sprintf("%s.artifacts[%d]", prefix, i)
		if a.ID == "" {
			errs = append(errs, VError{Path: ap + ".id", Code: "REQUIRED", Message: "artifact id is required"})
		} else if artifactIDs[a.ID] {
			errs = append(errs, VError{
				Path:    ap + ".id",
				Code:    "DUPLICATE",
				Message: fmt.Sprintf("artifact id %q declared more than once", a.ID),
			})
		}
		artifactIDs[a.ID] = true
	}

	errs = append(errs, v.validateChat(prefix+".chat", s.Chat, artifactIDs, slideCount)...)

	// show_when_branch must name a branch in this slide's chat.
	for i, a := range s.Artifacts {
		if a.ShowWhenBranch != "" {
			if _, ok := s.Chat.Branches[a.ShowWhenBranch]; !ok {
				errs = append(errs, VError{
					Path:    fmt.Sprintf("%s.artifacts[%d].show_when_branch", prefix, i),
					Code:    "REF_NOT_FOUND",
					Message: fmt.Sprintf("branch %q not found in slide", a.ShowWhenBranch),
				})
			}
		}
	}

	return errs
}

// pseudoTargets are branch names resolvable without a declaration in the
// slide: the engine handles the shared snooze/skip subflows itself when no
// branch overrides them.
var pseudoTargets = map[string]bool{
	model.BranchSnoozeWorkflow: true,
	model.BranchSkipWorkflow:   true,
}

func (v *Validator) validateChat(prefix string, c model.ChatDefinition, artifactIDs map[string]bool, slideCount int) []VError {
	var errs []VError

	if c.Initial.Text == "" && !c.DynamicGreeting {
		errs = append(errs, VError{Path: prefix + ".initial_message.text", Code: "REQUIRED", Message: "initial_message.text is required"})
	}

	branchExists := func(name string) bool {
		if pseudoTargets[name] {
			return true
		}
		_, ok := c.Branches[name]
		return ok
	}

	checkRef := func(path, name string) {
		if name != "" && !branchExists(name) {
			errs = append(errs, VError{
				Path:    path,
				Code:    "REF_NOT_FOUND",
				Message: fmt.Sprintf("branch %q not found in slide", name),
			})
		}
	}

	for value, target := range c.Initial.NextBranches {
		checkRef(fmt.Sprintf("%s.initial_message.next_branches[%s]", prefix, value), target)
	}

	for name, b := range c.Branches {
		bp := fmt.Sprintf("%s.branches[%s]", prefix, name)
		for value, target := range b.NextBranches {
			checkRef(fmt.Sprintf("%s.next_branches[%s]", bp, value), target)
		}
		checkRef(bp+".auto_advance", b.AutoAdvance)
		checkRef(bp+".next_branch_on_text", b.NextBranchOnText)

		if b.ArtifactID != "" && !artifactIDs[b.ArtifactID] {
			errs = append(errs, VError{
				Path:    bp + ".artifact_id",
				Code:    "REF_NOT_FOUND",
				Message: fmt.Sprintf("artifact %q not found in slide", b.ArtifactID),
			})
		}
		if b.TargetSlide != nil && (*b.TargetSlide < 0 || *b.TargetSlide >= slideCount) {
			errs = append(errs, VError{
				Path:    bp + ".target_slide",
				Code:    "RANGE",
				Message: fmt.Sprintf("target_slide %d out of range 0-%d", *b.TargetSlide, slideCount-1),
			})
		}
		if b.Predelay < 0 {
			errs = append(errs, VError{Path: bp + ".predelay", Code: "RANGE", Message: "predelay must not be negative"})
		}
		if b.Delay < 0 {
			errs = append(errs, VError{Path: bp + ".delay", Code: "RANGE", Message: "delay must not be negative"})
		}
	}

	for i, tr := range c.Triggers {
		tp := fmt.Sprintf("%s.triggers[%d]", prefix, i)
		if tr.Pattern == "" {
			errs = append(errs, VError{Path: tp + ".pattern", Code: "REQUIRED", Message: "trigger pattern is required"})
		} else if _, err := regexp.Compile("(?i)" + tr.Pattern); err != nil {
			errs = append(errs, VError{
				Path:    tp + ".pattern",
				Code:    "INVALID_REGEX",
				Message: fmt.Sprintf("pattern does not compile: %v", err),
			})
		}
		if tr.Branch == "" {
			errs = append(errs, VError{Path: tp + ".branch", Code: "REQUIRED", Message: "trigger branch is required"})
		} else {
			checkRef(tp+".branch", tr.Branch)
		}
	}

	return errs
}

func (v *Validator) validateDashboard(prefix string, d model.DashboardDefinition) []VError {
	var errs []VError

	panelIDs := make(map[string]bool)
	for i, p := range d.Panels {
		pp := fmt.Sprintf("%s.panels[%d]", prefix, i)
		if p.ID == "" {
			errs = append(errs, VError{Path: pp + ".id", Code: "REQUIRED", Message: "panel id is required"})
		} else if panelIDs[p.ID] {
			errs = append(errs, VError{
				Path:    pp + ".id",
				Code:    "DUPLICATE",
				Message: fmt.Sprintf("panel id %q declared more than once", p.ID),
			})
		}
		panelIDs[p.ID] = true
		if p.Kind == "" {
			errs = append(errs, VError{Path: pp + ".kind", Code: "REQUIRED", Message: "panel kind is required"})
		}
	}

	if d.Tasks != nil {
		for i, col := range d.Tasks.Columns {
			if col.Field == "" {
				errs = append(errs, VError{
					Path:    fmt.Sprintf("%s.tasks.columns[%d].field", prefix, i),
					Code:    "REQUIRED",
					Message: "column field is required",
				})
			}
		}
	}

	return errs
}
