package dialogue

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harborcs/taskmode/model"
)

// Saver receives runtime snapshots for persistence. Save is fire-and-forget
// and may debounce; SaveImmediate blocks until the write lands. Discard
// removes any stored snapshot for the session's scope key.
type Saver interface {
	Save(snap model.Snapshot)
	SaveImmediate(ctx context.Context, snap model.Snapshot) error
	Discard(ctx context.Context) error
}

// Greeter produces a dynamic greeting for a slide. A failed or slow fetch
// is never fatal; the slide's static text is the fallback.
type Greeter interface {
	Greet(ctx context.Context, def model.WorkflowDefinition, slide model.SlideDefinition, state map[string]any) (string, error)
}

// Config carries the engine's timing knobs.
type Config struct {
	// DefaultAdvanceDelay is the pause before an auto_advance with no
	// explicit delay fires.
	DefaultAdvanceDelay time.Duration
	// PrefetchFloor is the minimum dwell time before advance-when-ready
	// moves on, even when the greeting is already fetched.
	PrefetchFloor time.Duration
	// PrefetchCeiling caps how long advance-when-ready waits for the
	// greeting before advancing with the fallback text.
	PrefetchCeiling time.Duration
	// PrefetchPoll is the readiness re-check interval.
	PrefetchPoll time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultAdvanceDelay <= 0 {
		c.DefaultAdvanceDelay = time.Second
	}
	if c.PrefetchFloor <= 0 {
		c.PrefetchFloor = 1500 * time.Millisecond
	}
	if c.PrefetchCeiling <= 0 {
		c.PrefetchCeiling = 10 * time.Second
	}
	if c.PrefetchPoll <= 0 {
		c.PrefetchPoll = 250 * time.Millisecond
	}
	return c
}

// Options configures a new Engine.
type Options struct {
	SessionID  string
	Definition model.WorkflowDefinition
	CustomerID string
	UserID     string
	Clock      Clock
	Logger     *zap.Logger
	Saver      Saver
	Greeter    Greeter
	Config     Config
	// OnClose is invoked once when the session closes. The argument
	// reports whether the workflow ran to completion.
	OnClose func(completed bool)
}

type prefetchState struct {
	slide     int
	inFlight  bool
	done      bool
	text      string
	waiting   bool
	waitStart time.Time
	pollTimer Timer
}

// Engine drives one Task Mode session. All state mutation happens under a
// single mutex: operations are short and never block on IO, so the engine
// behaves as a single-threaded dialogue loop even though timers and the
// greeting fetch arrive on other goroutines.
type Engine struct {
	mu sync.Mutex

	sessionID  string
	def        model.WorkflowDefinition
	customerID string
	userID     string

	state         model.RuntimeState
	status        string
	pendingReopen *int
	effects       []model.Effect
	// visible overrides the declared visibility of the current slide's
	// artifact sections. Reset on every slide change.
	visible map[string]bool

	clock   Clock
	logger  *zap.Logger
	saver   Saver
	greeter Greeter
	cfg     Config
	onClose func(completed bool)

	advanceTimer  Timer
	predelayTimer Timer
	prefetch      prefetchState
}

// New creates an Engine. Call Start or Resume before any other operation.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = RealClock()
	}
	return &Engine{
		sessionID:  opts.SessionID,
		def:        opts.Definition,
		customerID: opts.CustomerID,
		userID:     opts.UserID,
		state:      model.NewRuntimeState(),
		status:     model.SessionStatusPending,
		visible:    make(map[string]bool),
		clock:      clock,
		logger:     logger.With(zap.String("session_id", opts.SessionID), zap.String("workflow_id", opts.Definition.ID)),
		saver:      opts.Saver,
		greeter:    opts.Greeter,
		cfg:        opts.Config.withDefaults(),
		onClose:    opts.OnClose,
		prefetch:   prefetchState{slide: -1},
	}
}

// Start begins a fresh session at slide zero.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.status = model.SessionStatusActive
	e.state = model.NewRuntimeState()
	e.bootstrapSlideLocked(true)
	e.saveLocked()
}

// Resume hydrates the session from a persisted snapshot. Restored messages
// become historical, a divider marks the seam, and the current prompt is
// re-presented so the conversation stays actionable.
func (e *Engine) Resume(snap model.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.status = model.SessionStatusActive
	e.state = snap.RestoreState()
	if e.state.CurrentSlide < 0 || e.state.CurrentSlide >= len(e.def.Slides) {
		e.logger.Warn("snapshot slide index out of range, restarting",
			zap.Int("slide", e.state.CurrentSlide))
		e.state = model.NewRuntimeState()
		e.bootstrapSlideLocked(true)
		e.saveLocked()
		return
	}

	for i := range e.state.Messages {
		e.state.Messages[i].IsHistorical = true
		e.state.Messages[i].Buttons = nil
		e.state.Messages[i].Component = ""
	}
	e.state.Messages = append(e.state.Messages, model.ChatMessage{
		ID:        uuid.New().String(),
		Sender:    model.SenderSystem,
		Text:      "Resumed where you left off.",
		Timestamp: e.clock.Now(),
		IsDivider: true,
	})

	// Re-present the current prompt: the active branch if there is one,
	// otherwise the slide's initial message.
	slide := e.def.Slides[e.state.CurrentSlide]
	if b, ok := slide.Chat.Branches[e.state.CurrentBranch]; ok && e.state.CurrentBranch != "" {
		e.appendAILocked(b.Response, b.Buttons, b.Component)
	} else {
		e.state.CurrentBranch = ""
		initial := slide.Chat.Initial
		e.appendAILocked(e.greetingTextLocked(slide), initial.Buttons, "")
	}
	e.saveLocked()
}

// SendUserText processes a free-text message from the user.
func (e *Engine) SendUserText(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureActiveLocked(); err != nil {
		return err
	}
	e.pendingReopen = nil

	// 1. Echo the user's message.
	e.appendUserLocked(text)

	slide := e.def.Slides[e.state.CurrentSlide]
	chat := slide.Chat

	// 2. The active branch's free-text catch-all wins over triggers.
	if e.state.CurrentBranch != "" {
		if b, ok := chat.Branches[e.state.CurrentBranch]; ok && b.NextBranchOnText != "" {
			e.navigateBranchLocked(b.NextBranchOnText, text)
			e.saveLocked()
			return nil
		}
	}

	// 3. Declaration-order trigger scan, first match wins.
	if branch, ok := matchTrigger(chat.Triggers, text); ok {
		e.navigateBranchLocked(branch, text)
		e.saveLocked()
		return nil
	}

	// 4. Fall back to the slide's default response, or stay silent.
	if chat.DefaultMessage != "" {
		e.appendAILocked(chat.DefaultMessage, nil, "")
	}
	e.saveLocked()
	return nil
}

// ClickButton processes a button click by its value.
func (e *Engine) ClickButton(value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureActiveLocked(); err != nil {
		return err
	}
	e.pendingReopen = nil

	slide := e.def.Slides[e.state.CurrentSlide]
	chat := slide.Chat

	// 1. Echo the button label as a user message.
	e.appendUserLocked(e.buttonLabelLocked(chat, value))

	// 2. Resolve: snooze/skip subflows, then branch-local, then initial.
	target, ok, pseudoFallback := resolveButton(chat, e.state.CurrentBranch, value)
	if ok {
		e.navigateBranchLocked(target, value)
		e.saveLocked()
		return nil
	}

	// 3. Snooze/skip without a declared subflow act on the slide directly.
	if pseudoFallback {
		switch value {
		case model.ButtonSnooze:
			e.advanceSlideLocked(markSnoozed)
		case model.ButtonSkip:
			e.advanceSlideLocked(markSkipped)
		}
		e.saveLocked()
		return nil
	}

	// 4. Bare start/continue sentinels advance to the next slide.
	if value == model.ButtonStart || value == model.ButtonContinue {
		e.advanceSlideLocked(markNone)
		e.saveLocked()
		return nil
	}

	e.logger.Debug("button value resolved nowhere", zap.String("value", value))
	e.saveLocked()
	return nil
}

// SetComponentValue processes a value submitted through an inline chat
// component. A string value resolves like a button click; any value is
// echoed as a formatted user message and stored with its type intact.
func (e *Engine) SetComponentValue(component string, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureActiveLocked(); err != nil {
		return err
	}
	e.pendingReopen = nil

	e.appendUserLocked(fmt.Sprintf("%s: %v", component, value))

	chat := e.def.Slides[e.state.CurrentSlide].Chat
	if s, ok := value.(string); ok {
		if target, ok, _ := resolveButton(chat, e.state.CurrentBranch, s); ok {
			e.navigateBranchLocked(target, s)
			e.saveLocked()
			return nil
		}
	}

	// No mapped branch: stash the value if the active branch collects it.
	if e.state.CurrentBranch != "" {
		if b, ok := chat.Branches[e.state.CurrentBranch]; ok && b.StoreAs != "" {
			e.state.WorkflowState[b.StoreAs] = value
		}
	}
	e.saveLocked()
	return nil
}

// JumpToSlide navigates directly to a slide. Forward jumps are allowed only
// onto completed slides. Jumping back onto a completed slide is staged as a
// reopen and must be confirmed, because reopening invalidates the
// completion of everything after it.
func (e *Engine) JumpToSlide(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureActiveLocked(); err != nil {
		return err
	}
	if index < 0 || index >= len(e.def.Slides) {
		return model.NewValidationError([]model.FieldError{{
			Field:   "slide_index",
			Message: fmt.Sprintf("slide index %d out of range 0-%d", index, len(e.def.Slides)-1),
		}})
	}
	if index == e.state.CurrentSlide {
		return nil
	}

	if index > e.state.CurrentSlide && !e.state.Completed[index] {
		return model.NewValidationError([]model.FieldError{{
			Field:   "slide_index",
			Message: fmt.Sprintf("slide %d has not been completed yet", index),
		}})
	}

	if index < e.state.CurrentSlide && e.state.Completed[index] {
		staged := index
		e.pendingReopen = &staged
		e.saveLocked()
		return nil
	}

	e.pendingReopen = nil
	e.jumpLocked(index)
	e.saveLocked()
	return nil
}

// ConfirmReopen executes a staged reopen: the target slide and everything
// after it lose their completed status, and the session jumps to the target.
func (e *Engine) ConfirmReopen() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureActiveLocked(); err != nil {
		return err
	}
	if e.pendingReopen == nil {
		return model.NewBadRequestError("no reopen pending")
	}

	target := *e.pendingReopen
	e.pendingReopen = nil
	for i := target; i < len(e.def.Slides); i++ {
		delete(e.state.Completed, i)
	}
	e.jumpLocked(target)
	e.saveLocked()
	return nil
}

// CancelReopen discards a staged reopen.
func (e *Engine) CancelReopen() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureActiveLocked(); err != nil {
		return err
	}
	e.pendingReopen = nil
	e.saveLocked()
	return nil
}

// Close ends the session. A completed close discards the stored snapshot;
// an abandoning close flushes it synchronously so the session can resume.
func (e *Engine) Close(ctx context.Context, completed bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeLocked(ctx, completed)
}

// View returns the presentation snapshot of the session and drains any
// accumulated side effects.
func (e *Engine) View() model.SessionView {
	e.mu.Lock()
	defer e.mu.Unlock()

	slide := e.def.Slides[e.state.CurrentSlide]

	artifacts := make([]model.ArtifactView, 0, len(slide.Artifacts))
	show := false
	for _, a := range slide.Artifacts {
		// A section is visible unless declared otherwise; show_when_branch
		// conditions it on the currently active branch.
		vis := a.Visible == nil || *a.Visible
		if a.ShowWhenBranch != "" {
			vis = vis && a.ShowWhenBranch == e.state.CurrentBranch
		}
		if override, ok := e.visible[a.ID]; ok {
			vis = override
		}
		if vis {
			show = true
		}
		artifacts = append(artifacts, model.ArtifactView{
			ID:      a.ID,
			Title:   a.Title,
			Kind:    a.Kind,
			Visible: vis,
		})
	}

	var branch *string
	if e.state.CurrentBranch != "" {
		b := e.state.CurrentBranch
		branch = &b
	}

	// Views escape the lock, so they get their own copies of the mutable
	// message list and state map.
	messages := make([]model.ChatMessage, len(e.state.Messages))
	copy(messages, e.state.Messages)

	effects := e.effects
	e.effects = nil

	return model.SessionView{
		SessionID:         e.sessionID,
		WorkflowID:        e.def.ID,
		CustomerID:        e.customerID,
		Status:            e.status,
		CurrentSlideIndex: e.state.CurrentSlide,
		SlideID:           slide.ID,
		SlideTitle:        slide.Title,
		Messages:          messages,
		CurrentBranch:     branch,
		WorkflowState:     maps.Clone(e.state.WorkflowState),
		ShowArtifacts:     show,
		Artifacts:         artifacts,
		PendingReopen:     e.pendingReopen,
		Effects:           effects,
		SidePanel:         slide.SidePanel,
	}
}

// Status returns the session status.
func (e *Engine) Status() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// --- internals, all called with e.mu held ---

func (e *Engine) ensureActiveLocked() error {
	if e.status != model.SessionStatusActive {
		return model.NewSessionNotActiveError(
			fmt.Sprintf("session %q is %s, not active", e.sessionID, e.status))
	}
	return nil
}

func (e *Engine) appendAILocked(text string, buttons []model.ButtonDefinition, component string) {
	e.state.Messages = append(e.state.Messages, model.ChatMessage{
		ID:        uuid.New().String(),
		Sender:    model.SenderAI,
		Text:      text,
		Timestamp: e.clock.Now(),
		Buttons:   buttons,
		Component: component,
	})
}

func (e *Engine) appendUserLocked(text string) {
	e.state.Messages = append(e.state.Messages, model.ChatMessage{
		ID:        uuid.New().String(),
		Sender:    model.SenderUser,
		Text:      text,
		Timestamp: e.clock.Now(),
	})
}

// buttonLabelLocked finds the display label for a button value by scanning
// the active branch and the initial message. Falls back to the raw value.
func (e *Engine) buttonLabelLocked(chat model.ChatDefinition, value string) string {
	if e.state.CurrentBranch != "" {
		if b, ok := chat.Branches[e.state.CurrentBranch]; ok {
			for _, btn := range b.Buttons {
				if btn.Value == value {
					return btn.Label
				}
			}
		}
	}
	for _, btn := range chat.Initial.Buttons {
		if btn.Value == value {
			return btn.Label
		}
	}
	return value
}

// greetingTextLocked returns the initial text for a slide, substituting the
// prefetched greeting when one is ready for it.
func (e *Engine) greetingTextLocked(slide model.SlideDefinition) string {
	text := slide.Chat.Initial.Text
	if slide.Chat.DynamicGreeting &&
		e.prefetch.done && e.prefetch.slide == e.state.CurrentSlide && e.prefetch.text != "" {
		text = e.prefetch.text
	}
	return text
}

// bootstrapSlideLocked makes the current slide's conversation live: prior
// messages become historical and lose their interactivity, a separator
// introduces the slide, and the initial message is appended.
func (e *Engine) bootstrapSlideLocked(fresh bool) {
	e.cancelTimersLocked()
	e.state.CurrentBranch = ""
	e.visible = make(map[string]bool)

	for i := range e.state.Messages {
		e.state.Messages[i].IsHistorical = true
		e.state.Messages[i].Buttons = nil
		e.state.Messages[i].Component = ""
	}

	slide := e.def.Slides[e.state.CurrentSlide]
	if !fresh {
		e.state.Messages = append(e.state.Messages, model.ChatMessage{
			ID:               uuid.New().String(),
			Sender:           model.SenderSystem,
			Text:             slide.Title,
			Timestamp:        e.clock.Now(),
			IsSlideSeparator: true,
		})
	}

	initial := slide.Chat.Initial
	e.appendAILocked(e.greetingTextLocked(slide), initial.Buttons, "")
}

// slideMark is what happens to the departing slide on an advance.
type slideMark int

const (
	markNone slideMark = iota
	markSkipped
	markSnoozed
)

// advanceSlideLocked records the mark on the departing slide and moves to
// the next available one, which joins the completed set on arrival. With
// no next slide the workflow is finished.
func (e *Engine) advanceSlideLocked(mark slideMark) {
	cur := e.state.CurrentSlide
	switch mark {
	case markSkipped:
		e.state.Skipped[cur] = true
	case markSnoozed:
		e.state.Snoozed[cur] = true
	}

	next := nextAvailableIndex(e.state, len(e.def.Slides))
	if next < 0 {
		e.status = model.SessionStatusCompleted
		e.logger.Info("workflow finished", zap.Int("slides", len(e.def.Slides)))
		return
	}

	e.state.Completed[next] = true
	e.state.CurrentSlide = next
	e.bootstrapSlideLocked(false)
}

func (e *Engine) retreatSlideLocked() {
	prev := previousAvailableIndex(e.state)
	if prev < 0 {
		return
	}
	e.state.CurrentSlide = prev
	e.bootstrapSlideLocked(false)
}

func (e *Engine) jumpLocked(index int) {
	e.state.CurrentSlide = index
	e.bootstrapSlideLocked(false)
}

// navigateBranchLocked is the single entry point for entering a branch.
// userValue carries the text, button value, or component value that led
// here; it feeds store_as and keeps its JSON type.
func (e *Engine) navigateBranchLocked(name string, userValue any) {
	slide := e.def.Slides[e.state.CurrentSlide]
	branch, ok := slide.Chat.Branches[name]
	if !ok {
		// The shared workflow-level subflows resolve without a declaration.
		switch name {
		case model.BranchSnoozeWorkflow:
			e.cancelTimersLocked()
			e.advanceSlideLocked(markSnoozed)
			return
		case model.BranchSkipWorkflow:
			e.cancelTimersLocked()
			e.advanceSlideLocked(markSkipped)
			return
		}
		e.logger.Warn("branch not found in slide",
			zap.String("branch", name), zap.String("slide", slide.ID))
		return
	}

	// 1. A new navigation supersedes any pending auto-advance.
	e.cancelTimersLocked()

	// 2. Collect the user's value.
	if branch.StoreAs != "" && userValue != nil && userValue != "" {
		e.state.WorkflowState[branch.StoreAs] = userValue
	}

	// 3. Activate the branch before actions run, so actions that read the
	// current branch see the new one.
	e.state.CurrentBranch = name

	// 4. Append the response, deferred when a predelay is scripted.
	if branch.Predelay > 0 {
		d := secondsToDuration(branch.Predelay)
		e.predelayTimer = e.clock.AfterFunc(d, func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if e.status != model.SessionStatusActive || e.state.CurrentBranch != name {
				return
			}
			e.appendAILocked(branch.Response, branch.Buttons, branch.Component)
			e.saveLocked()
		})
	} else {
		e.appendAILocked(branch.Response, branch.Buttons, branch.Component)
	}

	// 5. Reveal the artifact bound to this branch.
	if branch.ArtifactID != "" {
		e.visible[branch.ArtifactID] = true
	}

	// 6. Run scripted actions in declaration order.
	for _, action := range branch.Actions {
		e.executeActionLocked(action, branch)
		if e.status != model.SessionStatusActive {
			return
		}
	}

	// 7. Direct slide jump, then auto-advance scheduling.
	if branch.TargetSlide != nil {
		e.jumpLocked(*branch.TargetSlide)
		return
	}
	if branch.AutoAdvance != "" {
		d := e.cfg.DefaultAdvanceDelay
		if branch.Delay > 0 {
			d = secondsToDuration(branch.Delay)
		}
		target := branch.AutoAdvance
		e.advanceTimer = e.clock.AfterFunc(d, func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if e.status != model.SessionStatusActive || e.state.CurrentBranch != name {
				return
			}
			e.navigateBranchLocked(target, nil)
			e.saveLocked()
		})
	}
}

func (e *Engine) executeActionLocked(action string, branch model.BranchDefinition) {
	switch action {
	case model.ActionAdvanceSlide:
		e.advanceSlideLocked(markNone)
	case model.ActionRetreatSlide:
		e.retreatSlideLocked()
	case model.ActionEnterStep:
		e.emitEffectLocked(model.EffectEnterStep, e.currentStepMappingLocked())
	case model.ActionCompleteStep:
		e.emitEffectLocked(model.EffectCompleteStep, e.currentStepMappingLocked())
	case model.ActionSkipSlide:
		e.advanceSlideLocked(markSkipped)
	case model.ActionSnoozeSlide:
		e.advanceSlideLocked(markSnoozed)
	case model.ActionShowArtifact:
		if branch.ArtifactID != "" {
			e.visible[branch.ArtifactID] = true
		}
	case model.ActionRemoveArtifact:
		if branch.ArtifactID != "" {
			e.visible[branch.ArtifactID] = false
		}
	case model.ActionCloseWorkflow:
		_ = e.closeLocked(context.Background(), true)
	case model.ActionExitTaskMode:
		_ = e.closeLocked(context.Background(), false)
	case model.ActionNextCustomer:
		e.emitEffectLocked(model.EffectNextCustomer, "")
	case model.ActionResetChat:
		e.state.Messages = nil
		e.bootstrapSlideLocked(true)
	case model.ActionTriggerConfetti:
		e.emitEffectLocked(model.EffectConfetti, "")
	case model.ActionPrefetchGreeting:
		e.startPrefetchLocked()
	case model.ActionAdvanceWhenReady:
		e.beginAdvanceWhenReadyLocked()
	default:
		e.logger.Warn("unknown action tag, skipping", zap.String("action", action))
	}
}

func (e *Engine) currentStepMappingLocked() string {
	return e.def.Slides[e.state.CurrentSlide].StepMapping
}

func (e *Engine) emitEffectLocked(kind, target string) {
	e.effects = append(e.effects, model.Effect{Kind: kind, Target: target})
}

// startPrefetchLocked begins fetching the greeting for the next available
// slide. Idempotent: a fetch already in flight or finished for that slide
// is left alone.
func (e *Engine) startPrefetchLocked() {
	next := nextAvailableIndex(e.state, len(e.def.Slides))
	if next < 0 {
		return
	}
	if e.prefetch.slide == next && (e.prefetch.inFlight || e.prefetch.done) {
		return
	}

	e.prefetch = prefetchState{slide: next}

	slide := e.def.Slides[next]
	if e.greeter == nil || !slide.Chat.DynamicGreeting {
		e.prefetch.done = true
		return
	}

	e.prefetch.inFlight = true
	// The fetch runs unlocked, so it reads a copy of the state map.
	def, state := e.def, maps.Clone(e.state.WorkflowState)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PrefetchCeiling)
		defer cancel()

		text, err := e.greeter.Greet(ctx, def, slide, state)

		e.mu.Lock()
		defer e.mu.Unlock()
		if e.prefetch.slide != next {
			return
		}
		e.prefetch.inFlight = false
		e.prefetch.done = true
		if err != nil {
			e.logger.Warn("greeting fetch failed, using fallback",
				zap.String("slide", slide.ID), zap.Error(err))
			return
		}
		e.prefetch.text = text
	}()
}

// beginAdvanceWhenReadyLocked starts the two-phase advance: wait at least
// the floor, then move on as soon as the prefetched greeting is ready, or
// at the ceiling regardless.
func (e *Engine) beginAdvanceWhenReadyLocked() {
	if e.prefetch.waiting {
		return
	}
	e.prefetch.waiting = true
	e.prefetch.waitStart = e.clock.Now()
	e.prefetch.pollTimer = e.clock.AfterFunc(e.cfg.PrefetchPoll, e.pollAdvance)
}

func (e *Engine) pollAdvance() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.prefetch.waiting || e.status != model.SessionStatusActive {
		return
	}

	elapsed := e.clock.Now().Sub(e.prefetch.waitStart)
	ready := e.prefetch.done || e.prefetch.slide < 0
	if (ready && elapsed >= e.cfg.PrefetchFloor) || elapsed >= e.cfg.PrefetchCeiling {
		e.prefetch.waiting = false
		e.advanceSlideLocked(markNone)
		e.saveLocked()
		return
	}
	e.prefetch.pollTimer = e.clock.AfterFunc(e.cfg.PrefetchPoll, e.pollAdvance)
}

func (e *Engine) closeLocked(ctx context.Context, completed bool) error {
	if e.status == model.SessionStatusClosed {
		return nil
	}
	finished := completed || e.status == model.SessionStatusCompleted
	// A session that never started has no state worth flushing, and must
	// not clobber a stored snapshot awaiting a resume decision.
	started := e.status != model.SessionStatusPending
	e.cancelTimersLocked()
	e.prefetch.waiting = false
	e.status = model.SessionStatusClosed

	if e.saver != nil && started {
		if finished {
			if err := e.saver.Discard(ctx); err != nil {
				e.logger.Warn("discarding snapshot failed", zap.Error(err))
			}
		} else {
			if err := e.saver.SaveImmediate(ctx, e.snapshotLocked()); err != nil {
				e.logger.Warn("final snapshot flush failed", zap.Error(err))
			}
		}
	}

	if e.onClose != nil {
		e.onClose(finished)
	}
	e.logger.Info("session closed", zap.Bool("completed", finished))
	return nil
}

func (e *Engine) cancelTimersLocked() {
	if e.advanceTimer != nil {
		e.advanceTimer.Stop()
		e.advanceTimer = nil
	}
	if e.predelayTimer != nil {
		e.predelayTimer.Stop()
		e.predelayTimer = nil
	}
	if e.prefetch.pollTimer != nil {
		e.prefetch.pollTimer.Stop()
		e.prefetch.pollTimer = nil
	}
}

func (e *Engine) snapshotLocked() model.Snapshot {
	return model.SnapshotFromState(e.def.ID, e.customerID, e.userID, e.state, e.clock.Now())
}

// saveLocked hands the current snapshot to the saver. Persistence failures
// are the saver's problem; the dialogue never stalls on them.
func (e *Engine) saveLocked() {
	if e.saver == nil || e.status == model.SessionStatusClosed {
		return
	}
	e.saver.Save(e.snapshotLocked())
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
