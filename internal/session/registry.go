package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harborcs/taskmode/internal/definition"
	"github.com/harborcs/taskmode/internal/dialogue"
	"github.com/harborcs/taskmode/model"
)

// Session is one live Task Mode conversation.
type Session struct {
	ID         string
	WorkflowID string
	CustomerID string
	UserID     string
	Engine     *dialogue.Engine
	CreatedAt  time.Time

	mu       sync.Mutex
	lastSeen time.Time
	// pending holds the stored snapshot while the user decides between
	// resuming and starting fresh.
	pending *model.Snapshot
}

// Pending returns the stored snapshot awaiting a resume decision, if any.
func (s *Session) Pending() (model.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return model.Snapshot{}, false
	}
	return *s.pending, true
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) seen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Options configures a session Registry.
type Options struct {
	Definitions *definition.Registry
	Store       SnapshotStore
	Greeter     dialogue.Greeter
	Logger      *zap.Logger
	Clock       dialogue.Clock
	Engine      dialogue.Config
	// SaveDebounce is the snapshot write debounce window.
	SaveDebounce time.Duration
	// IdleTTL is how long a session may go untouched before the janitor
	// closes it. Zero disables idle collection.
	IdleTTL time.Duration
	// JanitorInterval is the idle sweep period.
	JanitorInterval time.Duration
}

// Registry owns all live sessions: creation with resume detection, lookup,
// closing, and idle collection.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	defs     *definition.Registry
	store    SnapshotStore
	greeter  dialogue.Greeter
	logger   *zap.Logger
	clock    dialogue.Clock
	cfg      dialogue.Config
	debounce time.Duration
	idleTTL  time.Duration
	interval time.Duration
}

// NewRegistry creates a session Registry.
func NewRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = dialogue.RealClock()
	}
	debounce := opts.SaveDebounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	interval := opts.JanitorInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Registry{
		sessions: make(map[string]*Session),
		defs:     opts.Definitions,
		store:    opts.Store,
		greeter:  opts.Greeter,
		logger:   logger,
		clock:    clock,
		cfg:      opts.Engine,
		debounce: debounce,
		idleTTL:  opts.IdleTTL,
		interval: interval,
	}
}

// Start creates a session for a workflow and customer. When a stored
// snapshot exists for the scope the session is created pending: the caller
// must Resume it with the user's fresh-or-continue choice before any
// dialogue operation.
func (r *Registry) Start(ctx context.Context, rctx *model.RequestContext, workflowID, customerID string) (*Session, error) {
	def, ok := r.defs.GetWorkflow(workflowID)
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("workflow %q not found", workflowID))
	}
	if len(def.Slides) == 0 {
		return nil, model.NewConfigError(fmt.Sprintf("workflow %q has no slides", workflowID))
	}

	key := Key{WorkflowID: workflowID, CustomerID: customerID, UserID: rctx.SubjectID}

	var pending *model.Snapshot
	if r.store != nil {
		snap, found, err := r.store.Load(ctx, key)
		if err != nil {
			// A broken store downgrades to a fresh start, never a failure.
			r.logger.Warn("snapshot load failed, starting fresh",
				zap.String("key", key.String()), zap.Error(err))
		} else if found {
			pending = &snap
		}
	}

	sessionID := uuid.New().String()
	var saver dialogue.Saver
	if r.store != nil {
		saver = NewDebouncedSaver(r.store, key, r.debounce, r.clock, r.logger)
	}

	sess := &Session{
		ID:         sessionID,
		WorkflowID: workflowID,
		CustomerID: customerID,
		UserID:     rctx.SubjectID,
		CreatedAt:  r.clock.Now(),
		lastSeen:   r.clock.Now(),
		pending:    pending,
	}
	sess.Engine = dialogue.New(dialogue.Options{
		SessionID:  sessionID,
		Definition: def,
		CustomerID: customerID,
		UserID:     rctx.SubjectID,
		Clock:      r.clock,
		Logger:     r.logger,
		Saver:      saver,
		Greeter:    r.greeter,
		Config:     r.cfg,
		OnClose:    func(bool) { r.remove(sessionID) },
	})

	r.mu.Lock()
	r.sessions[sessionID] = sess
	r.mu.Unlock()

	if pending == nil {
		sess.Engine.Start()
	}

	r.logger.Info("session started",
		zap.String("session_id", sessionID),
		zap.String("workflow_id", workflowID),
		zap.String("customer_id", customerID),
		zap.Bool("resume_available", pending != nil))
	return sess, nil
}

// Resume settles a pending session: continue from the stored snapshot, or
// discard it and start fresh.
func (r *Registry) Resume(sessionID string, fresh bool) (*Session, error) {
	sess, err := r.Get(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	pending := sess.pending
	sess.pending = nil
	sess.mu.Unlock()

	if pending == nil {
		return nil, model.NewBadRequestError(
			fmt.Sprintf("session %q has no resume pending", sessionID))
	}

	if fresh {
		sess.Engine.Start()
	} else {
		sess.Engine.Resume(*pending)
	}
	return sess, nil
}

// Get returns a live session by ID and refreshes its idle clock.
func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil, model.NewSessionNotFoundError(sessionID)
	}
	sess.touch(r.clock.Now())
	return sess, nil
}

// Close ends a session explicitly.
func (r *Registry) Close(ctx context.Context, sessionID string, completed bool) error {
	sess, err := r.Get(sessionID)
	if err != nil {
		return err
	}
	return sess.Engine.Close(ctx, completed)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) remove(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

// Run sweeps idle sessions until the context is cancelled. Idle sessions
// close as abandoned, so their snapshot is flushed for a later resume.
func (r *Registry) Run(ctx context.Context) {
	if r.idleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// Shutdown closes every live session as abandoned so its snapshot is
// flushed before the process exits.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	live := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		live = append(live, sess)
	}
	r.mu.Unlock()

	for _, sess := range live {
		if err := sess.Engine.Close(ctx, false); err != nil {
			r.logger.Warn("shutdown close failed", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}
}

func (r *Registry) sweep(ctx context.Context) {
	cutoff := r.clock.Now().Add(-r.idleTTL)

	r.mu.Lock()
	var idle []*Session
	for _, sess := range r.sessions {
		if sess.seen().Before(cutoff) {
			idle = append(idle, sess)
		}
	}
	r.mu.Unlock()

	for _, sess := range idle {
		r.logger.Info("closing idle session", zap.String("session_id", sess.ID))
		if err := sess.Engine.Close(ctx, false); err != nil {
			r.logger.Warn("idle close failed", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}
}
