package session

import (
	"context"
	"testing"
	"time"

	"github.com/harborcs/taskmode/internal/definition"
	"github.com/harborcs/taskmode/model"
)

func registryWorkflow() model.WorkflowDefinition {
	return model.WorkflowDefinition{
		ID:       "renewal-planning",
		Title:    "Renewal Planning",
		Version:  "1.0.0",
		Checksum: "abc",
		Slides: []model.SlideDefinition{
			{
				ID:    "kickoff",
				Title: "Kickoff",
				Chat: model.ChatDefinition{
					Initial: model.InitialMessage{
						Text:    "Ready?",
						Buttons: []model.ButtonDefinition{{Label: "Go", Value: "start"}},
					},
				},
			},
			{
				ID:    "wrap-up",
				Title: "Wrap Up",
				Chat: model.ChatDefinition{
					Initial: model.InitialMessage{Text: "All done?"},
				},
			},
		},
	}
}

func testRegistry(store SnapshotStore) *Registry {
	defs := definition.NewRegistry([]model.WorkflowDefinition{registryWorkflow()})
	return NewRegistry(Options{
		Definitions:  defs,
		Store:        store,
		SaveDebounce: time.Millisecond,
	})
}

func testRequestContext() *model.RequestContext {
	return &model.RequestContext{SubjectID: "user-1", TenantID: "tenant-1"}
}

func TestRegistry_Start_fresh(t *testing.T) {
	r := testRegistry(NewMemorySnapshotStore(0))

	sess, err := r.Start(context.Background(), testRequestContext(), "renewal-planning", "cust-9")
	if err != nil {
		t.Fatalf("Start error = %v", err)
	}

	if _, pending := sess.Pending(); pending {
		t.Error("fresh start should not be pending")
	}
	v := sess.Engine.View()
	if v.Status != model.SessionStatusActive {
		t.Errorf("Status = %q, want active", v.Status)
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}

	got, err := r.Get(sess.ID)
	if err != nil || got.ID != sess.ID {
		t.Errorf("Get = %v, %v", got, err)
	}
}

func TestRegistry_Start_unknown_workflow(t *testing.T) {
	r := testRegistry(NewMemorySnapshotStore(0))

	_, err := r.Start(context.Background(), testRequestContext(), "nope", "cust-9")
	if err == nil {
		t.Fatal("Start with unknown workflow should error")
	}
	env, ok := err.(*model.ErrorEnvelope)
	if !ok || env.Code != model.ErrNotFound {
		t.Errorf("error = %v, want NOT_FOUND envelope", err)
	}
}

func TestRegistry_Get_unknown_session(t *testing.T) {
	r := testRegistry(NewMemorySnapshotStore(0))
	_, err := r.Get("missing")
	env, ok := err.(*model.ErrorEnvelope)
	if !ok || env.Code != model.ErrSessionNotFound {
		t.Errorf("error = %v, want SESSION_NOT_FOUND envelope", err)
	}
}

func TestRegistry_resume_flow(t *testing.T) {
	store := NewMemorySnapshotStore(0)
	ctx := context.Background()
	r := testRegistry(store)
	rctx := testRequestContext()

	// First session: do some work, then abandon.
	sess1, err := r.Start(ctx, rctx, "renewal-planning", "cust-9")
	if err != nil {
		t.Fatalf("Start error = %v", err)
	}
	if err := sess1.Engine.ClickButton("start"); err != nil {
		t.Fatalf("ClickButton error = %v", err)
	}
	if err := r.Close(ctx, sess1.ID, false); err != nil {
		t.Fatalf("Close error = %v", err)
	}
	if r.Count() != 0 {
		t.Fatalf("Count = %d after close, want 0", r.Count())
	}

	// Second session for the same scope comes up pending.
	sess2, err := r.Start(ctx, rctx, "renewal-planning", "cust-9")
	if err != nil {
		t.Fatalf("second Start error = %v", err)
	}
	snap, pending := sess2.Pending()
	if !pending {
		t.Fatal("second start should be pending with a stored snapshot")
	}
	if snap.CurrentSlideIndex != 1 {
		t.Errorf("pending CurrentSlideIndex = %d, want 1", snap.CurrentSlideIndex)
	}
	if got := sess2.Engine.Status(); got != model.SessionStatusPending {
		t.Errorf("engine status = %q, want pending", got)
	}

	// Continue from the snapshot.
	resumed, err := r.Resume(sess2.ID, false)
	if err != nil {
		t.Fatalf("Resume error = %v", err)
	}
	v := resumed.Engine.View()
	if v.Status != model.SessionStatusActive || v.CurrentSlideIndex != 1 {
		t.Errorf("resumed view = %q slide %d, want active slide 1", v.Status, v.CurrentSlideIndex)
	}

	// Resuming twice is an error.
	if _, err := r.Resume(sess2.ID, false); err == nil {
		t.Error("second Resume should error")
	}
}

func TestRegistry_resume_fresh_restarts(t *testing.T) {
	store := NewMemorySnapshotStore(0)
	ctx := context.Background()
	r := testRegistry(store)
	rctx := testRequestContext()

	sess1, _ := r.Start(ctx, rctx, "renewal-planning", "cust-9")
	_ = sess1.Engine.ClickButton("start")
	_ = r.Close(ctx, sess1.ID, false)

	sess2, _ := r.Start(ctx, rctx, "renewal-planning", "cust-9")
	if _, pending := sess2.Pending(); !pending {
		t.Fatal("expected pending session")
	}

	resumed, err := r.Resume(sess2.ID, true)
	if err != nil {
		t.Fatalf("Resume(fresh) error = %v", err)
	}
	v := resumed.Engine.View()
	if v.CurrentSlideIndex != 0 {
		t.Errorf("fresh resume slide = %d, want 0", v.CurrentSlideIndex)
	}
	if len(v.Messages) != 1 {
		t.Errorf("fresh resume messages = %d, want 1", len(v.Messages))
	}
}

func TestRegistry_completed_close_clears_snapshot(t *testing.T) {
	store := NewMemorySnapshotStore(0)
	ctx := context.Background()
	r := testRegistry(store)
	rctx := testRequestContext()

	sess, _ := r.Start(ctx, rctx, "renewal-planning", "cust-9")
	_ = sess.Engine.ClickButton("start")
	if err := r.Close(ctx, sess.ID, true); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	key := Key{WorkflowID: "renewal-planning", CustomerID: "cust-9", UserID: "user-1"}
	if _, found, _ := store.Load(ctx, key); found {
		t.Error("completed close should discard the snapshot")
	}

	// Next start is fresh.
	next, _ := r.Start(ctx, rctx, "renewal-planning", "cust-9")
	if _, pending := next.Pending(); pending {
		t.Error("start after completed close should not be pending")
	}
}

func TestRegistry_closing_pending_session_keeps_snapshot(t *testing.T) {
	store := NewMemorySnapshotStore(0)
	ctx := context.Background()
	r := testRegistry(store)
	rctx := testRequestContext()

	sess1, _ := r.Start(ctx, rctx, "renewal-planning", "cust-9")
	_ = sess1.Engine.ClickButton("start")
	_ = r.Close(ctx, sess1.ID, false)

	// Open pending, then close without deciding.
	sess2, _ := r.Start(ctx, rctx, "renewal-planning", "cust-9")
	if err := r.Close(ctx, sess2.ID, false); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	key := Key{WorkflowID: "renewal-planning", CustomerID: "cust-9", UserID: "user-1"}
	snap, found, _ := store.Load(ctx, key)
	if !found {
		t.Fatal("stored snapshot vanished after closing an undecided session")
	}
	if snap.CurrentSlideIndex != 1 {
		t.Errorf("stored CurrentSlideIndex = %d, want the original 1", snap.CurrentSlideIndex)
	}
}

func TestRegistry_sweep_closes_idle_sessions(t *testing.T) {
	store := NewMemorySnapshotStore(0)
	ctx := context.Background()
	defs := definition.NewRegistry([]model.WorkflowDefinition{registryWorkflow()})
	r := NewRegistry(Options{
		Definitions:  defs,
		Store:        store,
		SaveDebounce: time.Millisecond,
		IdleTTL:      10 * time.Millisecond,
	})

	sess, _ := r.Start(ctx, testRequestContext(), "renewal-planning", "cust-9")
	_ = sess.Engine.ClickButton("start")

	time.Sleep(20 * time.Millisecond)
	r.sweep(ctx)

	if r.Count() != 0 {
		t.Errorf("Count = %d after sweep, want 0", r.Count())
	}
	key := Key{WorkflowID: "renewal-planning", CustomerID: "cust-9", UserID: "user-1"}
	if _, found, _ := store.Load(ctx, key); !found {
		t.Error("idle close should flush the snapshot for resume")
	}
}
