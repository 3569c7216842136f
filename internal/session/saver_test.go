package session

import (
	"context"
	"testing"
	"time"
)

func TestDebouncedSaver_collapses_rapid_saves(t *testing.T) {
	store := NewMemorySnapshotStore(0)
	saver := NewDebouncedSaver(store, testKey(), 20*time.Millisecond, nil, nil)

	for i := 0; i < 5; i++ {
		snap := testSnapshot()
		snap.CurrentSlideIndex = i
		saver.Save(snap)
	}

	// Nothing written before the window elapses.
	if _, found, _ := store.Load(context.Background(), testKey()); found {
		t.Error("snapshot written before debounce window elapsed")
	}

	time.Sleep(60 * time.Millisecond)

	snap, found, err := store.Load(context.Background(), testKey())
	if err != nil || !found {
		t.Fatalf("Load = found:%v err:%v", found, err)
	}
	if snap.CurrentSlideIndex != 4 {
		t.Errorf("CurrentSlideIndex = %d, want 4 (newest snapshot wins)", snap.CurrentSlideIndex)
	}
}

func TestDebouncedSaver_immediate_cancels_pending(t *testing.T) {
	store := NewMemorySnapshotStore(0)
	saver := NewDebouncedSaver(store, testKey(), 20*time.Millisecond, nil, nil)

	stale := testSnapshot()
	stale.CurrentSlideIndex = 1
	saver.Save(stale)

	final := testSnapshot()
	final.CurrentSlideIndex = 2
	if err := saver.SaveImmediate(context.Background(), final); err != nil {
		t.Fatalf("SaveImmediate error = %v", err)
	}

	snap, found, _ := store.Load(context.Background(), testKey())
	if !found || snap.CurrentSlideIndex != 2 {
		t.Fatalf("snapshot = %+v, want the immediate one", snap)
	}

	// The debounced write must not resurrect the stale snapshot.
	time.Sleep(60 * time.Millisecond)
	snap, _, _ = store.Load(context.Background(), testKey())
	if snap.CurrentSlideIndex != 2 {
		t.Errorf("CurrentSlideIndex = %d, stale flush overwrote the final write", snap.CurrentSlideIndex)
	}
}

func TestDebouncedSaver_discard(t *testing.T) {
	store := NewMemorySnapshotStore(0)
	_ = store.Save(context.Background(), testKey(), testSnapshot())

	saver := NewDebouncedSaver(store, testKey(), 20*time.Millisecond, nil, nil)
	saver.Save(testSnapshot())

	if err := saver.Discard(context.Background()); err != nil {
		t.Fatalf("Discard error = %v", err)
	}
	if _, found, _ := store.Load(context.Background(), testKey()); found {
		t.Error("snapshot should be gone after Discard")
	}

	// Pending and later saves must not come back after Discard.
	time.Sleep(60 * time.Millisecond)
	saver.Save(testSnapshot())
	time.Sleep(60 * time.Millisecond)
	if _, found, _ := store.Load(context.Background(), testKey()); found {
		t.Error("saver wrote after Discard")
	}
}
