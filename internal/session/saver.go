package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harborcs/taskmode/internal/dialogue"
	"github.com/harborcs/taskmode/model"
)

const flushTimeout = 5 * time.Second

// DebouncedSaver batches rapid snapshot updates into one store write. It
// implements dialogue.Saver for a single snapshot key. Persistence errors
// are logged and swallowed; the dialogue never stalls on storage.
type DebouncedSaver struct {
	mu       sync.Mutex
	store    SnapshotStore
	key      Key
	debounce time.Duration
	clock    dialogue.Clock
	logger   *zap.Logger

	latest  *model.Snapshot
	timer   dialogue.Timer
	stopped bool
}

// NewDebouncedSaver creates a saver for one snapshot key.
func NewDebouncedSaver(store SnapshotStore, key Key, debounce time.Duration, clock dialogue.Clock, logger *zap.Logger) *DebouncedSaver {
	if clock == nil {
		clock = dialogue.RealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DebouncedSaver{
		store:    store,
		key:      key,
		debounce: debounce,
		clock:    clock,
		logger:   logger.With(zap.String("snapshot_key", key.String())),
	}
}

// Save records the snapshot and schedules a flush. Consecutive calls within
// the debounce window collapse into a single write of the newest snapshot.
func (s *DebouncedSaver) Save(snap model.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.latest = &snap
	if s.timer != nil {
		return
	}
	s.timer = s.clock.AfterFunc(s.debounce, s.flush)
}

// SaveImmediate cancels any pending flush and writes the snapshot now.
func (s *DebouncedSaver) SaveImmediate(ctx context.Context, snap model.Snapshot) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.latest = nil
	s.stopped = true
	s.mu.Unlock()

	return s.store.Save(ctx, s.key, snap)
}

// Discard drops any pending flush and removes the stored snapshot.
func (s *DebouncedSaver) Discard(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.latest = nil
	s.stopped = true
	s.mu.Unlock()

	return s.store.Delete(ctx, s.key)
}

func (s *DebouncedSaver) flush() {
	s.mu.Lock()
	snap := s.latest
	s.latest = nil
	s.timer = nil
	s.mu.Unlock()

	if snap == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := s.store.Save(ctx, s.key, *snap); err != nil {
		s.logger.Warn("snapshot flush failed", zap.Error(err))
	}
}
