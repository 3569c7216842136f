package session

import (
	"context"
	"sync"
	"time"

	"github.com/harborcs/taskmode/model"
)

// MemorySnapshotStore is an in-memory SnapshotStore with TTL support.
// Suitable for testing and single-instance deployments.
type MemorySnapshotStore struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]*memEntry
}

type memEntry struct {
	snap      model.Snapshot
	expiresAt time.Time
}

// NewMemorySnapshotStore creates an in-memory snapshot store. A zero TTL
// means entries never expire.
func NewMemorySnapshotStore(ttl time.Duration) *MemorySnapshotStore {
	return &MemorySnapshotStore{
		ttl:     ttl,
		entries: make(map[string]*memEntry),
	}
}

// Load retrieves a snapshot, honoring TTL.
func (s *MemorySnapshotStore) Load(_ context.Context, key Key) (model.Snapshot, bool, error) {
	s.mu.RLock()
	entry, exists := s.entries[key.String()]
	s.mu.RUnlock()

	if !exists {
		return model.Snapshot{}, false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key.String())
		s.mu.Unlock()
		return model.Snapshot{}, false, nil
	}
	return entry.snap, true, nil
}

// Save upserts a snapshot.
func (s *MemorySnapshotStore) Save(_ context.Context, key Key, snap model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expiresAt time.Time
	if s.ttl > 0 {
		expiresAt = time.Now().Add(s.ttl)
	}
	s.entries[key.String()] = &memEntry{snap: snap, expiresAt: expiresAt}
	return nil
}

// Delete removes a snapshot.
func (s *MemorySnapshotStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key.String())
	return nil
}

// Len returns the number of entries (including expired ones). For testing.
func (s *MemorySnapshotStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
