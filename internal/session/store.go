// Package session manages live Task Mode sessions and their persisted
// snapshots: in-memory engines keyed by session ID, a pluggable snapshot
// store for resume, and a debounced saver between the two.
package session

import (
	"context"
	"fmt"

	"github.com/harborcs/taskmode/model"
)

// Key identifies the snapshot scope: one saved conversation per workflow,
// customer, and user.
type Key struct {
	WorkflowID string
	CustomerID string
	UserID     string
}

// String renders the storage key, "snap:{workflow}:{customer}:{user}".
func (k Key) String() string {
	return fmt.Sprintf("snap:%s:%s:%s", k.WorkflowID, k.CustomerID, k.UserID)
}

// SnapshotStore persists session snapshots for resume.
type SnapshotStore interface {
	// Load retrieves the snapshot for a key. The bool reports whether one
	// exists; absence is not an error.
	Load(ctx context.Context, key Key) (model.Snapshot, bool, error)

	// Save upserts the snapshot for a key.
	Save(ctx context.Context, key Key, snap model.Snapshot) error

	// Delete removes the snapshot for a key. Deleting a missing snapshot
	// is a no-op.
	Delete(ctx context.Context, key Key) error
}
