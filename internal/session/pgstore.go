package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborcs/taskmode/model"
)

// PgSnapshotStore is a PostgreSQL-backed SnapshotStore using pgx/v5.
//
// Schema:
//
//	CREATE TABLE task_sessions (
//	    workflow_id TEXT NOT NULL,
//	    customer_id TEXT NOT NULL,
//	    user_id     TEXT NOT NULL,
//	    snapshot    JSONB NOT NULL,
//	    saved_at    TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (workflow_id, customer_id, user_id)
//	);
type PgSnapshotStore struct {
	pool *pgxpool.Pool
}

// NewPgSnapshotStore creates a PostgreSQL snapshot store.
func NewPgSnapshotStore(pool *pgxpool.Pool) *PgSnapshotStore {
	return &PgSnapshotStore{pool: pool}
}

// Load retrieves the snapshot for a key.
func (s *PgSnapshotStore) Load(ctx context.Context, key Key) (model.Snapshot, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT snapshot
		FROM task_sessions
		WHERE workflow_id = $1 AND customer_id = $2 AND user_id = $3`,
		key.WorkflowID, key.CustomerID, key.UserID,
	).Scan(&raw)
	if err == pgx.ErrNoRows {
		return model.Snapshot{}, false, nil
	}
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("query session snapshot: %w", err)
	}

	var snap model.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return model.Snapshot{}, false, fmt.Errorf("unmarshal session snapshot: %w", err)
	}
	return snap, true, nil
}

// Save upserts the snapshot for a key.
func (s *PgSnapshotStore) Save(ctx context.Context, key Key, snap model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal session snapshot: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO task_sessions (workflow_id, customer_id, user_id, snapshot, saved_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (workflow_id, customer_id, user_id)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, saved_at = EXCLUDED.saved_at`,
		key.WorkflowID, key.CustomerID, key.UserID, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert session snapshot: %w", err)
	}
	return nil
}

// Delete removes the snapshot for a key.
func (s *PgSnapshotStore) Delete(ctx context.Context, key Key) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM task_sessions
		WHERE workflow_id = $1 AND customer_id = $2 AND user_id = $3`,
		key.WorkflowID, key.CustomerID, key.UserID,
	)
	if err != nil {
		return fmt.Errorf("delete session snapshot: %w", err)
	}
	return nil
}

// HealthCheck pings the database.
func (s *PgSnapshotStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
