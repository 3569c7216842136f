package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/harborcs/taskmode/model"
)

// RedisSnapshotStore is a Redis-backed SnapshotStore with TTL.
type RedisSnapshotStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisSnapshotStore creates a Redis-backed snapshot store. A zero TTL
// means keys never expire.
func NewRedisSnapshotStore(client redis.Cmdable, ttl time.Duration) *RedisSnapshotStore {
	return &RedisSnapshotStore{client: client, ttl: ttl}
}

// Load retrieves a snapshot from Redis.
func (s *RedisSnapshotStore) Load(ctx context.Context, key Key) (model.Snapshot, bool, error) {
	raw, err := s.client.Get(ctx, key.String()).Bytes()
	if err == redis.Nil {
		return model.Snapshot{}, false, nil
	}
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("redis get %q: %w", key.String(), err)
	}

	var snap model.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return model.Snapshot{}, false, fmt.Errorf("unmarshal snapshot %q: %w", key.String(), err)
	}
	return snap, true, nil
}

// Save upserts a snapshot in Redis with TTL.
func (s *RedisSnapshotStore) Save(ctx context.Context, key Key, snap model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, key.String(), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key.String(), err)
	}
	return nil
}

// Delete removes a snapshot from Redis.
func (s *RedisSnapshotStore) Delete(ctx context.Context, key Key) error {
	if err := s.client.Del(ctx, key.String()).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key.String(), err)
	}
	return nil
}

// HealthCheck pings the Redis server.
func (s *RedisSnapshotStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
