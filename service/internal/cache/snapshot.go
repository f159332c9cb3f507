// Package cache keeps the latest snapshot of live games in Redis so a
// restarted server can resume without reading the whole journal.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrMiss indicates no cached snapshot exists for a game.
var ErrMiss = errors.New("snapshot not cached")

// Entry is a cached session checkpoint with the chain head it was written
// at. A reader trusts State only when Head matches the journal's last hash.
type Entry struct {
	State json.RawMessage `json:"state"`
	Head  string          `json:"head"`
}

// SnapshotCache stores one Entry per game with a sliding TTL.
type SnapshotCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// New wraps client. A zero ttl keeps entries until deleted.
func New(client redis.UniversalClient, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{client: client, ttl: ttl}
}

// Dial connects to addr and verifies the server answers.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// Key returns the Redis key holding the snapshot of game id.
func Key(id uuid.UUID) string {
	return "cloister:game:" + id.String() + ":snapshot"
}

// Save writes entry for game id.
func (c *SnapshotCache) Save(ctx context.Context, id uuid.UUID, entry Entry) error {
	if c == nil || c.client == nil {
		return nil
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.client.Set(ctx, Key(id), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache snapshot %s: %w", id, err)
	}
	return nil
}

// Load reads the entry for game id, returning ErrMiss when absent.
func (c *SnapshotCache) Load(ctx context.Context, id uuid.UUID) (Entry, error) {
	if c == nil || c.client == nil {
		return Entry{}, ErrMiss
	}
	b, err := c.client.Get(ctx, Key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrMiss
	}
	if err != nil {
		return Entry{}, fmt.Errorf("load snapshot %s: %w", id, err)
	}
	var entry Entry
	if err := json.Unmarshal(b, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return entry, nil
}

// Delete drops the entry for game id.
func (c *SnapshotCache) Delete(ctx context.Context, id uuid.UUID) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, Key(id)).Err()
}
