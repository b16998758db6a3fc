package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// snapshotPayload is the persisted form of the session state. IsAuthenticated
// is stored for completeness but never trusted on restore; the store always
// recomputes it from the restored user and token.
type snapshotPayload struct {
	User            *User      `json:"user"`
	Token           string     `json:"token"`
	RefreshToken    string     `json:"refreshToken"`
	IsAuthenticated bool       `json:"isAuthenticated"`
	Businesses      []Business `json:"businesses"`
}

// SnapshotStore persists session snapshots in Redis so a restarted process
// can restore its session without a fresh login.
type SnapshotStore struct {
	client *redis.Client
	scope  string
	ttl    time.Duration
}

// NewSnapshotStore constructs a SnapshotStore. Scope isolates snapshots when
// several gateway instances share one Redis.
func NewSnapshotStore(client *redis.Client, scope string, ttl time.Duration) *SnapshotStore {
	if scope == "" {
		scope = "local"
	}
	return &SnapshotStore{client: client, scope: scope, ttl: ttl}
}

func (s *SnapshotStore) key() string {
	return "session:snapshot:" + s.scope
}

func (s *SnapshotStore) ephemeralPrefix() string {
	return "session:ephemeral:" + s.scope + ":"
}

// load fetches the persisted snapshot. A missing key returns (nil, nil).
// A corrupt payload is treated the same as a missing one so a partial write
// can never resurrect half a session.
func (s *SnapshotStore) load(ctx context.Context) (*snapshotPayload, error) {
	raw, err := s.client.Get(ctx, s.key()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var payload snapshotPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil
	}
	return &payload, nil
}

func (s *SnapshotStore) save(ctx context.Context, payload snapshotPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(), data, s.ttl).Err()
}

// clear removes the snapshot and every session-scoped ephemeral key so a
// later restore cannot see stale credentials.
func (s *SnapshotStore) clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key()).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	keys, err := s.client.Keys(ctx, s.ephemeralPrefix()+"*").Result()
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return err
		}
	}
	return nil
}

// PutEphemeral stores a session-scoped value that is wiped on logout.
func (s *SnapshotStore) PutEphemeral(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, s.ephemeralPrefix()+key, value, s.ttl).Err()
}

// Ephemeral reads a session-scoped value. A missing key returns "".
func (s *SnapshotStore) Ephemeral(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.ephemeralPrefix()+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}
