package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// ProfilePrefix is the Redis key prefix for profile snapshots.
	ProfilePrefix = "profile:"

	// ProfileTTL bounds how long a snapshot is trusted before the owning
	// service has to write it again.
	ProfileTTL = 24 * time.Hour
)

// RedisStore keeps profile snapshots as JSON strings in Redis:
//
//	Key:   profile:<user_id>
//	Value: JSON-encoded UserProfile
//	TTL:   ProfileTTL
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a profile store using the provided Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get loads the snapshot for userID. Returns ErrNotFound if it is missing
// or expired.
func (s *RedisStore) Get(ctx context.Context, userID string) (*UserProfile, error) {
	data, err := s.client.Get(ctx, ProfilePrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile: get %s: %w", userID, err)
	}

	var p UserProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("profile: decode %s: %w", userID, err)
	}
	return &p, nil
}

// Put writes a snapshot and refreshes its TTL.
func (s *RedisStore) Put(ctx context.Context, p UserProfile) error {
	if p.ID == "" {
		return errors.New("profile: id is required")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("profile: encode %s: %w", p.ID, err)
	}
	return s.client.Set(ctx, ProfilePrefix+p.ID, data, ProfileTTL).Err()
}

// Delete removes a snapshot.
func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	return s.client.Del(ctx, ProfilePrefix+userID).Err()
}
