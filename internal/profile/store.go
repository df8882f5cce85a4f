package profile

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when no profile exists for a user id.
var ErrNotFound = errors.New("profile: not found")

// Store supplies profiles by user id.
type Store interface {
	Get(ctx context.Context, userID string) (*UserProfile, error)
}

// MemoryStore is an in-process Store, used by tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]UserProfile
}

func NewMemoryStore(profiles ...UserProfile) *MemoryStore {
	s := &MemoryStore{profiles: make(map[string]UserProfile, len(profiles))}
	for _, p := range profiles {
		s.profiles[p.ID] = p
	}
	return s
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (*UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) Put(_ context.Context, p UserProfile) error {
	s.mu.Lock()
	s.profiles[p.ID] = p
	s.mu.Unlock()
	return nil
}
