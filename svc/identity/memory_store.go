package identity

import (
	"context"
	"maps"
	"sync"
)

// MemoryStore keeps metadata in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]map[string]any
}

var _ MetadataStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]map[string]any)}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.users[userID]), nil
}

func (s *MemoryStore) Merge(_ context.Context, userID string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	md := s.users[userID]
	if md == nil {
		md = make(map[string]any, len(patch))
		s.users[userID] = md
	}
	for k, v := range patch {
		if v == nil {
			delete(md, k)
			continue
		}
		md[k] = v
	}
	return nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return ErrUserNotFound
	}
	delete(s.users, userID)
	return nil
}
