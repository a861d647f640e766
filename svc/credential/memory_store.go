package credential

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/keytier/svc/plan"
)

type userTier struct {
	userID string
	tier   plan.Tier
}

// MemoryStore is a process-local Store used in development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	rows   map[uuid.UUID]*Credential
	byPair map[userTier]uuid.UUID
	byKey  map[string]uuid.UUID
	now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:   make(map[uuid.UUID]*Credential),
		byPair: make(map[userTier]uuid.UUID),
		byKey:  make(map[string]uuid.UUID),
		now:    time.Now,
	}
}

func (s *MemoryStore) Upsert(_ context.Context, userID string, tier plan.Tier, apiKey string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byPair[userTier{userID, tier}]; ok {
		c := s.rows[id]
		if err := s.setKey(c, apiKey); err != nil {
			return nil, err
		}
		c.IsActive = true
		return clone(c), nil
	}

	if _, taken := s.byKey[apiKey]; taken {
		return nil, ErrKeyCollision
	}
	now := s.now()
	c := &Credential{
		ID:        uuid.New(),
		UserID:    userID,
		Tier:      tier,
		APIKey:    apiKey,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.rows[c.ID] = c
	s.byPair[userTier{userID, tier}] = c.ID
	s.byKey[apiKey] = c.ID
	return clone(c), nil
}

func (s *MemoryStore) Rotate(_ context.Context, userID string, tier plan.Tier, apiKey string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPair[userTier{userID, tier}]
	if !ok {
		return nil, ErrNotFound
	}
	c := s.rows[id]
	if err := s.setKey(c, apiKey); err != nil {
		return nil, err
	}
	return clone(c), nil
}

func (s *MemoryStore) RotateByID(_ context.Context, userID string, id uuid.UUID, apiKey string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.rows[id]
	if !ok || c.UserID != userID {
		return nil, ErrNotFound
	}
	if err := s.setKey(c, apiKey); err != nil {
		return nil, err
	}
	return clone(c), nil
}

func (s *MemoryStore) SetActive(_ context.Context, userID string, id uuid.UUID, active bool) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.rows[id]
	if !ok || c.UserID != userID {
		return nil, ErrNotFound
	}
	c.IsActive = active
	c.UpdatedAt = s.now()
	return clone(c), nil
}

func (s *MemoryStore) SetActiveByTier(_ context.Context, userID string, tier plan.Tier, active bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPair[userTier{userID, tier}]
	if !ok {
		return false, nil
	}
	c := s.rows[id]
	c.IsActive = active
	c.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) DeactivateTiers(_ context.Context, userID string, tiers []plan.Tier) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, t := range tiers {
		id, ok := s.byPair[userTier{userID, t}]
		if !ok || !s.rows[id].IsActive {
			continue
		}
		s.rows[id].IsActive = false
		s.rows[id].UpdatedAt = s.now()
		n++
	}
	return n, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Credential
	for _, c := range s.rows {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	slices.SortFunc(out, func(a, b Credential) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetByKey(_ context.Context, apiKey string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[apiKey]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s.rows[id]), nil
}

func (s *MemoryStore) ListUserIDs(_ context.Context, tiers []plan.Tier) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, c := range s.rows {
		if c.IsActive && slices.Contains(tiers, c.Tier) && !slices.Contains(out, c.UserID) {
			out = append(out, c.UserID)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *MemoryStore) DeleteAllForUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, c := range s.rows {
		if c.UserID != userID {
			continue
		}
		delete(s.rows, id)
		delete(s.byPair, userTier{c.UserID, c.Tier})
		delete(s.byKey, c.APIKey)
		n++
	}
	return n, nil
}

// setKey must be called with the write lock held.
func (s *MemoryStore) setKey(c *Credential, apiKey string) error {
	if owner, taken := s.byKey[apiKey]; taken && owner != c.ID {
		return ErrKeyCollision
	}
	delete(s.byKey, c.APIKey)
	c.APIKey = apiKey
	c.UpdatedAt = s.now()
	s.byKey[apiKey] = c.ID
	return nil
}

func clone(c *Credential) *Credential {
	cp := *c
	return &cp
}
