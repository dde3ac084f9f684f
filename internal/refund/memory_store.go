package refund

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	cases map[string]*Case
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cases: make(map[string]*Case)}
}

func (s *MemoryStore) Create(ctx context.Context, c *Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.cases[c.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, ErrCaseNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, c *Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[c.ID]; !ok {
		return ErrCaseNotFound
	}
	cp := *c
	s.cases[c.ID] = &cp
	return nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*Case
	for _, c := range s.cases {
		if c.Status == status {
			cp := *c
			all = append(all, &cp)
		}
	}
	// Oldest first: the admin queue drains in arrival order.
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}
