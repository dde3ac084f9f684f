package feetier

import (
	"context"
	"sort"
	"sync"

	"github.com/voltmarket/voltmarket/internal/vnd"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	tiers map[string]*FeeTier
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tiers: make(map[string]*FeeTier)}
}

func (s *MemoryStore) Create(ctx context.Context, tier *FeeTier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tier
	s.tiers[tier.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*FeeTier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tiers[id]
	if !ok {
		return nil, ErrFeeTierNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, tier *FeeTier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tiers[tier.ID]; !ok {
		return ErrFeeTierNotFound
	}
	cp := *tier
	s.tiers[tier.ID] = &cp
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tiers[id]; !ok {
		return ErrFeeTierNotFound
	}
	delete(s.tiers, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*FeeTier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*FeeTier, 0, len(s.tiers))
	for _, t := range s.tiers {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		a, aok := vnd.Parse(out[i].MinPrice)
		b, bok := vnd.Parse(out[j].MinPrice)
		if !aok || !bok {
			return out[i].ID < out[j].ID
		}
		return a.Cmp(b) < 0
	})
	return out, nil
}
