package payment

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	topups map[string]*Topup // keyed by order code
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{topups: make(map[string]*Topup)}
}

func (s *MemoryStore) Create(ctx context.Context, t *Topup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.topups[t.OrderCode] = &cp
	return nil
}

func (s *MemoryStore) GetByCode(ctx context.Context, orderCode string) (*Topup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.topups[orderCode]
	if !ok {
		return nil, ErrTopupNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, t *Topup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topups[t.OrderCode]; !ok {
		return ErrTopupNotFound
	}
	cp := *t
	s.topups[t.OrderCode] = &cp
	return nil
}

func (s *MemoryStore) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*Topup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*Topup
	for _, t := range s.topups {
		if t.OwnerID == ownerID {
			cp := *t
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
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
