package contract

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	contracts map[string]*Contract
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{contracts: make(map[string]*Contract)}
}

func (s *MemoryStore) Create(ctx context.Context, c *Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.contracts[c.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contracts[id]
	if !ok {
		return nil, ErrContractNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, c *Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contracts[c.ID]; !ok {
		return ErrContractNotFound
	}
	cp := *c
	s.contracts[c.ID] = &cp
	return nil
}

func (s *MemoryStore) FindActive(ctx context.Context, listingID, buyerID string) (*Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.contracts {
		if c.ListingID == listingID && c.BuyerID == buyerID && !c.Status.Terminal() {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrContractNotFound
}

func (s *MemoryStore) ListByParty(ctx context.Context, accountID string, limit, offset int) ([]*Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*Contract
	for _, c := range s.contracts {
		if c.BuyerID == accountID || c.SellerID == accountID {
			cp := *c
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
