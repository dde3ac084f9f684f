package order

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*Order
	byCode map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*Order),
		byCode: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[o.ID] = &cp
	s.byCode[o.Code] = o.ID
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) GetByCode(ctx context.Context, code string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[code]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *s.orders[id]
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; !ok {
		return ErrOrderNotFound
	}
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) ListMine(ctx context.Context, accountID string, role Role, status Status, limit, offset int) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*Order
	for _, o := range s.orders {
		var mine bool
		switch role {
		case RoleBuyer:
			mine = o.BuyerID == accountID
		case RoleSeller:
			mine = o.SellerID == accountID
		}
		if !mine {
			continue
		}
		if status != "" && o.Status != status {
			continue
		}
		cp := *o
		all = append(all, &cp)
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

func (s *MemoryStore) ActiveForListing(ctx context.Context, listingID string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.ListingID == listingID && !o.Status.Terminal() {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrOrderNotFound
}
