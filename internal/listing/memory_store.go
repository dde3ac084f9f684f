package listing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/voltmarket/voltmarket/internal/pagination"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	listings map[string]*Listing
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{listings: make(map[string]*Listing)}
}

func (s *MemoryStore) Create(ctx context.Context, l *Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.listings[l.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listings[id]
	if !ok {
		return nil, ErrListingNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, l *Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listings[l.ID]; !ok {
		return ErrListingNotFound
	}
	cp := *l
	s.listings[l.ID] = &cp
	return nil
}

func (s *MemoryStore) ListBySeller(ctx context.Context, sellerID string) ([]*Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Listing
	for _, l := range s.listings {
		if l.SellerID == sellerID {
			cp := *l
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status Status, before *pagination.Cursor, limit int) ([]*Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*Listing
	for _, l := range s.listings {
		if l.Status != status {
			continue
		}
		if before != nil && !olderThan(l, before) {
			continue
		}
		cp := *l
		all = append(all, &cp)
	}
	sortNewestFirst(all)
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// olderThan reports whether l sorts after the cursor position in the
// newest-first ordering used by sortNewestFirst.
func olderThan(l *Listing, c *pagination.Cursor) bool {
	if l.CreatedAt.Equal(c.CreatedAt) {
		return l.ID < c.ID
	}
	return l.CreatedAt.Before(c.CreatedAt)
}

// Lock succeeds only when the listing is published and unheld. The check
// and write happen under one mutex hold, mirroring the conditional UPDATE
// the Postgres store uses.
func (s *MemoryStore) Lock(ctx context.Context, listingID, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[listingID]
	if !ok {
		return ErrListingNotFound
	}
	if l.Status != StatusPublished {
		return ErrInvalidListingState
	}
	if l.LockedByOrderID != "" && l.LockedByOrderID != orderID {
		return ErrListingLocked
	}
	l.LockedByOrderID = orderID
	l.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Unlock(ctx context.Context, listingID, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[listingID]
	if !ok {
		return ErrListingNotFound
	}
	if l.LockedByOrderID != orderID {
		return ErrListingLocked
	}
	l.LockedByOrderID = ""
	l.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) MarkSold(ctx context.Context, listingID, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[listingID]
	if !ok {
		return ErrListingNotFound
	}
	if l.LockedByOrderID != orderID {
		return ErrListingLocked
	}
	l.Status = StatusSold
	l.LockedByOrderID = ""
	l.UpdatedAt = time.Now()
	return nil
}

func sortNewestFirst(ls []*Listing) {
	sort.Slice(ls, func(i, j int) bool {
		if ls[i].CreatedAt.Equal(ls[j].CreatedAt) {
			return ls[i].ID > ls[j].ID
		}
		return ls[i].CreatedAt.After(ls[j].CreatedAt)
	})
}
