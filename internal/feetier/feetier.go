// Package feetier resolves a listing price to its fee configuration.
//
// Tiers are admin-managed, non-overlapping price bands. Each band carries
// a fixed posting fee plus deposit and commission rates. Exactly one tier
// applies to any given price; overlap is rejected when a tier is written,
// never silently resolved at lookup time.
package feetier

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/voltmarket/voltmarket/internal/idgen"
	"github.com/voltmarket/voltmarket/internal/vnd"
)

var (
	ErrFeeTierNotFound = errors.New("no fee tier matches this price")
	ErrFeeTierOverlap  = errors.New("fee tier overlaps an existing tier")
	ErrInvalidTier     = errors.New("invalid fee tier")
)

// FeeTier is one price band. MaxPrice == "" means unbounded above.
type FeeTier struct {
	ID             string    `json:"id"`
	MinPrice       string    `json:"minPrice"`
	MaxPrice       string    `json:"maxPrice,omitempty"`
	PostingFee     string    `json:"postingFee"`
	DepositRate    string    `json:"depositRate"`
	CommissionRate string    `json:"commissionRate"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Contains reports whether price falls inside this tier's band.
func (t *FeeTier) Contains(price *big.Int) bool {
	min, ok := vnd.Parse(t.MinPrice)
	if !ok {
		return false
	}
	if price.Cmp(min) < 0 {
		return false
	}
	if t.MaxPrice == "" {
		return true
	}
	max, ok := vnd.Parse(t.MaxPrice)
	if !ok {
		return false
	}
	return price.Cmp(max) <= 0
}

// overlaps reports whether two bands share any price point.
func (t *FeeTier) overlaps(other *FeeTier) bool {
	tMin, _ := vnd.Parse(t.MinPrice)
	oMin, _ := vnd.Parse(other.MinPrice)

	// t starts above other's end?
	if other.MaxPrice != "" {
		oMax, _ := vnd.Parse(other.MaxPrice)
		if tMin.Cmp(oMax) > 0 {
			return false
		}
	}
	// other starts above t's end?
	if t.MaxPrice != "" {
		tMax, _ := vnd.Parse(t.MaxPrice)
		if oMin.Cmp(tMax) > 0 {
			return false
		}
	}
	return true
}

// Store persists fee tiers.
type Store interface {
	Create(ctx context.Context, tier *FeeTier) error
	Get(ctx context.Context, id string) (*FeeTier, error)
	Update(ctx context.Context, tier *FeeTier) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*FeeTier, error)
}

// Resolver implements fee tier lookup and admin maintenance.
type Resolver struct {
	store Store
}

// NewResolver creates a new fee tier resolver.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the single tier whose band contains price.
func (r *Resolver) Resolve(ctx context.Context, price string) (*FeeTier, error) {
	p, ok := vnd.Parse(price)
	if !ok || p.Sign() < 0 {
		return nil, ErrInvalidTier
	}

	tiers, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tiers {
		if t.Contains(p) {
			return t, nil
		}
	}
	return nil, ErrFeeTierNotFound
}

// Create validates and persists a new tier. Overlap with any existing tier
// is a data-integrity violation rejected here, at write time.
func (r *Resolver) Create(ctx context.Context, tier *FeeTier) (*FeeTier, error) {
	if err := r.validate(ctx, tier, ""); err != nil {
		return nil, err
	}

	tier.ID = idgen.WithPrefix("ft_")
	now := time.Now()
	tier.CreatedAt = now
	tier.UpdatedAt = now
	if err := r.store.Create(ctx, tier); err != nil {
		return nil, err
	}
	return tier, nil
}

// Update validates and persists changes to an existing tier.
func (r *Resolver) Update(ctx context.Context, tier *FeeTier) (*FeeTier, error) {
	existing, err := r.store.Get(ctx, tier.ID)
	if err != nil {
		return nil, err
	}
	if err := r.validate(ctx, tier, tier.ID); err != nil {
		return nil, err
	}

	tier.CreatedAt = existing.CreatedAt
	tier.UpdatedAt = time.Now()
	if err := r.store.Update(ctx, tier); err != nil {
		return nil, err
	}
	return tier, nil
}

// Delete removes a tier.
func (r *Resolver) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, id)
}

// Get returns a tier by id.
func (r *Resolver) Get(ctx context.Context, id string) (*FeeTier, error) {
	return r.store.Get(ctx, id)
}

// List returns all tiers.
func (r *Resolver) List(ctx context.Context) ([]*FeeTier, error) {
	return r.store.List(ctx)
}

// validate rejects malformed bands and overlap against all other tiers.
// excludeID skips the tier being updated.
func (r *Resolver) validate(ctx context.Context, tier *FeeTier, excludeID string) error {
	min, ok := vnd.Parse(tier.MinPrice)
	if !ok || min.Sign() < 0 {
		return ErrInvalidTier
	}
	if tier.MaxPrice != "" {
		max, ok := vnd.Parse(tier.MaxPrice)
		if !ok || max.Cmp(min) < 0 {
			return ErrInvalidTier
		}
	}
	if _, ok := vnd.Parse(tier.PostingFee); !ok {
		return ErrInvalidTier
	}
	if !validRate(tier.DepositRate) || !validRate(tier.CommissionRate) {
		return ErrInvalidTier
	}

	existing, err := r.store.List(ctx)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.ID == excludeID {
			continue
		}
		if tier.overlaps(e) {
			return ErrFeeTierOverlap
		}
	}
	return nil
}

// validRate accepts decimal rates in [0, 1].
func validRate(rate string) bool {
	out, ok := vnd.ApplyRate("100", rate)
	if !ok {
		return false
	}
	v, _ := vnd.Parse(out)
	hundred, _ := vnd.Parse("100")
	return v.Sign() >= 0 && v.Cmp(hundred) <= 0
}
