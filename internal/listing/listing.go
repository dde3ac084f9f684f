// Package listing manages the sale items orders run against.
//
// A listing is published by its seller after paying the tier posting fee,
// then locked by exactly one in-flight order at a time. Lock ownership is
// tracked by order id so only the locking order can release or finalize it.
package listing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/voltmarket/voltmarket/internal/idgen"
	"github.com/voltmarket/voltmarket/internal/pagination"
	"github.com/voltmarket/voltmarket/internal/vnd"
)

var (
	ErrListingNotFound     = errors.New("listing not found")
	ErrListingLocked       = errors.New("listing is locked by another order")
	ErrNotSeller           = errors.New("caller does not own this listing")
	ErrInvalidListingState = errors.New("listing state does not allow this operation")
	ErrInvalidPrice        = errors.New("invalid listing price")
	ErrInvalidCursor       = errors.New("invalid pagination cursor")
)

// Status is the listing lifecycle state.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPublished Status = "PUBLISHED"
	StatusSold      Status = "SOLD"
	StatusArchived  Status = "ARCHIVED"
)

// Listing is one item for sale.
type Listing struct {
	ID                 string    `json:"id"`
	SellerID           string    `json:"sellerId"`
	Title              string    `json:"title"`
	Description        string    `json:"description,omitempty"`
	Price              string    `json:"price"`
	BatteryCapacityKwh string    `json:"batteryCapacityKwh,omitempty"`
	Status             Status    `json:"status"`
	LockedByOrderID    string    `json:"lockedByOrderId,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Store persists listings. Lock, Unlock and MarkSold are conditional on the
// current lock holder so racing callers cannot both succeed.
type Store interface {
	Create(ctx context.Context, l *Listing) error
	Get(ctx context.Context, id string) (*Listing, error)
	Update(ctx context.Context, l *Listing) error
	ListBySeller(ctx context.Context, sellerID string) ([]*Listing, error)
	ListByStatus(ctx context.Context, status Status, before *pagination.Cursor, limit int) ([]*Listing, error)
	Lock(ctx context.Context, listingID, orderID string) error
	Unlock(ctx context.Context, listingID, orderID string) error
	MarkSold(ctx context.Context, listingID, orderID string) error
}

// PostingFees resolves and charges the publish fee. Implemented by an
// adapter over the fee tier resolver and the wallet ledger.
type PostingFees interface {
	PostingFee(ctx context.Context, price string) (string, error)
	ChargePostingFee(ctx context.Context, sellerID, amount, listingID string) error
	RefundPostingFee(ctx context.Context, sellerID, amount, listingID string) error
}

// Service implements listing operations.
type Service struct {
	store  Store
	fees   PostingFees
	logger *slog.Logger
}

// NewService creates a listing service.
func NewService(store Store, fees PostingFees, logger *slog.Logger) *Service {
	return &Service{store: store, fees: fees, logger: logger}
}

// Create records a new draft listing for sellerID.
func (s *Service) Create(ctx context.Context, sellerID, title, description, price, batteryKwh string) (*Listing, error) {
	if _, ok := vnd.ParsePositive(price); !ok {
		return nil, ErrInvalidPrice
	}
	if title == "" {
		return nil, errors.New("title is required")
	}

	now := time.Now()
	l := &Listing{
		ID:                 idgen.WithPrefix("lst_"),
		SellerID:           sellerID,
		Title:              title,
		Description:        description,
		Price:              price,
		BatteryCapacityKwh: batteryKwh,
		Status:             StatusDraft,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.Create(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// Publish charges the tier posting fee and makes the listing buyable.
// Only the owning seller may publish, and only from DRAFT.
func (s *Service) Publish(ctx context.Context, sellerID, listingID string) (*Listing, error) {
	l, err := s.store.Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.SellerID != sellerID {
		return nil, ErrNotSeller
	}
	if l.Status != StatusDraft {
		return nil, ErrInvalidListingState
	}

	fee, err := s.fees.PostingFee(ctx, l.Price)
	if err != nil {
		return nil, err
	}
	if err := s.fees.ChargePostingFee(ctx, sellerID, fee, l.ID); err != nil {
		return nil, err
	}

	l.Status = StatusPublished
	l.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, l); err != nil {
		// Fee already taken; give it back rather than leave the seller
		// charged for an unpublished listing.
		if refundErr := s.fees.RefundPostingFee(ctx, sellerID, fee, l.ID); refundErr != nil {
			s.logger.Error("CRITICAL: posting fee charged but publish failed and refund failed",
				"listing", l.ID, "seller", sellerID, "fee", fee,
				"publish_error", err, "refund_error", refundErr)
		}
		return nil, err
	}
	return l, nil
}

// Archive takes a listing off the market. Allowed from DRAFT or PUBLISHED
// while no order holds the lock.
func (s *Service) Archive(ctx context.Context, sellerID, listingID string) (*Listing, error) {
	l, err := s.store.Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.SellerID != sellerID {
		return nil, ErrNotSeller
	}
	if l.Status != StatusDraft && l.Status != StatusPublished {
		return nil, ErrInvalidListingState
	}
	if l.LockedByOrderID != "" {
		return nil, ErrListingLocked
	}

	l.Status = StatusArchived
	l.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// Get returns a listing by id.
func (s *Service) Get(ctx context.Context, id string) (*Listing, error) {
	return s.store.Get(ctx, id)
}

// ListBySeller returns all of a seller's listings.
func (s *Service) ListBySeller(ctx context.Context, sellerID string) ([]*Listing, error) {
	return s.store.ListBySeller(ctx, sellerID)
}

// ListPublished returns one page of buyable listings, newest first.
// cursor is the opaque position returned by a previous call, or "" for the
// first page. The returned cursor is "" on the last page.
func (s *Service) ListPublished(ctx context.Context, cursor string, limit int) ([]*Listing, string, bool, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	before, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", false, ErrInvalidCursor
	}

	// Fetch one extra row to learn whether another page exists.
	items, err := s.store.ListByStatus(ctx, StatusPublished, before, limit+1)
	if err != nil {
		return nil, "", false, err
	}
	page, next, more := pagination.ComputePage(items, limit, func(l *Listing) (time.Time, string) {
		return l.CreatedAt, l.ID
	})
	return page, next, more, nil
}

// Lock reserves the listing for orderID. Fails with ErrListingLocked if
// another order holds it or the listing is not published.
func (s *Service) Lock(ctx context.Context, listingID, orderID string) error {
	return s.store.Lock(ctx, listingID, orderID)
}

// Unlock releases the lock held by orderID.
func (s *Service) Unlock(ctx context.Context, listingID, orderID string) error {
	return s.store.Unlock(ctx, listingID, orderID)
}

// MarkSold finalizes a sale by the locking order and clears the lock.
func (s *Service) MarkSold(ctx context.Context, listingID, orderID string) error {
	return s.store.MarkSold(ctx, listingID, orderID)
}
