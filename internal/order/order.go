// Package order runs the buy-now purchase flow.
//
// State machine:
//
//	PENDING → WAITING_SELLER_CONFIRM → PROCESSING → COMPLETED
//	                  │                     │
//	                  └──── CANCELLED ──────┘ (seller reject / buyer cancel)
//	                        REFUNDED          (admin-approved refund)
//
// PENDING is transient: set at creation and advanced before the order is
// ever observable. Money moves through the wallet ledger: the full price is
// held at buy-now, then either released to the seller (minus commission) at
// completion or credited back to the buyer on any cancellation branch.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/voltmarket/voltmarket/internal/idgen"
	"github.com/voltmarket/voltmarket/internal/listing"
	"github.com/voltmarket/voltmarket/internal/metrics"
	"github.com/voltmarket/voltmarket/internal/syncutil"
	"github.com/voltmarket/voltmarket/internal/traces"
	"github.com/voltmarket/voltmarket/internal/vnd"
)

var (
	ErrOrderNotFound          = errors.New("order not found")
	ErrInvalidStateTransition = errors.New("order state does not permit this transition")
	ErrUnauthorized           = errors.New("caller is not a party to this order")
	ErrOwnListing             = errors.New("cannot buy your own listing")
)

// Status is the order lifecycle state.
type Status string

const (
	StatusPending              Status = "PENDING"
	StatusWaitingSellerConfirm Status = "WAITING_SELLER_CONFIRM"
	StatusProcessing           Status = "PROCESSING"
	StatusCompleted            Status = "COMPLETED"
	StatusCancelled            Status = "CANCELLED"
	StatusRefunded             Status = "REFUNDED"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRefunded
}

// Order is one buy-now purchase.
type Order struct {
	ID                  string     `json:"id"`
	Code                string     `json:"code"`
	BuyerID             string     `json:"buyerId"`
	SellerID            string     `json:"sellerId"`
	ListingID           string     `json:"listingId"`
	Amount              string     `json:"amount"`
	Status              Status     `json:"status"`
	CommissionRate      string     `json:"commissionRate"`
	CommissionFee       string     `json:"commissionFee,omitempty"`
	SellerReceiveAmount string     `json:"sellerReceiveAmount,omitempty"`
	ContractID          string     `json:"contractId,omitempty"`
	Note                string     `json:"note,omitempty"`
	ConfirmedAt         *time.Time `json:"confirmedAt,omitempty"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
	CancelledAt         *time.Time `json:"cancelledAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// Role scopes ListMine reads.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Store persists orders.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetByCode(ctx context.Context, code string) (*Order, error)
	Update(ctx context.Context, o *Order) error
	ListMine(ctx context.Context, accountID string, role Role, status Status, limit, offset int) ([]*Order, error)
	ActiveForListing(ctx context.Context, listingID string) (*Order, error)
}

// LedgerService is the slice of the wallet ledger the order flow needs.
// Implemented by an adapter in server wiring.
type LedgerService interface {
	HoldFunds(ctx context.Context, buyerID, amount, orderID string) error
	RefundHold(ctx context.Context, buyerID, amount, orderID string) error
	PaySeller(ctx context.Context, sellerID, amount, orderID string) error
	CollectCommission(ctx context.Context, amount, orderID string) error
	ReverseHold(ctx context.Context, buyerID, amount, orderID string) error
}

// ListingCatalog is the slice of the listing service the order flow needs.
type ListingCatalog interface {
	Get(ctx context.Context, id string) (*listing.Listing, error)
	Lock(ctx context.Context, listingID, orderID string) error
	Unlock(ctx context.Context, listingID, orderID string) error
	MarkSold(ctx context.Context, listingID, orderID string) error
}

// FeeSource resolves the commission rate applicable to a price.
type FeeSource interface {
	CommissionRate(ctx context.Context, price string) (string, error)
}

// ContractOpener opens a handover contract when the seller accepts.
// Optional collaborator.
type ContractOpener interface {
	OpenForOrder(ctx context.Context, orderID, listingID, buyerID, sellerID, feeRate string) (string, error)
}

// EventSink receives order lifecycle events for webhooks and the realtime
// feed. Optional collaborator.
type EventSink interface {
	Emit(ctx context.Context, accountID, event string, payload any)
}

// Service implements the order state machine.
type Service struct {
	store    Store
	ledger   LedgerService
	listings ListingCatalog
	fees     FeeSource
	locks    *syncutil.ContextShardedMutex
	logger   *slog.Logger

	contracts ContractOpener
	events    EventSink
}

// NewService creates an order service.
func NewService(store Store, ledger LedgerService, listings ListingCatalog, fees FeeSource, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		ledger:   ledger,
		listings: listings,
		fees:     fees,
		locks:    syncutil.NewContextShardedMutex(),
		logger:   logger,
	}
}

// WithContractOpener wires contract creation into seller acceptance.
func (s *Service) WithContractOpener(c ContractOpener) *Service {
	s.contracts = c
	return s
}

// WithEventSink wires lifecycle event emission.
func (s *Service) WithEventSink(e EventSink) *Service {
	s.events = e
	return s
}

// newOrderCode returns a human-readable unique code like OD-3F91A2C4.
func newOrderCode() string {
	return "OD-" + strings.ToUpper(idgen.Hex(4))
}

// BuyNow places an escrow hold for the full listing price and creates the
// order. The listing is locked for the order's lifetime.
func (s *Service) BuyNow(ctx context.Context, buyerID, listingID string) (*Order, error) {
	ctx, span := traces.StartSpan(ctx, "order.BuyNow",
		traces.AccountID(buyerID), traces.ListingID(listingID))
	defer span.End()

	// Serialize racing buy-now calls on the same listing; the store-level
	// conditional lock is the backstop for multi-process deployments.
	unlock, err := s.locks.LockContext(ctx, "listing:"+listingID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	l, err := s.listings.Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.Status != listing.StatusPublished {
		return nil, listing.ErrInvalidListingState
	}
	if l.SellerID == buyerID {
		return nil, ErrOwnListing
	}

	// Resolved now so the rate in force at purchase time is the one applied
	// at completion, even if the tier table changes in between.
	rate, err := s.fees.CommissionRate(ctx, l.Price)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	o := &Order{
		ID:             idgen.WithPrefix("ord_"),
		Code:           newOrderCode(),
		BuyerID:        buyerID,
		SellerID:       l.SellerID,
		ListingID:      l.ID,
		Amount:         l.Price,
		Status:         StatusPending,
		CommissionRate: rate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.listings.Lock(ctx, l.ID, o.ID); err != nil {
		return nil, err
	}

	if err := s.ledger.HoldFunds(ctx, buyerID, o.Amount, o.ID); err != nil {
		if unlockErr := s.listings.Unlock(ctx, l.ID, o.ID); unlockErr != nil {
			s.logger.Error("failed to release listing lock after hold failure",
				"listing", l.ID, "order", o.ID, "error", unlockErr)
		}
		return nil, err
	}

	o.Status = StatusWaitingSellerConfirm
	if err := s.store.Create(ctx, o); err != nil {
		// Funds already held; give them back before surfacing the failure.
		if refundErr := s.ledger.ReverseHold(ctx, buyerID, o.Amount, o.ID); refundErr != nil {
			s.logger.Error("CRITICAL: hold taken but order creation and reversal both failed",
				"order", o.ID, "buyer", buyerID, "amount", o.Amount,
				"create_error", err, "reversal_error", refundErr)
		}
		if unlockErr := s.listings.Unlock(ctx, l.ID, o.ID); unlockErr != nil {
			s.logger.Error("failed to release listing lock after create failure",
				"listing", l.ID, "order", o.ID, "error", unlockErr)
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.emit(ctx, o, "order.created")
	return o, nil
}

// ConfirmAction is the seller's response to a waiting order.
type ConfirmAction string

const (
	ActionAccept ConfirmAction = "ACCEPT"
	ActionReject ConfirmAction = "REJECT"
)

// SellerConfirm accepts or rejects a waiting order. Accepting moves the
// order to PROCESSING and opens the handover contract. Rejecting refunds
// the hold and releases the listing.
func (s *Service) SellerConfirm(ctx context.Context, sellerID, orderID string, action ConfirmAction) (*Order, error) {
	unlock, err := s.locks.LockContext(ctx, "order:"+orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.SellerID != sellerID {
		return nil, ErrUnauthorized
	}
	if o.Status != StatusWaitingSellerConfirm {
		return nil, ErrInvalidStateTransition
	}

	switch action {
	case ActionAccept:
		return s.accept(ctx, o)
	case ActionReject:
		return s.reject(ctx, o)
	default:
		return nil, fmt.Errorf("unknown confirm action %q", action)
	}
}

func (s *Service) accept(ctx context.Context, o *Order) (*Order, error) {
	now := time.Now()
	o.Status = StatusProcessing
	o.ConfirmedAt = &now
	o.UpdatedAt = now

	if s.contracts != nil {
		contractID, err := s.contracts.OpenForOrder(ctx, o.ID, o.ListingID, o.BuyerID, o.SellerID, o.CommissionRate)
		if err != nil {
			return nil, fmt.Errorf("open contract: %w", err)
		}
		o.ContractID = contractID
	}

	if err := s.store.Update(ctx, o); err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	s.emit(ctx, o, "order.accepted")
	return o, nil
}

func (s *Service) reject(ctx context.Context, o *Order) (*Order, error) {
	if err := s.ledger.RefundHold(ctx, o.BuyerID, o.Amount, o.ID); err != nil {
		return nil, err
	}

	now := time.Now()
	o.Status = StatusCancelled
	o.CancelledAt = &now
	o.UpdatedAt = now
	o.Note = "rejected by seller"
	if err := s.store.Update(ctx, o); err != nil {
		s.logger.Error("CRITICAL: refund credited but order state not persisted",
			"order", o.ID, "buyer", o.BuyerID, "amount", o.Amount, "error", err)
		return nil, fmt.Errorf("update order: %w", err)
	}

	if err := s.listings.Unlock(ctx, o.ListingID, o.ID); err != nil {
		s.logger.Error("failed to release listing lock on reject",
			"listing", o.ListingID, "order", o.ID, "error", err)
	}

	s.emit(ctx, o, "order.cancelled")
	return o, nil
}

// Complete finalizes a processing order: the escrow hold is split into
// seller revenue and platform commission, and the listing is marked sold.
// Buyer-only.
func (s *Service) Complete(ctx context.Context, buyerID, orderID string) (*Order, error) {
	unlock, err := s.locks.LockContext(ctx, "order:"+orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != buyerID {
		return nil, ErrUnauthorized
	}
	if o.Status != StatusProcessing {
		return nil, ErrInvalidStateTransition
	}

	return s.settle(ctx, o, "order.completed")
}

// settle runs the completion accounting on a held order: seller gets
// amount − commission, the platform gets the commission. Shared with the
// refund adjudicator's reject path.
func (s *Service) settle(ctx context.Context, o *Order, event string) (*Order, error) {
	ctx, span := traces.StartSpan(ctx, "order.settle",
		traces.OrderID(o.ID), traces.Amount(o.Amount))
	defer span.End()

	commission, ok := vnd.ApplyRate(o.Amount, o.CommissionRate)
	if !ok {
		return nil, fmt.Errorf("unusable commission rate %q on order %s", o.CommissionRate, o.ID)
	}
	amt, _ := vnd.Parse(o.Amount)
	comm, _ := vnd.Parse(commission)
	sellerReceive := vnd.Format(amt.Sub(amt, comm))

	if err := s.ledger.PaySeller(ctx, o.SellerID, sellerReceive, o.ID); err != nil {
		return nil, err
	}
	if comm.Sign() > 0 {
		if err := s.ledger.CollectCommission(ctx, commission, o.ID); err != nil {
			// Seller already paid; the hold is short the commission until
			// an operator reconciles. Loud, not silent.
			s.logger.Error("CRITICAL: seller paid but platform commission credit failed",
				"order", o.ID, "commission", commission, "error", err)
			return nil, err
		}
	}

	now := time.Now()
	o.Status = StatusCompleted
	o.CommissionFee = commission
	o.SellerReceiveAmount = sellerReceive
	o.CompletedAt = &now
	o.UpdatedAt = now
	if err := s.store.Update(ctx, o); err != nil {
		s.logger.Error("CRITICAL: settlement credited but order state not persisted",
			"order", o.ID, "error", err)
		return nil, fmt.Errorf("update order: %w", err)
	}

	if err := s.listings.MarkSold(ctx, o.ListingID, o.ID); err != nil {
		s.logger.Error("failed to mark listing sold", "listing", o.ListingID, "order", o.ID, "error", err)
	}

	s.emit(ctx, o, event)
	return o, nil
}

// Cancel aborts a non-terminal order at the buyer's request. The hold is
// credited back in full.
func (s *Service) Cancel(ctx context.Context, buyerID, orderID, note string) (*Order, error) {
	unlock, err := s.locks.LockContext(ctx, "order:"+orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != buyerID {
		return nil, ErrUnauthorized
	}
	if o.Status != StatusWaitingSellerConfirm && o.Status != StatusProcessing {
		return nil, ErrInvalidStateTransition
	}

	if err := s.ledger.RefundHold(ctx, o.BuyerID, o.Amount, o.ID); err != nil {
		return nil, err
	}

	now := time.Now()
	o.Status = StatusCancelled
	o.CancelledAt = &now
	o.UpdatedAt = now
	o.Note = note
	if err := s.store.Update(ctx, o); err != nil {
		s.logger.Error("CRITICAL: refund credited but order state not persisted",
			"order", o.ID, "buyer", o.BuyerID, "amount", o.Amount, "error", err)
		return nil, fmt.Errorf("update order: %w", err)
	}

	if err := s.listings.Unlock(ctx, o.ListingID, o.ID); err != nil {
		s.logger.Error("failed to release listing lock on cancel",
			"listing", o.ListingID, "order", o.ID, "error", err)
	}

	s.emit(ctx, o, "order.cancelled")
	return o, nil
}

// Refund terminates the order after an admin-approved refund: the buyer is
// credited the hold and the order ends REFUNDED, never COMPLETED. Called by
// the refund adjudicator only.
func (s *Service) Refund(ctx context.Context, orderID string) (*Order, error) {
	unlock, err := s.locks.LockContext(ctx, "order:"+orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return nil, ErrInvalidStateTransition
	}

	if err := s.ledger.RefundHold(ctx, o.BuyerID, o.Amount, o.ID); err != nil {
		return nil, err
	}

	now := time.Now()
	o.Status = StatusRefunded
	o.CancelledAt = &now
	o.UpdatedAt = now
	if err := s.store.Update(ctx, o); err != nil {
		s.logger.Error("CRITICAL: refund credited but order state not persisted",
			"order", o.ID, "error", err)
		return nil, fmt.Errorf("update order: %w", err)
	}

	if err := s.listings.Unlock(ctx, o.ListingID, o.ID); err != nil {
		s.logger.Error("failed to release listing lock on refund",
			"listing", o.ListingID, "order", o.ID, "error", err)
	}

	s.emit(ctx, o, "order.refunded")
	return o, nil
}

// Settle releases a held order through the normal completion accounting.
// Used by the refund adjudicator when a refund request is rejected.
func (s *Service) Settle(ctx context.Context, orderID string) (*Order, error) {
	unlock, err := s.locks.LockContext(ctx, "order:"+orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return nil, ErrInvalidStateTransition
	}
	return s.settle(ctx, o, "order.completed")
}

// Forfeit moves the entire hold to the platform. Used by the refund
// adjudicator when contract evidence shows abuse.
func (s *Service) Forfeit(ctx context.Context, orderID string) (*Order, error) {
	unlock, err := s.locks.LockContext(ctx, "order:"+orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return nil, ErrInvalidStateTransition
	}

	if err := s.ledger.CollectCommission(ctx, o.Amount, o.ID); err != nil {
		return nil, err
	}

	now := time.Now()
	forfeited, _ := vnd.Parse(o.Amount)
	o.Status = StatusCompleted
	o.CommissionFee = vnd.Format(forfeited)
	o.SellerReceiveAmount = "0.00"
	o.CompletedAt = &now
	o.UpdatedAt = now
	if err := s.store.Update(ctx, o); err != nil {
		s.logger.Error("CRITICAL: forfeiture credited but order state not persisted",
			"order", o.ID, "error", err)
		return nil, fmt.Errorf("update order: %w", err)
	}

	if err := s.listings.Unlock(ctx, o.ListingID, o.ID); err != nil {
		s.logger.Error("failed to release listing lock on forfeit",
			"listing", o.ListingID, "order", o.ID, "error", err)
	}

	s.emit(ctx, o, "order.completed")
	return o, nil
}

// GetByID returns an order visible to one of its parties.
func (s *Service) GetByID(ctx context.Context, accountID, orderID string, isAdmin bool) (*Order, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && o.BuyerID != accountID && o.SellerID != accountID {
		return nil, ErrUnauthorized
	}
	return o, nil
}

// GetByCode returns an order by its human-readable code.
func (s *Service) GetByCode(ctx context.Context, accountID, code string, isAdmin bool) (*Order, error) {
	o, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !isAdmin && o.BuyerID != accountID && o.SellerID != accountID {
		return nil, ErrUnauthorized
	}
	return o, nil
}

// ListMine returns the caller's orders in the given role, optionally
// filtered by status.
func (s *Service) ListMine(ctx context.Context, accountID string, role Role, status Status, limit, offset int) ([]*Order, error) {
	if role != RoleBuyer && role != RoleSeller {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListMine(ctx, accountID, role, status, limit, offset)
}

func (s *Service) emit(ctx context.Context, o *Order, event string) {
	metrics.OrderEventsTotal.WithLabelValues(event).Inc()
	if s.events == nil {
		return
	}
	s.events.Emit(ctx, o.BuyerID, event, o)
	s.events.Emit(ctx, o.SellerID, event, o)
}
