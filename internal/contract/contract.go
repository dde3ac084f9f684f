// Package contract records the handover agreement behind a sale.
//
// A contract is opened when the seller accepts an order, or declared
// directly by the seller for an out-of-band deal. Both parties confirm
// receipt independently; once both have confirmed the contract is SUCCESS.
// Before that point the seller can forfeit to an external sale, or either
// party can dispute, which freezes the contract in PENDING_REFUND until an
// admin decides the attached refund case.
//
// The listing is snapshotted into the contract at open time and hashed, so
// later listing edits cannot change the dispute evidence.
package contract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voltmarket/voltmarket/internal/idgen"
	"github.com/voltmarket/voltmarket/internal/listing"
	"github.com/voltmarket/voltmarket/internal/metrics"
	"github.com/voltmarket/voltmarket/internal/syncutil"
)

var (
	ErrContractNotFound     = errors.New("contract not found")
	ErrInvalidContractState = errors.New("contract state does not permit this transition")
	ErrNotParty             = errors.New("caller is not a party to this contract")
	ErrContractExists       = errors.New("an open contract already exists for this listing and buyer")
)

// Status is the contract lifecycle state.
type Status string

const (
	StatusAwaitingConfirmation Status = "AWAITING_CONFIRMATION"
	StatusSuccess              Status = "SUCCESS"
	StatusForfeitedExternal    Status = "FORFEITED_EXTERNAL"
	StatusPendingRefund        Status = "PENDING_REFUND"
	StatusRefunded             Status = "REFUNDED"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusForfeitedExternal || s == StatusRefunded
}

// Contract is one handover agreement.
type Contract struct {
	ID                    string     `json:"id"`
	ListingID             string     `json:"listingId"`
	OrderID               string     `json:"orderId,omitempty"`
	BuyerID               string     `json:"buyerId"`
	SellerID              string     `json:"sellerId"`
	Status                Status     `json:"status"`
	IsExternalTransaction bool       `json:"isExternalTransaction"`
	FeeRate               string     `json:"feeRate,omitempty"`
	ListingSnapshot       string     `json:"listingSnapshot"`
	Hash                  string     `json:"hash"`
	RefundCaseID          string     `json:"refundCaseId,omitempty"`
	BuyerConfirmedAt      *time.Time `json:"buyerConfirmedAt,omitempty"`
	SellerConfirmedAt     *time.Time `json:"sellerConfirmedAt,omitempty"`
	ConfirmedAt           *time.Time `json:"confirmedAt,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// Store persists contracts.
type Store interface {
	Create(ctx context.Context, c *Contract) error
	Get(ctx context.Context, id string) (*Contract, error)
	Update(ctx context.Context, c *Contract) error
	FindActive(ctx context.Context, listingID, buyerID string) (*Contract, error)
	ListByParty(ctx context.Context, accountID string, limit, offset int) ([]*Contract, error)
}

// ListingSource reads listings for snapshotting and ownership checks.
type ListingSource interface {
	Get(ctx context.Context, id string) (*listing.Listing, error)
}

// CaseOpener opens a refund case when a contract is disputed. Optional
// collaborator, implemented by the refund adjudicator.
type CaseOpener interface {
	OpenForContract(ctx context.Context, contractID, orderID, raisedBy, reason string) (string, error)
}

// EventSink receives contract lifecycle events. Optional collaborator.
type EventSink interface {
	Emit(ctx context.Context, accountID, event string, payload any)
}

// Service implements the contract state machine.
type Service struct {
	store    Store
	listings ListingSource
	locks    *syncutil.ContextShardedMutex
	logger   *slog.Logger

	cases  CaseOpener
	events EventSink
}

// NewService creates a contract service.
func NewService(store Store, listings ListingSource, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		listings: listings,
		locks:    syncutil.NewContextShardedMutex(),
		logger:   logger,
	}
}

// WithCaseOpener wires refund case creation into disputes.
func (s *Service) WithCaseOpener(c CaseOpener) *Service {
	s.cases = c
	return s
}

// WithEventSink wires lifecycle event emission.
func (s *Service) WithEventSink(e EventSink) *Service {
	s.events = e
	return s
}

// snapshot freezes the listing into evidence: canonical JSON plus its
// SHA-256 so tampering is detectable.
func snapshot(l *listing.Listing) (string, string, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return "", "", fmt.Errorf("snapshot listing %s: %w", l.ID, err)
	}
	sum := sha256.Sum256(data)
	return string(data), hex.EncodeToString(sum[:]), nil
}

func (s *Service) open(ctx context.Context, listingID, buyerID, sellerID, orderID, feeRate string, isExternal bool) (*Contract, error) {
	l, err := s.listings.Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.SellerID != sellerID {
		return nil, ErrNotParty
	}
	if buyerID == sellerID {
		return nil, fmt.Errorf("buyer and seller are the same account %s", buyerID)
	}

	if existing, err := s.store.FindActive(ctx, listingID, buyerID); err == nil && existing != nil {
		return nil, ErrContractExists
	}

	snap, hash, err := snapshot(l)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	c := &Contract{
		ID:                    idgen.WithPrefix("ct_"),
		ListingID:             listingID,
		OrderID:               orderID,
		BuyerID:               buyerID,
		SellerID:              sellerID,
		Status:                StatusAwaitingConfirmation,
		IsExternalTransaction: isExternal,
		FeeRate:               feeRate,
		ListingSnapshot:       snap,
		Hash:                  hash,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create contract: %w", err)
	}

	s.emit(ctx, c, "contract.opened")
	return c, nil
}

// OpenForOrder opens the handover contract when a seller accepts an order.
func (s *Service) OpenForOrder(ctx context.Context, orderID, listingID, buyerID, sellerID, feeRate string) (string, error) {
	c, err := s.open(ctx, listingID, buyerID, sellerID, orderID, feeRate, false)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// CreateBySeller declares a deal with a specific buyer, in-platform or
// external, without an order behind it.
func (s *Service) CreateBySeller(ctx context.Context, sellerID, listingID, buyerID string, isExternal bool) (*Contract, error) {
	return s.open(ctx, listingID, buyerID, sellerID, "", "", isExternal)
}

// ConfirmByBuyer records the buyer's receipt confirmation.
func (s *Service) ConfirmByBuyer(ctx context.Context, buyerID, contractID string) (*Contract, error) {
	return s.confirm(ctx, contractID, buyerID, true)
}

// ConfirmBySeller records the seller's handover confirmation.
func (s *Service) ConfirmBySeller(ctx context.Context, sellerID, contractID string) (*Contract, error) {
	return s.confirm(ctx, contractID, sellerID, false)
}

func (s *Service) confirm(ctx context.Context, contractID, accountID string, asBuyer bool) (*Contract, error) {
	unlock, err := s.locks.LockContext(ctx, contractID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := s.store.Get(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if asBuyer && c.BuyerID != accountID {
		return nil, ErrNotParty
	}
	if !asBuyer && c.SellerID != accountID {
		return nil, ErrNotParty
	}

	// Confirming an already successful contract is harmless.
	if c.Status == StatusSuccess {
		return c, nil
	}
	if c.Status != StatusAwaitingConfirmation {
		return nil, ErrInvalidContractState
	}

	now := time.Now()
	if asBuyer {
		if c.BuyerConfirmedAt == nil {
			c.BuyerConfirmedAt = &now
		}
	} else {
		if c.SellerConfirmedAt == nil {
			c.SellerConfirmedAt = &now
		}
	}
	if c.BuyerConfirmedAt != nil && c.SellerConfirmedAt != nil {
		c.Status = StatusSuccess
		c.ConfirmedAt = &now
	}
	c.UpdatedAt = now

	if err := s.store.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("update contract: %w", err)
	}

	if c.Status == StatusSuccess {
		s.emit(ctx, c, "contract.confirmed")
	}
	return c, nil
}

// ForfeitExternal declares the deal was completed outside the platform.
// Seller-only, and only before any confirmation resolves the contract.
func (s *Service) ForfeitExternal(ctx context.Context, sellerID, contractID string) (*Contract, error) {
	unlock, err := s.locks.LockContext(ctx, contractID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := s.store.Get(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if c.SellerID != sellerID {
		return nil, ErrNotParty
	}
	if c.Status != StatusAwaitingConfirmation {
		return nil, ErrInvalidContractState
	}

	now := time.Now()
	c.Status = StatusForfeitedExternal
	c.IsExternalTransaction = true
	c.UpdatedAt = now
	if err := s.store.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("update contract: %w", err)
	}

	s.emit(ctx, c, "contract.forfeited")
	return c, nil
}

// Dispute freezes the contract and opens a refund case for an admin to
// decide. Either party may raise it.
func (s *Service) Dispute(ctx context.Context, accountID, contractID, reason string) (*Contract, error) {
	unlock, err := s.locks.LockContext(ctx, contractID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := s.store.Get(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if c.BuyerID != accountID && c.SellerID != accountID {
		return nil, ErrNotParty
	}
	if c.Status != StatusAwaitingConfirmation {
		return nil, ErrInvalidContractState
	}

	now := time.Now()
	c.Status = StatusPendingRefund
	c.UpdatedAt = now

	if s.cases != nil {
		caseID, err := s.cases.OpenForContract(ctx, c.ID, c.OrderID, accountID, reason)
		if err != nil {
			return nil, fmt.Errorf("open refund case: %w", err)
		}
		c.RefundCaseID = caseID
	}

	if err := s.store.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("update contract: %w", err)
	}

	s.emit(ctx, c, "contract.disputed")
	return c, nil
}

// Resolve finalizes a disputed contract after the admin decision:
// approved refunds end REFUNDED, rejected ones end SUCCESS. Called by the
// refund adjudicator only.
func (s *Service) Resolve(ctx context.Context, contractID string, approved bool) (*Contract, error) {
	unlock, err := s.locks.LockContext(ctx, contractID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := s.store.Get(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusPendingRefund {
		return nil, ErrInvalidContractState
	}

	now := time.Now()
	if approved {
		c.Status = StatusRefunded
	} else {
		c.Status = StatusSuccess
		c.ConfirmedAt = &now
	}
	c.UpdatedAt = now
	if err := s.store.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("update contract: %w", err)
	}

	s.emit(ctx, c, "contract.resolved")
	return c, nil
}

// GetByID returns a contract visible to one of its parties.
func (s *Service) GetByID(ctx context.Context, accountID, contractID string, isAdmin bool) (*Contract, error) {
	c, err := s.store.Get(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && c.BuyerID != accountID && c.SellerID != accountID {
		return nil, ErrNotParty
	}
	return c, nil
}

// ListMine returns contracts where the caller is buyer or seller.
func (s *Service) ListMine(ctx context.Context, accountID string, limit, offset int) ([]*Contract, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListByParty(ctx, accountID, limit, offset)
}

func (s *Service) emit(ctx context.Context, c *Contract, event string) {
	metrics.ContractEventsTotal.WithLabelValues(event).Inc()
	if s.events == nil {
		return
	}
	s.events.Emit(ctx, c.BuyerID, event, c)
	s.events.Emit(ctx, c.SellerID, event, c)
}
