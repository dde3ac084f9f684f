// Package wallet tracks account balances on the platform.
//
// Flow:
//  1. Buyer tops up via the payment gateway → wallet credited
//  2. Buy-now debits the full listing price as an escrow hold
//  3. Order completion credits seller revenue + platform commission
//  4. Rejection/cancellation/approved refund credits the hold back
//
// Every movement of money is an append-only transaction; the wallet
// balance always equals the sum of its transactions.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/voltmarket/voltmarket/internal/syncutil"
	"github.com/voltmarket/voltmarket/internal/vnd"
)

var (
	ErrWalletNotFound          = errors.New("wallet not found")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidServiceType      = errors.New("invalid service type")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already applied")
)

// PlatformOwnerID is the reserved account that accumulates commission fees.
const PlatformOwnerID = "platform"

// ServiceType tags a transaction with its accounting meaning. Closed set;
// every ledger-affecting branch switches over these exhaustively.
type ServiceType string

const (
	ServiceWalletTopup ServiceType = "WALLET_TOPUP"
	ServicePostPayment ServiceType = "POST_PAYMENT"
	ServiceBuyHold     ServiceType = "BUY_HOLD"
	ServiceBuyRefund   ServiceType = "BUY_REFUND"
	ServiceSellRevenue ServiceType = "SELL_REVENUE"
	ServicePlatformFee ServiceType = "PLATFORM_FEE"
	ServiceDeduction   ServiceType = "DEDUCTION"
)

// Valid reports whether s is one of the closed ServiceType values.
func (s ServiceType) Valid() bool {
	switch s {
	case ServiceWalletTopup, ServicePostPayment, ServiceBuyHold,
		ServiceBuyRefund, ServiceSellRevenue, ServicePlatformFee, ServiceDeduction:
		return true
	}
	return false
}

// Wallet is one account's balance row. Created lazily on first use.
type Wallet struct {
	OwnerID   string    `json:"ownerId"`
	Balance   string    `json:"balance"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RelatedEntity is an optional back-reference from a transaction to the
// order/contract/topup that caused it. Lookup-only.
type RelatedEntity struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Transaction is one append-only ledger row. Amount is signed: credits
// positive, debits negative.
type Transaction struct {
	ID             string      `json:"id"`
	OwnerID        string      `json:"ownerId"`
	Amount         string      `json:"amount"`
	ServiceType    ServiceType `json:"serviceType"`
	Description    string      `json:"description,omitempty"`
	RelatedType    string      `json:"relatedType,omitempty"`
	RelatedID      string      `json:"relatedId,omitempty"`
	IdempotencyKey string      `json:"-"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// TransferRequest describes an atomic debit+credit pair.
type TransferRequest struct {
	FromOwnerID   string
	ToOwnerID     string
	Amount        string
	DebitService  ServiceType
	CreditService ServiceType
	Description   string
	Related       *RelatedEntity
}

// Store persists wallet data. Implementations must apply each mutation
// atomically: balance update and transaction row commit together or not
// at all.
type Store interface {
	GetWallet(ctx context.Context, ownerID string) (*Wallet, error)
	Credit(ctx context.Context, ownerID, amount string, svc ServiceType, description string, related *RelatedEntity, idempotencyKey string) error
	Debit(ctx context.Context, ownerID, amount string, svc ServiceType, description string, related *RelatedEntity) error
	Transfer(ctx context.Context, req TransferRequest) error
	ListTransactions(ctx context.Context, ownerID string, limit, offset int) ([]*Transaction, error)
	HasIdempotencyKey(ctx context.Context, key string) (bool, error)
	SumTransactions(ctx context.Context, ownerID string) (string, error)
	ListOwners(ctx context.Context) ([]string, error)
}

// Ledger serializes all money movement per owner. Concurrent operations on
// different owners proceed independently; operations on the same owner are
// strictly ordered so read-then-write balance checks cannot interleave.
type Ledger struct {
	store Store
	locks *syncutil.ContextShardedMutex
}

// New creates a new ledger.
func New(store Store) *Ledger {
	return &Ledger{
		store: store,
		locks: syncutil.NewContextShardedMutex(),
	}
}

// GetWallet returns an owner's current wallet. A zero wallet is returned
// for owners with no recorded transactions.
func (l *Ledger) GetWallet(ctx context.Context, ownerID string) (*Wallet, error) {
	return l.store.GetWallet(ctx, ownerID)
}

// Credit appends a positive transaction and increases the balance.
// When idempotencyKey is non-empty, a repeat delivery with the same key
// fails with ErrDuplicateIdempotencyKey and writes nothing — this is how
// topup webhooks stay exactly-once.
func (l *Ledger) Credit(ctx context.Context, ownerID, amount string, svc ServiceType, description string, related *RelatedEntity, idempotencyKey string) error {
	if _, ok := vnd.ParsePositive(amount); !ok {
		return ErrInvalidAmount
	}
	if !svc.Valid() {
		return ErrInvalidServiceType
	}

	unlock, err := l.locks.LockContext(ctx, ownerID)
	if err != nil {
		return err
	}
	defer unlock()
	done := observeOp("credit")
	defer done()

	if idempotencyKey != "" {
		exists, err := l.store.HasIdempotencyKey(ctx, idempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			DuplicateTopupTotal.Inc()
			return ErrDuplicateIdempotencyKey
		}
	}

	return l.store.Credit(ctx, ownerID, amount, svc, description, related, idempotencyKey)
}

// Debit appends a negative transaction and decreases the balance. Fails
// with ErrInsufficientBalance when the balance would go negative; the
// caller must re-initiate after a topup, never retry the same debit.
func (l *Ledger) Debit(ctx context.Context, ownerID, amount string, svc ServiceType, description string, related *RelatedEntity) error {
	amt, ok := vnd.ParsePositive(amount)
	if !ok {
		return ErrInvalidAmount
	}
	if !svc.Valid() {
		return ErrInvalidServiceType
	}

	unlock, err := l.locks.LockContext(ctx, ownerID)
	if err != nil {
		return err
	}
	defer unlock()
	done := observeOp("debit")
	defer done()

	w, err := l.store.GetWallet(ctx, ownerID)
	if err != nil {
		return err
	}
	bal, _ := vnd.Parse(w.Balance)
	if bal.Cmp(amt) < 0 {
		InsufficientBalanceTotal.Inc()
		return ErrInsufficientBalance
	}

	return l.store.Debit(ctx, ownerID, amount, svc, description, related)
}

// Transfer moves amount from one owner to another as an atomic debit+credit
// pair; either both legs are recorded or neither is.
func (l *Ledger) Transfer(ctx context.Context, req TransferRequest) error {
	amt, ok := vnd.ParsePositive(req.Amount)
	if !ok {
		return ErrInvalidAmount
	}
	if !req.DebitService.Valid() || !req.CreditService.Valid() {
		return ErrInvalidServiceType
	}
	if req.FromOwnerID == req.ToOwnerID {
		return fmt.Errorf("transfer to self: %s", req.FromOwnerID)
	}

	// Lock both owners in stable order so concurrent opposing transfers
	// cannot deadlock.
	first, second := req.FromOwnerID, req.ToOwnerID
	if second < first {
		first, second = second, first
	}
	unlockFirst, err := l.locks.LockContext(ctx, first)
	if err != nil {
		return err
	}
	defer unlockFirst()
	unlockSecond, err := l.locks.LockContext(ctx, second)
	if err != nil {
		return err
	}
	defer unlockSecond()
	done := observeOp("transfer")
	defer done()

	w, err := l.store.GetWallet(ctx, req.FromOwnerID)
	if err != nil {
		return err
	}
	bal, _ := vnd.Parse(w.Balance)
	if bal.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}

	return l.store.Transfer(ctx, req)
}

// ListTransactions returns an owner's ledger rows, newest first.
func (l *Ledger) ListTransactions(ctx context.Context, ownerID string, limit, offset int) ([]*Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return l.store.ListTransactions(ctx, ownerID, limit, offset)
}

// CanSpend reports whether an owner has at least amount available.
func (l *Ledger) CanSpend(ctx context.Context, ownerID, amount string) (bool, error) {
	amt, ok := vnd.Parse(amount)
	if !ok {
		return false, ErrInvalidAmount
	}
	w, err := l.store.GetWallet(ctx, ownerID)
	if err != nil {
		return false, err
	}
	bal, _ := vnd.Parse(w.Balance)
	return bal.Cmp(amt) >= 0, nil
}

// VerifyInvariant recomputes Σ(transactions) for an owner and compares it
// to the stored balance. Returns the difference (balance − sum); zero means
// the ledger invariant holds.
func (l *Ledger) VerifyInvariant(ctx context.Context, ownerID string) (*big.Int, error) {
	w, err := l.store.GetWallet(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	sumStr, err := l.store.SumTransactions(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	bal, _ := vnd.Parse(w.Balance)
	sum, ok := vnd.Parse(sumStr)
	if !ok {
		return nil, fmt.Errorf("unparseable transaction sum %q for %s", sumStr, ownerID)
	}
	return new(big.Int).Sub(bal, sum), nil
}

// Owners lists every owner with a wallet row, for reconciliation sweeps.
func (l *Ledger) Owners(ctx context.Context) ([]string, error) {
	return l.store.ListOwners(ctx)
}
