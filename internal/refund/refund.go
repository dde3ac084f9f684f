// Package refund holds disputed cases for a human decision.
//
// A case is opened when a contract is disputed (or an order otherwise needs
// adjudication) and is decided exactly once by an admin. The decision is
// never silent: who decided, when, and why are recorded on the case, and the
// money consequence is explicit in the decision itself.
package refund

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voltmarket/voltmarket/internal/idgen"
	"github.com/voltmarket/voltmarket/internal/metrics"
	"github.com/voltmarket/voltmarket/internal/syncutil"
	"github.com/voltmarket/voltmarket/internal/traces"
)

var (
	ErrCaseNotFound    = errors.New("refund case not found")
	ErrAlreadyDecided  = errors.New("refund case already decided")
	ErrInvalidDecision = errors.New("decision must be APPROVE or REJECT")
)

// Status is the case lifecycle state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Decision is the admin's ruling.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// Case is one dispute awaiting or carrying an admin decision.
type Case struct {
	ID             string     `json:"id"`
	ContractID     string     `json:"contractId,omitempty"`
	OrderID        string     `json:"orderId,omitempty"`
	RaisedBy       string     `json:"raisedBy"`
	Reason         string     `json:"reason,omitempty"`
	Status         Status     `json:"status"`
	DecidedBy      string     `json:"decidedBy,omitempty"`
	DecidedAt      *time.Time `json:"decidedAt,omitempty"`
	ResolutionNote string     `json:"resolutionNote,omitempty"`
	// ForfeitedToPlatform marks a rejected case where the hold went to the
	// platform instead of the seller.
	ForfeitedToPlatform bool      `json:"forfeitedToPlatform,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Store persists refund cases.
type Store interface {
	Create(ctx context.Context, c *Case) error
	Get(ctx context.Context, id string) (*Case, error)
	Update(ctx context.Context, c *Case) error
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Case, error)
}

// OrderResolver applies the money consequence of a decision to the order
// and its escrow hold. Implemented by the order service.
type OrderResolver interface {
	// Refund credits the buyer the full hold and ends the order REFUNDED.
	Refund(ctx context.Context, orderID string) error
	// Settle releases the hold through normal completion accounting.
	Settle(ctx context.Context, orderID string) error
	// Forfeit moves the entire hold to the platform.
	Forfeit(ctx context.Context, orderID string) error
}

// ContractResolver finalizes the disputed contract after the decision.
// Implemented by the contract service.
type ContractResolver interface {
	Resolve(ctx context.Context, contractID string, approved bool) error
}

// EventSink receives decision events. Optional collaborator.
type EventSink interface {
	Emit(ctx context.Context, accountID, event string, payload any)
}

// Adjudicator implements refund case handling.
type Adjudicator struct {
	store     Store
	orders    OrderResolver
	contracts ContractResolver
	locks     *syncutil.ContextShardedMutex
	logger    *slog.Logger

	events EventSink
}

// NewAdjudicator creates a refund adjudicator.
func NewAdjudicator(store Store, orders OrderResolver, contracts ContractResolver, logger *slog.Logger) *Adjudicator {
	return &Adjudicator{
		store:     store,
		orders:    orders,
		contracts: contracts,
		locks:     syncutil.NewContextShardedMutex(),
		logger:    logger,
	}
}

// WithEventSink wires decision event emission.
func (a *Adjudicator) WithEventSink(e EventSink) *Adjudicator {
	a.events = e
	return a
}

// OpenForContract creates a PENDING case for a disputed contract. Called by
// the contract service when either party raises a dispute.
func (a *Adjudicator) OpenForContract(ctx context.Context, contractID, orderID, raisedBy, reason string) (string, error) {
	now := time.Now()
	c := &Case{
		ID:         idgen.WithPrefix("rc_"),
		ContractID: contractID,
		OrderID:    orderID,
		RaisedBy:   raisedBy,
		Reason:     reason,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.store.Create(ctx, c); err != nil {
		return "", fmt.Errorf("create refund case: %w", err)
	}
	return c.ID, nil
}

// DecideInput carries an admin ruling on a case.
type DecideInput struct {
	CaseID   string
	AdminID  string
	Decision Decision
	Note     string
	// ForfeitToPlatform applies only to REJECT: instead of releasing the
	// hold to the seller, the whole amount goes to the platform. Reserved
	// for cases where the contract evidence shows abuse.
	ForfeitToPlatform bool
}

// Decide rules on a pending case, exactly once.
//
// APPROVE: buyer refunded in full, order REFUNDED, contract REFUNDED.
// REJECT: hold released per normal completion accounting (or forfeited to
// the platform when flagged), order COMPLETED, contract SUCCESS.
func (a *Adjudicator) Decide(ctx context.Context, in DecideInput) (*Case, error) {
	if in.Decision != DecisionApprove && in.Decision != DecisionReject {
		return nil, ErrInvalidDecision
	}

	ctx, span := traces.StartSpan(ctx, "refund.Decide", traces.CaseID(in.CaseID))
	defer span.End()

	unlock, err := a.locks.LockContext(ctx, in.CaseID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := a.store.Get(ctx, in.CaseID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusPending {
		return nil, ErrAlreadyDecided
	}

	// Money first: if the ledger side fails the case stays PENDING and the
	// admin can retry.
	if c.OrderID != "" {
		switch {
		case in.Decision == DecisionApprove:
			err = a.orders.Refund(ctx, c.OrderID)
		case in.ForfeitToPlatform:
			err = a.orders.Forfeit(ctx, c.OrderID)
		default:
			err = a.orders.Settle(ctx, c.OrderID)
		}
		if err != nil {
			return nil, fmt.Errorf("apply decision to order %s: %w", c.OrderID, err)
		}
	}

	if c.ContractID != "" {
		if err := a.contracts.Resolve(ctx, c.ContractID, in.Decision == DecisionApprove); err != nil {
			// Ledger already moved; the contract is left to reconcile.
			a.logger.Error("CRITICAL: refund decision applied to ledger but contract not resolved",
				"case", c.ID, "contract", c.ContractID, "decision", in.Decision, "error", err)
		}
	}

	now := time.Now()
	if in.Decision == DecisionApprove {
		c.Status = StatusApproved
	} else {
		c.Status = StatusRejected
		c.ForfeitedToPlatform = in.ForfeitToPlatform
	}
	c.DecidedBy = in.AdminID
	c.DecidedAt = &now
	c.ResolutionNote = in.Note
	c.UpdatedAt = now
	if err := a.store.Update(ctx, c); err != nil {
		a.logger.Error("CRITICAL: refund decision applied but case not persisted",
			"case", c.ID, "decision", in.Decision, "error", err)
		return nil, fmt.Errorf("update refund case: %w", err)
	}

	metrics.RefundDecisionsTotal.WithLabelValues(string(in.Decision)).Inc()
	if a.events != nil {
		a.events.Emit(ctx, c.RaisedBy, "refund.decided", c)
	}

	a.logger.Info("refund case decided",
		"case", c.ID, "decision", in.Decision, "admin", in.AdminID,
		"forfeited", c.ForfeitedToPlatform)
	return c, nil
}

// Get returns a case by id.
func (a *Adjudicator) Get(ctx context.Context, id string) (*Case, error) {
	return a.store.Get(ctx, id)
}

// ListPending returns undecided cases, oldest first, for the admin queue.
func (a *Adjudicator) ListPending(ctx context.Context, limit, offset int) ([]*Case, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return a.store.ListByStatus(ctx, StatusPending, limit, offset)
}
