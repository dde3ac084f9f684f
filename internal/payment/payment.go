// Package payment handles money-in: wallet topups through the card
// payment gateway.
//
// A topup is created PENDING with a checkout URL; the buyer pays on the
// gateway's hosted page and comes back through the return URL or a webhook.
// VerifyAndProcess re-checks the gateway status server-side and credits the
// wallet exactly once, keyed by the topup's order code.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/voltmarket/voltmarket/internal/idgen"
	"github.com/voltmarket/voltmarket/internal/metrics"
	"github.com/voltmarket/voltmarket/internal/traces"
	"github.com/voltmarket/voltmarket/internal/vnd"
	"github.com/voltmarket/voltmarket/internal/wallet"
)

var (
	ErrTopupNotFound   = errors.New("topup not found")
	ErrInvalidAmount   = errors.New("invalid topup amount")
	ErrGatewayRejected = errors.New("payment gateway rejected the request")
)

// Status is the topup lifecycle state.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
	StatusExpired Status = "EXPIRED"
	StatusFailed  Status = "FAILED"
)

// Topup is one money-in attempt.
type Topup struct {
	ID               string     `json:"id"`
	OwnerID          string     `json:"ownerId"`
	Amount           string     `json:"amount"`
	OrderCode        string     `json:"orderCode"`
	Status           Status     `json:"status"`
	GatewaySessionID string     `json:"-"`
	CheckoutURL      string     `json:"checkoutUrl,omitempty"`
	PaidAt           *time.Time `json:"paidAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// GatewayStatus is the gateway's view of a checkout session.
type GatewayStatus string

const (
	GatewayPaid    GatewayStatus = "paid"
	GatewayPending GatewayStatus = "pending"
	GatewayExpired GatewayStatus = "expired"
)

// Gateway creates hosted checkout sessions and reports their status.
type Gateway interface {
	CreateCheckout(ctx context.Context, t *Topup) (sessionID, checkoutURL string, err error)
	VerifyStatus(ctx context.Context, sessionID string) (GatewayStatus, error)
}

// Store persists topups.
type Store interface {
	Create(ctx context.Context, t *Topup) error
	GetByCode(ctx context.Context, orderCode string) (*Topup, error)
	Update(ctx context.Context, t *Topup) error
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*Topup, error)
}

// WalletCrediter applies a verified topup to the wallet. Implemented by an
// adapter over the wallet ledger.
type WalletCrediter interface {
	CreditTopup(ctx context.Context, ownerID, amount, orderCode string) error
}

// EventSink receives topup events. Optional collaborator.
type EventSink interface {
	Emit(ctx context.Context, accountID, event string, payload any)
}

// Service implements the topup flow.
type Service struct {
	store   Store
	gateway Gateway
	ledger  WalletCrediter
	logger  *slog.Logger

	events EventSink
}

// NewService creates a payment service.
func NewService(store Store, gateway Gateway, ledger WalletCrediter, logger *slog.Logger) *Service {
	return &Service{store: store, gateway: gateway, ledger: ledger, logger: logger}
}

// WithEventSink wires topup event emission.
func (s *Service) WithEventSink(e EventSink) *Service {
	s.events = e
	return s
}

// newTopupCode returns a unique human-readable code like TP-9C4E21AB. The
// code doubles as the wallet idempotency key when the topup is credited.
func newTopupCode() string {
	return "TP-" + strings.ToUpper(idgen.Hex(4))
}

// CreateTopup opens a PENDING topup and a gateway checkout session.
func (s *Service) CreateTopup(ctx context.Context, ownerID, amount string) (*Topup, error) {
	if _, ok := vnd.ParsePositive(amount); !ok {
		return nil, ErrInvalidAmount
	}

	now := time.Now()
	t := &Topup{
		ID:        idgen.WithPrefix("tp_"),
		OwnerID:   ownerID,
		Amount:    amount,
		OrderCode: newTopupCode(),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	sessionID, url, err := s.gateway.CreateCheckout(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayRejected, err)
	}
	t.GatewaySessionID = sessionID
	t.CheckoutURL = url

	if err := s.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create topup: %w", err)
	}

	s.logger.Info("topup created", "topup", t.ID, "code", t.OrderCode, "owner", ownerID, "amount", amount)
	return t, nil
}

// VerifyAndProcess re-checks the gateway and settles the topup. Safe to
// call any number of times from return URLs and webhooks: the wallet
// credit is keyed by the order code, so replays credit exactly once.
func (s *Service) VerifyAndProcess(ctx context.Context, orderCode string) (*Topup, error) {
	ctx, span := traces.StartSpan(ctx, "payment.VerifyAndProcess")
	defer span.End()

	t, err := s.store.GetByCode(ctx, orderCode)
	if err != nil {
		return nil, err
	}
	if t.Status == StatusPaid {
		return t, nil
	}
	if t.Status != StatusPending {
		return t, nil
	}

	status, err := s.gateway.VerifyStatus(ctx, t.GatewaySessionID)
	if err != nil {
		return nil, fmt.Errorf("verify topup %s: %w", orderCode, err)
	}

	switch status {
	case GatewayPaid:
		err := s.ledger.CreditTopup(ctx, t.OwnerID, t.Amount, t.OrderCode)
		if err != nil && !errors.Is(err, wallet.ErrDuplicateIdempotencyKey) {
			return nil, fmt.Errorf("credit topup %s: %w", orderCode, err)
		}
		if errors.Is(err, wallet.ErrDuplicateIdempotencyKey) {
			s.logger.Info("topup already credited, marking paid", "code", orderCode)
		}

		now := time.Now()
		t.Status = StatusPaid
		t.PaidAt = &now
		t.UpdatedAt = now
		if err := s.store.Update(ctx, t); err != nil {
			// Credit is idempotent by code; the next verification attempt
			// will converge the status.
			s.logger.Error("topup credited but status not persisted", "code", orderCode, "error", err)
			return nil, fmt.Errorf("update topup: %w", err)
		}

		metrics.TopupsTotal.WithLabelValues(string(StatusPaid)).Inc()
		if s.events != nil {
			s.events.Emit(ctx, t.OwnerID, "topup.paid", t)
		}
		s.logger.Info("topup settled", "code", orderCode, "owner", t.OwnerID, "amount", t.Amount)
		return t, nil

	case GatewayExpired:
		t.Status = StatusExpired
		t.UpdatedAt = time.Now()
		if err := s.store.Update(ctx, t); err != nil {
			return nil, fmt.Errorf("update topup: %w", err)
		}
		metrics.TopupsTotal.WithLabelValues(string(StatusExpired)).Inc()
		return t, nil

	default:
		// Still pending on the gateway side.
		return t, nil
	}
}

// GetByCode returns the caller's topup.
func (s *Service) GetByCode(ctx context.Context, ownerID, orderCode string) (*Topup, error) {
	t, err := s.store.GetByCode(ctx, orderCode)
	if err != nil {
		return nil, err
	}
	if t.OwnerID != ownerID {
		return nil, ErrTopupNotFound
	}
	return t, nil
}

// ListMine returns the caller's topups, newest first.
func (s *Service) ListMine(ctx context.Context, ownerID string, limit, offset int) ([]*Topup, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListByOwner(ctx, ownerID, limit, offset)
}
