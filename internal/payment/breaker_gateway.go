package payment

import (
	"context"
	"errors"

	"github.com/voltmarket/voltmarket/internal/circuitbreaker"
)

// ErrGatewayUnavailable is returned while the circuit to the payment
// gateway is open.
var ErrGatewayUnavailable = errors.New("payment gateway temporarily unavailable")

const breakerKey = "payment_gateway"

// BreakerGateway wraps a Gateway with a circuit breaker so a struggling
// gateway sheds load fast instead of stacking up slow failures.
type BreakerGateway struct {
	inner   Gateway
	breaker *circuitbreaker.Breaker
}

// NewBreakerGateway wraps inner with the given breaker.
func NewBreakerGateway(inner Gateway, breaker *circuitbreaker.Breaker) *BreakerGateway {
	return &BreakerGateway{inner: inner, breaker: breaker}
}

func (g *BreakerGateway) CreateCheckout(ctx context.Context, t *Topup) (string, string, error) {
	if !g.breaker.Allow(breakerKey) {
		return "", "", ErrGatewayUnavailable
	}
	sessionID, url, err := g.inner.CreateCheckout(ctx, t)
	if err != nil {
		g.breaker.RecordFailure(breakerKey)
		return "", "", err
	}
	g.breaker.RecordSuccess(breakerKey)
	return sessionID, url, nil
}

func (g *BreakerGateway) VerifyStatus(ctx context.Context, sessionID string) (GatewayStatus, error) {
	if !g.breaker.Allow(breakerKey) {
		return "", ErrGatewayUnavailable
	}
	status, err := g.inner.VerifyStatus(ctx, sessionID)
	if err != nil {
		g.breaker.RecordFailure(breakerKey)
		return "", err
	}
	g.breaker.RecordSuccess(breakerKey)
	return status, nil
}
