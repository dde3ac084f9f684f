package payment

import (
	"context"
	"fmt"
	"math/big"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/voltmarket/voltmarket/internal/vnd"
)

// StripeConfig configures the Stripe checkout gateway.
type StripeConfig struct {
	SecretKey  string
	SuccessURL string
	CancelURL  string
}

// StripeGateway implements Gateway over Stripe hosted checkout.
type StripeGateway struct {
	api *client.API
	cfg StripeConfig
}

// NewStripeGateway creates a gateway using the given API key.
func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return &StripeGateway{api: api, cfg: cfg}
}

// vndUnits converts an internal fixed-point amount to whole dong.
// VND is a zero-decimal currency on Stripe, so the unit amount is the
// whole-dong value, not a sub-unit count.
func vndUnits(amount string) (int64, error) {
	units, ok := vnd.Parse(amount)
	if !ok {
		return 0, fmt.Errorf("unparseable amount %q", amount)
	}
	whole := new(big.Int).Quo(units, big.NewInt(100))
	if !whole.IsInt64() {
		return 0, fmt.Errorf("amount %q out of range", amount)
	}
	return whole.Int64(), nil
}

func (g *StripeGateway) CreateCheckout(ctx context.Context, t *Topup) (string, string, error) {
	unitAmount, err := vndUnits(t.Amount)
	if err != nil {
		return "", "", err
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String("vnd"),
					UnitAmount: stripe.Int64(unitAmount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Wallet topup " + t.OrderCode),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(t.OrderCode),
		SuccessURL:        stripe.String(g.cfg.SuccessURL + "?code=" + t.OrderCode),
		CancelURL:         stripe.String(g.cfg.CancelURL + "?code=" + t.OrderCode),
	}
	params.Context = ctx

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return "", "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.ID, sess.URL, nil
}

func (g *StripeGateway) VerifyStatus(ctx context.Context, sessionID string) (GatewayStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return "", fmt.Errorf("get checkout session: %w", err)
	}

	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		return GatewayPaid, nil
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		return GatewayExpired, nil
	default:
		return GatewayPending, nil
	}
}
