package payment

import (
	"context"
	"fmt"

	"pos-ledger/internal/ledger"
	"pos-ledger/internal/logger"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// StripeGateway charges cards through Stripe payment intents. Amounts are
// passed through unscaled: the ledger already stores the smallest currency
// unit.
type StripeGateway struct {
	client   *client.API
	currency string
	log      *logger.Logger
}

func NewStripeGateway(secretKey, currency string, log *logger.Logger) (*StripeGateway, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("stripe secret key not configured: %w", ledger.ErrDependency)
	}
	sc := client.New(secretKey, nil)
	log.Info("STRIPE", "Stripe client initialized")
	return &StripeGateway{
		client:   sc,
		currency: currency,
		log:      log,
	}, nil
}

func (g *StripeGateway) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(g.currency),
		Confirm:            stripe.Bool(true),
		PaymentMethodTypes: []*string{stripe.String("card")},
	}
	params.Context = ctx
	if req.Token != "" {
		params.PaymentMethod = stripe.String(req.Token)
	}
	params.AddMetadata("payment_id", req.PaymentID)
	params.AddMetadata("check_id", req.CheckID)
	params.SetIdempotencyKey(req.IdempotencyKey)

	pi, err := g.client.PaymentIntents.New(params)
	if err != nil {
		g.log.Error("STRIPE", fmt.Sprintf("payment intent for check %s failed: %v", req.CheckID, err))
		return nil, fmt.Errorf("stripe charge failed: %w", ledger.ErrDependency)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return &ChargeResult{TxnID: pi.ID, Status: "paid"}, nil
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresAction:
		return &ChargeResult{TxnID: pi.ID, Status: "authorized"}, nil
	default:
		g.log.Error("STRIPE", fmt.Sprintf("payment intent %s ended with status %s", pi.ID, pi.Status))
		return nil, fmt.Errorf("stripe declined the charge (%s): %w", pi.Status, ledger.ErrDependency)
	}
}

func (g *StripeGateway) Refund(ctx context.Context, txnID string, amount int64) error {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(txnID),
		Amount:        stripe.Int64(amount),
	}
	params.Context = ctx

	if _, err := g.client.Refunds.New(params); err != nil {
		g.log.Error("STRIPE", fmt.Sprintf("refund of %d on %s failed: %v", amount, txnID, err))
		return fmt.Errorf("stripe refund failed: %w", ledger.ErrDependency)
	}
	return nil
}
