package payment

import "context"

// Payment methods
const (
	MethodCard = "card"
	MethodCash = "cash"
)

// ChargeRequest is what the gateway needs to move money for one payment.
// The idempotency key is forwarded so a retried charge after a network
// failure cannot double-bill the card.
type ChargeRequest struct {
	PaymentID      string
	CheckID        string
	IdempotencyKey string
	Token          string
	Amount         int64
}

// ChargeResult reports the gateway's decision. Paid means the money moved;
// Authorized means the gateway accepted but has not settled yet.
type ChargeResult struct {
	TxnID  string
	Status string
}

// Gateway abstracts the external payment processor. Cash payments never
// reach it.
type Gateway interface {
	Charge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error)
	Refund(ctx context.Context, txnID string, amount int64) error
}
