package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Payment statuses
const (
	PaymentAuthorized = "authorized"
	PaymentPaid       = "paid"
	PaymentVoid       = "void"
	PaymentRefunded   = "refunded"
	PaymentFailed     = "failed"
)

// Payment is one settlement attempt against a check. The idempotency key is
// unique and is the core dedup mechanism: a retried request with the same key
// returns this row instead of charging again.
type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	ID             string    `bun:"id,pk" json:"id"`
	CheckID        string    `bun:"check_id,notnull" json:"check_id"`
	Method         string    `bun:"method,notnull" json:"method"`
	Amount         int64     `bun:"amount,notnull" json:"amount"`
	RefundedAmount int64     `bun:"refunded_amount,notnull,default:0" json:"refunded_amount"`
	Status         string    `bun:"status,notnull" json:"status"`
	TxnID          string    `bun:"txn_id" json:"txn_id,omitempty"`
	IdempotencyKey string    `bun:"idempotency_key,notnull,unique" json:"idempotency_key"`
	CreatedAt      time.Time `bun:"created_at,notnull" json:"created_at"`
	PaidAt         time.Time `bun:"paid_at,nullzero" json:"paid_at,omitempty"`
}

// Settled is the amount that still counts toward the check's paid total.
func (p *Payment) Settled() int64 {
	if p.Status != PaymentPaid && p.Status != PaymentRefunded {
		return 0
	}
	return p.Amount - p.RefundedAmount
}

// PaymentAllocation maps part of a payment's amount to a specific line.
// Used for split billing and partial refunds; refunds decrement Amount but
// the row (like the payment) is never deleted.
type PaymentAllocation struct {
	bun.BaseModel `bun:"table:payment_allocations"`

	ID        string `bun:"id,pk" json:"id"`
	PaymentID string `bun:"payment_id,notnull" json:"payment_id"`
	LineID    string `bun:"line_id,notnull" json:"line_id"`
	Amount    int64  `bun:"amount,notnull" json:"amount"`
}
