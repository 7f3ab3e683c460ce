package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Order statuses
const (
	OrderPending   = "pending"
	OrderConfirmed = "confirmed"
	OrderVoid      = "void"
)

// Line statuses (kitchen workflow)
const (
	LineQueued   = "queued"
	LineCooking  = "cooking"
	LineReady    = "ready"
	LineServed   = "served"
	LineCanceled = "canceled"
)

// Order is one named batch of lines submitted in a single client action.
// The idempotency key is unique so a retried submission maps back to the
// original batch instead of double-applying.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID             string    `bun:"id,pk" json:"id"`
	CheckID        string    `bun:"check_id,notnull" json:"check_id"`
	Source         string    `bun:"source,notnull" json:"source"`
	Status         string    `bun:"status,notnull" json:"status"`
	IdempotencyKey string    `bun:"idempotency_key,notnull,unique" json:"idempotency_key"`
	CreatedAt      time.Time `bun:"created_at,notnull" json:"created_at"`
}

// OrderLine is a single ordered item instance. UnitPrice is snapshotted from
// the catalog at submission time and never re-read, so later menu edits
// cannot change a placed bill.
type OrderLine struct {
	bun.BaseModel `bun:"table:order_lines"`

	ID           string    `bun:"id,pk" json:"id"`
	OrderID      string    `bun:"order_id,notnull" json:"order_id"`
	CheckID      string    `bun:"check_id,notnull" json:"check_id"`
	MenuID       string    `bun:"menu_id,notnull" json:"menu_id"`
	MenuName     string    `bun:"menu_name" json:"menu_name"`
	Quantity     int       `bun:"quantity,notnull" json:"quantity"`
	UnitPrice    int64     `bun:"unit_price,notnull" json:"unit_price"`
	Status       string    `bun:"status,notnull" json:"status"`
	CookStation  string    `bun:"cook_station" json:"cook_station,omitempty"`
	Notes        string    `bun:"notes" json:"notes,omitempty"`
	CancelReason string    `bun:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt    time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// Active reports whether the line still counts toward the bill.
func (l *OrderLine) Active() bool {
	return l.Status != LineCanceled
}

// LineOption is a selected modifier on a line with its own price delta.
// Options are append-only and owned by the line.
type LineOption struct {
	bun.BaseModel `bun:"table:line_options"`

	ID         string `bun:"id,pk" json:"id"`
	LineID     string `bun:"line_id,notnull" json:"line_id"`
	Name       string `bun:"name,notnull" json:"name"`
	PriceDelta int64  `bun:"price_delta,notnull" json:"price_delta"`
}

// LineWithOptions pairs a line with its options for bill computation and
// API responses.
type LineWithOptions struct {
	Line    OrderLine    `json:"line"`
	Options []LineOption `json:"options"`
}

// OptionTotal sums the option price deltas for one unit of the line.
func (lw *LineWithOptions) OptionTotal() int64 {
	var total int64
	for _, o := range lw.Options {
		total += o.PriceDelta
	}
	return total
}

// Base is the line's own price: (unit price + option deltas) * quantity.
func (lw *LineWithOptions) Base() int64 {
	qty := lw.Line.Quantity
	if qty <= 0 {
		qty = 1
	}
	return (lw.Line.UnitPrice + lw.OptionTotal()) * int64(qty)
}
