package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Event types appended to the ledger's audit log and fanned out to
// subscribers.
const (
	EventCheckOpened      = "CHECK_OPENED"
	EventCheckClosed      = "CHECK_CLOSED"
	EventCheckVoided      = "CHECK_VOIDED"
	EventOrderCreated     = "ORDER_CREATED"
	EventLineQueued       = "LINE_QUEUED"
	EventLineCooking      = "LINE_COOKING"
	EventLineReady        = "LINE_READY"
	EventLineServed       = "LINE_SERVED"
	EventLineCanceled     = "LINE_CANCELED"
	EventPaymentCompleted = "PAYMENT_COMPLETED"
	EventPaymentRefunded  = "PAYMENT_REFUNDED"
	EventLevelChanged     = "LEVEL_CHANGED"
	EventBenefitIssued    = "BENEFIT_ISSUED"
)

// OrderEvent is an append-only fact in the audit trail. Rows are inserted by
// committing operations and never updated or deleted. Seq is an auto-increment
// so the log replays in commit order.
type OrderEvent struct {
	bun.BaseModel `bun:"table:order_events"`

	Seq       int64     `bun:"seq,pk,autoincrement" json:"seq"`
	EventID   string    `bun:"event_id,notnull,unique" json:"event_id"`
	StoreID   string    `bun:"store_id,notnull" json:"store_id"`
	CheckID   string    `bun:"check_id,notnull" json:"check_id"`
	OrderID   string    `bun:"order_id,nullzero" json:"order_id,omitempty"`
	LineID    string    `bun:"line_id,nullzero" json:"line_id,omitempty"`
	Actor     string    `bun:"actor" json:"actor,omitempty"`
	Type      string    `bun:"type,notnull" json:"type"`
	Payload   string    `bun:"payload" json:"payload,omitempty"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}

// EventMessage is the wire form delivered to kitchen displays and dashboards.
// EventID lets consumers drop redeliveries; delivery is at-least-once and
// ordered per check only.
type EventMessage struct {
	EventID   string    `json:"event_id"`
	Type      string    `json:"event_type"`
	StoreID   string    `json:"store_id"`
	CheckID   string    `json:"check_id"`
	OrderID   string    `json:"order_id,omitempty"`
	LineID    string    `json:"line_id,omitempty"`
	Payload   string    `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Message converts a stored event into its wire form.
func (e *OrderEvent) Message() EventMessage {
	return EventMessage{
		EventID:   e.EventID,
		Type:      e.Type,
		StoreID:   e.StoreID,
		CheckID:   e.CheckID,
		OrderID:   e.OrderID,
		LineID:    e.LineID,
		Payload:   e.Payload,
		Timestamp: e.CreatedAt,
	}
}
