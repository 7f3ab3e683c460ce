package models

import "time"

// OpenCheckRequest opens or resumes a table session.
type OpenCheckRequest struct {
	StoreID    string `json:"store_id"`
	TableNum   int    `json:"table_num"`
	GuestPhone string `json:"guest_phone,omitempty"`
	Channel    string `json:"channel"`
	Source     string `json:"source"`
}

// SubmitOrderRequest is one client action submitting a batch of lines.
type SubmitOrderRequest struct {
	IdempotencyKey string            `json:"idempotency_key"`
	Source         string            `json:"source"`
	Actor          string            `json:"actor,omitempty"`
	Lines          []SubmitLineInput `json:"lines"`
}

// SubmitLineInput references a menu item; the price is snapshotted
// server-side, never trusted from the client.
type SubmitLineInput struct {
	MenuID  string              `json:"menu_id"`
	Qty     int                 `json:"qty"`
	Notes   string              `json:"notes,omitempty"`
	Options []SubmitOptionInput `json:"options,omitempty"`
}

type SubmitOptionInput struct {
	Name       string `json:"name"`
	PriceDelta int64  `json:"price_delta"`
}

// SubmitOrderResponse echoes the created (or replayed) batch.
type SubmitOrderResponse struct {
	OrderID string   `json:"order_id"`
	CheckID string   `json:"check_id"`
	LineIDs []string `json:"line_ids"`
}

// AdjustmentRequest attaches a discount or surcharge to a check or one of
// its lines.
type AdjustmentRequest struct {
	Scope     string `json:"scope"`
	LineID    string `json:"line_id,omitempty"`
	Kind      string `json:"kind"`
	ValueType string `json:"value_type"`
	Value     int64  `json:"value"`
	Label     string `json:"label,omitempty"`
}

// TransitionRequest moves a line through the kitchen workflow.
type TransitionRequest struct {
	NewStatus    string `json:"new_status"`
	Actor        string `json:"actor,omitempty"`
	CancelReason string `json:"cancel_reason,omitempty"`
}

// PayRequest settles (part of) a check. Token is the gateway payment-method
// reference for card payments; cash needs none.
type PayRequest struct {
	Method         string            `json:"method"`
	Amount         int64             `json:"amount"`
	IdempotencyKey string            `json:"idempotency_key"`
	Token          string            `json:"token,omitempty"`
	Allocations    []AllocationInput `json:"allocations,omitempty"`
}

// AllocationInput pins part of the payment to a specific line. When absent,
// the processor allocates oldest-first.
type AllocationInput struct {
	LineID string `json:"line_id"`
	Amount int64  `json:"amount"`
}

// PayResponse reports the (possibly replayed) payment.
type PayResponse struct {
	PaymentID   string `json:"payment_id"`
	Status      string `json:"status"`
	CheckClosed bool   `json:"check_closed"`
}

// RefundRequest reverses part of a paid payment.
type RefundRequest struct {
	Amount int64 `json:"amount"`
}

// AdjustmentView is the bill's breakdown entry for one adjustment.
type AdjustmentView struct {
	ID        string `json:"id"`
	Scope     string `json:"scope"`
	Kind      string `json:"kind"`
	ValueType string `json:"value_type"`
	Value     int64  `json:"value"`
	Label     string `json:"label,omitempty"`
	Applied   int64  `json:"applied"`
}

// Bill is the pricing engine's output for a check.
type Bill struct {
	CheckID     string           `json:"check_id"`
	Subtotal    int64            `json:"subtotal"`
	Adjustments []AdjustmentView `json:"adjustments"`
	Total       int64            `json:"total"`
	Paid        int64            `json:"paid"`
	Outstanding int64            `json:"outstanding"`
}

// LoyaltyStatus answers the loyalty query for a (user, store).
type LoyaltyStatus struct {
	UserID         string         `json:"user_id"`
	StoreID        string         `json:"store_id"`
	Tier           string         `json:"tier,omitempty"`
	TierRank       int            `json:"tier_rank"`
	Points         int64          `json:"points"`
	Spend          int64          `json:"spend"`
	Visits         int64          `json:"visits"`
	ActiveBenefits []BenefitIssue `json:"active_benefits"`
}

// BillSnapshot is the consistent read set the pricing engine computes from.
type BillSnapshot struct {
	Check       Check
	Lines       []LineWithOptions
	Adjustments []Adjustment
	PaidTotal   int64
}

// StationLine is the kitchen-display view of one queued/cooking line.
type StationLine struct {
	Line     OrderLine `json:"line"`
	TableNum int       `json:"table_num"`
	QueuedAt time.Time `json:"queued_at"`
}
