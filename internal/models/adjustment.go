package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Adjustment scopes
const (
	ScopeCheck = "CHECK"
	ScopeLine  = "LINE"
)

// Adjustment kinds
const (
	AdjustCoupon    = "coupon"
	AdjustPromotion = "promotion"
	AdjustManual    = "manual"
	AdjustPoints    = "points"
)

// Adjustment value types
const (
	ValueAmount  = "amount"
	ValuePercent = "percent"
)

// Adjustment is a discount or surcharge scoped to either a whole check or a
// single line. Exactly one of CheckID / LineID is set; both set (or neither)
// is an integrity violation. Negative values are surcharges.
type Adjustment struct {
	bun.BaseModel `bun:"table:adjustments"`

	ID        string    `bun:"id,pk" json:"id"`
	Scope     string    `bun:"scope,notnull" json:"scope"`
	CheckID   string    `bun:"check_id,nullzero" json:"check_id,omitempty"`
	LineID    string    `bun:"line_id,nullzero" json:"line_id,omitempty"`
	Kind      string    `bun:"kind,notnull" json:"kind"`
	ValueType string    `bun:"value_type,notnull" json:"value_type"`
	Value     int64     `bun:"value,notnull" json:"value"`
	Label     string    `bun:"label" json:"label,omitempty"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}

// ValidScope reports whether exactly one scope reference is set and matches
// the declared scope.
func (a *Adjustment) ValidScope() bool {
	switch a.Scope {
	case ScopeCheck:
		return a.CheckID != "" && a.LineID == ""
	case ScopeLine:
		return a.LineID != "" && a.CheckID == ""
	default:
		return false
	}
}
