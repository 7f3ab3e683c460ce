package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Level evaluation policies
const (
	PolicyAnd = "AND"
	PolicyOr  = "OR"
)

// Benefit kinds. The payload fields that must be set depend on the kind, so
// malformed templates are caught by Validate instead of living in an untyped
// JSON blob.
const (
	BenefitDiscountPercent = "discount_percent"
	BenefitDiscountAmount  = "discount_amount"
	BenefitFreeItem        = "free_item"
)

// UserStoreStats is the per (user, store) loyalty accumulator. It is mutated
// only by the loyalty engine and only forward: points, spend and visits never
// decrease.
type UserStoreStats struct {
	bun.BaseModel `bun:"table:user_store_stats"`

	ID              string    `bun:"id,pk" json:"id"`
	UserID          string    `bun:"user_id,notnull" json:"user_id"`
	StoreID         string    `bun:"store_id,notnull" json:"store_id"`
	Points          int64     `bun:"points,notnull,default:0" json:"points"`
	TotalSpent      int64     `bun:"total_spent,notnull,default:0" json:"total_spent"`
	VisitCount      int64     `bun:"visit_count,notnull,default:0" json:"visit_count"`
	LevelID         string    `bun:"level_id,nullzero" json:"level_id,omitempty"`
	LevelAssignedAt time.Time `bun:"level_assigned_at,nullzero" json:"level_assigned_at,omitempty"`
	UpdatedAt       time.Time `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// RegularLevel is a per-store loyalty tier definition. Levels are immutable
// once referenced by history; new requirements get a new rank instead of an
// edit. Rank orders tiers, highest first during evaluation.
type RegularLevel struct {
	bun.BaseModel `bun:"table:regular_levels"`

	ID        string            `bun:"id,pk" json:"id"`
	StoreID   string            `bun:"store_id,notnull" json:"store_id"`
	Rank      int               `bun:"rank,notnull" json:"rank"`
	Name      string            `bun:"name,notnull" json:"name"`
	MinPoints int64             `bun:"min_points,notnull,default:0" json:"min_points"`
	MinSpent  int64             `bun:"min_spent,notnull,default:0" json:"min_spent"`
	MinVisits int64             `bun:"min_visits,notnull,default:0" json:"min_visits"`
	Policy    string            `bun:"policy,notnull" json:"policy"`
	Benefits  []BenefitTemplate `bun:"benefits,type:jsonb" json:"benefits"`
	CreatedAt time.Time         `bun:"created_at,notnull" json:"created_at"`
}

// Satisfied evaluates this level's own policy against the given stats.
// AND requires all three thresholds; OR requires any one.
func (l *RegularLevel) Satisfied(s *UserStoreStats) bool {
	points := s.Points >= l.MinPoints
	spent := s.TotalSpent >= l.MinSpent
	visits := s.VisitCount >= l.MinVisits
	if l.Policy == PolicyOr {
		return points || spent || visits
	}
	return points && spent && visits
}

// BenefitTemplate describes one benefit granted on reaching a level.
type BenefitTemplate struct {
	Kind            string `json:"kind"`
	Name            string `json:"name"`
	ExpiryDays      *int   `json:"expiry_days,omitempty"`
	DiscountPercent *int64 `json:"discount_percent,omitempty"`
	DiscountAmount  *int64 `json:"discount_amount,omitempty"`
	FreeMenuID      string `json:"free_menu_id,omitempty"`
}

// Validate checks that the payload matches the declared kind.
func (t *BenefitTemplate) Validate() bool {
	if t.Name == "" {
		return false
	}
	switch t.Kind {
	case BenefitDiscountPercent:
		return t.DiscountPercent != nil && *t.DiscountPercent > 0 && *t.DiscountPercent <= 100
	case BenefitDiscountAmount:
		return t.DiscountAmount != nil && *t.DiscountAmount > 0
	case BenefitFreeItem:
		return t.FreeMenuID != ""
	default:
		return false
	}
}

// LevelHistory is an append-only record of a tier transition.
type LevelHistory struct {
	bun.BaseModel `bun:"table:level_history"`

	ID          string    `bun:"id,pk" json:"id"`
	UserID      string    `bun:"user_id,notnull" json:"user_id"`
	StoreID     string    `bun:"store_id,notnull" json:"store_id"`
	FromLevelID string    `bun:"from_level_id,nullzero" json:"from_level_id,omitempty"`
	FromRank    int       `bun:"from_rank,notnull,default:0" json:"from_rank"`
	ToLevelID   string    `bun:"to_level_id,notnull" json:"to_level_id"`
	ToRank      int       `bun:"to_rank,notnull" json:"to_rank"`
	CreatedAt   time.Time `bun:"created_at,notnull" json:"created_at"`
}

// BenefitIssue is a concrete, expirable benefit instance granted on a
// promotion. (HistoryID, TemplateName) is unique so re-running the same
// promotion cannot duplicate issuance.
type BenefitIssue struct {
	bun.BaseModel `bun:"table:benefit_issues"`

	ID           string    `bun:"id,pk" json:"id"`
	UserID       string    `bun:"user_id,notnull" json:"user_id"`
	StoreID      string    `bun:"store_id,notnull" json:"store_id"`
	LevelID      string    `bun:"level_id,notnull" json:"level_id"`
	HistoryID    string    `bun:"history_id,notnull" json:"history_id"`
	TemplateName string    `bun:"template_name,notnull" json:"template_name"`
	Kind         string    `bun:"kind,notnull" json:"kind"`
	QRCode       []byte    `bun:"qr_code,type:bytea" json:"qr_code,omitempty"`
	IssuedAt     time.Time `bun:"issued_at,notnull" json:"issued_at"`
	ExpiresAt    time.Time `bun:"expires_at,nullzero" json:"expires_at,omitempty"`
	Used         bool      `bun:"used,notnull,default:false" json:"used"`
	UsedAt       time.Time `bun:"used_at,nullzero" json:"used_at,omitempty"`
}

// Usable reports whether the benefit can still be redeemed at the given time.
func (b *BenefitIssue) Usable(now time.Time) bool {
	if b.Used {
		return false
	}
	if !b.ExpiresAt.IsZero() && now.After(b.ExpiresAt) {
		return false
	}
	return true
}
