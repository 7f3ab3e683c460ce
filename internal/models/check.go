package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Check statuses
const (
	CheckOpen     = "open"
	CheckClosed   = "closed"
	CheckCanceled = "canceled"
)

// Check channels
const (
	ChannelDineIn   = "dine_in"
	ChannelTakeout  = "takeout"
	ChannelDelivery = "delivery"
)

// Check is a table session: the billing unit that aggregates orders,
// adjustments and payments. Checks are never deleted; closing or voiding
// only flips the status.
type Check struct {
	bun.BaseModel `bun:"table:checks"`

	ID         string    `bun:"id,pk" json:"id"`
	StoreID    string    `bun:"store_id,notnull" json:"store_id"`
	TableNum   int       `bun:"table_num" json:"table_num"`
	UserID     string    `bun:"user_id,nullzero" json:"user_id,omitempty"`
	GuestPhone string    `bun:"guest_phone,nullzero" json:"guest_phone,omitempty"`
	Channel    string    `bun:"channel,notnull" json:"channel"`
	Source     string    `bun:"source,notnull" json:"source"`
	Status     string    `bun:"status,notnull" json:"status"`
	OpenedAt   time.Time `bun:"opened_at,notnull" json:"opened_at"`
	ClosedAt   time.Time `bun:"closed_at,nullzero" json:"closed_at,omitempty"`
}

// Owner returns the identity the check is keyed on for session resumption.
// A check is owned by a registered user, a guest phone, or nobody.
func (c *Check) Owner() Owner {
	return Owner{UserID: c.UserID, GuestPhone: c.GuestPhone}
}

// Owner identifies who a check belongs to. At most one field is set.
type Owner struct {
	UserID     string `json:"user_id,omitempty"`
	GuestPhone string `json:"guest_phone,omitempty"`
}

func (o Owner) IsUser() bool  { return o.UserID != "" }
func (o Owner) IsGuest() bool { return o.UserID == "" && o.GuestPhone != "" }
func (o Owner) IsNone() bool  { return o.UserID == "" && o.GuestPhone == "" }

// Valid reports whether at most one identity field is set.
func (o Owner) Valid() bool {
	return !(o.UserID != "" && o.GuestPhone != "")
}
