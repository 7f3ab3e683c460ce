package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Store holds the slice of store configuration the ledger needs. Catalog CRUD
// lives elsewhere; the ledger only reads.
type Store struct {
	bun.BaseModel `bun:"table:stores"`

	ID        string    `bun:"id,pk" json:"id"`
	Name      string    `bun:"name" json:"name"`
	IsOpen    bool      `bun:"is_open,notnull,default:true" json:"is_open"`
	AccrualBP int       `bun:"accrual_bp,notnull,default:0" json:"accrual_bp"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}

// MenuItem is the catalog view consumed at order submission to snapshot
// prices and route lines to cook stations.
type MenuItem struct {
	bun.BaseModel `bun:"table:menu_items"`

	ID          string `bun:"id,pk" json:"id"`
	StoreID     string `bun:"store_id,notnull" json:"store_id"`
	Category    string `bun:"category" json:"category,omitempty"`
	Name        string `bun:"name,notnull" json:"name"`
	Price       int64  `bun:"price,notnull" json:"price"`
	CookStation string `bun:"cook_station" json:"cook_station,omitempty"`
	IsAvailable bool   `bun:"is_available,notnull,default:true" json:"is_available"`
}
