// Package catalog is the ledger's narrow view of the menu service. The
// ledger reads items only at order submission to snapshot prices; it never
// writes the catalog.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pos-ledger/internal/ledger"
	"pos-ledger/internal/models"

	"github.com/uptrace/bun"
)

// Catalog resolves menu ids to their current name, price and cook station.
type Catalog interface {
	GetMenuItem(ctx context.Context, menuID string) (*models.MenuItem, error)
	GetStore(ctx context.Context, storeID string) (*models.Store, error)
}

// BunCatalog reads the shared menu tables directly. A deployment that splits
// the catalog into its own service swaps this for an HTTP client behind the
// same interface.
type BunCatalog struct {
	Bun *bun.DB
}

func NewBunCatalog(bunDB *bun.DB) *BunCatalog {
	return &BunCatalog{Bun: bunDB}
}

func (c *BunCatalog) GetMenuItem(ctx context.Context, menuID string) (*models.MenuItem, error) {
	var item models.MenuItem
	err := c.Bun.NewSelect().
		Model(&item).
		Where("id = ?", menuID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("menu item %s: %w", menuID, ledger.ErrNotFound)
		}
		return nil, fmt.Errorf("catalog lookup failed: %w", ledger.ErrDependency)
	}
	return &item, nil
}

func (c *BunCatalog) GetStore(ctx context.Context, storeID string) (*models.Store, error) {
	var store models.Store
	err := c.Bun.NewSelect().
		Model(&store).
		Where("id = ?", storeID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store %s: %w", storeID, ledger.ErrNotFound)
		}
		return nil, fmt.Errorf("store lookup failed: %w", ledger.ErrDependency)
	}
	return &store, nil
}
