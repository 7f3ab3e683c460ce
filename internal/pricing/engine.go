package pricing

import (
	"context"

	"pos-ledger/internal/models"
)

// DBLayer is the read surface the engine needs: one consistent snapshot per
// computation.
type DBLayer interface {
	GetBillSnapshot(ctx context.Context, checkID string) (*models.BillSnapshot, error)
}

// Engine wraps Calculate with snapshot loading. Safe to call repeatedly and
// concurrently; it holds no state and takes no locks.
type Engine struct {
	DB DBLayer
}

func NewEngine(db DBLayer) *Engine {
	return &Engine{DB: db}
}

// ComputeBill prices a check from a consistent read snapshot.
func (e *Engine) ComputeBill(ctx context.Context, checkID string) (*models.Bill, error) {
	snap, err := e.DB.GetBillSnapshot(ctx, checkID)
	if err != nil {
		return nil, err
	}
	return Calculate(snap)
}
