package db

import (
	"context"

	"pos-ledger/internal/models"
)

// ---------------- EVENT LOG ----------------

// AppendEvent writes one audit fact. The log is append-only; there is no
// update or delete path.
func (d *DB) AppendEvent(ctx context.Context, event *models.OrderEvent) error {
	_, err := d.Bun.NewInsert().Model(event).Exec(ctx)
	return err
}

// GetEventsByCheck replays a check's history in commit order.
func (d *DB) GetEventsByCheck(ctx context.Context, checkID string) ([]models.OrderEvent, error) {
	var events []models.OrderEvent
	err := d.Bun.NewSelect().
		Model(&events).
		Where("check_id = ?", checkID).
		Order("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return events, nil
}
