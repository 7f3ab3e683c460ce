package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pos-ledger/internal/ledger"
	"pos-ledger/internal/models"

	"github.com/uptrace/bun"
)

// DB is the durable, transactional ledger store. Every mutating method that
// spans more than one row runs inside a single bun transaction scoped to one
// check, so operations against different checks never block each other.
type DB struct {
	Bun *bun.DB
}

func New(bunDB *bun.DB) *DB {
	return &DB{Bun: bunDB}
}

func wrapNotFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ledger.ErrNotFound)
	}
	return err
}

// ---------------- CHECKS ----------------

func (d *DB) GetCheckByID(ctx context.Context, id string) (*models.Check, error) {
	var check models.Check
	err := d.Bun.NewSelect().
		Model(&check).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, wrapNotFound(err, "check "+id)
	}
	return &check, nil
}

// GetOpenCheck finds the open check for a (store, table, owner) combination,
// the unit of dine-in session resumption.
func (d *DB) GetOpenCheck(ctx context.Context, storeID string, tableNum int, owner models.Owner) (*models.Check, error) {
	var check models.Check
	q := d.Bun.NewSelect().
		Model(&check).
		Where("store_id = ?", storeID).
		Where("table_num = ?", tableNum).
		Where("status = ?", models.CheckOpen)
	if owner.UserID != "" {
		q = q.Where("user_id = ?", owner.UserID)
	} else {
		q = q.Where("user_id IS NULL")
	}
	if owner.GuestPhone != "" {
		q = q.Where("guest_phone = ?", owner.GuestPhone)
	} else {
		q = q.Where("guest_phone IS NULL")
	}
	err := q.Limit(1).Scan(ctx)
	if err != nil {
		return nil, wrapNotFound(err, "open check")
	}
	return &check, nil
}

// CreateCheck inserts a new check and its opening event in one transaction.
// The partial unique index on open checks makes concurrent opens race; the
// loser gets a unique violation and must re-read the winner's row.
func (d *DB) CreateCheck(ctx context.Context, check *models.Check, event *models.OrderEvent) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(check).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(event).Exec(ctx)
		return err
	})
}

// CloseCheck sets the final status and timestamp and appends the closing
// event. Checks are never deleted.
func (d *DB) CloseCheck(ctx context.Context, checkID, status string, closedAt time.Time, event *models.OrderEvent) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Check)(nil)).
			Set("status = ?", status).
			Set("closed_at = ?", closedAt).
			Where("id = ?", checkID).
			Where("status = ?", models.CheckOpen).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("check %s is not open: %w", checkID, ledger.ErrConflict)
		}
		_, err = tx.NewInsert().Model(event).Exec(ctx)
		return err
	})
}

// ---------------- ORDERS & LINES ----------------

func (d *DB) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("idempotency_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, wrapNotFound(err, "order by key")
	}
	return &order, nil
}

func (d *DB) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, wrapNotFound(err, "order "+id)
	}
	return &order, nil
}

// CreateOrderBatch inserts an order, its snapshot-priced lines, their options
// and the batch's events (ORDER_CREATED plus one LINE_QUEUED per line)
// atomically. A unique violation on the idempotency key aborts the whole
// batch; the caller then returns the prior committed result.
func (d *DB) CreateOrderBatch(ctx context.Context, order *models.Order, lines []models.OrderLine, options []models.LineOption, events []models.OrderEvent) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return err
		}
		if len(lines) > 0 {
			if _, err := tx.NewInsert().Model(&lines).Exec(ctx); err != nil {
				return err
			}
		}
		if len(options) > 0 {
			if _, err := tx.NewInsert().Model(&options).Exec(ctx); err != nil {
				return err
			}
		}
		for i := range events {
			if _, err := tx.NewInsert().Model(&events[i]).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *DB) GetLineByID(ctx context.Context, id string) (*models.OrderLine, error) {
	var line models.OrderLine
	err := d.Bun.NewSelect().
		Model(&line).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, wrapNotFound(err, "line "+id)
	}
	return &line, nil
}

func (d *DB) GetLinesByOrder(ctx context.Context, orderID string) ([]models.OrderLine, error) {
	var lines []models.OrderLine
	err := d.Bun.NewSelect().
		Model(&lines).
		Where("order_id = ?", orderID).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// UpdateLineStatus persists a validated kitchen transition together with its
// audit event.
func (d *DB) UpdateLineStatus(ctx context.Context, line *models.OrderLine, event *models.OrderEvent) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewUpdate().
			Model(line).
			Column("status", "cancel_reason", "updated_at").
			Where("id = ?", line.ID).
			Exec(ctx)
		if err != nil {
			return err
		}
		_, err = tx.NewInsert().Model(event).Exec(ctx)
		return err
	})
}

// GetLinesWithOptionsByCheck loads every line of a check with its options,
// oldest first.
func (d *DB) GetLinesWithOptionsByCheck(ctx context.Context, checkID string) ([]models.LineWithOptions, error) {
	var lines []models.OrderLine
	err := d.Bun.NewSelect().
		Model(&lines).
		Where("check_id = ?", checkID).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return []models.LineWithOptions{}, nil
	}

	lineIDs := make([]string, len(lines))
	for i, line := range lines {
		lineIDs[i] = line.ID
	}

	var options []models.LineOption
	err = d.Bun.NewSelect().
		Model(&options).
		Where("line_id IN (?)", bun.In(lineIDs)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	optionsByLine := make(map[string][]models.LineOption)
	for _, opt := range options {
		optionsByLine[opt.LineID] = append(optionsByLine[opt.LineID], opt)
	}

	result := make([]models.LineWithOptions, len(lines))
	for i, line := range lines {
		result[i] = models.LineWithOptions{
			Line:    line,
			Options: optionsByLine[line.ID],
		}
		if result[i].Options == nil {
			result[i].Options = []models.LineOption{}
		}
	}
	return result, nil
}

// GetStationLines returns the queued and cooking lines for one cook station,
// the kitchen display's work queue.
func (d *DB) GetStationLines(ctx context.Context, storeID, station string) ([]models.StationLine, error) {
	var lines []models.OrderLine
	err := d.Bun.NewSelect().
		Model(&lines).
		Join("JOIN checks c ON c.id = order_line.check_id").
		Where("c.store_id = ?", storeID).
		Where("order_line.cook_station = ?", station).
		Where("order_line.status IN (?)", bun.In([]string{models.LineQueued, models.LineCooking})).
		Order("order_line.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]models.StationLine, 0, len(lines))
	for _, line := range lines {
		check, err := d.GetCheckByID(ctx, line.CheckID)
		if err != nil {
			return nil, err
		}
		result = append(result, models.StationLine{
			Line:     line,
			TableNum: check.TableNum,
			QueuedAt: line.CreatedAt,
		})
	}
	return result, nil
}

// ---------------- ADJUSTMENTS ----------------

func (d *DB) CreateAdjustment(ctx context.Context, adj *models.Adjustment) error {
	if !adj.ValidScope() {
		return fmt.Errorf("adjustment %s has invalid scope: %w", adj.ID, ledger.ErrIntegrity)
	}
	_, err := d.Bun.NewInsert().Model(adj).Exec(ctx)
	return err
}

// GetAdjustmentsForCheck returns check-scoped adjustments plus line-scoped
// ones belonging to the check's lines.
func (d *DB) GetAdjustmentsForCheck(ctx context.Context, checkID string, lineIDs []string) ([]models.Adjustment, error) {
	var adjustments []models.Adjustment
	q := d.Bun.NewSelect().
		Model(&adjustments).
		Order("created_at ASC", "id ASC")
	if len(lineIDs) > 0 {
		q = q.Where("check_id = ? OR line_id IN (?)", checkID, bun.In(lineIDs))
	} else {
		q = q.Where("check_id = ?", checkID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return adjustments, nil
}

// GetBillSnapshot reads everything the pricing engine needs in one read-only
// transaction so the computed bill reflects a consistent state.
func (d *DB) GetBillSnapshot(ctx context.Context, checkID string) (*models.BillSnapshot, error) {
	var snap models.BillSnapshot
	err := d.Bun.RunInTx(ctx, &sql.TxOptions{ReadOnly: true}, func(ctx context.Context, tx bun.Tx) error {
		var check models.Check
		if err := tx.NewSelect().Model(&check).Where("id = ?", checkID).Limit(1).Scan(ctx); err != nil {
			return wrapNotFound(err, "check "+checkID)
		}
		snap.Check = check

		var lines []models.OrderLine
		if err := tx.NewSelect().
			Model(&lines).
			Where("check_id = ?", checkID).
			Order("created_at ASC", "id ASC").
			Scan(ctx); err != nil {
			return err
		}

		lineIDs := make([]string, len(lines))
		for i, line := range lines {
			lineIDs[i] = line.ID
		}

		optionsByLine := make(map[string][]models.LineOption)
		if len(lineIDs) > 0 {
			var options []models.LineOption
			if err := tx.NewSelect().
				Model(&options).
				Where("line_id IN (?)", bun.In(lineIDs)).
				Scan(ctx); err != nil {
				return err
			}
			for _, opt := range options {
				optionsByLine[opt.LineID] = append(optionsByLine[opt.LineID], opt)
			}
		}

		snap.Lines = make([]models.LineWithOptions, len(lines))
		for i, line := range lines {
			snap.Lines[i] = models.LineWithOptions{Line: line, Options: optionsByLine[line.ID]}
			if snap.Lines[i].Options == nil {
				snap.Lines[i].Options = []models.LineOption{}
			}
		}

		var adjustments []models.Adjustment
		q := tx.NewSelect().
			Model(&adjustments).
			Order("created_at ASC", "id ASC")
		if len(lineIDs) > 0 {
			q = q.Where("check_id = ? OR line_id IN (?)", checkID, bun.In(lineIDs))
		} else {
			q = q.Where("check_id = ?", checkID)
		}
		if err := q.Scan(ctx); err != nil {
			return err
		}
		snap.Adjustments = adjustments

		paid, err := sumPaid(ctx, tx, checkID)
		if err != nil {
			return err
		}
		snap.PaidTotal = paid
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func sumPaid(ctx context.Context, idb bun.IDB, checkID string) (int64, error) {
	var paid sql.NullInt64
	err := idb.NewSelect().
		ColumnExpr("SUM(amount - refunded_amount)").
		Table("payments").
		Where("check_id = ?", checkID).
		Where("status IN (?)", bun.In([]string{models.PaymentPaid, models.PaymentRefunded})).
		Scan(ctx, &paid)
	if err != nil {
		return 0, err
	}
	return paid.Int64, nil
}
