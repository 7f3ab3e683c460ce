package db

import (
	"context"
	"fmt"
	"time"

	"pos-ledger/internal/ledger"
	"pos-ledger/internal/models"

	"github.com/uptrace/bun"
)

// ---------------- PAYMENTS ----------------

func (d *DB) GetPaymentByID(ctx context.Context, id string) (*models.Payment, error) {
	var payment models.Payment
	err := d.Bun.NewSelect().
		Model(&payment).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, wrapNotFound(err, "payment "+id)
	}
	return &payment, nil
}

func (d *DB) GetPaymentByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error) {
	var payment models.Payment
	err := d.Bun.NewSelect().
		Model(&payment).
		Where("idempotency_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, wrapNotFound(err, "payment by key")
	}
	return &payment, nil
}

func (d *DB) GetPaymentsByCheck(ctx context.Context, checkID string) ([]models.Payment, error) {
	var payments []models.Payment
	err := d.Bun.NewSelect().
		Model(&payments).
		Where("check_id = ?", checkID).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// SumPaid returns the check's settled total (paid minus refunded).
func (d *DB) SumPaid(ctx context.Context, checkID string) (int64, error) {
	return sumPaid(ctx, d.Bun, checkID)
}

// CountPaidPayments reports how many settled payments a check has. The
// loyalty engine uses it to count a visit only on the first payment.
func (d *DB) CountPaidPayments(ctx context.Context, checkID string) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Payment)(nil)).
		Where("check_id = ?", checkID).
		Where("status IN (?)", bun.In([]string{models.PaymentPaid, models.PaymentRefunded})).
		Count(ctx)
}

// CreateSettlement commits one payment atomically: the payment row, its line
// allocations, the revalidated outstanding balance, and, when the payment
// settles the check in full, the check close and the serving of every
// remaining line. A duplicate idempotency key aborts with a unique violation
// before any row lands.
func (d *DB) CreateSettlement(ctx context.Context, payment *models.Payment, allocations []models.PaymentAllocation, total int64, closeCheck bool, events []models.OrderEvent) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		paid, err := sumPaid(ctx, tx, payment.CheckID)
		if err != nil {
			return err
		}
		if payment.Status == models.PaymentPaid && paid+payment.Amount > total {
			return fmt.Errorf("payment of %d exceeds outstanding %d: %w",
				payment.Amount, total-paid, ledger.ErrConflict)
		}

		if _, err := tx.NewInsert().Model(payment).Exec(ctx); err != nil {
			return err
		}
		if len(allocations) > 0 {
			if _, err := tx.NewInsert().Model(&allocations).Exec(ctx); err != nil {
				return err
			}
		}

		if closeCheck {
			_, err := tx.NewUpdate().
				Model((*models.Check)(nil)).
				Set("status = ?", models.CheckClosed).
				Set("closed_at = ?", payment.PaidAt).
				Where("id = ?", payment.CheckID).
				Where("status = ?", models.CheckOpen).
				Exec(ctx)
			if err != nil {
				return err
			}
			_, err = tx.NewUpdate().
				Model((*models.OrderLine)(nil)).
				Set("status = ?", models.LineServed).
				Set("updated_at = ?", payment.PaidAt).
				Where("check_id = ?", payment.CheckID).
				Where("status != ?", models.LineCanceled).
				Where("status != ?", models.LineServed).
				Exec(ctx)
			if err != nil {
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

// GetAllocatedByLine sums settled allocations per line for one check. The
// payment processor uses it to spread an unallocated payment oldest-first
// over what each line still owes.
func (d *DB) GetAllocatedByLine(ctx context.Context, checkID string) (map[string]int64, error) {
	var rows []struct {
		LineID string `bun:"line_id"`
		Total  int64  `bun:"total"`
	}
	err := d.Bun.NewSelect().
		ColumnExpr("pa.line_id AS line_id").
		ColumnExpr("SUM(pa.amount) AS total").
		TableExpr("payment_allocations AS pa").
		Join("JOIN payments p ON p.id = pa.payment_id").
		Where("p.check_id = ?", checkID).
		Where("p.status IN (?)", bun.In([]string{models.PaymentPaid, models.PaymentRefunded})).
		GroupExpr("pa.line_id").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	result := make(map[string]int64, len(rows))
	for _, row := range rows {
		result[row.LineID] = row.Total
	}
	return result, nil
}

// GetAllocationsByPayment returns a payment's line allocations, oldest line
// first (insertion order).
func (d *DB) GetAllocationsByPayment(ctx context.Context, paymentID string) ([]models.PaymentAllocation, error) {
	var allocations []models.PaymentAllocation
	err := d.Bun.NewSelect().
		Model(&allocations).
		Where("payment_id = ?", paymentID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return allocations, nil
}

// ApplyRefund decrements allocations and bumps the payment's refunded amount
// in one transaction. The payment row itself is never deleted.
func (d *DB) ApplyRefund(ctx context.Context, payment *models.Payment, allocations []models.PaymentAllocation, event *models.OrderEvent) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewUpdate().
			Model(payment).
			Column("refunded_amount", "status").
			Where("id = ?", payment.ID).
			Exec(ctx)
		if err != nil {
			return err
		}
		for i := range allocations {
			_, err := tx.NewUpdate().
				Model(&allocations[i]).
				Column("amount").
				Where("id = ?", allocations[i].ID).
				Exec(ctx)
			if err != nil {
				return err
			}
		}
		_, err = tx.NewInsert().Model(event).Exec(ctx)
		return err
	})
}

// TouchPaymentStatus records a gateway-driven status change (authorized,
// failed) without touching amounts.
func (d *DB) TouchPaymentStatus(ctx context.Context, paymentID, status string, at time.Time) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Payment)(nil)).
		Set("status = ?", status).
		Set("paid_at = ?", at).
		Where("id = ?", paymentID).
		Exec(ctx)
	return err
}
