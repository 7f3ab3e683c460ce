package db

import (
	"context"
	"fmt"

	"pos-ledger/internal/models"

	"github.com/uptrace/bun"
)

// CreateTables creates the ledger schema from the bun models plus the
// indexes that carry the concurrency contract. Works on Postgres and on the
// in-memory SQLite used by tests; production deployments normally run the
// file-based migrations instead.
func CreateTables(ctx context.Context, bunDB *bun.DB) error {
	tableModels := []interface{}{
		(*models.Store)(nil),
		(*models.MenuItem)(nil),
		(*models.Check)(nil),
		(*models.Order)(nil),
		(*models.OrderLine)(nil),
		(*models.LineOption)(nil),
		(*models.Adjustment)(nil),
		(*models.Payment)(nil),
		(*models.PaymentAllocation)(nil),
		(*models.OrderEvent)(nil),
		(*models.UserStoreStats)(nil),
		(*models.RegularLevel)(nil),
		(*models.LevelHistory)(nil),
		(*models.BenefitIssue)(nil),
	}

	for _, model := range tableModels {
		if _, err := bunDB.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table failed: %w", err)
		}
	}

	// COALESCE in the open-check index because NULL owner columns would
	// otherwise never collide, defeating open-or-reuse.
	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_checks_one_open
		 ON checks (store_id, table_num, coalesce(user_id, ''), coalesce(guest_phone, ''))
		 WHERE status = 'open'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_stats_user_store
		 ON user_store_stats (user_id, store_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_benefit_once_per_promotion
		 ON benefit_issues (history_id, template_name)`,
		`CREATE INDEX IF NOT EXISTS idx_order_lines_check ON order_lines (check_id)`,
		`CREATE INDEX IF NOT EXISTS idx_order_events_check ON order_events (check_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_check ON payments (check_id)`,
		`CREATE INDEX IF NOT EXISTS idx_adjustments_check ON adjustments (check_id)`,
		`CREATE INDEX IF NOT EXISTS idx_adjustments_line ON adjustments (line_id)`,
	}

	for _, indexQuery := range indexes {
		if _, err := bunDB.ExecContext(ctx, indexQuery); err != nil {
			return fmt.Errorf("create index failed: %w", err)
		}
	}
	return nil
}
