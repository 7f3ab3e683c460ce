package db

import (
	"context"
	"time"

	"pos-ledger/internal/models"

	"github.com/uptrace/bun"
)

// ---------------- LOYALTY ----------------

func (d *DB) GetStats(ctx context.Context, userID, storeID string) (*models.UserStoreStats, error) {
	var stats models.UserStoreStats
	err := d.Bun.NewSelect().
		Model(&stats).
		Where("user_id = ?", userID).
		Where("store_id = ?", storeID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, wrapNotFound(err, "stats")
	}
	return &stats, nil
}

func (d *DB) InsertStats(ctx context.Context, stats *models.UserStoreStats) error {
	_, err := d.Bun.NewInsert().Model(stats).Exec(ctx)
	return err
}

// UpdateStats persists the accumulated counters. Callers hold the
// per-(user, store) lock, so read-then-update is safe here.
func (d *DB) UpdateStats(ctx context.Context, stats *models.UserStoreStats) error {
	_, err := d.Bun.NewUpdate().
		Model(stats).
		Column("points", "total_spent", "visit_count", "level_id", "level_assigned_at", "updated_at").
		Where("id = ?", stats.ID).
		Exec(ctx)
	return err
}

// ApplyLevelChange writes the new tier and its history row atomically.
func (d *DB) ApplyLevelChange(ctx context.Context, stats *models.UserStoreStats, history *models.LevelHistory) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewUpdate().
			Model(stats).
			Column("points", "total_spent", "visit_count", "level_id", "level_assigned_at", "updated_at").
			Where("id = ?", stats.ID).
			Exec(ctx)
		if err != nil {
			return err
		}
		_, err = tx.NewInsert().Model(history).Exec(ctx)
		return err
	})
}

// GetLevelsByStore returns a store's tier definitions ordered rank
// descending, the scan order tier evaluation requires.
func (d *DB) GetLevelsByStore(ctx context.Context, storeID string) ([]models.RegularLevel, error) {
	var levels []models.RegularLevel
	err := d.Bun.NewSelect().
		Model(&levels).
		Where("store_id = ?", storeID).
		Order("rank DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return levels, nil
}

func (d *DB) GetLevelByID(ctx context.Context, id string) (*models.RegularLevel, error) {
	var level models.RegularLevel
	err := d.Bun.NewSelect().
		Model(&level).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, wrapNotFound(err, "level "+id)
	}
	return &level, nil
}

// ---------------- BENEFITS ----------------

// BenefitExists reports whether a promotion already issued this template.
func (d *DB) BenefitExists(ctx context.Context, historyID, templateName string) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.BenefitIssue)(nil)).
		Where("history_id = ?", historyID).
		Where("template_name = ?", templateName).
		Exists(ctx)
}

func (d *DB) InsertBenefitIssue(ctx context.Context, issue *models.BenefitIssue) error {
	_, err := d.Bun.NewInsert().Model(issue).Exec(ctx)
	return err
}

// GetActiveBenefits returns the unused, unexpired benefits for a
// (user, store).
func (d *DB) GetActiveBenefits(ctx context.Context, userID, storeID string, now time.Time) ([]models.BenefitIssue, error) {
	var issues []models.BenefitIssue
	err := d.Bun.NewSelect().
		Model(&issues).
		Where("user_id = ?", userID).
		Where("store_id = ?", storeID).
		Where("used = ?", false).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("issued_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	if issues == nil {
		issues = []models.BenefitIssue{}
	}
	return issues, nil
}

func (d *DB) GetBenefitByID(ctx context.Context, id string) (*models.BenefitIssue, error) {
	var issue models.BenefitIssue
	err := d.Bun.NewSelect().
		Model(&issue).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, wrapNotFound(err, "benefit "+id)
	}
	return &issue, nil
}

// MarkBenefitUsed flips the usage flag exactly once.
func (d *DB) MarkBenefitUsed(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.BenefitIssue)(nil)).
		Set("used = ?", true).
		Set("used_at = ?", at).
		Where("id = ?", id).
		Where("used = ?", false).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
