package loyalty

import "pos-ledger/internal/models"

// Evaluate scans tiers rank-descending and returns the first one whose own
// policy the stats satisfy, or nil when none match. Each level carries its
// own AND/OR policy, so a store can mix strict top tiers with easy entry
// tiers.
func Evaluate(levels []models.RegularLevel, stats *models.UserStoreStats) *models.RegularLevel {
	for i := range levels {
		if levels[i].Satisfied(stats) {
			return &levels[i]
		}
	}
	return nil
}

// AccruePoints converts spend into points at a basis-point rate, truncating
// toward zero. 100bp earns 1 point per 100 spent.
func AccruePoints(amount int64, accrualBP int) int64 {
	if amount <= 0 || accrualBP <= 0 {
		return 0
	}
	return amount * int64(accrualBP) / 10000
}
