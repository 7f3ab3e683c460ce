package loyalty

import (
	"testing"

	"pos-ledger/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestEvaluatePicksHighestSatisfiedRank(t *testing.T) {
	levels := []models.RegularLevel{
		{ID: "gold", Rank: 3, MinPoints: 1000, MinSpent: 500000, MinVisits: 20, Policy: models.PolicyAnd},
		{ID: "silver", Rank: 2, MinPoints: 200, MinSpent: 100000, MinVisits: 5, Policy: models.PolicyAnd},
		{ID: "bronze", Rank: 1, MinPoints: 50, MinSpent: 999999, MinVisits: 99, Policy: models.PolicyOr},
	}

	stats := &models.UserStoreStats{Points: 250, TotalSpent: 120000, VisitCount: 6}
	got := Evaluate(levels, stats)
	assert.NotNil(t, got)
	assert.Equal(t, "silver", got.ID)

	stats = &models.UserStoreStats{Points: 60}
	got = Evaluate(levels, stats)
	assert.NotNil(t, got)
	assert.Equal(t, "bronze", got.ID)

	stats = &models.UserStoreStats{Points: 10}
	assert.Nil(t, Evaluate(levels, stats))
}

func TestEvaluateHonorsEachLevelsOwnPolicy(t *testing.T) {
	levels := []models.RegularLevel{
		{ID: "gold", Rank: 2, MinPoints: 500, MinSpent: 200000, MinVisits: 15, Policy: models.PolicyAnd},
		{ID: "silver", Rank: 1, MinPoints: 100, MinSpent: 50000, MinVisits: 5, Policy: models.PolicyOr},
	}

	// Enough points and visits for gold, not enough spend: gold's AND fails
	// while silver's OR passes on any one threshold.
	stats := &models.UserStoreStats{Points: 600, TotalSpent: 60000, VisitCount: 20}
	got := Evaluate(levels, stats)
	assert.NotNil(t, got)
	assert.Equal(t, "silver", got.ID)
}

func TestAccruePointsTruncates(t *testing.T) {
	assert.Equal(t, int64(100), AccruePoints(10000, 100))
	assert.Equal(t, int64(1), AccruePoints(199, 100))
	assert.Equal(t, int64(0), AccruePoints(99, 100))
	assert.Equal(t, int64(0), AccruePoints(-500, 100))
	assert.Equal(t, int64(0), AccruePoints(10000, 0))
}
