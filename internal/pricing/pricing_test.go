package pricing

import (
	"testing"

	"pos-ledger/internal/ledger"
	"pos-ledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotFixture() *models.BillSnapshot {
	return &models.BillSnapshot{
		Check: models.Check{ID: "chk-1", StoreID: "store-1", Status: models.CheckOpen},
		Lines: []models.LineWithOptions{
			{
				Line: models.OrderLine{ID: "line-a", CheckID: "chk-1", Quantity: 2, UnitPrice: 6000, Status: models.LineQueued},
				Options: []models.LineOption{
					{ID: "opt-1", LineID: "line-a", Name: "extra cheese", PriceDelta: 500},
				},
			},
			{
				Line:    models.OrderLine{ID: "line-b", CheckID: "chk-1", Quantity: 1, UnitPrice: 10000, Status: models.LineCooking},
				Options: []models.LineOption{},
			},
		},
		Adjustments: []models.Adjustment{
			{ID: "adj-1", Scope: models.ScopeLine, LineID: "line-a", Kind: models.AdjustCoupon, ValueType: models.ValueAmount, Value: 1000},
			{ID: "adj-2", Scope: models.ScopeLine, LineID: "line-b", Kind: models.AdjustPromotion, ValueType: models.ValuePercent, Value: 10},
			{ID: "adj-3", Scope: models.ScopeCheck, CheckID: "chk-1", Kind: models.AdjustPoints, ValueType: models.ValueAmount, Value: 500},
			{ID: "adj-4", Scope: models.ScopeCheck, CheckID: "chk-1", Kind: models.AdjustManual, ValueType: models.ValuePercent, Value: 5},
		},
	}
}

func TestCalculateAppliesAdjustmentsInFixedOrder(t *testing.T) {
	bill, err := Calculate(snapshotFixture())
	require.NoError(t, err)

	// (6000+500)*2 + 10000
	assert.Equal(t, int64(23000), bill.Subtotal)

	// line amount 1000, line percent 10% of 10000 = 1000,
	// check amount 500, check percent 5% of (23000-2000) = 1050
	assert.Equal(t, int64(23000-1000-1000-500-1050), bill.Total)
	assert.Equal(t, bill.Total, bill.Outstanding)

	require.Len(t, bill.Adjustments, 4)
	assert.Equal(t, "adj-1", bill.Adjustments[0].ID)
	assert.Equal(t, "adj-2", bill.Adjustments[1].ID)
	assert.Equal(t, "adj-3", bill.Adjustments[2].ID)
	assert.Equal(t, "adj-4", bill.Adjustments[3].ID)
	assert.Equal(t, int64(1000), bill.Adjustments[1].Applied)
	assert.Equal(t, int64(1050), bill.Adjustments[3].Applied)
}

func TestCalculateMixedScopeDiscounts(t *testing.T) {
	snap := &models.BillSnapshot{
		Check: models.Check{ID: "chk-2", StoreID: "store-1", Status: models.CheckOpen},
		Lines: []models.LineWithOptions{
			{Line: models.OrderLine{ID: "line-x", CheckID: "chk-2", Quantity: 1, UnitPrice: 8000, Status: models.LineServed}},
			{Line: models.OrderLine{ID: "line-y", CheckID: "chk-2", Quantity: 1, UnitPrice: 15000, Status: models.LineServed}},
		},
		Adjustments: []models.Adjustment{
			{ID: "adj-line", Scope: models.ScopeLine, LineID: "line-y", Kind: models.AdjustPromotion, ValueType: models.ValuePercent, Value: 10},
			{ID: "adj-check", Scope: models.ScopeCheck, CheckID: "chk-2", Kind: models.AdjustCoupon, ValueType: models.ValueAmount, Value: 2000},
		},
	}

	bill, err := Calculate(snap)
	require.NoError(t, err)
	assert.Equal(t, int64(23000), bill.Subtotal)
	// 10% of the 15000 line, then 2000 off the check.
	assert.Equal(t, int64(19500), bill.Total)
}

func TestCalculateIsPure(t *testing.T) {
	snap := snapshotFixture()
	first, err := Calculate(snap)
	require.NoError(t, err)
	second, err := Calculate(snap)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCalculateExcludesCanceledLines(t *testing.T) {
	snap := snapshotFixture()
	snap.Lines[1].Line.Status = models.LineCanceled

	bill, err := Calculate(snap)
	require.NoError(t, err)

	// Only line-a counts, and line-b's percent adjustment no longer applies.
	assert.Equal(t, int64(13000), bill.Subtotal)
	for _, adj := range bill.Adjustments {
		assert.NotEqual(t, "adj-2", adj.ID)
	}
}

func TestCalculateFloorsTotalAtZero(t *testing.T) {
	snap := snapshotFixture()
	snap.Adjustments = append(snap.Adjustments, models.Adjustment{
		ID: "adj-big", Scope: models.ScopeCheck, CheckID: "chk-1",
		Kind: models.AdjustCoupon, ValueType: models.ValueAmount, Value: 100000,
	})

	bill, err := Calculate(snap)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bill.Total)
	assert.Equal(t, int64(0), bill.Outstanding)
}

func TestCalculateSubtractsPaid(t *testing.T) {
	snap := snapshotFixture()
	snap.PaidTotal = 10000

	bill, err := Calculate(snap)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), bill.Paid)
	assert.Equal(t, bill.Total-10000, bill.Outstanding)
}

func TestCalculateRejectsInvalidScope(t *testing.T) {
	snap := snapshotFixture()
	snap.Adjustments[0].CheckID = "chk-1" // both references set

	_, err := Calculate(snap)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrIntegrity)
}

func TestRoundPercentRoundsHalfUp(t *testing.T) {
	assert.Equal(t, int64(50), roundPercent(999, 5))  // 49.95 -> 50
	assert.Equal(t, int64(49), roundPercent(989, 5))  // 49.45 -> 49
	assert.Equal(t, int64(0), roundPercent(0, 10))
	assert.Equal(t, int64(100), roundPercent(1000, 10))
}

func TestCalculateEmptyCheck(t *testing.T) {
	bill, err := Calculate(&models.BillSnapshot{
		Check: models.Check{ID: "chk-empty", Status: models.CheckOpen},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), bill.Subtotal)
	assert.Equal(t, int64(0), bill.Total)
	assert.Empty(t, bill.Adjustments)
}
