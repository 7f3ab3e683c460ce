package loyalty_test

import (
	"context"
	"testing"
	"time"

	"pos-ledger/internal/ledger"
	"pos-ledger/internal/logger"
	"pos-ledger/internal/loyalty"
	"pos-ledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock implementations

type MockDBLayer struct {
	mock.Mock
}

func (m *MockDBLayer) GetStats(ctx context.Context, userID, storeID string) (*models.UserStoreStats, error) {
	args := m.Called(ctx, userID, storeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserStoreStats), args.Error(1)
}

func (m *MockDBLayer) InsertStats(ctx context.Context, stats *models.UserStoreStats) error {
	args := m.Called(ctx, stats)
	return args.Error(0)
}

func (m *MockDBLayer) UpdateStats(ctx context.Context, stats *models.UserStoreStats) error {
	args := m.Called(ctx, stats)
	return args.Error(0)
}

func (m *MockDBLayer) ApplyLevelChange(ctx context.Context, stats *models.UserStoreStats, history *models.LevelHistory) error {
	args := m.Called(ctx, stats, history)
	return args.Error(0)
}

func (m *MockDBLayer) GetLevelsByStore(ctx context.Context, storeID string) ([]models.RegularLevel, error) {
	args := m.Called(ctx, storeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.RegularLevel), args.Error(1)
}

func (m *MockDBLayer) GetLevelByID(ctx context.Context, id string) (*models.RegularLevel, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RegularLevel), args.Error(1)
}

func (m *MockDBLayer) CountPaidPayments(ctx context.Context, checkID string) (int, error) {
	args := m.Called(ctx, checkID)
	return args.Int(0), args.Error(1)
}

func (m *MockDBLayer) GetActiveBenefits(ctx context.Context, userID, storeID string, now time.Time) ([]models.BenefitIssue, error) {
	args := m.Called(ctx, userID, storeID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.BenefitIssue), args.Error(1)
}

func (m *MockDBLayer) AppendEvent(ctx context.Context, event *models.OrderEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type MockIssuerDB struct {
	mock.Mock
}

func (m *MockIssuerDB) BenefitExists(ctx context.Context, historyID, templateName string) (bool, error) {
	args := m.Called(ctx, historyID, templateName)
	return args.Bool(0), args.Error(1)
}

func (m *MockIssuerDB) InsertBenefitIssue(ctx context.Context, issue *models.BenefitIssue) error {
	args := m.Called(ctx, issue)
	return args.Error(0)
}

func (m *MockIssuerDB) GetBenefitByID(ctx context.Context, id string) (*models.BenefitIssue, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BenefitIssue), args.Error(1)
}

func (m *MockIssuerDB) MarkBenefitUsed(ctx context.Context, id string, at time.Time) (bool, error) {
	args := m.Called(ctx, id, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockIssuerDB) AppendEvent(ctx context.Context, event *models.OrderEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) GetMenuItem(ctx context.Context, menuID string) (*models.MenuItem, error) {
	args := m.Called(ctx, menuID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MenuItem), args.Error(1)
}

func (m *MockCatalog) GetStore(ctx context.Context, storeID string) (*models.Store, error) {
	args := m.Called(ctx, storeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Store), args.Error(1)
}

type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) LockLoyalty(ctx context.Context, userID, storeID, token string) (bool, error) {
	args := m.Called(ctx, userID, storeID, token)
	return args.Bool(0), args.Error(1)
}

func (m *MockLocker) UnlockLoyalty(ctx context.Context, userID, storeID, token string) error {
	args := m.Called(ctx, userID, storeID, token)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(event models.EventMessage) {
	m.Called(event)
}

func newTestService(db *MockDBLayer, issuerDB *MockIssuerDB, cat *MockCatalog, locks *MockLocker, pub *MockPublisher) *loyalty.Service {
	log := logger.NewLogger()
	issuer := loyalty.NewIssuer(issuerDB, pub, log)
	return loyalty.NewService(db, cat, locks, pub, issuer, log, 100)
}

func expectLockedStats(locks *MockLocker, userID, storeID string) {
	locks.On("LockLoyalty", mock.Anything, userID, storeID, mock.Anything).Return(true, nil)
	locks.On("UnlockLoyalty", mock.Anything, userID, storeID, mock.Anything).Return(nil)
}

// Tests start here

func TestGuestCheckEarnsNothing(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockLocks := new(MockLocker)
	svc := newTestService(mockDB, new(MockIssuerDB), new(MockCatalog), mockLocks, new(MockPublisher))

	chk := &models.Check{ID: "chk-1", StoreID: "store-1", UserID: "", GuestPhone: "010-1234-5678"}
	svc.OnPaymentCompleted(context.Background(), chk, &models.Payment{ID: "pay-1", Amount: 10000})

	mockLocks.AssertNotCalled(t, "LockLoyalty", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	mockDB.AssertNotCalled(t, "GetStats", mock.Anything, mock.Anything, mock.Anything)
}

func TestAccrualUsesStoreRateAndCountsFirstSettlement(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockCat := new(MockCatalog)
	mockLocks := new(MockLocker)
	svc := newTestService(mockDB, new(MockIssuerDB), mockCat, mockLocks, new(MockPublisher))

	chk := &models.Check{ID: "chk-1", StoreID: "store-1", UserID: "user-1"}
	stats := &models.UserStoreStats{ID: "st-1", UserID: "user-1", StoreID: "store-1", Points: 50, TotalSpent: 20000, VisitCount: 3}

	expectLockedStats(mockLocks, "user-1", "store-1")
	mockDB.On("GetStats", mock.Anything, "user-1", "store-1").Return(stats, nil)
	mockCat.On("GetStore", mock.Anything, "store-1").Return(&models.Store{ID: "store-1", AccrualBP: 200}, nil)
	mockDB.On("CountPaidPayments", mock.Anything, "chk-1").Return(1, nil)
	mockDB.On("GetLevelsByStore", mock.Anything, "store-1").Return([]models.RegularLevel{}, nil)
	mockDB.On("UpdateStats", mock.Anything, stats).Return(nil)

	svc.OnPaymentCompleted(context.Background(), chk, &models.Payment{ID: "pay-1", Amount: 10000})

	// 200bp on 10000 is 200 points.
	assert.Equal(t, int64(250), stats.Points)
	assert.Equal(t, int64(30000), stats.TotalSpent)
	assert.Equal(t, int64(4), stats.VisitCount)
	mockDB.AssertExpectations(t)
}

func TestSecondSettlementIsNotAnotherVisit(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockCat := new(MockCatalog)
	mockLocks := new(MockLocker)
	svc := newTestService(mockDB, new(MockIssuerDB), mockCat, mockLocks, new(MockPublisher))

	chk := &models.Check{ID: "chk-1", StoreID: "store-1", UserID: "user-1"}
	stats := &models.UserStoreStats{ID: "st-1", UserID: "user-1", StoreID: "store-1", VisitCount: 3}

	expectLockedStats(mockLocks, "user-1", "store-1")
	mockDB.On("GetStats", mock.Anything, "user-1", "store-1").Return(stats, nil)
	mockCat.On("GetStore", mock.Anything, "store-1").Return(nil, ledger.ErrNotFound)
	mockDB.On("CountPaidPayments", mock.Anything, "chk-1").Return(2, nil)
	mockDB.On("GetLevelsByStore", mock.Anything, "store-1").Return([]models.RegularLevel{}, nil)
	mockDB.On("UpdateStats", mock.Anything, stats).Return(nil)

	svc.OnPaymentCompleted(context.Background(), chk, &models.Payment{ID: "pay-1", Amount: 5000})

	assert.Equal(t, int64(3), stats.VisitCount)
	// Default 100bp rate when the store lookup has no override.
	assert.Equal(t, int64(50), stats.Points)
}

func TestPromotionRecordsHistoryAndIssuesBenefits(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockIssuerDB := new(MockIssuerDB)
	mockCat := new(MockCatalog)
	mockLocks := new(MockLocker)
	mockPub := new(MockPublisher)
	svc := newTestService(mockDB, mockIssuerDB, mockCat, mockLocks, mockPub)

	expiry := 30
	percent := int64(10)
	levels := []models.RegularLevel{
		{ID: "lvl-gold", StoreID: "store-1", Rank: 2, Name: "gold", MinPoints: 1000, MinSpent: 500000, MinVisits: 20, Policy: models.PolicyAnd},
		{ID: "lvl-silver", StoreID: "store-1", Rank: 1, Name: "silver", MinPoints: 100, MinSpent: 999999, MinVisits: 99, Policy: models.PolicyOr,
			Benefits: []models.BenefitTemplate{
				{Kind: models.BenefitDiscountPercent, Name: "welcome 10%", ExpiryDays: &expiry, DiscountPercent: &percent},
				{Kind: models.BenefitFreeItem, Name: "broken template"}, // no menu id, must be skipped
			}},
	}

	chk := &models.Check{ID: "chk-1", StoreID: "store-1", UserID: "user-1"}
	stats := &models.UserStoreStats{ID: "st-1", UserID: "user-1", StoreID: "store-1", Points: 90}

	expectLockedStats(mockLocks, "user-1", "store-1")
	mockDB.On("GetStats", mock.Anything, "user-1", "store-1").Return(stats, nil)
	mockCat.On("GetStore", mock.Anything, "store-1").Return(nil, ledger.ErrNotFound)
	mockDB.On("CountPaidPayments", mock.Anything, "chk-1").Return(1, nil)
	mockDB.On("GetLevelsByStore", mock.Anything, "store-1").Return(levels, nil)

	var history *models.LevelHistory
	mockDB.On("ApplyLevelChange", mock.Anything, stats, mock.Anything).
		Run(func(args mock.Arguments) {
			history = args.Get(2).(*models.LevelHistory)
		}).Return(nil)
	mockDB.On("AppendEvent", mock.Anything, mock.MatchedBy(func(e *models.OrderEvent) bool {
		return e.Type == models.EventLevelChanged
	})).Return(nil)
	mockPub.On("Publish", mock.Anything).Return()

	mockIssuerDB.On("BenefitExists", mock.Anything, mock.Anything, "welcome 10%").Return(false, nil)
	var issued *models.BenefitIssue
	mockIssuerDB.On("InsertBenefitIssue", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			issued = args.Get(1).(*models.BenefitIssue)
		}).Return(nil)
	mockIssuerDB.On("AppendEvent", mock.Anything, mock.MatchedBy(func(e *models.OrderEvent) bool {
		return e.Type == models.EventBenefitIssued
	})).Return(nil)

	// A 1000 payment at 100bp lands the user on 100 points, satisfying
	// silver's OR policy but not gold's AND policy.
	svc.OnPaymentCompleted(context.Background(), chk, &models.Payment{ID: "pay-1", Amount: 1000})

	require.NotNil(t, history)
	assert.Equal(t, 0, history.FromRank)
	assert.Equal(t, 1, history.ToRank)
	assert.Equal(t, "lvl-silver", history.ToLevelID)
	assert.Equal(t, "lvl-silver", stats.LevelID)

	require.NotNil(t, issued)
	assert.Equal(t, "welcome 10%", issued.TemplateName)
	assert.Equal(t, history.ID, issued.HistoryID)
	assert.NotEmpty(t, issued.QRCode)
	assert.False(t, issued.ExpiresAt.IsZero())

	// The malformed template never reaches storage.
	mockIssuerDB.AssertNotCalled(t, "BenefitExists", mock.Anything, mock.Anything, "broken template")
}

func TestTiersNeverDemote(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockCat := new(MockCatalog)
	mockLocks := new(MockLocker)
	svc := newTestService(mockDB, new(MockIssuerDB), mockCat, mockLocks, new(MockPublisher))

	levels := []models.RegularLevel{
		{ID: "lvl-gold", StoreID: "store-1", Rank: 2, Name: "gold", MinPoints: 1000, Policy: models.PolicyAnd, MinSpent: 999999, MinVisits: 99},
		{ID: "lvl-silver", StoreID: "store-1", Rank: 1, Name: "silver", MinPoints: 100, MinSpent: 0, MinVisits: 0, Policy: models.PolicyAnd},
	}

	chk := &models.Check{ID: "chk-1", StoreID: "store-1", UserID: "user-1"}
	stats := &models.UserStoreStats{ID: "st-1", UserID: "user-1", StoreID: "store-1", Points: 2000, LevelID: "lvl-gold"}

	expectLockedStats(mockLocks, "user-1", "store-1")
	mockDB.On("GetStats", mock.Anything, "user-1", "store-1").Return(stats, nil)
	mockCat.On("GetStore", mock.Anything, "store-1").Return(nil, ledger.ErrNotFound)
	mockDB.On("CountPaidPayments", mock.Anything, "chk-1").Return(2, nil)
	mockDB.On("GetLevelsByStore", mock.Anything, "store-1").Return(levels, nil)
	mockDB.On("GetLevelByID", mock.Anything, "lvl-gold").Return(&levels[0], nil)
	mockDB.On("UpdateStats", mock.Anything, stats).Return(nil)

	// Gold's thresholds are no longer satisfied; only silver matches. The
	// user keeps gold anyway.
	svc.OnPaymentCompleted(context.Background(), chk, &models.Payment{ID: "pay-1", Amount: 1000})

	assert.Equal(t, "lvl-gold", stats.LevelID)
	mockDB.AssertNotCalled(t, "ApplyLevelChange", mock.Anything, mock.Anything, mock.Anything)
}

func TestStatusDefaultsForUnknownUser(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB, new(MockIssuerDB), new(MockCatalog), new(MockLocker), new(MockPublisher))

	mockDB.On("GetStats", mock.Anything, "user-x", "store-1").Return(nil, ledger.ErrNotFound)

	status, err := svc.Status(context.Background(), "user-x", "store-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.Points)
	assert.Equal(t, int64(0), status.Visits)
	assert.Empty(t, status.Tier)
	assert.NotNil(t, status.ActiveBenefits)
	assert.Empty(t, status.ActiveBenefits)
}

func TestStatusReportsTierAndBenefits(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB, new(MockIssuerDB), new(MockCatalog), new(MockLocker), new(MockPublisher))

	stats := &models.UserStoreStats{ID: "st-1", UserID: "user-1", StoreID: "store-1", Points: 300, TotalSpent: 90000, VisitCount: 7, LevelID: "lvl-silver"}
	mockDB.On("GetStats", mock.Anything, "user-1", "store-1").Return(stats, nil)
	mockDB.On("GetLevelByID", mock.Anything, "lvl-silver").Return(&models.RegularLevel{ID: "lvl-silver", Name: "silver", Rank: 1}, nil)
	mockDB.On("GetActiveBenefits", mock.Anything, "user-1", "store-1", mock.Anything).Return([]models.BenefitIssue{
		{ID: "ben-1", TemplateName: "welcome 10%"},
	}, nil)

	status, err := svc.Status(context.Background(), "user-1", "store-1")
	require.NoError(t, err)
	assert.Equal(t, "silver", status.Tier)
	assert.Equal(t, 1, status.TierRank)
	assert.Equal(t, int64(300), status.Points)
	require.Len(t, status.ActiveBenefits, 1)
}

func TestRedeemFlipsBenefitOnce(t *testing.T) {
	mockIssuerDB := new(MockIssuerDB)
	log := logger.NewLogger()
	issuer := loyalty.NewIssuer(mockIssuerDB, new(MockPublisher), log)

	fresh := &models.BenefitIssue{ID: "ben-1", UserID: "user-1", ExpiresAt: time.Now().Add(24 * time.Hour)}
	mockIssuerDB.On("GetBenefitByID", mock.Anything, "ben-1").Return(fresh, nil)
	mockIssuerDB.On("MarkBenefitUsed", mock.Anything, "ben-1", mock.Anything).Return(true, nil)

	redeemed, err := issuer.Redeem(context.Background(), "ben-1")
	require.NoError(t, err)
	assert.True(t, redeemed.Used)
	assert.False(t, redeemed.UsedAt.IsZero())
}

func TestRedeemRejectsExpiredBenefit(t *testing.T) {
	mockIssuerDB := new(MockIssuerDB)
	issuer := loyalty.NewIssuer(mockIssuerDB, new(MockPublisher), logger.NewLogger())

	stale := &models.BenefitIssue{ID: "ben-1", UserID: "user-1", ExpiresAt: time.Now().Add(-time.Hour)}
	mockIssuerDB.On("GetBenefitByID", mock.Anything, "ben-1").Return(stale, nil)

	_, err := issuer.Redeem(context.Background(), "ben-1")
	assert.ErrorIs(t, err, ledger.ErrConflict)
	mockIssuerDB.AssertNotCalled(t, "MarkBenefitUsed", mock.Anything, mock.Anything, mock.Anything)
}

func TestRedeemLosesGuardedFlipRace(t *testing.T) {
	mockIssuerDB := new(MockIssuerDB)
	issuer := loyalty.NewIssuer(mockIssuerDB, new(MockPublisher), logger.NewLogger())

	fresh := &models.BenefitIssue{ID: "ben-1", UserID: "user-1"}
	mockIssuerDB.On("GetBenefitByID", mock.Anything, "ben-1").Return(fresh, nil)
	mockIssuerDB.On("MarkBenefitUsed", mock.Anything, "ben-1", mock.Anything).Return(false, nil)

	_, err := issuer.Redeem(context.Background(), "ben-1")
	assert.ErrorIs(t, err, ledger.ErrConflict)
}
