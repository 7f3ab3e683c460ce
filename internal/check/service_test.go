package check_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"pos-ledger/internal/check"
	"pos-ledger/internal/ledger"
	"pos-ledger/internal/logger"
	"pos-ledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock implementations

type MockDBLayer struct {
	mock.Mock
}

func (m *MockDBLayer) GetCheckByID(ctx context.Context, id string) (*models.Check, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Check), args.Error(1)
}

func (m *MockDBLayer) GetOpenCheck(ctx context.Context, storeID string, tableNum int, owner models.Owner) (*models.Check, error) {
	args := m.Called(ctx, storeID, tableNum, owner)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Check), args.Error(1)
}

func (m *MockDBLayer) CreateCheck(ctx context.Context, chk *models.Check, event *models.OrderEvent) error {
	args := m.Called(ctx, chk, event)
	return args.Error(0)
}

func (m *MockDBLayer) CloseCheck(ctx context.Context, checkID, status string, closedAt time.Time, event *models.OrderEvent) error {
	args := m.Called(ctx, checkID, status, closedAt, event)
	return args.Error(0)
}

func (m *MockDBLayer) GetBillSnapshot(ctx context.Context, checkID string) (*models.BillSnapshot, error) {
	args := m.Called(ctx, checkID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BillSnapshot), args.Error(1)
}

func (m *MockDBLayer) GetEventsByCheck(ctx context.Context, checkID string) ([]models.OrderEvent, error) {
	args := m.Called(ctx, checkID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.OrderEvent), args.Error(1)
}

func (m *MockDBLayer) GetLineByID(ctx context.Context, id string) (*models.OrderLine, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.OrderLine), args.Error(1)
}

func (m *MockDBLayer) CreateAdjustment(ctx context.Context, adj *models.Adjustment) error {
	args := m.Called(ctx, adj)
	return args.Error(0)
}

type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) LockCheck(ctx context.Context, checkID, token string) (bool, error) {
	args := m.Called(ctx, checkID, token)
	return args.Bool(0), args.Error(1)
}

func (m *MockLocker) UnlockCheck(ctx context.Context, checkID, token string) error {
	args := m.Called(ctx, checkID, token)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(event models.EventMessage) {
	m.Called(event)
}

func newTestService(db *MockDBLayer, locks *MockLocker, pub *MockPublisher) *check.Service {
	return check.NewService(db, locks, pub, logger.NewLogger())
}

// Tests start here

func TestOpenCreatesNewCheck(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockPub := new(MockPublisher)
	svc := newTestService(mockDB, new(MockLocker), mockPub)

	owner := models.Owner{UserID: "user-1"}
	mockDB.On("GetOpenCheck", mock.Anything, "store-1", 7, owner).Return(nil, ledger.ErrNotFound)
	mockDB.On("CreateCheck", mock.Anything, mock.MatchedBy(func(c *models.Check) bool {
		return c.StoreID == "store-1" && c.TableNum == 7 && c.Status == models.CheckOpen
	}), mock.MatchedBy(func(e *models.OrderEvent) bool {
		return e.Type == models.EventCheckOpened
	})).Return(nil)
	mockPub.On("Publish", mock.Anything).Return()

	chk, created, err := svc.OpenOrReuse(context.Background(), &models.OpenCheckRequest{
		StoreID:  "store-1",
		TableNum: 7,
		Channel:  models.ChannelDineIn,
		Source:   "tablet",
	}, owner)

	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.CheckOpen, chk.Status)
	assert.Equal(t, "user-1", chk.UserID)
	mockDB.AssertExpectations(t)
}

func TestOpenReusesExistingCheck(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockPub := new(MockPublisher)
	svc := newTestService(mockDB, new(MockLocker), mockPub)

	owner := models.Owner{GuestPhone: "010-1234-5678"}
	existing := &models.Check{ID: "chk-1", StoreID: "store-1", TableNum: 7, GuestPhone: owner.GuestPhone, Status: models.CheckOpen}
	mockDB.On("GetOpenCheck", mock.Anything, "store-1", 7, owner).Return(existing, nil)

	chk, created, err := svc.OpenOrReuse(context.Background(), &models.OpenCheckRequest{
		StoreID:  "store-1",
		TableNum: 7,
		Channel:  models.ChannelDineIn,
	}, owner)

	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "chk-1", chk.ID)
	mockDB.AssertNotCalled(t, "CreateCheck", mock.Anything, mock.Anything, mock.Anything)
	mockPub.AssertNotCalled(t, "Publish", mock.Anything)
}

func TestOpenLostRaceReturnsWinner(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB, new(MockLocker), new(MockPublisher))

	owner := models.Owner{}
	winner := &models.Check{ID: "winner", StoreID: "store-1", TableNum: 3, Status: models.CheckOpen}
	mockDB.On("GetOpenCheck", mock.Anything, "store-1", 3, owner).Return(nil, ledger.ErrNotFound).Once()
	mockDB.On("CreateCheck", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New(`duplicate key value violates unique constraint "idx_checks_one_open"`))
	mockDB.On("GetOpenCheck", mock.Anything, "store-1", 3, owner).Return(winner, nil).Once()

	chk, created, err := svc.OpenOrReuse(context.Background(), &models.OpenCheckRequest{
		StoreID:  "store-1",
		TableNum: 3,
		Channel:  models.ChannelDineIn,
	}, owner)

	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "winner", chk.ID)
}

func TestOpenRejectsDualIdentity(t *testing.T) {
	svc := newTestService(new(MockDBLayer), new(MockLocker), new(MockPublisher))

	_, _, err := svc.OpenOrReuse(context.Background(), &models.OpenCheckRequest{
		StoreID:  "store-1",
		TableNum: 1,
		Channel:  models.ChannelDineIn,
	}, models.Owner{UserID: "user-1", GuestPhone: "010-0000-0000"})

	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestOpenRequiresTableForDineIn(t *testing.T) {
	svc := newTestService(new(MockDBLayer), new(MockLocker), new(MockPublisher))

	_, _, err := svc.OpenOrReuse(context.Background(), &models.OpenCheckRequest{
		StoreID: "store-1",
		Channel: models.ChannelDineIn,
	}, models.Owner{})

	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func settledSnapshot(checkID string) *models.BillSnapshot {
	return &models.BillSnapshot{
		Check: models.Check{ID: checkID, StoreID: "store-1", Status: models.CheckOpen},
		Lines: []models.LineWithOptions{
			{Line: models.OrderLine{ID: "line-1", CheckID: checkID, Quantity: 1, UnitPrice: 10000, Status: models.LineServed}},
		},
		PaidTotal: 10000,
	}
}

func TestCloseSettledCheck(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockLocks := new(MockLocker)
	mockPub := new(MockPublisher)
	svc := newTestService(mockDB, mockLocks, mockPub)

	checkID := "chk-1"
	mockLocks.On("LockCheck", mock.Anything, checkID, mock.Anything).Return(true, nil)
	mockLocks.On("UnlockCheck", mock.Anything, checkID, mock.Anything).Return(nil)
	mockDB.On("GetCheckByID", mock.Anything, checkID).Return(&models.Check{ID: checkID, StoreID: "store-1", Status: models.CheckOpen}, nil)
	mockDB.On("GetBillSnapshot", mock.Anything, checkID).Return(settledSnapshot(checkID), nil)
	mockDB.On("CloseCheck", mock.Anything, checkID, models.CheckClosed, mock.Anything, mock.MatchedBy(func(e *models.OrderEvent) bool {
		return e.Type == models.EventCheckClosed
	})).Return(nil)
	mockPub.On("Publish", mock.Anything).Return()

	chk, err := svc.Close(context.Background(), checkID, "staff-1")

	require.NoError(t, err)
	assert.Equal(t, models.CheckClosed, chk.Status)
	assert.False(t, chk.ClosedAt.IsZero())
	mockDB.AssertExpectations(t)
}

func TestCloseRejectsOutstandingBalance(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockLocks := new(MockLocker)
	svc := newTestService(mockDB, mockLocks, new(MockPublisher))

	checkID := "chk-1"
	snap := settledSnapshot(checkID)
	snap.PaidTotal = 4000

	mockLocks.On("LockCheck", mock.Anything, checkID, mock.Anything).Return(true, nil)
	mockLocks.On("UnlockCheck", mock.Anything, checkID, mock.Anything).Return(nil)
	mockDB.On("GetCheckByID", mock.Anything, checkID).Return(&models.Check{ID: checkID, StoreID: "store-1", Status: models.CheckOpen}, nil)
	mockDB.On("GetBillSnapshot", mock.Anything, checkID).Return(snap, nil)

	_, err := svc.Close(context.Background(), checkID, "staff-1")

	assert.ErrorIs(t, err, ledger.ErrConflict)
	mockDB.AssertNotCalled(t, "CloseCheck", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestVoidRejectsSettledPayments(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockLocks := new(MockLocker)
	svc := newTestService(mockDB, mockLocks, new(MockPublisher))

	checkID := "chk-1"
	snap := settledSnapshot(checkID)
	snap.PaidTotal = 5000

	mockLocks.On("LockCheck", mock.Anything, checkID, mock.Anything).Return(true, nil)
	mockLocks.On("UnlockCheck", mock.Anything, checkID, mock.Anything).Return(nil)
	mockDB.On("GetCheckByID", mock.Anything, checkID).Return(&models.Check{ID: checkID, StoreID: "store-1", Status: models.CheckOpen}, nil)
	mockDB.On("GetBillSnapshot", mock.Anything, checkID).Return(snap, nil)

	_, err := svc.Void(context.Background(), checkID, "staff-1", "wrong table")

	assert.ErrorIs(t, err, ledger.ErrConflict)
}

func TestVoidUnpaidCheck(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockLocks := new(MockLocker)
	mockPub := new(MockPublisher)
	svc := newTestService(mockDB, mockLocks, mockPub)

	checkID := "chk-1"
	snap := settledSnapshot(checkID)
	snap.PaidTotal = 0

	mockLocks.On("LockCheck", mock.Anything, checkID, mock.Anything).Return(true, nil)
	mockLocks.On("UnlockCheck", mock.Anything, checkID, mock.Anything).Return(nil)
	mockDB.On("GetCheckByID", mock.Anything, checkID).Return(&models.Check{ID: checkID, StoreID: "store-1", Status: models.CheckOpen}, nil)
	mockDB.On("GetBillSnapshot", mock.Anything, checkID).Return(snap, nil)
	mockDB.On("CloseCheck", mock.Anything, checkID, models.CheckCanceled, mock.Anything, mock.MatchedBy(func(e *models.OrderEvent) bool {
		return e.Type == models.EventCheckVoided
	})).Return(nil)
	mockPub.On("Publish", mock.Anything).Return()

	chk, err := svc.Void(context.Background(), checkID, "staff-1", "wrong table")

	require.NoError(t, err)
	assert.Equal(t, models.CheckCanceled, chk.Status)
}

func TestAddAdjustmentValidatesScope(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB, new(MockLocker), new(MockPublisher))

	checkID := "chk-1"
	mockDB.On("GetCheckByID", mock.Anything, checkID).Return(&models.Check{ID: checkID, Status: models.CheckOpen}, nil)

	// Line from another check.
	mockDB.On("GetLineByID", mock.Anything, "foreign-line").Return(&models.OrderLine{
		ID: "foreign-line", CheckID: "other-check", Status: models.LineQueued,
	}, nil)
	_, err := svc.AddAdjustment(context.Background(), checkID, &models.AdjustmentRequest{
		Scope: models.ScopeLine, LineID: "foreign-line", ValueType: models.ValueAmount, Value: 500,
	})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	// Percent out of range.
	_, err = svc.AddAdjustment(context.Background(), checkID, &models.AdjustmentRequest{
		Scope: models.ScopeCheck, ValueType: models.ValuePercent, Value: 150,
	})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	// Unknown scope.
	_, err = svc.AddAdjustment(context.Background(), checkID, &models.AdjustmentRequest{
		Scope: "TABLE", ValueType: models.ValueAmount, Value: 500,
	})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestAddAdjustmentToCheck(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB, new(MockLocker), new(MockPublisher))

	checkID := "chk-1"
	mockDB.On("GetCheckByID", mock.Anything, checkID).Return(&models.Check{ID: checkID, Status: models.CheckOpen}, nil)
	mockDB.On("CreateAdjustment", mock.Anything, mock.MatchedBy(func(a *models.Adjustment) bool {
		return a.Scope == models.ScopeCheck && a.CheckID == checkID && a.LineID == ""
	})).Return(nil)

	adj, err := svc.AddAdjustment(context.Background(), checkID, &models.AdjustmentRequest{
		Scope: models.ScopeCheck, Kind: models.AdjustCoupon, ValueType: models.ValueAmount, Value: 2000, Label: "welcome coupon",
	})

	require.NoError(t, err)
	assert.True(t, adj.ValidScope())
	mockDB.AssertExpectations(t)
}
