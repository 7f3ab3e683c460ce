// Package loyalty accumulates per (user, store) stats from settled payments
// and moves users through per-store tiers. Accrual runs after the payment
// commits; a loyalty failure never unwinds money movement.
package loyalty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pos-ledger/internal/catalog"
	"pos-ledger/internal/ledger"
	"pos-ledger/internal/logger"
	"pos-ledger/internal/models"
	"pos-ledger/internal/utils"
)

// DBLayer is the storage surface the loyalty engine needs.
type DBLayer interface {
	GetStats(ctx context.Context, userID, storeID string) (*models.UserStoreStats, error)
	InsertStats(ctx context.Context, stats *models.UserStoreStats) error
	UpdateStats(ctx context.Context, stats *models.UserStoreStats) error
	ApplyLevelChange(ctx context.Context, stats *models.UserStoreStats, history *models.LevelHistory) error
	GetLevelsByStore(ctx context.Context, storeID string) ([]models.RegularLevel, error)
	GetLevelByID(ctx context.Context, id string) (*models.RegularLevel, error)
	CountPaidPayments(ctx context.Context, checkID string) (int, error)
	GetActiveBenefits(ctx context.Context, userID, storeID string, now time.Time) ([]models.BenefitIssue, error)
	AppendEvent(ctx context.Context, event *models.OrderEvent) error
}

// Publisher fans out committed events.
type Publisher interface {
	Publish(event models.EventMessage)
}

// Locker serializes loyalty recomputation per (user, store).
type Locker interface {
	LockLoyalty(ctx context.Context, userID, storeID, token string) (bool, error)
	UnlockLoyalty(ctx context.Context, userID, storeID, token string) error
}

type Service struct {
	DB        DBLayer
	Catalog   catalog.Catalog
	Locks     Locker
	Notifier  Publisher
	Issuer    *Issuer
	Logger    *logger.Logger
	AccrualBP int
}

func NewService(db DBLayer, cat catalog.Catalog, locks Locker, notifier Publisher, issuer *Issuer, log *logger.Logger, accrualBP int) *Service {
	return &Service{
		DB:        db,
		Catalog:   cat,
		Locks:     locks,
		Notifier:  notifier,
		Issuer:    issuer,
		Logger:    log,
		AccrualBP: accrualBP,
	}
}

// OnPaymentCompleted accrues spend, points and (on a check's first
// settlement) a visit, then re-evaluates the user's tier. Guest checks earn
// nothing. The per (user, store) lock serializes concurrent settlements so
// stats never lose an increment.
func (s *Service) OnPaymentCompleted(ctx context.Context, chk *models.Check, payment *models.Payment) {
	if chk.UserID == "" {
		return
	}

	token := utils.NewID()
	locked, err := s.Locks.LockLoyalty(ctx, chk.UserID, chk.StoreID, token)
	if err != nil || !locked {
		s.Logger.Error("LOYALTY", fmt.Sprintf("could not lock stats for user %s store %s: %v", chk.UserID, chk.StoreID, err))
		return
	}
	defer s.Locks.UnlockLoyalty(ctx, chk.UserID, chk.StoreID, token)

	if err := s.accrue(ctx, chk, payment); err != nil {
		s.Logger.Error("LOYALTY", fmt.Sprintf("accrual for user %s store %s failed: %v", chk.UserID, chk.StoreID, err))
	}
}

func (s *Service) accrue(ctx context.Context, chk *models.Check, payment *models.Payment) error {
	stats, err := s.loadOrCreateStats(ctx, chk.UserID, chk.StoreID)
	if err != nil {
		return err
	}

	accrualBP := s.AccrualBP
	if store, err := s.Catalog.GetStore(ctx, chk.StoreID); err == nil && store.AccrualBP > 0 {
		accrualBP = store.AccrualBP
	}

	now := time.Now().UTC()
	stats.Points += AccruePoints(payment.Amount, accrualBP)
	stats.TotalSpent += payment.Amount
	stats.UpdatedAt = now

	// A visit is one settled check, not one payment: only the check's first
	// settlement counts.
	settled, err := s.DB.CountPaidPayments(ctx, chk.ID)
	if err != nil {
		return err
	}
	if settled == 1 {
		stats.VisitCount++
	}

	return s.recomputeTier(ctx, chk, stats, now)
}

func (s *Service) loadOrCreateStats(ctx context.Context, userID, storeID string) (*models.UserStoreStats, error) {
	stats, err := s.DB.GetStats(ctx, userID, storeID)
	if err == nil {
		return stats, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return nil, err
	}

	fresh := &models.UserStoreStats{
		ID:      utils.NewID(),
		UserID:  userID,
		StoreID: storeID,
	}
	if err := s.DB.InsertStats(ctx, fresh); err != nil {
		if ledger.IsUniqueViolation(err) {
			return s.DB.GetStats(ctx, userID, storeID)
		}
		return nil, err
	}
	return fresh, nil
}

// recomputeTier persists the updated counters and, when the stats now satisfy
// a higher tier, records the promotion and issues its benefits. Tiers only
// move up: counters never decrease, so a satisfied tier stays satisfied.
func (s *Service) recomputeTier(ctx context.Context, chk *models.Check, stats *models.UserStoreStats, now time.Time) error {
	levels, err := s.DB.GetLevelsByStore(ctx, stats.StoreID)
	if err != nil {
		return err
	}

	currentRank := 0
	if stats.LevelID != "" {
		current, err := s.DB.GetLevelByID(ctx, stats.LevelID)
		if err == nil {
			currentRank = current.Rank
		}
	}

	next := Evaluate(levels, stats)
	if next == nil || next.ID == stats.LevelID || next.Rank <= currentRank {
		return s.DB.UpdateStats(ctx, stats)
	}

	history := &models.LevelHistory{
		ID:          utils.NewID(),
		UserID:      stats.UserID,
		StoreID:     stats.StoreID,
		FromLevelID: stats.LevelID,
		FromRank:    currentRank,
		ToLevelID:   next.ID,
		ToRank:      next.Rank,
		CreatedAt:   now,
	}
	stats.LevelID = next.ID
	stats.LevelAssignedAt = now

	if err := s.DB.ApplyLevelChange(ctx, stats, history); err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"user_id":   stats.UserID,
		"level":     next.Name,
		"from_rank": history.FromRank,
		"to_rank":   history.ToRank,
	})
	event := &models.OrderEvent{
		EventID:   utils.NewEventID(),
		StoreID:   stats.StoreID,
		CheckID:   chk.ID,
		Type:      models.EventLevelChanged,
		Payload:   string(payload),
		CreatedAt: now,
	}
	if err := s.DB.AppendEvent(ctx, event); err != nil {
		return err
	}
	s.Logger.LogLoyalty("PROMOTE", fmt.Sprintf("user %s store %s -> %s (rank %d)", stats.UserID, stats.StoreID, next.Name, next.Rank))
	s.Notifier.Publish(event.Message())

	s.Issuer.IssueForPromotion(ctx, chk.ID, history, next)
	return nil
}

// Status answers the loyalty query for a (user, store): tier, counters and
// redeemable benefits.
func (s *Service) Status(ctx context.Context, userID, storeID string) (*models.LoyaltyStatus, error) {
	status := &models.LoyaltyStatus{
		UserID:         userID,
		StoreID:        storeID,
		ActiveBenefits: []models.BenefitIssue{},
	}

	stats, err := s.DB.GetStats(ctx, userID, storeID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return status, nil
		}
		return nil, err
	}
	status.Points = stats.Points
	status.Spend = stats.TotalSpent
	status.Visits = stats.VisitCount

	if stats.LevelID != "" {
		level, err := s.DB.GetLevelByID(ctx, stats.LevelID)
		if err == nil {
			status.Tier = level.Name
			status.TierRank = level.Rank
		}
	}

	benefits, err := s.DB.GetActiveBenefits(ctx, userID, storeID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	status.ActiveBenefits = benefits
	return status, nil
}
