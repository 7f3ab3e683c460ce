// Package check manages table sessions: opening, resuming, closing and
// voiding checks. A check is the billing unit every order, adjustment and
// payment hangs off.
package check

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pos-ledger/internal/ledger"
	"pos-ledger/internal/logger"
	"pos-ledger/internal/models"
	"pos-ledger/internal/pricing"
	"pos-ledger/internal/utils"
)

// DBLayer is the storage surface the check manager needs.
type DBLayer interface {
	GetCheckByID(ctx context.Context, id string) (*models.Check, error)
	GetOpenCheck(ctx context.Context, storeID string, tableNum int, owner models.Owner) (*models.Check, error)
	CreateCheck(ctx context.Context, check *models.Check, event *models.OrderEvent) error
	CloseCheck(ctx context.Context, checkID, status string, closedAt time.Time, event *models.OrderEvent) error
	GetBillSnapshot(ctx context.Context, checkID string) (*models.BillSnapshot, error)
	GetEventsByCheck(ctx context.Context, checkID string) ([]models.OrderEvent, error)
	GetLineByID(ctx context.Context, id string) (*models.OrderLine, error)
	CreateAdjustment(ctx context.Context, adj *models.Adjustment) error
}

// Publisher fans out committed events.
type Publisher interface {
	Publish(event models.EventMessage)
}

// Locker serializes mutations per check.
type Locker interface {
	LockCheck(ctx context.Context, checkID, token string) (bool, error)
	UnlockCheck(ctx context.Context, checkID, token string) error
}

type Service struct {
	DB       DBLayer
	Locks    Locker
	Notifier Publisher
	Logger   *logger.Logger
}

func NewService(db DBLayer, locks Locker, notifier Publisher, log *logger.Logger) *Service {
	return &Service{
		DB:       db,
		Locks:    locks,
		Notifier: notifier,
		Logger:   log,
	}
}

var validChannels = map[string]bool{
	models.ChannelDineIn:   true,
	models.ChannelTakeout:  true,
	models.ChannelDelivery: true,
}

// OpenOrReuse returns the open check for (store, table, owner), creating it
// if none exists. The returned bool is true when a new check was created.
// Two concurrent opens for the same key race on the partial unique index;
// the loser re-reads and returns the winner's check, so both callers end up
// on the same session.
func (s *Service) OpenOrReuse(ctx context.Context, req *models.OpenCheckRequest, owner models.Owner) (*models.Check, bool, error) {
	if req.StoreID == "" {
		return nil, false, fmt.Errorf("store_id is required: %w", ledger.ErrValidation)
	}
	if req.Channel == "" {
		req.Channel = models.ChannelDineIn
	}
	if !validChannels[req.Channel] {
		return nil, false, fmt.Errorf("unknown channel %q: %w", req.Channel, ledger.ErrValidation)
	}
	if req.Channel == models.ChannelDineIn && req.TableNum <= 0 {
		return nil, false, fmt.Errorf("dine_in checks need a table number: %w", ledger.ErrValidation)
	}
	if !owner.Valid() {
		return nil, false, fmt.Errorf("check cannot have both a user and a guest phone: %w", ledger.ErrValidation)
	}

	existing, err := s.DB.GetOpenCheck(ctx, req.StoreID, req.TableNum, owner)
	if err == nil {
		s.Logger.LogCheck("REUSE", existing.ID, fmt.Sprintf("store %s table %d", req.StoreID, req.TableNum))
		return existing, false, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return nil, false, err
	}

	now := time.Now().UTC()
	newCheck := &models.Check{
		ID:         utils.NewID(),
		StoreID:    req.StoreID,
		TableNum:   req.TableNum,
		UserID:     owner.UserID,
		GuestPhone: owner.GuestPhone,
		Channel:    req.Channel,
		Source:     req.Source,
		Status:     models.CheckOpen,
		OpenedAt:   now,
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"table_num": newCheck.TableNum,
		"channel":   newCheck.Channel,
	})
	event := &models.OrderEvent{
		EventID:   utils.NewEventID(),
		StoreID:   newCheck.StoreID,
		CheckID:   newCheck.ID,
		Type:      models.EventCheckOpened,
		Payload:   string(payload),
		CreatedAt: now,
	}

	if err := s.DB.CreateCheck(ctx, newCheck, event); err != nil {
		if ledger.IsUniqueViolation(err) {
			// Lost the open race: the winner's row is what this caller wants.
			winner, readErr := s.DB.GetOpenCheck(ctx, req.StoreID, req.TableNum, owner)
			if readErr != nil {
				return nil, false, readErr
			}
			s.Logger.LogCheck("REUSE", winner.ID, "lost open race, reusing winner")
			return winner, false, nil
		}
		return nil, false, err
	}

	s.Logger.LogCheck("OPEN", newCheck.ID, fmt.Sprintf("store %s table %d channel %s", newCheck.StoreID, newCheck.TableNum, newCheck.Channel))
	s.Notifier.Publish(event.Message())
	return newCheck, true, nil
}

// Get returns one check by id.
func (s *Service) Get(ctx context.Context, checkID string) (*models.Check, error) {
	return s.DB.GetCheckByID(ctx, checkID)
}

// Events returns the check's audit trail in commit order.
func (s *Service) Events(ctx context.Context, checkID string) ([]models.OrderEvent, error) {
	if _, err := s.DB.GetCheckByID(ctx, checkID); err != nil {
		return nil, err
	}
	return s.DB.GetEventsByCheck(ctx, checkID)
}

// AddAdjustment attaches a discount or surcharge to an open check or to one
// of its non-canceled lines. Adjustments are append-only; the bill is
// recomputed from scratch on every read, so adding one never mutates stored
// totals.
func (s *Service) AddAdjustment(ctx context.Context, checkID string, req *models.AdjustmentRequest) (*models.Adjustment, error) {
	existing, err := s.DB.GetCheckByID(ctx, checkID)
	if err != nil {
		return nil, err
	}
	if existing.Status != models.CheckOpen {
		return nil, fmt.Errorf("check %s is %s: %w", checkID, existing.Status, ledger.ErrConflict)
	}
	if req.ValueType != models.ValueAmount && req.ValueType != models.ValuePercent {
		return nil, fmt.Errorf("unknown value_type %q: %w", req.ValueType, ledger.ErrValidation)
	}
	if req.ValueType == models.ValuePercent && (req.Value < 0 || req.Value > 100) {
		return nil, fmt.Errorf("percent value %d out of range: %w", req.Value, ledger.ErrValidation)
	}
	if req.Kind == "" {
		req.Kind = models.AdjustManual
	}

	adj := &models.Adjustment{
		ID:        utils.NewID(),
		Scope:     req.Scope,
		Kind:      req.Kind,
		ValueType: req.ValueType,
		Value:     req.Value,
		Label:     req.Label,
		CreatedAt: time.Now().UTC(),
	}
	switch req.Scope {
	case models.ScopeCheck:
		adj.CheckID = checkID
	case models.ScopeLine:
		line, err := s.DB.GetLineByID(ctx, req.LineID)
		if err != nil {
			return nil, err
		}
		if line.CheckID != checkID {
			return nil, fmt.Errorf("line %s belongs to another check: %w", req.LineID, ledger.ErrValidation)
		}
		if !line.Active() {
			return nil, fmt.Errorf("line %s is canceled: %w", req.LineID, ledger.ErrValidation)
		}
		adj.LineID = line.ID
	default:
		return nil, fmt.Errorf("unknown scope %q: %w", req.Scope, ledger.ErrValidation)
	}

	if err := s.DB.CreateAdjustment(ctx, adj); err != nil {
		return nil, err
	}
	s.Logger.LogCheck("ADJUST", checkID, fmt.Sprintf("%s %s %d (%s)", adj.Scope, adj.ValueType, adj.Value, adj.Kind))
	return adj, nil
}

// Close finalizes a fully settled check. The outstanding balance must be
// zero; a check with money still owed stays open.
func (s *Service) Close(ctx context.Context, checkID, actor string) (*models.Check, error) {
	token := utils.NewID()
	locked, err := s.Locks.LockCheck(ctx, checkID, token)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("check %s is busy: %w", checkID, ledger.ErrConflict)
	}
	defer s.Locks.UnlockCheck(ctx, checkID, token)

	existing, err := s.DB.GetCheckByID(ctx, checkID)
	if err != nil {
		return nil, err
	}
	if existing.Status != models.CheckOpen {
		return nil, fmt.Errorf("check %s is already %s: %w", checkID, existing.Status, ledger.ErrConflict)
	}

	snap, err := s.DB.GetBillSnapshot(ctx, checkID)
	if err != nil {
		return nil, err
	}
	bill, err := pricing.Calculate(snap)
	if err != nil {
		return nil, err
	}
	if bill.Outstanding != 0 {
		return nil, fmt.Errorf("check %s has outstanding balance %d: %w", checkID, bill.Outstanding, ledger.ErrConflict)
	}

	now := time.Now().UTC()
	payload, _ := json.Marshal(map[string]interface{}{
		"total": bill.Total,
		"paid":  bill.Paid,
		"actor": actor,
	})
	event := &models.OrderEvent{
		EventID:   utils.NewEventID(),
		StoreID:   existing.StoreID,
		CheckID:   checkID,
		Actor:     actor,
		Type:      models.EventCheckClosed,
		Payload:   string(payload),
		CreatedAt: now,
	}
	if err := s.DB.CloseCheck(ctx, checkID, models.CheckClosed, now, event); err != nil {
		return nil, err
	}

	existing.Status = models.CheckClosed
	existing.ClosedAt = now
	s.Logger.LogCheck("CLOSE", checkID, fmt.Sprintf("total %d paid %d", bill.Total, bill.Paid))
	s.Notifier.Publish(event.Message())
	return existing, nil
}

// Void cancels a check that never took money. Checks with settled payments
// must be refunded and closed instead.
func (s *Service) Void(ctx context.Context, checkID, actor, reason string) (*models.Check, error) {
	token := utils.NewID()
	locked, err := s.Locks.LockCheck(ctx, checkID, token)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("check %s is busy: %w", checkID, ledger.ErrConflict)
	}
	defer s.Locks.UnlockCheck(ctx, checkID, token)

	existing, err := s.DB.GetCheckByID(ctx, checkID)
	if err != nil {
		return nil, err
	}
	if existing.Status != models.CheckOpen {
		return nil, fmt.Errorf("check %s is already %s: %w", checkID, existing.Status, ledger.ErrConflict)
	}

	snap, err := s.DB.GetBillSnapshot(ctx, checkID)
	if err != nil {
		return nil, err
	}
	if snap.PaidTotal != 0 {
		return nil, fmt.Errorf("check %s has settled payments, refund before voiding: %w", checkID, ledger.ErrConflict)
	}

	now := time.Now().UTC()
	payload, _ := json.Marshal(map[string]interface{}{
		"reason": reason,
		"actor":  actor,
	})
	event := &models.OrderEvent{
		EventID:   utils.NewEventID(),
		StoreID:   existing.StoreID,
		CheckID:   checkID,
		Actor:     actor,
		Type:      models.EventCheckVoided,
		Payload:   string(payload),
		CreatedAt: now,
	}
	if err := s.DB.CloseCheck(ctx, checkID, models.CheckCanceled, now, event); err != nil {
		return nil, err
	}

	existing.Status = models.CheckCanceled
	existing.ClosedAt = now
	s.Logger.LogCheck("VOID", checkID, "reason: "+reason)
	s.Notifier.Publish(event.Message())
	return existing, nil
}
