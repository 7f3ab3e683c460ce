// Package order records what was ordered and tracks each line through the
// kitchen workflow. Submissions are idempotent batches; prices are
// snapshotted from the catalog at submission time.
package order

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

// DBLayer is the storage surface the order ledger needs.
type DBLayer interface {
	GetCheckByID(ctx context.Context, id string) (*models.Check, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetLinesByOrder(ctx context.Context, orderID string) ([]models.OrderLine, error)
	CreateOrderBatch(ctx context.Context, order *models.Order, lines []models.OrderLine, options []models.LineOption, events []models.OrderEvent) error
	GetLineByID(ctx context.Context, id string) (*models.OrderLine, error)
	UpdateLineStatus(ctx context.Context, line *models.OrderLine, event *models.OrderEvent) error
	GetLinesWithOptionsByCheck(ctx context.Context, checkID string) ([]models.LineWithOptions, error)
	GetStationLines(ctx context.Context, storeID, station string) ([]models.StationLine, error)
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
	Catalog  catalog.Catalog
	Locks    Locker
	Notifier Publisher
	Logger   *logger.Logger
}

func NewService(db DBLayer, cat catalog.Catalog, locks Locker, notifier Publisher, log *logger.Logger) *Service {
	return &Service{
		DB:       db,
		Catalog:  cat,
		Locks:    locks,
		Notifier: notifier,
		Logger:   log,
	}
}

// Submit records one batch of lines against an open check. The idempotency
// key makes retries safe: a key seen before returns the original batch with
// no new rows and no new events. Unit prices and cook stations come from the
// catalog at this moment and are frozen on the line forever.
func (s *Service) Submit(ctx context.Context, checkID string, req *models.SubmitOrderRequest) (*models.SubmitOrderResponse, error) {
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("idempotency_key is required: %w", ledger.ErrValidation)
	}
	if len(req.Lines) == 0 {
		return nil, fmt.Errorf("order needs at least one line: %w", ledger.ErrValidation)
	}
	for i, in := range req.Lines {
		if in.MenuID == "" {
			return nil, fmt.Errorf("line %d has no menu_id: %w", i, ledger.ErrValidation)
		}
		if in.Qty <= 0 {
			return nil, fmt.Errorf("line %d has non-positive qty %d: %w", i, in.Qty, ledger.ErrValidation)
		}
	}

	// Fast replay path, no lock needed: committed batches are immutable.
	if prior, err := s.replay(ctx, checkID, req.IdempotencyKey); err != nil || prior != nil {
		return prior, err
	}

	token := utils.NewID()
	locked, err := s.Locks.LockCheck(ctx, checkID, token)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("check %s is busy: %w", checkID, ledger.ErrConflict)
	}
	defer s.Locks.UnlockCheck(ctx, checkID, token)

	chk, err := s.DB.GetCheckByID(ctx, checkID)
	if err != nil {
		return nil, err
	}
	if chk.Status != models.CheckOpen {
		return nil, fmt.Errorf("check %s is %s: %w", checkID, chk.Status, ledger.ErrConflict)
	}

	now := time.Now().UTC()
	newOrder := &models.Order{
		ID:             utils.NewID(),
		CheckID:        checkID,
		Source:         req.Source,
		Status:         models.OrderConfirmed,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
	}

	lines := make([]models.OrderLine, 0, len(req.Lines))
	var options []models.LineOption
	for _, in := range req.Lines {
		item, err := s.Catalog.GetMenuItem(ctx, in.MenuID)
		if err != nil {
			return nil, err
		}
		if !item.IsAvailable {
			return nil, fmt.Errorf("menu item %s is sold out: %w", item.Name, ledger.ErrValidation)
		}

		line := models.OrderLine{
			ID:          utils.NewID(),
			OrderID:     newOrder.ID,
			CheckID:     checkID,
			MenuID:      item.ID,
			MenuName:    item.Name,
			Quantity:    in.Qty,
			UnitPrice:   item.Price,
			Status:      models.LineQueued,
			CookStation: item.CookStation,
			Notes:       in.Notes,
			CreatedAt:   now,
		}
		for _, opt := range in.Options {
			options = append(options, models.LineOption{
				ID:         utils.NewID(),
				LineID:     line.ID,
				Name:       opt.Name,
				PriceDelta: opt.PriceDelta,
			})
		}
		lines = append(lines, line)
	}

	events := make([]models.OrderEvent, 0, len(lines)+1)
	orderPayload, _ := json.Marshal(map[string]interface{}{
		"line_count": len(lines),
		"source":     req.Source,
	})
	events = append(events, models.OrderEvent{
		EventID:   utils.NewEventID(),
		StoreID:   chk.StoreID,
		CheckID:   checkID,
		OrderID:   newOrder.ID,
		Actor:     req.Actor,
		Type:      models.EventOrderCreated,
		Payload:   string(orderPayload),
		CreatedAt: now,
	})
	for _, line := range lines {
		linePayload, _ := json.Marshal(map[string]interface{}{
			"menu_name":    line.MenuName,
			"quantity":     line.Quantity,
			"cook_station": line.CookStation,
		})
		events = append(events, models.OrderEvent{
			EventID:   utils.NewEventID(),
			StoreID:   chk.StoreID,
			CheckID:   checkID,
			OrderID:   newOrder.ID,
			LineID:    line.ID,
			Actor:     req.Actor,
			Type:      models.EventLineQueued,
			Payload:   string(linePayload),
			CreatedAt: now,
		})
	}

	if err := s.DB.CreateOrderBatch(ctx, newOrder, lines, options, events); err != nil {
		if ledger.IsUniqueViolation(err) {
			// A concurrent retry with the same key won the insert.
			prior, replayErr := s.replay(ctx, checkID, req.IdempotencyKey)
			if replayErr != nil {
				return nil, replayErr
			}
			if prior != nil {
				return prior, nil
			}
		}
		return nil, err
	}

	s.Logger.LogOrder("SUBMIT", newOrder.ID, fmt.Sprintf("check %s, %d lines", checkID, len(lines)))
	for i := range events {
		s.Notifier.Publish(events[i].Message())
	}

	lineIDs := make([]string, len(lines))
	for i, line := range lines {
		lineIDs[i] = line.ID
	}
	return &models.SubmitOrderResponse{
		OrderID: newOrder.ID,
		CheckID: checkID,
		LineIDs: lineIDs,
	}, nil
}

// replay returns the previously committed batch for an idempotency key, or
// nil when the key is new. A key reused against a different check is a
// conflict, not a replay.
func (s *Service) replay(ctx context.Context, checkID, key string) (*models.SubmitOrderResponse, error) {
	prior, err := s.DB.GetOrderByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if prior.CheckID != checkID {
		return nil, fmt.Errorf("idempotency key already used on check %s: %w", prior.CheckID, ledger.ErrConflict)
	}
	priorLines, err := s.DB.GetLinesByOrder(ctx, prior.ID)
	if err != nil {
		return nil, err
	}
	lineIDs := make([]string, len(priorLines))
	for i, line := range priorLines {
		lineIDs[i] = line.ID
	}
	s.Logger.LogOrder("REPLAY", prior.ID, "idempotency key seen before, returning committed batch")
	return &models.SubmitOrderResponse{
		OrderID: prior.ID,
		CheckID: prior.CheckID,
		LineIDs: lineIDs,
	}, nil
}

// Transition moves one line through the kitchen workflow. Invalid moves
// (ready back to cooking, anything out of a terminal state) are rejected
// without side effects.
func (s *Service) Transition(ctx context.Context, lineID string, req *models.TransitionRequest) (*models.OrderLine, error) {
	if !KnownStatus(req.NewStatus) {
		return nil, fmt.Errorf("unknown line status %q: %w", req.NewStatus, ledger.ErrValidation)
	}

	line, err := s.DB.GetLineByID(ctx, lineID)
	if err != nil {
		return nil, err
	}

	token := utils.NewID()
	locked, err := s.Locks.LockCheck(ctx, line.CheckID, token)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("check %s is busy: %w", line.CheckID, ledger.ErrConflict)
	}
	defer s.Locks.UnlockCheck(ctx, line.CheckID, token)

	// Re-read under the lock; a concurrent transition may have landed.
	line, err = s.DB.GetLineByID(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(line.Status, req.NewStatus) {
		return nil, fmt.Errorf("line %s cannot go %s -> %s: %w", lineID, line.Status, req.NewStatus, ledger.ErrValidation)
	}

	chk, err := s.DB.GetCheckByID(ctx, line.CheckID)
	if err != nil {
		return nil, err
	}
	if chk.Status != models.CheckOpen {
		return nil, fmt.Errorf("check %s is %s: %w", chk.ID, chk.Status, ledger.ErrConflict)
	}

	now := time.Now().UTC()
	prev := line.Status
	line.Status = req.NewStatus
	line.UpdatedAt = now
	if req.NewStatus == models.LineCanceled {
		line.CancelReason = req.CancelReason
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"from":          prev,
		"to":            req.NewStatus,
		"cancel_reason": line.CancelReason,
	})
	event := &models.OrderEvent{
		EventID:   utils.NewEventID(),
		StoreID:   chk.StoreID,
		CheckID:   line.CheckID,
		OrderID:   line.OrderID,
		LineID:    line.ID,
		Actor:     req.Actor,
		Type:      eventTypeFor(req.NewStatus),
		Payload:   string(payload),
		CreatedAt: now,
	}

	if err := s.DB.UpdateLineStatus(ctx, line, event); err != nil {
		return nil, err
	}

	s.Logger.LogKitchen("TRANSITION", lineID, fmt.Sprintf("%s -> %s", prev, req.NewStatus))
	s.Notifier.Publish(event.Message())
	return line, nil
}

// Lines returns every line of a check with its options, oldest first.
func (s *Service) Lines(ctx context.Context, checkID string) ([]models.LineWithOptions, error) {
	if _, err := s.DB.GetCheckByID(ctx, checkID); err != nil {
		return nil, err
	}
	return s.DB.GetLinesWithOptionsByCheck(ctx, checkID)
}

// StationQueue is the kitchen display's work list: queued and cooking lines
// for one cook station, oldest first.
func (s *Service) StationQueue(ctx context.Context, storeID, station string) ([]models.StationLine, error) {
	if storeID == "" || station == "" {
		return nil, fmt.Errorf("store_id and station are required: %w", ledger.ErrValidation)
	}
	return s.DB.GetStationLines(ctx, storeID, station)
}
