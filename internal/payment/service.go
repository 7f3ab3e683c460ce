// Package payment settles checks. Every settlement is idempotent on the
// client's key, revalidated against the live bill inside the commit, and
// closes the check automatically when it covers the full total.
package payment

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

// DBLayer is the storage surface the payment processor needs.
type DBLayer interface {
	GetCheckByID(ctx context.Context, id string) (*models.Check, error)
	GetPaymentByID(ctx context.Context, id string) (*models.Payment, error)
	GetPaymentByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error)
	GetPaymentsByCheck(ctx context.Context, checkID string) ([]models.Payment, error)
	GetBillSnapshot(ctx context.Context, checkID string) (*models.BillSnapshot, error)
	GetAllocatedByLine(ctx context.Context, checkID string) (map[string]int64, error)
	CreateSettlement(ctx context.Context, payment *models.Payment, allocations []models.PaymentAllocation, total int64, closeCheck bool, events []models.OrderEvent) error
	GetAllocationsByPayment(ctx context.Context, paymentID string) ([]models.PaymentAllocation, error)
	ApplyRefund(ctx context.Context, payment *models.Payment, allocations []models.PaymentAllocation, event *models.OrderEvent) error
	TouchPaymentStatus(ctx context.Context, paymentID, status string, at time.Time) error
	AppendEvent(ctx context.Context, event *models.OrderEvent) error
}

// Publisher fans out committed events.
type Publisher interface {
	Publish(event models.EventMessage)
}

// LoyaltyHook is notified after a settlement commits so accrual runs outside
// the payment transaction. A hook failure never unwinds the payment.
type LoyaltyHook interface {
	OnPaymentCompleted(ctx context.Context, chk *models.Check, payment *models.Payment)
}

// Locker serializes mutations per check.
type Locker interface {
	LockCheck(ctx context.Context, checkID, token string) (bool, error)
	UnlockCheck(ctx context.Context, checkID, token string) error
}

type Service struct {
	DB       DBLayer
	Gateway  Gateway
	Locks    Locker
	Notifier Publisher
	Logger   *logger.Logger

	loyalty LoyaltyHook
}

func NewService(db DBLayer, gateway Gateway, locks Locker, notifier Publisher, log *logger.Logger) *Service {
	return &Service{
		DB:       db,
		Gateway:  gateway,
		Locks:    locks,
		Notifier: notifier,
		Logger:   log,
	}
}

// SetLoyaltyHook wires the loyalty engine in after construction; the two
// services reference each other only through this narrow interface.
func (s *Service) SetLoyaltyHook(hook LoyaltyHook) {
	s.loyalty = hook
}

// Pay settles part or all of a check. Retries with the same idempotency key
// return the original payment without charging again. The outstanding
// balance is checked under the check lock and again inside the settlement
// transaction, so two racing payments can never overpay together.
func (s *Service) Pay(ctx context.Context, checkID string, req *models.PayRequest) (*models.PayResponse, error) {
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("idempotency_key is required: %w", ledger.ErrValidation)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("payment amount must be positive: %w", ledger.ErrValidation)
	}
	if req.Method != MethodCard && req.Method != MethodCash {
		return nil, fmt.Errorf("unknown payment method %q: %w", req.Method, ledger.ErrValidation)
	}

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

	snap, err := s.DB.GetBillSnapshot(ctx, checkID)
	if err != nil {
		return nil, err
	}
	bill, err := pricing.Calculate(snap)
	if err != nil {
		return nil, err
	}
	if req.Amount > bill.Outstanding {
		return nil, fmt.Errorf("payment of %d exceeds outstanding %d: %w", req.Amount, bill.Outstanding, ledger.ErrConflict)
	}

	paymentID := utils.NewID()
	allocations, err := s.buildAllocations(ctx, paymentID, snap, req)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	newPayment := &models.Payment{
		ID:             paymentID,
		CheckID:        checkID,
		Method:         req.Method,
		Amount:         req.Amount,
		Status:         models.PaymentPaid,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		PaidAt:         now,
	}

	if req.Method == MethodCard {
		if s.Gateway == nil {
			return nil, fmt.Errorf("no card gateway configured: %w", ledger.ErrDependency)
		}
		result, err := s.Gateway.Charge(ctx, &ChargeRequest{
			PaymentID:      paymentID,
			CheckID:        checkID,
			IdempotencyKey: req.IdempotencyKey,
			Token:          req.Token,
			Amount:         req.Amount,
		})
		if err != nil {
			return nil, err
		}
		newPayment.TxnID = result.TxnID
		if result.Status == "authorized" {
			newPayment.Status = models.PaymentAuthorized
		}
	}

	closeCheck := newPayment.Status == models.PaymentPaid && req.Amount == bill.Outstanding

	events := []models.OrderEvent{}
	if newPayment.Status == models.PaymentPaid {
		payload, _ := json.Marshal(map[string]interface{}{
			"method": req.Method,
			"amount": req.Amount,
		})
		events = append(events, models.OrderEvent{
			EventID:   utils.NewEventID(),
			StoreID:   chk.StoreID,
			CheckID:   checkID,
			Type:      models.EventPaymentCompleted,
			Payload:   string(payload),
			CreatedAt: now,
		})
	}
	if closeCheck {
		payload, _ := json.Marshal(map[string]interface{}{
			"total": bill.Total,
			"paid":  bill.Paid + req.Amount,
		})
		events = append(events, models.OrderEvent{
			EventID:   utils.NewEventID(),
			StoreID:   chk.StoreID,
			CheckID:   checkID,
			Type:      models.EventCheckClosed,
			Payload:   string(payload),
			CreatedAt: now,
		})
	}

	if err := s.DB.CreateSettlement(ctx, newPayment, allocations, bill.Total, closeCheck, events); err != nil {
		if ledger.IsUniqueViolation(err) {
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

	s.Logger.LogPayment("SETTLE", paymentID, fmt.Sprintf("check %s %s %d (close=%v)", checkID, req.Method, req.Amount, closeCheck))
	for i := range events {
		s.Notifier.Publish(events[i].Message())
	}

	if s.loyalty != nil && newPayment.Status == models.PaymentPaid {
		s.loyalty.OnPaymentCompleted(ctx, chk, newPayment)
	}

	return &models.PayResponse{
		PaymentID:   paymentID,
		Status:      newPayment.Status,
		CheckClosed: closeCheck,
	}, nil
}

// replay returns the committed payment for an idempotency key, or nil when
// the key is new.
func (s *Service) replay(ctx context.Context, checkID, key string) (*models.PayResponse, error) {
	prior, err := s.DB.GetPaymentByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if prior.CheckID != checkID {
		return nil, fmt.Errorf("idempotency key already used on check %s: %w", prior.CheckID, ledger.ErrConflict)
	}
	chk, err := s.DB.GetCheckByID(ctx, checkID)
	if err != nil {
		return nil, err
	}
	s.Logger.LogPayment("REPLAY", prior.ID, "idempotency key seen before, returning committed payment")
	return &models.PayResponse{
		PaymentID:   prior.ID,
		Status:      prior.Status,
		CheckClosed: chk.Status == models.CheckClosed,
	}, nil
}

// buildAllocations pins the payment to lines. Explicit allocations must sum
// to the payment amount and reference active lines of this check; without
// them the amount is spread oldest-first over what each active line still
// owes, with any remainder on the last active line (it covers check-level
// adjustments that belong to no single line).
func (s *Service) buildAllocations(ctx context.Context, paymentID string, snap *models.BillSnapshot, req *models.PayRequest) ([]models.PaymentAllocation, error) {
	linesByID := make(map[string]*models.LineWithOptions, len(snap.Lines))
	for i := range snap.Lines {
		linesByID[snap.Lines[i].Line.ID] = &snap.Lines[i]
	}

	if len(req.Allocations) > 0 {
		var sum int64
		allocations := make([]models.PaymentAllocation, 0, len(req.Allocations))
		for _, in := range req.Allocations {
			lw, ok := linesByID[in.LineID]
			if !ok {
				return nil, fmt.Errorf("allocation line %s not on this check: %w", in.LineID, ledger.ErrValidation)
			}
			if !lw.Line.Active() {
				return nil, fmt.Errorf("allocation line %s is canceled: %w", in.LineID, ledger.ErrValidation)
			}
			if in.Amount <= 0 {
				return nil, fmt.Errorf("allocation amount must be positive: %w", ledger.ErrValidation)
			}
			sum += in.Amount
			allocations = append(allocations, models.PaymentAllocation{
				ID:        utils.NewID(),
				PaymentID: paymentID,
				LineID:    in.LineID,
				Amount:    in.Amount,
			})
		}
		if sum != req.Amount {
			return nil, fmt.Errorf("allocations sum to %d, payment is %d: %w", sum, req.Amount, ledger.ErrIntegrity)
		}
		return allocations, nil
	}

	allocated, err := s.DB.GetAllocatedByLine(ctx, snap.Check.ID)
	if err != nil {
		return nil, err
	}

	var allocations []models.PaymentAllocation
	remaining := req.Amount
	lastActive := -1
	for i := range snap.Lines {
		if snap.Lines[i].Line.Active() {
			lastActive = i
		}
	}
	for i := range snap.Lines {
		if remaining == 0 {
			break
		}
		lw := &snap.Lines[i]
		if !lw.Line.Active() {
			continue
		}
		owed := lw.Base() - allocated[lw.Line.ID]
		if owed <= 0 && i != lastActive {
			continue
		}
		take := owed
		if take > remaining || i == lastActive {
			take = remaining
		}
		if take <= 0 {
			continue
		}
		allocations = append(allocations, models.PaymentAllocation{
			ID:        utils.NewID(),
			PaymentID: paymentID,
			LineID:    lw.Line.ID,
			Amount:    take,
		})
		remaining -= take
	}
	return allocations, nil
}

// Resolve settles a payment left in authorized by a gateway timeout. The
// charge replays under the original idempotency key, so the gateway returns
// the stored intent's current state instead of charging the card again.
func (s *Service) Resolve(ctx context.Context, paymentID string) (*models.Payment, error) {
	target, err := s.DB.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if target.Status != models.PaymentAuthorized {
		return target, nil
	}
	if s.Gateway == nil {
		return nil, fmt.Errorf("no card gateway configured: %w", ledger.ErrDependency)
	}

	token := utils.NewID()
	locked, err := s.Locks.LockCheck(ctx, target.CheckID, token)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("check %s is busy: %w", target.CheckID, ledger.ErrConflict)
	}
	defer s.Locks.UnlockCheck(ctx, target.CheckID, token)

	target, err = s.DB.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if target.Status != models.PaymentAuthorized {
		return target, nil
	}

	result, err := s.Gateway.Charge(ctx, &ChargeRequest{
		PaymentID:      target.ID,
		CheckID:        target.CheckID,
		IdempotencyKey: target.IdempotencyKey,
		Amount:         target.Amount,
	})
	if err != nil {
		return nil, err
	}
	if result.Status != "paid" {
		s.Logger.LogPayment("RESOLVE", paymentID, "gateway still reports "+result.Status)
		return target, nil
	}

	now := time.Now().UTC()
	if err := s.DB.TouchPaymentStatus(ctx, target.ID, models.PaymentPaid, now); err != nil {
		return nil, err
	}
	target.Status = models.PaymentPaid
	target.PaidAt = now

	chk, err := s.DB.GetCheckByID(ctx, target.CheckID)
	if err != nil {
		return nil, err
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"method": target.Method,
		"amount": target.Amount,
	})
	event := &models.OrderEvent{
		EventID:   utils.NewEventID(),
		StoreID:   chk.StoreID,
		CheckID:   target.CheckID,
		Type:      models.EventPaymentCompleted,
		Payload:   string(payload),
		CreatedAt: now,
	}
	if err := s.DB.AppendEvent(ctx, event); err != nil {
		return nil, err
	}

	s.Logger.LogPayment("RESOLVE", paymentID, "authorized charge confirmed paid")
	s.Notifier.Publish(event.Message())
	if s.loyalty != nil {
		s.loyalty.OnPaymentCompleted(ctx, chk, target)
	}
	return target, nil
}

// Refund reverses part of a settled payment. The gateway refund runs first;
// only after it succeeds are the ledger rows adjusted, so the ledger never
// claims money was returned that was not.
func (s *Service) Refund(ctx context.Context, paymentID string, req *models.RefundRequest) (*models.Payment, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("refund amount must be positive: %w", ledger.ErrValidation)
	}

	target, err := s.DB.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	token := utils.NewID()
	locked, err := s.Locks.LockCheck(ctx, target.CheckID, token)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("check %s is busy: %w", target.CheckID, ledger.ErrConflict)
	}
	defer s.Locks.UnlockCheck(ctx, target.CheckID, token)

	target, err = s.DB.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if target.Status != models.PaymentPaid && target.Status != models.PaymentRefunded {
		return nil, fmt.Errorf("payment %s is %s, not refundable: %w", paymentID, target.Status, ledger.ErrConflict)
	}
	refundable := target.Amount - target.RefundedAmount
	if req.Amount > refundable {
		return nil, fmt.Errorf("refund of %d exceeds refundable %d: %w", req.Amount, refundable, ledger.ErrConflict)
	}

	if target.Method == MethodCard {
		if s.Gateway == nil {
			return nil, fmt.Errorf("no card gateway configured: %w", ledger.ErrDependency)
		}
		if err := s.Gateway.Refund(ctx, target.TxnID, req.Amount); err != nil {
			return nil, err
		}
	}

	allocations, err := s.DB.GetAllocationsByPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	// Unwind newest allocation first so early lines keep their coverage.
	var touched []models.PaymentAllocation
	remaining := req.Amount
	for i := len(allocations) - 1; i >= 0 && remaining > 0; i-- {
		take := allocations[i].Amount
		if take > remaining {
			take = remaining
		}
		if take <= 0 {
			continue
		}
		allocations[i].Amount -= take
		remaining -= take
		touched = append(touched, allocations[i])
	}

	chk, err := s.DB.GetCheckByID(ctx, target.CheckID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	target.RefundedAmount += req.Amount
	target.Status = models.PaymentRefunded

	payload, _ := json.Marshal(map[string]interface{}{
		"amount":          req.Amount,
		"refunded_amount": target.RefundedAmount,
	})
	event := &models.OrderEvent{
		EventID:   utils.NewEventID(),
		StoreID:   chk.StoreID,
		CheckID:   target.CheckID,
		Type:      models.EventPaymentRefunded,
		Payload:   string(payload),
		CreatedAt: now,
	}

	if err := s.DB.ApplyRefund(ctx, target, touched, event); err != nil {
		return nil, err
	}

	s.Logger.LogPayment("REFUND", paymentID, fmt.Sprintf("amount %d (total refunded %d)", req.Amount, target.RefundedAmount))
	s.Notifier.Publish(event.Message())
	return target, nil
}

// Payments lists a check's settlement attempts, oldest first.
func (s *Service) Payments(ctx context.Context, checkID string) ([]models.Payment, error) {
	if _, err := s.DB.GetCheckByID(ctx, checkID); err != nil {
		return nil, err
	}
	return s.DB.GetPaymentsByCheck(ctx, checkID)
}
