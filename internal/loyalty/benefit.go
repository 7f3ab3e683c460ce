package loyalty

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pos-ledger/internal/ledger"
	"pos-ledger/internal/logger"
	"pos-ledger/internal/models"
	"pos-ledger/internal/utils"

	"github.com/skip2/go-qrcode"
)

// IssuerDB is the storage surface benefit issuance needs.
type IssuerDB interface {
	BenefitExists(ctx context.Context, historyID, templateName string) (bool, error)
	InsertBenefitIssue(ctx context.Context, issue *models.BenefitIssue) error
	GetBenefitByID(ctx context.Context, id string) (*models.BenefitIssue, error)
	MarkBenefitUsed(ctx context.Context, id string, at time.Time) (bool, error)
	AppendEvent(ctx context.Context, event *models.OrderEvent) error
}

// Issuer materializes a tier's benefit templates into redeemable instances.
// Issuance is idempotent per (promotion, template): re-running a promotion
// cannot hand out the same benefit twice.
type Issuer struct {
	DB       IssuerDB
	Notifier Publisher
	Logger   *logger.Logger
}

func NewIssuer(db IssuerDB, notifier Publisher, log *logger.Logger) *Issuer {
	return &Issuer{
		DB:       db,
		Notifier: notifier,
		Logger:   log,
	}
}

// IssueForPromotion grants every valid template of the reached tier. A
// malformed template is skipped and logged, never issued half-formed; one
// bad template does not block the rest.
func (i *Issuer) IssueForPromotion(ctx context.Context, checkID string, history *models.LevelHistory, level *models.RegularLevel) {
	for idx := range level.Benefits {
		tmpl := &level.Benefits[idx]
		if !tmpl.Validate() {
			i.Logger.Error("BENEFIT", fmt.Sprintf("level %s template %q is malformed, skipping", level.ID, tmpl.Name))
			continue
		}
		if err := i.issueOne(ctx, checkID, history, level, tmpl); err != nil {
			i.Logger.Error("BENEFIT", fmt.Sprintf("issuing %q for history %s failed: %v", tmpl.Name, history.ID, err))
		}
	}
}

func (i *Issuer) issueOne(ctx context.Context, checkID string, history *models.LevelHistory, level *models.RegularLevel, tmpl *models.BenefitTemplate) error {
	exists, err := i.DB.BenefitExists(ctx, history.ID, tmpl.Name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	now := time.Now().UTC()
	issue := &models.BenefitIssue{
		ID:           utils.NewID(),
		UserID:       history.UserID,
		StoreID:      history.StoreID,
		LevelID:      level.ID,
		HistoryID:    history.ID,
		TemplateName: tmpl.Name,
		Kind:         tmpl.Kind,
		IssuedAt:     now,
	}
	if tmpl.ExpiryDays != nil && *tmpl.ExpiryDays > 0 {
		issue.ExpiresAt = now.AddDate(0, 0, *tmpl.ExpiryDays)
	}

	qrPayload, _ := json.Marshal(map[string]string{
		"benefit_id": issue.ID,
		"user_id":    issue.UserID,
		"store_id":   issue.StoreID,
	})
	png, err := qrcode.Encode(string(qrPayload), qrcode.Medium, 256)
	if err != nil {
		return err
	}
	issue.QRCode = png

	if err := i.DB.InsertBenefitIssue(ctx, issue); err != nil {
		if ledger.IsUniqueViolation(err) {
			// A concurrent issuance of the same promotion won.
			return nil
		}
		return err
	}

	payload, _ := json.Marshal(map[string]string{
		"benefit_id": issue.ID,
		"name":       tmpl.Name,
		"kind":       tmpl.Kind,
	})
	event := &models.OrderEvent{
		EventID:   utils.NewEventID(),
		StoreID:   issue.StoreID,
		CheckID:   checkID,
		Type:      models.EventBenefitIssued,
		Payload:   string(payload),
		CreatedAt: now,
	}
	if err := i.DB.AppendEvent(ctx, event); err != nil {
		return err
	}

	i.Logger.LogLoyalty("ISSUE", fmt.Sprintf("benefit %q (%s) to user %s", tmpl.Name, tmpl.Kind, issue.UserID))
	i.Notifier.Publish(event.Message())
	return nil
}

// Redeem marks a benefit used exactly once. Expired or already-used benefits
// are rejected; the flip is a guarded update so two concurrent redemptions
// cannot both win.
func (i *Issuer) Redeem(ctx context.Context, benefitID string) (*models.BenefitIssue, error) {
	issue, err := i.DB.GetBenefitByID(ctx, benefitID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if !issue.Usable(now) {
		return nil, fmt.Errorf("benefit %s is used or expired: %w", benefitID, ledger.ErrConflict)
	}

	flipped, err := i.DB.MarkBenefitUsed(ctx, benefitID, now)
	if err != nil {
		return nil, err
	}
	if !flipped {
		return nil, fmt.Errorf("benefit %s was redeemed concurrently: %w", benefitID, ledger.ErrConflict)
	}

	issue.Used = true
	issue.UsedAt = now
	i.Logger.LogLoyalty("REDEEM", fmt.Sprintf("benefit %s by user %s", benefitID, issue.UserID))
	return issue, nil
}
