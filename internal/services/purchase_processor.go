package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mifi/in-app-subscription-example/internal/metrics"
	"github.com/mifi/in-app-subscription-example/internal/models"
)

// SubscriptionStore is the persistence the processor and the sweep depend on.
type SubscriptionStore interface {
	Upsert(ctx context.Context, sub models.Subscription) error
	ActiveSubscriptions(ctx context.Context, now time.Time) ([]models.ActiveSubscription, error)
	LatestForUser(ctx context.Context, userID string, app models.AppType) (*models.Subscription, error)
}

// PurchaseProcessor reconciles one receipt into the subscription store.
type PurchaseProcessor struct {
	validator Validator
	store     SubscriptionStore
	ack       Acknowledger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewPurchaseProcessor(validator Validator, store SubscriptionStore, ack Acknowledger, m *metrics.Metrics) *PurchaseProcessor {
	return &PurchaseProcessor{
		validator: validator,
		store:     store,
		ack:       ack,
		metrics:   m,
		now:       time.Now,
	}
}

// Process validates receipt, upserts the resulting subscription and runs
// platform post-processing. A failed acknowledgement is returned but the
// persisted record stays in place; reporting it is left to the caller.
func (p *PurchaseProcessor) Process(ctx context.Context, app models.AppType, userID string, receipt models.Receipt) (err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(models.KindOf(err))
		}
		p.metrics.RecordPurchase(string(app), outcome)
	}()

	platform, err := PlatformFor(app, p.ack)
	if err != nil {
		return models.NewProcessingError(models.KindValidation, "platform", app, err)
	}
	if strings.TrimSpace(userID) == "" {
		return models.NewProcessingError(models.KindValidation, "user", app, errors.New("user id is required"))
	}

	result, err := p.validator.Validate(ctx, app, receipt)
	if err != nil {
		return models.NewProcessingError(models.KindValidation, "validate", app, err)
	}
	if result.Service != app.Service() {
		return models.NewProcessingError(models.KindConsistency, "validate", app,
			fmt.Errorf("expected service %q, validator reported %q", app.Service(), result.Service))
	}

	purchase, err := platform.Normalize(receipt, result)
	if err != nil {
		return models.NewProcessingError(models.KindValidation, "normalize", app, err)
	}

	sub := models.Subscription{
		App:                   app,
		Environment:           purchase.Environment,
		UserID:                userID,
		OriginalTransactionID: purchase.OriginalTransactionID,
		ValidationResponse:    purchase.ValidationResponse,
		LatestReceipt:         purchase.Receipt,
		StartDate:             purchase.StartDate,
		EndDate:               purchase.EndDate,
		ProductID:             purchase.ProductID,
		IsCancelled:           purchase.IsCancelled,
	}
	if err := p.store.Upsert(ctx, sub); err != nil {
		return models.NewProcessingError(models.KindPersistence, "upsert", app, err)
	}

	if err := platform.PostProcess(ctx, receipt, result, purchase); err != nil {
		p.metrics.RecordAcknowledgement(err)
		return models.NewProcessingError(models.KindAcknowledgement, "acknowledge", app, err)
	}
	if result.NeedsAcknowledgement() {
		p.metrics.RecordAcknowledgement(nil)
	}
	return nil
}

// Entitlement returns the latest subscription of userID on app and whether it grants access now.
func (p *PurchaseProcessor) Entitlement(ctx context.Context, userID string, app models.AppType) (models.Entitlement, error) {
	sub, err := p.store.LatestForUser(ctx, userID, app)
	if err != nil {
		return models.Entitlement{}, models.NewProcessingError(models.KindPersistence, "latest", app, err)
	}
	return models.EntitlementFrom(sub, HasEntitlement(sub, p.now())), nil
}
