package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mifi/in-app-subscription-example/internal/models"
)

var errMalformedResult = errors.New("malformed validation result")

// PurchasePlatform holds the per-store parts of purchase processing.
type PurchasePlatform interface {
	// Normalize maps the first purchase item of a validation result to a NormalizedPurchase.
	Normalize(receipt models.Receipt, result models.ValidationResult) (models.NormalizedPurchase, error)
	// PostProcess runs after the record is persisted.
	PostProcess(ctx context.Context, receipt models.Receipt, result models.ValidationResult, purchase models.NormalizedPurchase) error
}

// PlatformFor selects the platform behavior for app. ack may be nil when
// Android acknowledgement is not configured.
func PlatformFor(app models.AppType, ack Acknowledger) (PurchasePlatform, error) {
	switch app {
	case models.AppIOS:
		return applePlatform{}, nil
	case models.AppAndroid:
		return googlePlatform{ack: ack}, nil
	}
	return nil, fmt.Errorf("unsupported app type: %q", app)
}

type applePlatform struct{}

func (applePlatform) Normalize(receipt models.Receipt, result models.ValidationResult) (models.NormalizedPurchase, error) {
	item, raw, err := firstItem(result)
	if err != nil {
		return models.NormalizedPurchase{}, err
	}
	if strings.TrimSpace(item.OriginalTransactionID) == "" {
		return models.NormalizedPurchase{}, fmt.Errorf("%w: original_transaction_id is missing", errMalformedResult)
	}
	start, err := parseMillis("original_purchase_date_ms", item.OriginalPurchaseDateMs)
	if err != nil {
		return models.NormalizedPurchase{}, err
	}
	end, err := parseMillis("expires_date_ms", item.ExpiresDateMs)
	if err != nil {
		return models.NormalizedPurchase{}, err
	}

	env := models.EnvironmentProduction
	if result.Sandbox {
		env = models.EnvironmentSandbox
	}
	latest := result.LatestReceipt
	if latest == "" {
		latest = receipt.IOS
	}

	return models.NormalizedPurchase{
		ProductID:             item.ProductID,
		OriginalTransactionID: item.OriginalTransactionID,
		StartDate:             start,
		EndDate:               end,
		IsCancelled:           item.Cancelled,
		Environment:           env,
		Receipt:               latest,
		ValidationResponse:    raw,
	}, nil
}

func (applePlatform) PostProcess(context.Context, models.Receipt, models.ValidationResult, models.NormalizedPurchase) error {
	return nil
}

type googlePlatform struct {
	ack Acknowledger
}

func (googlePlatform) Normalize(receipt models.Receipt, result models.ValidationResult) (models.NormalizedPurchase, error) {
	if receipt.Android == nil {
		return models.NormalizedPurchase{}, fmt.Errorf("%w: android receipt is missing", errMalformedResult)
	}
	item, raw, err := firstItem(result)
	if err != nil {
		return models.NormalizedPurchase{}, err
	}
	if strings.TrimSpace(item.TransactionID) == "" {
		return models.NormalizedPurchase{}, fmt.Errorf("%w: transaction id is missing", errMalformedResult)
	}
	start, err := parseMillis("startTimeMillis", item.StartTimeMillis)
	if err != nil {
		return models.NormalizedPurchase{}, err
	}
	end, err := parseMillis("expiryTimeMillis", item.ExpiryTimeMillis)
	if err != nil {
		return models.NormalizedPurchase{}, err
	}
	stored, err := json.Marshal(receipt.Android)
	if err != nil {
		return models.NormalizedPurchase{}, fmt.Errorf("encode android receipt: %w", err)
	}

	return models.NormalizedPurchase{
		ProductID:             item.ProductID,
		OriginalTransactionID: item.TransactionID,
		StartDate:             start,
		EndDate:               end,
		IsCancelled:           item.Cancelled,
		Receipt:               string(stored),
		ValidationResponse:    raw,
	}, nil
}

func (p googlePlatform) PostProcess(ctx context.Context, receipt models.Receipt, result models.ValidationResult, purchase models.NormalizedPurchase) error {
	if !result.NeedsAcknowledgement() {
		return nil
	}
	if p.ack == nil {
		return errors.New("purchase needs acknowledgement but no acknowledger is configured")
	}
	r := receipt.Android
	return p.ack.AcknowledgeSubscription(ctx, r.PackageName, r.ProductID, r.PurchaseToken)
}

func firstItem(result models.ValidationResult) (models.PurchaseItem, string, error) {
	if len(result.Items) == 0 {
		return models.PurchaseItem{}, "", fmt.Errorf("%w: no purchase items", errMalformedResult)
	}
	return result.Items[0], string(result.Raw), nil
}

// parseMillis reads a base-10 epoch millisecond string as a UTC instant.
func parseMillis(field, v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("%w: %s is missing", errMalformedResult, field)
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", errMalformedResult, field, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
