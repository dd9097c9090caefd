package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	androidpublisher "google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/mifi/in-app-subscription-example/internal/models"
)

type GooglePlayConfig struct {
	PackageName        string
	ServiceAccountJSON string

	// ClientOptions replace the service-account credentials when set (tests, workload identity).
	ClientOptions []option.ClientOption
}

// GooglePlayService validates Play subscriptions and acknowledges them.
type GooglePlayService struct {
	cfg GooglePlayConfig
	svc *androidpublisher.Service
}

func NewGooglePlayService(ctx context.Context, cfg GooglePlayConfig) (*GooglePlayService, error) {
	cfg.PackageName = strings.TrimSpace(cfg.PackageName)
	if cfg.PackageName == "" {
		return nil, errors.New("GOOGLE_PLAY_PACKAGE_NAME is empty")
	}

	opts := cfg.ClientOptions
	if len(opts) == 0 {
		if strings.TrimSpace(cfg.ServiceAccountJSON) == "" {
			return nil, errors.New("GOOGLE_PLAY_SERVICE_ACCOUNT_JSON is empty")
		}
		opts = []option.ClientOption{
			option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON)),
			option.WithScopes(androidpublisher.AndroidpublisherScope),
		}
	}

	s, err := androidpublisher.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("androidpublisher.NewService: %w", err)
	}
	return &GooglePlayService{cfg: cfg, svc: s}, nil
}

// Validate looks the subscription purchase up with purchases.subscriptions.get.
// The purchase token is the transaction id: it stays the same across renewals.
func (s *GooglePlayService) Validate(ctx context.Context, receipt models.Receipt) (models.ValidationResult, error) {
	r := receipt.Android
	if r == nil {
		return models.ValidationResult{}, fmt.Errorf("%w: missing android receipt", ErrReceiptRejected)
	}
	productID := strings.TrimSpace(r.ProductID)
	token := strings.TrimSpace(r.PurchaseToken)
	if productID == "" || token == "" {
		return models.ValidationResult{}, fmt.Errorf("%w: product_id and purchase_token are required", ErrReceiptRejected)
	}
	if !r.Subscription {
		return models.ValidationResult{}, fmt.Errorf("%w: only subscription purchases are supported", ErrReceiptRejected)
	}
	packageName := strings.TrimSpace(r.PackageName)
	if packageName == "" {
		packageName = s.cfg.PackageName
	}

	resp, err := s.svc.Purchases.Subscriptions.Get(packageName, productID, token).
		Context(ctx).
		Do()
	if err != nil {
		return models.ValidationResult{}, classifyGoogleError("google subscriptions.get", err)
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return models.ValidationResult{}, fmt.Errorf("google subscriptions.get: encode: %w", err)
	}

	ack := resp.AcknowledgementState
	return models.ValidationResult{
		Service:              models.ServiceGoogle,
		AcknowledgementState: &ack,
		Items: []models.PurchaseItem{{
			ProductID:        productID,
			TransactionID:    token,
			StartTimeMillis:  strconv.FormatInt(resp.StartTimeMillis, 10),
			ExpiryTimeMillis: strconv.FormatInt(resp.ExpiryTimeMillis, 10),
			Cancelled:        resp.UserCancellationTimeMillis > 0 || resp.CancelReason > 0,
		}},
		Raw: raw,
	}, nil
}

// AcknowledgeSubscription confirms the purchase so Google does not refund it.
// Acknowledging an already acknowledged purchase is a no-op on Google's side.
func (s *GooglePlayService) AcknowledgeSubscription(ctx context.Context, packageName, subscriptionID, token string) error {
	packageName = strings.TrimSpace(packageName)
	if packageName == "" {
		packageName = s.cfg.PackageName
	}
	subscriptionID = strings.TrimSpace(subscriptionID)
	token = strings.TrimSpace(token)
	if subscriptionID == "" || token == "" {
		return errors.New("subscription_id and purchase_token are required")
	}

	req := &androidpublisher.SubscriptionPurchasesAcknowledgeRequest{}
	if err := s.svc.Purchases.Subscriptions.Acknowledge(packageName, subscriptionID, token, req).
		Context(ctx).
		Do(); err != nil {
		return fmt.Errorf("google subscriptions.acknowledge: %w", err)
	}
	return nil
}

// classifyGoogleError marks answers about the token itself as rejections.
func classifyGoogleError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusBadRequest, http.StatusNotFound, http.StatusGone:
			return fmt.Errorf("%w: %s: %v", ErrReceiptRejected, op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
