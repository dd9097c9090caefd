package models

import (
	"fmt"
	"strings"
	"time"
)

// AppType is the platform a purchase was made on.
type AppType string

const (
	AppIOS     AppType = "ios"
	AppAndroid AppType = "android"
)

// Validator service tags reported back in a ValidationResult.
const (
	ServiceApple  = "apple"
	ServiceGoogle = "google"
)

const (
	EnvironmentProduction = "production"
	EnvironmentSandbox    = "sandbox"
)

// ParseAppType accepts "ios" or "android" in any case.
func ParseAppType(s string) (AppType, error) {
	switch AppType(strings.ToLower(strings.TrimSpace(s))) {
	case AppIOS:
		return AppIOS, nil
	case AppAndroid:
		return AppAndroid, nil
	}
	return "", fmt.Errorf("unsupported app type: %q", s)
}

// Service returns the validator service tag that must accompany results for this app.
func (a AppType) Service() string {
	switch a {
	case AppIOS:
		return ServiceApple
	case AppAndroid:
		return ServiceGoogle
	}
	return ""
}

// Subscription is the reconciled entitlement state for one original transaction.
// OriginalTransactionID is the natural key; UserID and App never change after insert.
type Subscription struct {
	ID                    int64     `json:"-"`
	App                   AppType   `json:"app"`
	Environment           string    `json:"environment"`
	UserID                string    `json:"user_id"`
	OriginalTransactionID string    `json:"original_transaction_id"`
	ValidationResponse    string    `json:"-"`
	LatestReceipt         string    `json:"-"`
	StartDate             time.Time `json:"start_date"`
	EndDate               time.Time `json:"end_date"`
	ProductID             string    `json:"product_id"`
	IsCancelled           bool      `json:"is_cancelled"`
	Fake                  bool      `json:"-"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// ActiveSubscription is the slice of a row the reconciliation sweep needs.
type ActiveSubscription struct {
	ID            int64
	LatestReceipt string
	UserID        string
	App           AppType
}

// NormalizedPurchase is the platform-agnostic view of a validated receipt.
// It is never persisted as-is.
type NormalizedPurchase struct {
	ProductID             string
	OriginalTransactionID string
	StartDate             time.Time
	EndDate               time.Time
	IsCancelled           bool
	Environment           string
	Receipt               string
	ValidationResponse    string
}

// EntitlementSubscription is the public projection of a Subscription.
type EntitlementSubscription struct {
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
	ProductID   string    `json:"productId"`
	IsCancelled bool      `json:"isCancelled"`
	Type        string    `json:"type"`
}

// Entitlement answers whether a user currently has access on a platform.
type Entitlement struct {
	Subscription    *EntitlementSubscription `json:"subscription,omitempty"`
	HasSubscription bool                     `json:"hasSubscription"`
}

// EntitlementFrom builds the query response for a (possibly absent) record.
func EntitlementFrom(sub *Subscription, active bool) Entitlement {
	if sub == nil {
		return Entitlement{}
	}
	return Entitlement{
		Subscription: &EntitlementSubscription{
			StartDate:   sub.StartDate,
			EndDate:     sub.EndDate,
			ProductID:   sub.ProductID,
			IsCancelled: sub.IsCancelled,
			Type:        "iap",
		},
		HasSubscription: active,
	}
}
