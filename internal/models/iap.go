package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// AndroidReceipt is the token descriptor Google Play purchases are validated with.
// Its JSON form is what gets stored as the latest receipt of an Android row.
type AndroidReceipt struct {
	PackageName   string `json:"packageName"`
	ProductID     string `json:"productId"`
	PurchaseToken string `json:"purchaseToken"`
	Subscription  bool   `json:"subscription"`
}

// Receipt is a raw, not yet validated proof of purchase.
// Exactly one of IOS or Android is set depending on the platform.
type Receipt struct {
	IOS     string
	Android *AndroidReceipt
}

// IOSReceipt wraps an App Store base64 receipt.
func IOSReceipt(data string) Receipt {
	return Receipt{IOS: data}
}

// AndroidPurchaseReceipt wraps a Google Play token descriptor.
func AndroidPurchaseReceipt(r AndroidReceipt) Receipt {
	return Receipt{Android: &r}
}

// ReceiptFromStored rebuilds a platform-native receipt from a stored latest_receipt column.
func ReceiptFromStored(app AppType, stored string) (Receipt, error) {
	if strings.TrimSpace(stored) == "" {
		return Receipt{}, errors.New("stored receipt is empty")
	}
	switch app {
	case AppIOS:
		return IOSReceipt(stored), nil
	case AppAndroid:
		var r AndroidReceipt
		if err := json.Unmarshal([]byte(stored), &r); err != nil {
			return Receipt{}, fmt.Errorf("decode android receipt: %w", err)
		}
		return AndroidPurchaseReceipt(r), nil
	}
	return Receipt{}, fmt.Errorf("unsupported app type: %q", app)
}

// PurchaseItem is one purchase entry reported by a validator.
// Timestamps are kept as the base-10 millisecond strings both stores send.
type PurchaseItem struct {
	ProductID     string `json:"productId"`
	TransactionID string `json:"transactionId,omitempty"`

	// Apple
	OriginalTransactionID  string `json:"originalTransactionId,omitempty"`
	OriginalPurchaseDateMs string `json:"originalPurchaseDateMs,omitempty"`
	ExpiresDateMs          string `json:"expiresDateMs,omitempty"`

	// Google
	StartTimeMillis  string `json:"startTimeMillis,omitempty"`
	ExpiryTimeMillis string `json:"expiryTimeMillis,omitempty"`

	Cancelled bool `json:"cancelled"`
}

// ValidationResult is the normalized envelope every validator returns.
type ValidationResult struct {
	Service string

	// Apple only.
	Sandbox       bool
	LatestReceipt string

	// Google only. 0 means the purchase still has to be acknowledged.
	AcknowledgementState *int64

	Items []PurchaseItem

	// Raw is the validator payload as received, kept for audit.
	Raw json.RawMessage
}

// NeedsAcknowledgement reports whether Google still waits for an acknowledge call.
func (r ValidationResult) NeedsAcknowledgement() bool {
	return r.AcknowledgementState != nil && *r.AcknowledgementState == 0
}
