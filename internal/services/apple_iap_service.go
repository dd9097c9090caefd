package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mifi/in-app-subscription-example/internal/models"
)

const (
	appleVerifyProductionURL = "https://buy.itunes.apple.com/verifyReceipt"
	appleVerifySandboxURL    = "https://sandbox.itunes.apple.com/verifyReceipt"

	appleStatusOK             = 0
	appleStatusSandboxReceipt = 21007
	appleStatusUnavailable    = 21005
)

type AppleIAPConfig struct {
	// App-specific shared secret, required for auto-renewable subscriptions.
	SharedSecret           string
	ExcludeOldTransactions bool
	HTTPClient             *http.Client

	// Overridable for tests.
	ProductionURL string
	SandboxURL    string
}

// AppleIAPService validates App Store receipts through the verifyReceipt endpoint.
type AppleIAPService struct {
	secret        string
	excludeOld    bool
	client        *http.Client
	productionURL string
	sandboxURL    string
}

func NewAppleIAPService(cfg AppleIAPConfig) (*AppleIAPService, error) {
	if strings.TrimSpace(cfg.SharedSecret) == "" {
		return nil, fmt.Errorf("apple iap: shared_secret is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	prod := cfg.ProductionURL
	if prod == "" {
		prod = appleVerifyProductionURL
	}
	sandbox := cfg.SandboxURL
	if sandbox == "" {
		sandbox = appleVerifySandboxURL
	}
	return &AppleIAPService{
		secret:        strings.TrimSpace(cfg.SharedSecret),
		excludeOld:    cfg.ExcludeOldTransactions,
		client:        client,
		productionURL: prod,
		sandboxURL:    sandbox,
	}, nil
}

type appleVerifyRequest struct {
	ReceiptData            string `json:"receipt-data"`
	Password               string `json:"password"`
	ExcludeOldTransactions bool   `json:"exclude-old-transactions"`
}

type appleReceiptItem struct {
	ProductID              string `json:"product_id"`
	TransactionID          string `json:"transaction_id"`
	OriginalTransactionID  string `json:"original_transaction_id"`
	OriginalPurchaseDateMs string `json:"original_purchase_date_ms"`
	ExpiresDateMs          string `json:"expires_date_ms"`
	CancellationDateMs     string `json:"cancellation_date_ms"`
}

type appleVerifyResponse struct {
	Status            int                `json:"status"`
	Environment       string             `json:"environment"`
	IsRetryable       bool               `json:"is-retryable"`
	LatestReceipt     string             `json:"latest_receipt"`
	LatestReceiptInfo []appleReceiptItem `json:"latest_receipt_info"`
	Receipt           struct {
		BundleID string             `json:"bundle_id"`
		InApp    []appleReceiptItem `json:"in_app"`
	} `json:"receipt"`
}

// Validate posts the receipt to production and falls back to sandbox when
// Apple reports a sandbox receipt (status 21007).
func (s *AppleIAPService) Validate(ctx context.Context, receipt models.Receipt) (models.ValidationResult, error) {
	data := strings.TrimSpace(receipt.IOS)
	if data == "" {
		return models.ValidationResult{}, fmt.Errorf("%w: empty ios receipt", ErrReceiptRejected)
	}

	resp, raw, err := s.verify(ctx, s.productionURL, data)
	if err != nil {
		return models.ValidationResult{}, err
	}
	sandbox := false
	if resp.Status == appleStatusSandboxReceipt {
		resp, raw, err = s.verify(ctx, s.sandboxURL, data)
		if err != nil {
			return models.ValidationResult{}, err
		}
		sandbox = true
	}
	if err := appleStatusError(resp); err != nil {
		return models.ValidationResult{}, err
	}
	if strings.EqualFold(resp.Environment, "sandbox") {
		sandbox = true
	}

	items := resp.LatestReceiptInfo
	if len(items) == 0 {
		items = resp.Receipt.InApp
	}
	out := make([]models.PurchaseItem, 0, len(items))
	for _, it := range items {
		out = append(out, models.PurchaseItem{
			ProductID:              it.ProductID,
			TransactionID:          it.TransactionID,
			OriginalTransactionID:  it.OriginalTransactionID,
			OriginalPurchaseDateMs: it.OriginalPurchaseDateMs,
			ExpiresDateMs:          it.ExpiresDateMs,
			Cancelled:              strings.TrimSpace(it.CancellationDateMs) != "",
		})
	}
	// most recent period first
	sort.SliceStable(out, func(i, j int) bool {
		return msOrZero(out[i].ExpiresDateMs) > msOrZero(out[j].ExpiresDateMs)
	})

	return models.ValidationResult{
		Service:       models.ServiceApple,
		Sandbox:       sandbox,
		LatestReceipt: resp.LatestReceipt,
		Items:         out,
		Raw:           raw,
	}, nil
}

func (s *AppleIAPService) verify(ctx context.Context, url, data string) (appleVerifyResponse, []byte, error) {
	body, err := json.Marshal(appleVerifyRequest{
		ReceiptData:            data,
		Password:               s.secret,
		ExcludeOldTransactions: s.excludeOld,
	})
	if err != nil {
		return appleVerifyResponse{}, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return appleVerifyResponse{}, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return appleVerifyResponse{}, nil, fmt.Errorf("apple verifyReceipt: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return appleVerifyResponse{}, nil, fmt.Errorf("apple verifyReceipt: read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return appleVerifyResponse{}, nil, fmt.Errorf("apple verifyReceipt: %s (%s)", resp.Status, strings.TrimSpace(string(raw)))
	}

	var out appleVerifyResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return appleVerifyResponse{}, nil, fmt.Errorf("apple verifyReceipt: decode: %w", err)
	}
	return out, raw, nil
}

// appleStatusError maps a non-zero verifyReceipt status to an error. Statuses
// Apple marks as server-side trouble stay retryable; the rest reject the receipt.
func appleStatusError(resp appleVerifyResponse) error {
	switch {
	case resp.Status == appleStatusOK:
		return nil
	case resp.IsRetryable, resp.Status == appleStatusUnavailable, resp.Status >= 21100 && resp.Status <= 21199:
		return fmt.Errorf("apple verifyReceipt: status %d (retryable)", resp.Status)
	}
	return fmt.Errorf("%w: apple status %d", ErrReceiptRejected, resp.Status)
}

func msOrZero(v string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
