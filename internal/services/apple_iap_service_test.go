package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mifi/in-app-subscription-example/internal/models"
)

func newAppleTestService(t *testing.T, prod, sandbox http.HandlerFunc) *AppleIAPService {
	t.Helper()

	prodSrv := httptest.NewServer(prod)
	t.Cleanup(prodSrv.Close)
	sandboxSrv := httptest.NewServer(sandbox)
	t.Cleanup(sandboxSrv.Close)

	svc, err := NewAppleIAPService(AppleIAPConfig{
		SharedSecret:  "secret",
		ProductionURL: prodSrv.URL,
		SandboxURL:    sandboxSrv.URL,
	})
	require.NoError(t, err)
	return svc
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestAppleIAPService_FallsBackToSandbox(t *testing.T) {
	var sandboxCalls atomic.Int32
	svc := newAppleTestService(t,
		func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{"status": 21007})
		},
		func(w http.ResponseWriter, r *http.Request) {
			sandboxCalls.Add(1)
			var req appleVerifyRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "receipt-data", req.ReceiptData)
			assert.Equal(t, "secret", req.Password)

			writeJSON(w, map[string]any{
				"status":         0,
				"environment":    "Sandbox",
				"latest_receipt": "latest",
				"latest_receipt_info": []map[string]any{
					{"product_id": "monthly", "original_transaction_id": "o1", "original_purchase_date_ms": "1000", "expires_date_ms": "5000"},
					{"product_id": "monthly", "original_transaction_id": "o1", "original_purchase_date_ms": "1000", "expires_date_ms": "9000", "cancellation_date_ms": "8000"},
				},
			})
		},
	)

	res, err := svc.Validate(context.Background(), models.IOSReceipt("receipt-data"))
	require.NoError(t, err)

	assert.Equal(t, int32(1), sandboxCalls.Load())
	assert.Equal(t, models.ServiceApple, res.Service)
	assert.True(t, res.Sandbox)
	assert.Equal(t, "latest", res.LatestReceipt)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "9000", res.Items[0].ExpiresDateMs)
	assert.True(t, res.Items[0].Cancelled)
	assert.False(t, res.Items[1].Cancelled)
	assert.NotEmpty(t, res.Raw)
}

func TestAppleIAPService_ProductionUsesInAppWhenNoLatestInfo(t *testing.T) {
	svc := newAppleTestService(t,
		func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{
				"status":      0,
				"environment": "Production",
				"receipt": map[string]any{
					"in_app": []map[string]any{
						{"product_id": "yearly", "original_transaction_id": "o2", "original_purchase_date_ms": "1", "expires_date_ms": "2"},
					},
				},
			})
		},
		func(w http.ResponseWriter, r *http.Request) {
			t.Error("sandbox must not be called")
		},
	)

	res, err := svc.Validate(context.Background(), models.IOSReceipt("r"))
	require.NoError(t, err)
	assert.False(t, res.Sandbox)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "o2", res.Items[0].OriginalTransactionID)
}

func TestAppleIAPService_StatusErrors(t *testing.T) {
	tests := []struct {
		status       int
		retryable    bool
		wantRejected bool
	}{
		{status: 21003, wantRejected: true},
		{status: 21010, wantRejected: true},
		{status: 21005, wantRejected: false},
		{status: 21150, wantRejected: false},
		{status: 21002, retryable: true, wantRejected: false},
	}
	for _, tt := range tests {
		svc := newAppleTestService(t,
			func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, map[string]any{"status": tt.status, "is-retryable": tt.retryable})
			},
			func(w http.ResponseWriter, r *http.Request) {},
		)
		_, err := svc.Validate(context.Background(), models.IOSReceipt("r"))
		require.Error(t, err, "status %d", tt.status)
		assert.Equal(t, tt.wantRejected, errors.Is(err, ErrReceiptRejected), "status %d", tt.status)
	}
}

func TestAppleIAPService_HTTPFailureIsNotRejection(t *testing.T) {
	svc := newAppleTestService(t,
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		},
		func(w http.ResponseWriter, r *http.Request) {},
	)
	_, err := svc.Validate(context.Background(), models.IOSReceipt("r"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrReceiptRejected))
}

func TestAppleIAPService_EmptyReceipt(t *testing.T) {
	svc, err := NewAppleIAPService(AppleIAPConfig{SharedSecret: "s"})
	require.NoError(t, err)

	_, err = svc.Validate(context.Background(), models.IOSReceipt("  "))
	assert.True(t, errors.Is(err, ErrReceiptRejected))

	_, err = NewAppleIAPService(AppleIAPConfig{})
	assert.Error(t, err)
}
