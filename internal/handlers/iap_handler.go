package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mifi/in-app-subscription-example/internal/models"
)

type ctxKey string

const userIDKey ctxKey = "user_id"

// WithUserID stores the authenticated user on the request context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the authenticated user, or "" if none.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// PurchaseProcessor is what the handler needs from services.PurchaseProcessor.
type PurchaseProcessor interface {
	Process(ctx context.Context, app models.AppType, userID string, receipt models.Receipt) error
	Entitlement(ctx context.Context, userID string, app models.AppType) (models.Entitlement, error)
}

type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// IAPHandler accepts store receipts and answers entitlement queries.
type IAPHandler struct {
	Processor   PurchaseProcessor
	PackageName string
	Logger      Logger
}

func NewIAPHandler(processor PurchaseProcessor, packageName string, logger Logger) *IAPHandler {
	return &IAPHandler{Processor: processor, PackageName: packageName, Logger: logger}
}

type purchaseRequest struct {
	AppType  string `json:"appType"`
	Purchase struct {
		TransactionReceipt string `json:"transactionReceipt"`
		ProductID          string `json:"productId"`
		PurchaseToken      string `json:"purchaseToken"`
	} `json:"purchase"`
}

// SubmitPurchase handles POST /iap/purchase after the client finishes a store purchase.
func (h *IAPHandler) SubmitPurchase(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	app, err := models.ParseAppType(req.AppType)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var receipt models.Receipt
	switch app {
	case models.AppIOS:
		if strings.TrimSpace(req.Purchase.TransactionReceipt) == "" {
			http.Error(w, "purchase.transactionReceipt is required", http.StatusBadRequest)
			return
		}
		receipt = models.IOSReceipt(req.Purchase.TransactionReceipt)
	case models.AppAndroid:
		if strings.TrimSpace(req.Purchase.ProductID) == "" || strings.TrimSpace(req.Purchase.PurchaseToken) == "" {
			http.Error(w, "purchase.productId and purchase.purchaseToken are required", http.StatusBadRequest)
			return
		}
		receipt = models.AndroidPurchaseReceipt(models.AndroidReceipt{
			PackageName:   h.PackageName,
			ProductID:     req.Purchase.ProductID,
			PurchaseToken: req.Purchase.PurchaseToken,
			Subscription:  true,
		})
	}

	if err := h.Processor.Process(r.Context(), app, userID, receipt); err != nil {
		h.errorf("process %s purchase for user %s: %v", app, userID, err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSubscription handles GET /iap/subscription/:app.
func (h *IAPHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// an unknown platform has no records; the store short-circuits on empty
	app, err := models.ParseAppType(r.URL.Query().Get(":app"))
	if err != nil {
		app = ""
	}

	ent, err := h.Processor.Entitlement(r.Context(), userID, app)
	if err != nil {
		h.errorf("load %s entitlement for user %s: %v", app, userID, err)
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrValidation) {
			status = http.StatusBadRequest
		}
		http.Error(w, http.StatusText(status), status)
		return
	}
	_ = json.NewEncoder(w).Encode(ent)
}

func (h *IAPHandler) errorf(format string, args ...interface{}) {
	if h.Logger != nil {
		h.Logger.Errorf(format, args...)
	}
}
