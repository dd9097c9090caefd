package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mifi/in-app-subscription-example/internal/config"
	"github.com/mifi/in-app-subscription-example/internal/logging"
	"github.com/mifi/in-app-subscription-example/internal/models"
)

func newTestApp(t *testing.T) *application {
	t.Helper()

	var cfg config.Config
	cfg.Database.Driver = "sqlite"
	cfg.Database.URL = ":memory:"
	cfg.Apple.SharedSecret = "apple-secret"
	cfg.Auth.JWTSecret = "jwt-secret"

	app, err := initializeApp(context.Background(), cfg, logging.New(logging.Config{}, io.Discard))
	require.NoError(t, err)
	t.Cleanup(app.close)
	return app
}

func bearer(t *testing.T, app *application, userID string) string {
	t.Helper()
	token, err := app.tokens.NewJWT(userID, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestRoutesRequireAuth(t *testing.T) {
	app := newTestApp(t)
	h := app.routes()

	for _, tc := range []struct{ method, path, auth string }{
		{http.MethodPost, "/iap/purchase", ""},
		{http.MethodGet, "/iap/subscription/ios", ""},
		{http.MethodGet, "/iap/subscription/ios", "Bearer not-a-token"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(`{}`))
		if tc.auth != "" {
			req.Header.Set("Authorization", tc.auth)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestSubscriptionRouteReadsStore(t *testing.T) {
	app := newTestApp(t)
	h := app.routes()

	now := time.Now().UTC()
	require.NoError(t, app.subscriptionRepo.Upsert(context.Background(), models.Subscription{
		App:                   models.AppIOS,
		UserID:                "42",
		OriginalTransactionID: "1000000001",
		LatestReceipt:         "r",
		StartDate:             now.Add(-time.Hour),
		EndDate:               now.Add(time.Hour),
		ProductID:             "premium_monthly",
	}))

	req := httptest.NewRequest(http.MethodGet, "/iap/subscription/ios", nil)
	req.Header.Set("Authorization", bearer(t, app, "42"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Contains(t, rec.Body.String(), `"hasSubscription":true`)
	assert.Contains(t, rec.Body.String(), `"productId":"premium_monthly"`)

	req = httptest.NewRequest(http.MethodGet, "/iap/subscription/android", nil)
	req.Header.Set("Authorization", bearer(t, app, "42"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.JSONEq(t, `{"hasSubscription":false}`, rec.Body.String())
}

func TestAndroidPurchaseWithoutGoogleConfigFails(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/iap/purchase",
		strings.NewReader(`{"appType":"android","purchase":{"productId":"p","purchaseToken":"t"}}`))
	req.Header.Set("Authorization", bearer(t, app, "42"))
	rec := httptest.NewRecorder()
	app.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestOpsRoutes(t *testing.T) {
	app := newTestApp(t)
	h := app.routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRecoverPanic(t *testing.T) {
	app := newTestApp(t)
	h := app.recoverPanic(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "close", rec.Header().Get("Connection"))
}

func TestPrintToken(t *testing.T) {
	var cfg config.Config
	cfg.Auth.JWTSecret = "jwt-secret"

	var buf bytes.Buffer
	require.NoError(t, printToken(&buf, cfg, "42", time.Hour))
	assert.Equal(t, 3, len(strings.Split(strings.TrimSpace(buf.String()), ".")))

	cfg.Auth.JWTSecret = ""
	assert.Error(t, printToken(&buf, cfg, "42", time.Hour))
}
