package services

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mifi/in-app-subscription-example/internal/models"
	"github.com/mifi/in-app-subscription-example/internal/repositories"
)

type validateFunc func(app models.AppType, receipt models.Receipt) (models.ValidationResult, error)

type fakeValidator struct {
	mu    sync.Mutex
	calls int
	fn    validateFunc
}

func (v *fakeValidator) Validate(_ context.Context, app models.AppType, receipt models.Receipt) (models.ValidationResult, error) {
	v.mu.Lock()
	v.calls++
	fn := v.fn
	v.mu.Unlock()
	return fn(app, receipt)
}

func (v *fakeValidator) set(fn validateFunc) {
	v.mu.Lock()
	v.fn = fn
	v.mu.Unlock()
}

type ackCall struct {
	PackageName    string
	SubscriptionID string
	Token          string
}

type fakeAcknowledger struct {
	mu    sync.Mutex
	calls []ackCall
	err   error
}

func (a *fakeAcknowledger) AcknowledgeSubscription(_ context.Context, packageName, subscriptionID, token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, ackCall{packageName, subscriptionID, token})
	return a.err
}

func (a *fakeAcknowledger) Calls() []ackCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ackCall(nil), a.calls...)
}

type recordingStore struct {
	mu      sync.Mutex
	upserts []models.Subscription
	err     error
}

func (s *recordingStore) Upsert(_ context.Context, sub models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.upserts = append(s.upserts, sub)
	return nil
}

func (s *recordingStore) ActiveSubscriptions(context.Context, time.Time) ([]models.ActiveSubscription, error) {
	return nil, nil
}

func (s *recordingStore) LatestForUser(context.Context, string, models.AppType) (*models.Subscription, error) {
	return nil, nil
}

type testLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (l *testLogger) Infof(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, format)
}

func (l *testLogger) Errorf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, format)
}

func (l *testLogger) ErrorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

func newSQLiteStore(t *testing.T) *repositories.SubscriptionRepository {
	t.Helper()

	db, err := repositories.OpenDB(context.Background(), repositories.DialectSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return repositories.NewSubscriptionRepository(db, repositories.DialectSQLite)
}

func ms(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func appleResult(origID string, start, end time.Time) models.ValidationResult {
	return models.ValidationResult{
		Service:       models.ServiceApple,
		LatestReceipt: "latest-" + origID,
		Items: []models.PurchaseItem{{
			ProductID:              "premium_monthly",
			TransactionID:          origID + "-2",
			OriginalTransactionID:  origID,
			OriginalPurchaseDateMs: ms(start),
			ExpiresDateMs:          ms(end),
		}},
		Raw: []byte(`{"status":0}`),
	}
}

func googleResult(token string, start, end time.Time, ackState int64) models.ValidationResult {
	return models.ValidationResult{
		Service:              models.ServiceGoogle,
		AcknowledgementState: &ackState,
		Items: []models.PurchaseItem{{
			ProductID:        "premium_monthly",
			TransactionID:    token,
			StartTimeMillis:  ms(start),
			ExpiryTimeMillis: ms(end),
		}},
		Raw: []byte(`{"kind":"androidpublisher#subscriptionPurchase"}`),
	}
}

func androidReceipt(token string) models.Receipt {
	return models.AndroidPurchaseReceipt(models.AndroidReceipt{
		PackageName:   "com.example.app",
		ProductID:     "premium_monthly",
		PurchaseToken: token,
		Subscription:  true,
	})
}
