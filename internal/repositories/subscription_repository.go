package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mifi/in-app-subscription-example/internal/models"
)

// ErrNotFound wraps sql.ErrNoRows for clarity.
var ErrNotFound = errors.New("not found")

// SubscriptionRepository is the durable store of reconciled subscriptions.
type SubscriptionRepository struct {
	DB      *sql.DB
	Dialect Dialect

	now func() time.Time

	mu          sync.Mutex
	schemaReady bool
}

func NewSubscriptionRepository(db *sql.DB, dialect Dialect) *SubscriptionRepository {
	return &SubscriptionRepository{DB: db, Dialect: dialect, now: time.Now}
}

// OpenDB opens and pings a connection pool for the dialect.
func OpenDB(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// one writer; also keeps :memory: databases on a single connection
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return db, nil
}

// ensureSchema creates the table on first use. A failed attempt is retried by
// the next caller.
func (r *SubscriptionRepository) ensureSchema(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.schemaReady {
		return nil
	}
	for _, ddl := range r.Dialect.schema() {
		if _, err := r.DB.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure subscriptions schema: %w", err)
		}
	}
	r.schemaReady = true
	return nil
}

// Upsert inserts the subscription or, when its original transaction id already
// exists, overwrites the mutable columns. Concurrent calls for the same key end
// up as one row.
func (r *SubscriptionRepository) Upsert(ctx context.Context, sub models.Subscription) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(sub.OriginalTransactionID) == "" {
		return fmt.Errorf("original_transaction_id is required")
	}
	now := r.now().UTC().UnixMilli()
	query := `
INSERT INTO subscriptions (app, environment, user_id, original_transaction_id, validation_response, latest_receipt, start_date, end_date, product_id, is_cancelled, fake, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
` + r.Dialect.upsertClause()

	_, err := r.DB.ExecContext(ctx, r.Dialect.rebind(query),
		string(sub.App),
		sub.Environment,
		sub.UserID,
		sub.OriginalTransactionID,
		sub.ValidationResponse,
		sub.LatestReceipt,
		sub.StartDate.UTC().UnixMilli(),
		sub.EndDate.UTC().UnixMilli(),
		sub.ProductID,
		sub.IsCancelled,
		sub.Fake,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("upsert subscription %s: %w", sub.OriginalTransactionID, err)
	}
	return nil
}

// ActiveSubscriptions lists every non-fake row whose end date has not passed at now.
func (r *SubscriptionRepository) ActiveSubscriptions(ctx context.Context, now time.Time) ([]models.ActiveSubscription, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, r.Dialect.rebind(`
SELECT id, latest_receipt, user_id, app
FROM subscriptions
WHERE end_date >= ? AND fake = ?`), now.UTC().UnixMilli(), false)
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	defer rows.Close()

	var out []models.ActiveSubscription
	for rows.Next() {
		var (
			item    models.ActiveSubscription
			receipt sql.NullString
			app     string
		)
		if err := rows.Scan(&item.ID, &receipt, &item.UserID, &app); err != nil {
			return nil, err
		}
		item.LatestReceipt = receipt.String
		item.App = models.AppType(app)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LatestForUser returns the user's subscription with the latest start date on
// the given platform, or nil when there is none.
func (r *SubscriptionRepository) LatestForUser(ctx context.Context, userID string, app models.AppType) (*models.Subscription, error) {
	if app == "" {
		return nil, nil
	}
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	row := r.DB.QueryRowContext(ctx, r.Dialect.rebind(`
SELECT id, app, environment, user_id, original_transaction_id, validation_response, latest_receipt,
       start_date, end_date, product_id, is_cancelled, fake, created_at, updated_at
FROM subscriptions
WHERE user_id = ? AND app = ?
ORDER BY start_date DESC
LIMIT 1`), userID, string(app))

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load latest subscription: %w", err)
	}
	return &sub, nil
}

// FindByOriginalTransactionID returns the row stored under the natural key.
func (r *SubscriptionRepository) FindByOriginalTransactionID(ctx context.Context, originalID string) (models.Subscription, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return models.Subscription{}, err
	}
	row := r.DB.QueryRowContext(ctx, r.Dialect.rebind(`
SELECT id, app, environment, user_id, original_transaction_id, validation_response, latest_receipt,
       start_date, end_date, product_id, is_cancelled, fake, created_at, updated_at
FROM subscriptions
WHERE original_transaction_id = ?`), originalID)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Subscription{}, ErrNotFound
		}
		return models.Subscription{}, err
	}
	return sub, nil
}

// Count returns the number of rows stored under an original transaction id.
func (r *SubscriptionRepository) Count(ctx context.Context, originalID string) (int, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return 0, err
	}
	var n int
	err := r.DB.QueryRowContext(ctx, r.Dialect.rebind(`SELECT COUNT(*) FROM subscriptions WHERE original_transaction_id = ?`), originalID).Scan(&n)
	return n, err
}

func scanSubscription(scanner interface{ Scan(dest ...any) error }) (models.Subscription, error) {
	var (
		sub                  models.Subscription
		app                  string
		validation, receipt  sql.NullString
		start, end           int64
		createdAt, updatedAt int64
	)
	err := scanner.Scan(&sub.ID, &app, &sub.Environment, &sub.UserID, &sub.OriginalTransactionID,
		&validation, &receipt, &start, &end, &sub.ProductID, &sub.IsCancelled, &sub.Fake, &createdAt, &updatedAt)
	if err != nil {
		return models.Subscription{}, err
	}
	sub.App = models.AppType(app)
	sub.ValidationResponse = validation.String
	sub.LatestReceipt = receipt.String
	sub.StartDate = time.UnixMilli(start).UTC()
	sub.EndDate = time.UnixMilli(end).UTC()
	sub.CreatedAt = time.UnixMilli(createdAt).UTC()
	sub.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return sub, nil
}
