package repositories

import (
	"fmt"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL flavour of the subscriptions store.
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect maps a configured driver name to a Dialect. Empty means MySQL.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "mysql":
		return DialectMySQL, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	}
	return "", fmt.Errorf("unsupported database driver: %q", driver)
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	switch d {
	case DialectPostgres:
		return "pgx"
	case DialectSQLite:
		return "sqlite"
	}
	return "mysql"
}

// rebind rewrites ? placeholders into $n for Postgres.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Dates are stored as UTC epoch milliseconds so every dialect compares them the same way.
func (d Dialect) schema() []string {
	switch d {
	case DialectPostgres:
		return []string{`
CREATE TABLE IF NOT EXISTS subscriptions (
  id BIGSERIAL PRIMARY KEY,
  app VARCHAR(16) NOT NULL,
  environment VARCHAR(32) NOT NULL DEFAULT '',
  user_id VARCHAR(255) NOT NULL,
  original_transaction_id VARCHAR(512) NOT NULL,
  validation_response TEXT,
  latest_receipt TEXT,
  start_date BIGINT NOT NULL,
  end_date BIGINT NOT NULL,
  product_id VARCHAR(255) NOT NULL DEFAULT '',
  is_cancelled BOOLEAN NOT NULL DEFAULT FALSE,
  fake BOOLEAN NOT NULL DEFAULT FALSE,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL,
  CONSTRAINT uniq_original_transaction_id UNIQUE (original_transaction_id)
)`,
			`CREATE INDEX IF NOT EXISTS idx_subscriptions_user_app_start ON subscriptions (user_id, app, start_date)`,
			`CREATE INDEX IF NOT EXISTS idx_subscriptions_end_date ON subscriptions (end_date)`,
		}
	case DialectSQLite:
		return []string{`
CREATE TABLE IF NOT EXISTS subscriptions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  app TEXT NOT NULL,
  environment TEXT NOT NULL DEFAULT '',
  user_id TEXT NOT NULL,
  original_transaction_id TEXT NOT NULL UNIQUE,
  validation_response TEXT,
  latest_receipt TEXT,
  start_date INTEGER NOT NULL,
  end_date INTEGER NOT NULL,
  product_id TEXT NOT NULL DEFAULT '',
  is_cancelled INTEGER NOT NULL DEFAULT 0,
  fake INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS idx_subscriptions_user_app_start ON subscriptions (user_id, app, start_date)`,
			`CREATE INDEX IF NOT EXISTS idx_subscriptions_end_date ON subscriptions (end_date)`,
		}
	}
	return []string{`
CREATE TABLE IF NOT EXISTS subscriptions (
  id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
  app VARCHAR(16) NOT NULL,
  environment VARCHAR(32) NOT NULL DEFAULT '',
  user_id VARCHAR(255) NOT NULL,
  original_transaction_id VARCHAR(512) NOT NULL,
  validation_response LONGTEXT,
  latest_receipt LONGTEXT,
  start_date BIGINT NOT NULL,
  end_date BIGINT NOT NULL,
  product_id VARCHAR(255) NOT NULL DEFAULT '',
  is_cancelled TINYINT(1) NOT NULL DEFAULT 0,
  fake TINYINT(1) NOT NULL DEFAULT 0,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL,
  PRIMARY KEY (id),
  UNIQUE KEY uniq_original_transaction_id (original_transaction_id),
  KEY idx_user_app_start (user_id, app, start_date),
  KEY idx_end_date (end_date)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`}
}

// upsertClause resolves a duplicate original_transaction_id inside the same statement.
// user_id and app are deliberately absent: the key already binds them.
func (d Dialect) upsertClause() string {
	cols := []string{"environment", "validation_response", "latest_receipt", "start_date", "end_date", "product_id", "is_cancelled", "updated_at"}
	sets := make([]string, 0, len(cols))
	if d == DialectMySQL {
		for _, c := range cols {
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", c, c))
		}
		return "ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	for _, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	return "ON CONFLICT (original_transaction_id) DO UPDATE SET " + strings.Join(sets, ", ")
}
