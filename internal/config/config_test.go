package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_PATH", "PORT", "DATABASE_DRIVER", "DATABASE_URL", "REDIS_URL",
		"APPLE_SHARED_SECRET", "APPLE_EXCLUDE_OLD_TRANSACTIONS",
		"GOOGLE_PLAY_PACKAGE_NAME", "GOOGLE_PLAY_SERVICE_ACCOUNT_JSON", "GOOGLE_PLAY_SERVICE_ACCOUNT_FILE",
		"JWT_SECRET", "RECONCILE_INTERVAL", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigYAMLWithEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: ":8080"
database:
  driver: postgres
  url: postgres://localhost/subs
apple:
  shared_secret: from-file
reconcile:
  interval: 6h
  item_timeout: 45s
`), 0o600))

	t.Setenv("APPLE_SHARED_SECRET", "from-env")
	t.Setenv("PORT", "9000")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "from-env", cfg.Apple.SharedSecret)
	assert.Equal(t, 6*time.Hour, cfg.Reconcile.Interval)
	assert.Equal(t, 45*time.Second, cfg.Reconcile.ItemTimeout)
	assert.Equal(t, 30*time.Second, cfg.Reconcile.ValidatorTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":4000", cfg.Server.Address)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Reconcile.Interval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Error(t, cfg.Validate())
}

func TestLoadConfigReadsServiceAccountFile(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	sa := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(sa, []byte(`{"type":"service_account"}`), 0o600))
	t.Setenv("DATABASE_URL", "file:subs.db")
	t.Setenv("GOOGLE_PLAY_PACKAGE_NAME", "com.example.app")
	t.Setenv("GOOGLE_PLAY_SERVICE_ACCOUNT_FILE", sa)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, `{"type":"service_account"}`, cfg.Google.ServiceAccountJSON)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigRejectsBadInterval(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("RECONCILE_INTERVAL", "daily")

	_, err := LoadConfig("")
	assert.Error(t, err)
}
