package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL     string `yaml:"url"`
		LockKey string `yaml:"lock_key"`
	} `yaml:"redis"`
	Apple struct {
		SharedSecret           string `yaml:"shared_secret"`
		ExcludeOldTransactions bool   `yaml:"exclude_old_transactions"`
	} `yaml:"apple"`
	Google struct {
		PackageName        string `yaml:"package_name"`
		ServiceAccountJSON string `yaml:"service_account_json"`
		ServiceAccountFile string `yaml:"service_account_file"`
	} `yaml:"google"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Reconcile struct {
		Interval         time.Duration `yaml:"interval"`
		ItemTimeout      time.Duration `yaml:"item_timeout"`
		ValidatorTimeout time.Duration `yaml:"validator_timeout"`
		LockTTL          time.Duration `yaml:"lock_ttl"`
	} `yaml:"reconcile"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// LoadConfig reads .env (if present), the optional YAML file at path, then
// applies environment overrides and defaults.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	cfg.applyDefaults()

	if cfg.Google.ServiceAccountJSON == "" && cfg.Google.ServiceAccountFile != "" {
		data, err := os.ReadFile(cfg.Google.ServiceAccountFile)
		if err != nil {
			return cfg, fmt.Errorf("read google service account: %w", err)
		}
		cfg.Google.ServiceAccountJSON = string(data)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		c.Server.Address = ":" + strings.TrimPrefix(port, ":")
	}
	setString(&c.Database.Driver, "DATABASE_DRIVER")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Redis.URL, "REDIS_URL")
	setString(&c.Apple.SharedSecret, "APPLE_SHARED_SECRET")
	setString(&c.Google.PackageName, "GOOGLE_PLAY_PACKAGE_NAME")
	setString(&c.Google.ServiceAccountJSON, "GOOGLE_PLAY_SERVICE_ACCOUNT_JSON")
	setString(&c.Google.ServiceAccountFile, "GOOGLE_PLAY_SERVICE_ACCOUNT_FILE")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")

	if v := strings.TrimSpace(os.Getenv("APPLE_EXCLUDE_OLD_TRANSACTIONS")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("APPLE_EXCLUDE_OLD_TRANSACTIONS: %w", err)
		}
		c.Apple.ExcludeOldTransactions = b
	}
	if v := strings.TrimSpace(os.Getenv("RECONCILE_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RECONCILE_INTERVAL: %w", err)
		}
		c.Reconcile.Interval = d
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":4000"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Reconcile.Interval <= 0 {
		c.Reconcile.Interval = 24 * time.Hour
	}
	if c.Reconcile.ItemTimeout <= 0 {
		c.Reconcile.ItemTimeout = time.Minute
	}
	if c.Reconcile.ValidatorTimeout <= 0 {
		c.Reconcile.ValidatorTimeout = 30 * time.Second
	}
	if c.Reconcile.LockTTL <= 0 {
		c.Reconcile.LockTTL = time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate reports settings a running service cannot do without. At least
// one store must be configured.
func (c Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database url is required (DATABASE_URL)"))
	}
	if c.Apple.SharedSecret == "" && c.Google.PackageName == "" {
		errs = append(errs, errors.New("configure APPLE_SHARED_SECRET and/or GOOGLE_PLAY_PACKAGE_NAME"))
	}
	if c.Google.PackageName != "" && c.Google.ServiceAccountJSON == "" {
		errs = append(errs, errors.New("google play requires GOOGLE_PLAY_SERVICE_ACCOUNT_JSON or GOOGLE_PLAY_SERVICE_ACCOUNT_FILE"))
	}
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}
