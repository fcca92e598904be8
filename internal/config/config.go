// Package config assembles runtime settings from an optional TOML file, a
// .env file and the process environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	DatabaseURL string `toml:"database_url"`
	Port        string `toml:"port"`
	LogLevel    string `toml:"log_level"`
	AppURL      string `toml:"app_url"`
	RedisAddr   string `toml:"redis_address"`

	JWTSecret string `toml:"auth_jwt_secret"`

	Ledger Ledger `toml:"ledger"`

	MinWithdrawal decimal.Decimal `toml:"-"`
}

type Ledger struct {
	BaseURL           string        `toml:"base_url"`
	APIKey            string        `toml:"api_key"`
	PlatformAccountID string        `toml:"platform_account_id"`
	WebhookSecret     string        `toml:"webhook_secret"`
	Timeout           time.Duration `toml:"-"`
	EnforcesMinimum   bool          `toml:"enforces_minimum"`
}

// fileConfig carries the values TOML cannot decode directly.
type fileConfig struct {
	Config
	MinWithdrawal string `toml:"min_withdrawal"`
	LedgerTimeout string `toml:"ledger_timeout"`
}

// Load reads path (when non-empty), then .env, then the environment. A
// missing .env is not an error.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:          "8080",
		LogLevel:      "info",
		AppURL:        "http://localhost:3000",
		MinWithdrawal: decimal.NewFromInt(10),
		Ledger: Ledger{
			Timeout: 30 * time.Second,
		},
	}

	if path != "" {
		var fc fileConfig
		fc.Config = cfg
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			return Config{}, fmt.Errorf("decode %s: %w", path, err)
		}
		cfg = fc.Config
		if fc.MinWithdrawal != "" {
			d, err := decimal.NewFromString(fc.MinWithdrawal)
			if err != nil {
				return Config{}, fmt.Errorf("min_withdrawal: %w", err)
			}
			cfg.MinWithdrawal = d
		}
		if fc.LedgerTimeout != "" {
			d, err := time.ParseDuration(fc.LedgerTimeout)
			if err != nil {
				return Config{}, fmt.Errorf("ledger_timeout: %w", err)
			}
			cfg.Ledger.Timeout = d
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	dbURL, err := databaseURL()
	if err != nil {
		return err
	}
	if dbURL != "" {
		cfg.DatabaseURL = dbURL
	}

	setString(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.AppURL, "APP_URL")
	setString(&cfg.RedisAddr, "REDIS_ADDRESS")
	setString(&cfg.JWTSecret, "AUTH_JWT_SECRET")
	setString(&cfg.Ledger.BaseURL, "LEDGER_BASE_URL")
	setString(&cfg.Ledger.APIKey, "LEDGER_API_KEY")
	setString(&cfg.Ledger.PlatformAccountID, "LEDGER_PLATFORM_ACCOUNT_ID")
	setString(&cfg.Ledger.WebhookSecret, "LEDGER_WEBHOOK_SECRET")

	if v := env("LEDGER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("LEDGER_TIMEOUT: %w", err)
		}
		cfg.Ledger.Timeout = d
	}
	if v := env("LEDGER_ENFORCES_MINIMUM"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LEDGER_ENFORCES_MINIMUM: %w", err)
		}
		cfg.Ledger.EnforcesMinimum = b
	}
	if v := env("MIN_WITHDRAWAL"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("MIN_WITHDRAWAL: %w", err)
		}
		cfg.MinWithdrawal = d
	}
	return nil
}

// databaseURL prefers DATABASE_URL and otherwise builds a DSN from the DB_*
// variables. It returns "" when neither is set.
func databaseURL() (string, error) {
	if dbURL := env("DATABASE_URL"); dbURL != "" {
		return dbURL, nil
	}

	user := env("DB_USER")
	password := env("DB_PASSWORD")
	name := env("DB_NAME")
	if user == "" && password == "" && name == "" {
		return "", nil
	}
	if user == "" || password == "" || name == "" {
		return "", errors.New("DATABASE_URL or DB_USER/DB_PASSWORD/DB_NAME are required")
	}

	host := env("DB_HOST")
	if host == "" {
		host = "localhost"
	}
	port := env("DB_PORT")
	if port == "" {
		port = "5432"
	}
	sslmode := env("DB_SSLMODE")
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host,
		port,
		user,
		password,
		name,
		sslmode,
	), nil
}

func (c Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("DATABASE_URL or DB_USER/DB_PASSWORD/DB_NAME are required")
	case c.JWTSecret == "":
		return errors.New("AUTH_JWT_SECRET is required")
	case c.Ledger.BaseURL == "":
		return errors.New("LEDGER_BASE_URL is required")
	case c.Ledger.PlatformAccountID == "":
		return errors.New("LEDGER_PLATFORM_ACCOUNT_ID is required")
	case c.Ledger.Timeout <= 0:
		return errors.New("LEDGER_TIMEOUT must be positive")
	case c.MinWithdrawal.IsNegative():
		return errors.New("MIN_WITHDRAWAL must not be negative")
	}
	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func setString(dst *string, key string) {
	if v := env(key); v != "" {
		*dst = v
	}
}
