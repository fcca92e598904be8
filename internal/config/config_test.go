package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var allKeys = []string{
	"DATABASE_URL", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
	"PORT", "LOG_LEVEL", "APP_URL", "REDIS_ADDRESS", "AUTH_JWT_SECRET",
	"LEDGER_BASE_URL", "LEDGER_API_KEY", "LEDGER_PLATFORM_ACCOUNT_ID", "LEDGER_WEBHOOK_SECRET",
	"LEDGER_TIMEOUT", "LEDGER_ENFORCES_MINIMUM", "MIN_WITHDRAWAL",
}

// clearEnv blanks every key Load reads; t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/payments")
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("LEDGER_BASE_URL", "https://ledger.test")
	t.Setenv("LEDGER_PLATFORM_ACCOUNT_ID", "acct_platform")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	setRequired(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || cfg.Ledger.Timeout != 30*time.Second || cfg.Ledger.EnforcesMinimum {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.MinWithdrawal.String() != "10" {
		t.Fatalf("expected min withdrawal 10, got %s", cfg.MinWithdrawal)
	}
}

func TestLoadBuildsDSN(t *testing.T) {
	clearEnv(t)
	setRequired(t)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_USER", "app")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("DB_NAME", "payments")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := "host=localhost port=5432 user=app password=pw dbname=payments sslmode=disable"
	if cfg.DatabaseURL != want {
		t.Fatalf("expected %q, got %q", want, cfg.DatabaseURL)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	clearEnv(t)
	setRequired(t)
	t.Setenv("AUTH_JWT_SECRET", "")

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "AUTH_JWT_SECRET") {
		t.Fatalf("expected AUTH_JWT_SECRET error, got %v", err)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	setRequired(t)
	t.Setenv("LEDGER_BASE_URL", "")
	t.Setenv("MIN_WITHDRAWAL", "25.00")

	path := filepath.Join(t.TempDir(), "payments.toml")
	data := `
port = "9090"
min_withdrawal = "5.00"
ledger_timeout = "10s"

[ledger]
base_url = "https://file.ledger.test"
enforces_minimum = true
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" || cfg.Ledger.BaseURL != "https://file.ledger.test" || !cfg.Ledger.EnforcesMinimum {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Ledger.Timeout != 10*time.Second {
		t.Fatalf("expected 10s timeout, got %s", cfg.Ledger.Timeout)
	}
	if cfg.MinWithdrawal.StringFixed(2) != "25.00" {
		t.Fatalf("env should override file, got %s", cfg.MinWithdrawal)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	clearEnv(t)
	setRequired(t)
	t.Setenv("LEDGER_TIMEOUT", "soon")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for bad LEDGER_TIMEOUT")
	}
}
