package config

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %s, want 8080", cfg.Server.Port)
	}
	if cfg.Scan.PageSize != 25 {
		t.Errorf("Scan.PageSize = %d, want 25", cfg.Scan.PageSize)
	}
	if cfg.Scan.SubBatchSize != 25 {
		t.Errorf("Scan.SubBatchSize = %d, want 25", cfg.Scan.SubBatchSize)
	}
	if cfg.Scan.StaleTimeout != 5*time.Minute {
		t.Errorf("Scan.StaleTimeout = %v, want 5m", cfg.Scan.StaleTimeout)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %s, want json", cfg.Logging.Format)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("SCAN_PAGE_SIZE", "100")
	t.Setenv("SCAN_SWEEP_INTERVAL", "2m")
	t.Setenv("POSTGRES_DB", "scanner_test")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Scan.PageSize != 100 {
		t.Errorf("Scan.PageSize = %d, want 100", cfg.Scan.PageSize)
	}
	if cfg.Scan.SweepInterval != 2*time.Minute {
		t.Errorf("Scan.SweepInterval = %v, want 2m", cfg.Scan.SweepInterval)
	}
	if cfg.Database.Postgres.Database != "scanner_test" {
		t.Errorf("Postgres.Database = %s, want scanner_test", cfg.Database.Postgres.Database)
	}
}

func TestLoadConfig_InvalidScanValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"zero page size", "SCAN_PAGE_SIZE", "0"},
		{"negative sub-batch", "SCAN_SUB_BATCH_SIZE", "-5"},
		{"too-short stale timeout", "SCAN_STALE_TIMEOUT", "10s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := LoadConfig(); err == nil {
				t.Errorf("LoadConfig() with %s=%s expected error, got nil", tt.key, tt.value)
			}
		})
	}
}

func TestGetEnvAsInt_Invalid(t *testing.T) {
	t.Setenv("TEST_INT_VALUE", "not-a-number")
	if got := getEnvAsInt("TEST_INT_VALUE", 42); got != 42 {
		t.Errorf("getEnvAsInt() = %d, want default 42", got)
	}
}

func TestPostgresURL(t *testing.T) {
	cfg := &PostgresConfig{
		Host: "db", Port: "5432", Database: "scanner", User: "u", Password: "p",
	}
	want := "postgres://u:p@db:5432/scanner?sslmode=disable"
	if got := cfg.PostgresURL(); got != want {
		t.Errorf("PostgresURL() = %s, want %s", got, want)
	}
}
