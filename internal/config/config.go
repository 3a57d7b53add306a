// Package config provides configuration management for the newsletter scanner.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Gmail     GmailConfig
	Scan      ScanConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// InternalToken guards the trusted chunk-processing endpoint
	InternalToken string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// GmailConfig holds Gmail OAuth client configuration. Tokens themselves
// come from the external identity provider, per owner.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	// RefreshToken is used by the static single-owner token provider in
	// development; production wires a real per-owner provider.
	RefreshToken string
}

// ScanConfig holds scan job tuning
type ScanConfig struct {
	PageSize       int           // messages listed per chunk
	SubBatchSize   int           // metadata fetches in flight per sub-batch
	StaleTimeout   time.Duration // PROCESSING older than this reverts to PENDING
	SweepInterval  time.Duration // reconciliation sweep period
	DispatchBuffer int           // queued chunk triggers before the sweep takes over
}

// RateLimitConfig holds per-user API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 0),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			InternalToken:   getEnv("INTERNAL_API_TOKEN", ""),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "newsletter_scanner"),
				User:           getEnv("POSTGRES_USER", "scanner"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Gmail: GmailConfig{
			ClientID:     getEnv("GMAIL_CLIENT_ID", ""),
			ClientSecret: getEnv("GMAIL_CLIENT_SECRET", ""),
			RefreshToken: getEnv("GMAIL_REFRESH_TOKEN", ""),
		},
		Scan: ScanConfig{
			PageSize:       getEnvAsInt("SCAN_PAGE_SIZE", 25),
			SubBatchSize:   getEnvAsInt("SCAN_SUB_BATCH_SIZE", 25),
			StaleTimeout:   getEnvAsDuration("SCAN_STALE_TIMEOUT", 5*time.Minute),
			SweepInterval:  getEnvAsDuration("SCAN_SWEEP_INTERVAL", 30*time.Second),
			DispatchBuffer: getEnvAsInt("SCAN_DISPATCH_BUFFER", 256),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 10),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate rejects values the scan loop cannot operate with
func (c *Config) validate() error {
	if c.Scan.PageSize <= 0 {
		return fmt.Errorf("SCAN_PAGE_SIZE must be positive, got %d", c.Scan.PageSize)
	}
	if c.Scan.SubBatchSize <= 0 {
		return fmt.Errorf("SCAN_SUB_BATCH_SIZE must be positive, got %d", c.Scan.SubBatchSize)
	}
	if c.Scan.StaleTimeout < time.Minute {
		return fmt.Errorf("SCAN_STALE_TIMEOUT must be at least 1m, got %v", c.Scan.StaleTimeout)
	}
	return nil
}

// PostgresURL returns the connection URL for migrations
func (c *PostgresConfig) PostgresURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database,
	)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
