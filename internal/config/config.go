// Package config provides centralized configuration management for csvload.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all process configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Storage  StorageConfig
	Load     LoadConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP API settings used by `csvload serve`.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests. Loads triggered
	// over HTTP run under LOAD_TIMEOUT instead.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Required when STORAGE_DRIVER=postgres.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// StorageConfig selects the relational backend.
type StorageConfig struct {
	// Driver is "postgres" or "sqlite" (default: postgres)
	Driver string `env:"STORAGE_DRIVER" default:"postgres"`

	// SQLitePath is the database file used by the sqlite driver.
	SQLitePath string `env:"SQLITE_PATH" default:"csvload.db"`
}

// LoadConfig holds batch load settings.
type LoadConfig struct {
	// ColumnMap is the path of the column-map file (.yaml, .yml, .json or .toml).
	ColumnMap string `env:"LOAD_COLUMN_MAP" default:"column_map.yaml"`

	// Table overrides the target table named by the column map.
	Table string `env:"LOAD_TABLE"`

	// VersionScope is "table", "source" or "global" (default: table)
	VersionScope string `env:"LOAD_VERSION_SCOPE" default:"table"`

	// MaxConcurrent is the maximum number of files loaded in parallel (default: 4)
	MaxConcurrent int `env:"LOAD_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long a load waits for a free slot (default: 30s)
	MaxWaitTime time.Duration `env:"LOAD_MAX_WAIT_TIME" default:"30s"`

	// BatchSize is the number of records written per insert statement (default: 1000)
	BatchSize int `env:"LOAD_BATCH_SIZE" default:"1000"`

	// Timeout bounds a single file load (default: 10m)
	Timeout time.Duration `env:"LOAD_TIMEOUT" default:"10m"`

	// MaxFileSize is the maximum accepted file size in bytes (default: 100MB)
	MaxFileSize int64 `env:"LOAD_MAX_FILE_SIZE" default:"104857600"`

	// VersionRetries bounds reservation attempts when another writer wins
	// the race for the same version (default: 5)
	VersionRetries int `env:"LOAD_VERSION_RETRIES" default:"5"`

	// SkipLoaded skips files whose checksum matches a committed batch.
	SkipLoaded bool `env:"LOAD_SKIP_LOADED" default:"false"`

	// InboxDir is the only directory the HTTP API may load files from.
	// Empty disables POST /api/loads.
	InboxDir string `env:"LOAD_INBOX_DIR"`
}

// RateLimitConfig holds per-client rate limiting for the HTTP API.
type RateLimitConfig struct {
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the sustained rate per client IP (default: 120)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"120"`

	// Burst is the number of requests allowed above the sustained rate (default: 20)
	Burst int `env:"RATE_LIMIT_BURST" default:"20"`
}

// SecurityConfig holds HTTP API access settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// X-Real-IP / X-Forwarded-For headers are believed.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey guards the mutating endpoints (loads, rollback).
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted X-API-Key values.
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
