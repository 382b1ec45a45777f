// Package config loads harvester configuration from environment variables.
// Defaults are applied for unset values and everything is validated on
// startup so misconfiguration fails fast.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Harvest  HarvestConfig
	Archive  ArchiveConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	// Enabled starts the HTTP API alongside the harvester (default: true)
	Enabled bool `env:"SERVER_ENABLED" default:"true"`

	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" default:"8080"`

	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is 0 so large exports can stream (default: 0s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout applies to metadata endpoints; exports are exempt (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"4"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// Migrate applies embedded migrations at startup (default: true)
	Migrate bool `env:"DB_MIGRATE" default:"true"`
}

// HarvestConfig holds directory scanning and import settings.
type HarvestConfig struct {
	// Roots are the directories scanned for instrument files (required)
	Roots []string `env:"HARVEST_ROOTS" required:"true"`

	// Name identifies this harvester in observed-file records (default: hostname)
	Name string `env:"HARVESTER_NAME"`

	// Schedule is a cron spec for periodic passes (default: @every 5m)
	Schedule string `env:"HARVEST_SCHEDULE" default:"@every 5m"`

	// Watch triggers passes on filesystem events as well (default: false)
	Watch bool `env:"HARVEST_WATCH" default:"false"`

	// StableAge is how long size and mtime must stay unchanged before import (default: 1m)
	StableAge time.Duration `env:"HARVEST_STABLE_AGE" default:"1m"`

	// MaxConcurrent bounds concurrently open exports (default: 4)
	MaxConcurrent int `env:"HARVEST_MAX_CONCURRENT" default:"4"`

	// MaxWait is how long to wait for an export slot (default: 30s)
	MaxWait time.Duration `env:"HARVEST_MAX_WAIT" default:"30s"`

	// FileTimeout bounds a single file import (default: 10m)
	FileTimeout time.Duration `env:"HARVEST_FILE_TIMEOUT" default:"10m"`

	// OverridesFile is an optional YAML file of column overrides
	OverridesFile string `env:"HARVEST_OVERRIDES_FILE"`

	// ParquetDir mirrors every import as <dataset id>.parquet when set
	ParquetDir string `env:"HARVEST_PARQUET_DIR"`
}

// ArchiveConfig holds raw-file archive settings.
type ArchiveConfig struct {
	Enabled   bool   `env:"ARCHIVE_ENABLED" default:"false"`
	Endpoint  string `env:"ARCHIVE_ENDPOINT"`
	AccessKey string `env:"ARCHIVE_ACCESS_KEY"`
	SecretKey string `env:"ARCHIVE_SECRET_KEY"`
	Bucket    string `env:"ARCHIVE_BUCKET" default:"cycler-raw"`
	Prefix    string `env:"ARCHIVE_PREFIX" default:"raw"`
	Region    string `env:"ARCHIVE_REGION"`
	UseSSL    bool   `env:"ARCHIVE_USE_SSL" default:"true"`

	// ZstdLevel is a zstd compression level from 1 to 22 (default: 3)
	ZstdLevel int `env:"ARCHIVE_ZSTD_LEVEL" default:"3"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `env:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`
	Burst             int  `env:"RATE_LIMIT_BURST" default:"20"`
}

// SecurityConfig holds proxy trust settings.
type SecurityConfig struct {
	// TrustedProxies are CIDRs whose X-Real-IP / X-Forwarded-For headers are believed
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
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
