// Package config loads the service configuration from environment variables.
// Every field has an env tag and most have a default; Load validates the
// result so a misconfigured process exits before it opens a listener.
package config

import (
	"net"
	"strconv"
	"time"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Store    StoreConfig
	Import   ImportConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" envAlt:"PORT" default:"8080"`

	// ReadTimeout bounds reading the request (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout bounds writing the response (default: 60s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including draining imports (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout; synchronous checks fetch
	// remote reports so it must exceed IMPORT_FETCH_TIMEOUT (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds PostgreSQL settings. Ignored by the memory store.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string, required with the postgres driver
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of pooled connections (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the number of connections kept open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// MigrateOnStart applies embedded migrations before serving (default: true)
	MigrateOnStart bool `env:"DB_MIGRATE_ON_START" default:"true"`

	// TraceSQL logs every statement at debug level (default: false)
	TraceSQL bool `env:"DB_TRACE_SQL" default:"false"`
}

// StoreConfig selects the timing record store.
type StoreConfig struct {
	// Driver is "postgres" or "memory" (default: postgres)
	Driver string `env:"STORE_DRIVER" default:"postgres"`
}

// ImportConfig holds import pipeline settings.
type ImportConfig struct {
	// Workers is the number of concurrent import workers (default: 4)
	Workers int `env:"IMPORT_WORKERS" default:"4"`

	// QueueDepth is how many submitted jobs may wait for a worker (default: 64)
	QueueDepth int `env:"IMPORT_QUEUE_DEPTH" default:"64"`

	// CacheTTL is the expiry of find-or-create entity caches (default: 20m)
	CacheTTL time.Duration `env:"IMPORT_CACHE_TTL" default:"20m"`

	// MaxReportSize is the largest report body accepted, in bytes (default: 20MB)
	MaxReportSize int64 `env:"IMPORT_MAX_REPORT_SIZE" default:"20971520"`

	// FetchTimeout bounds a single report download (default: 30s)
	FetchTimeout time.Duration `env:"IMPORT_FETCH_TIMEOUT" default:"30s"`

	// UserAgent is sent with report downloads
	UserAgent string `env:"IMPORT_USER_AGENT" default:"laptiming-importer/1.0"`

	// JobListLimit caps GET /imports (default: 100)
	JobListLimit int `env:"IMPORT_JOB_LIST_LIMIT" default:"100"`

	// MaxConcurrentChecks caps synchronous results/timecard checks (default: 4)
	MaxConcurrentChecks int `env:"IMPORT_MAX_CONCURRENT_CHECKS" default:"4"`

	// CheckWait is how long a check waits for a free slot (default: 10s)
	CheckWait time.Duration `env:"IMPORT_CHECK_WAIT" default:"10s"`

	// JobTimeout bounds one background import, fetch and transaction
	// included. 0 disables it (default: 0)
	JobTimeout time.Duration `env:"IMPORT_JOB_TIMEOUT" default:"0"`

	// MonitorInterval is how often job-state gauges are refreshed (default: 30s)
	MonitorInterval time.Duration `env:"IMPORT_MONITOR_INTERVAL" default:"30s"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default limit per IP (default: 120)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"120"`

	// ImportLimit is requests per minute for endpoints that fetch reports (default: 10)
	ImportLimit int `env:"RATE_LIMIT_IMPORT" default:"10"`
}

// SecurityConfig holds proxy trust settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// X-Forwarded-For / X-Real-IP headers are honoured
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the listen address in host:port form.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
