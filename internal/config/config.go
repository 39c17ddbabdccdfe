// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Defaults live in New; Load layers a YAML file and environment on top.
// - Validation rules are expressed as validator struct tags.
// - External errors are wrapped with this package's sentinel kinds.
package config

import (
	"runtime"
	"time"
)

// Store drivers understood by the repository layer.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// LogFile, when set, also writes logs to a rotating file.
	LogFile string `koanf:"log_file"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr" validate:"required"`

	// StoreDriver selects the ranking store backend.
	StoreDriver string `koanf:"store_driver" validate:"oneof=sqlite postgres memory"`

	// DatabaseURL is a file path for sqlite or a connection string for postgres.
	DatabaseURL string `koanf:"database_url" validate:"required_unless=StoreDriver memory"`

	// ReferencePath points at the answer table for the current round.
	ReferencePath string `koanf:"reference_path" validate:"required"`

	// IdentifierColumn is the row-key column name, matched case-insensitively.
	IdentifierColumn string `koanf:"identifier_column" validate:"required"`

	// Delimiter separates fields in reference and submission tables.
	Delimiter string `koanf:"delimiter" validate:"len=1"`

	// StoreTimeoutMS bounds every store operation.
	StoreTimeoutMS int `koanf:"store_timeout_ms" validate:"gt=0"`

	// QueueSize bounds the number of submissions waiting for a worker.
	QueueSize int `koanf:"queue_size" validate:"gte=0"`

	// WorkerCount sets the number of evaluation workers.
	WorkerCount int `koanf:"worker_count" validate:"gte=0"`

	// DefaultLeaderboardLimit applies when GET /leaderboard has no limit.
	DefaultLeaderboardLimit int `koanf:"default_leaderboard_limit" validate:"gt=0,ltefield=MaxLeaderboardLimit"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit" validate:"gt=0"`

	// MaxUploadBytes caps the size of a submitted file.
	MaxUploadBytes int64 `koanf:"max_upload_bytes" validate:"gt=0"`

	// AdminToken guards the freeze toggle when non-empty.
	AdminToken string `koanf:"admin_token"`

	// MetricsEnabled turns Prometheus recording on or off.
	MetricsEnabled bool `koanf:"metrics_enabled"`

	// MetricsNamespace prefixes every exported metric name.
	MetricsNamespace string `koanf:"metrics_namespace" validate:"required"`

	// MetricsRefreshMS sets how often runtime and ranking gauges are sampled.
	MetricsRefreshMS int `koanf:"metrics_refresh_ms" validate:"gt=0"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:                "info",
		LogFormat:               "text",
		Addr:                    ":9080",
		StoreDriver:             DriverSQLite,
		DatabaseURL:             "datacup.db",
		ReferencePath:           "solution.csv",
		IdentifierColumn:        "id",
		Delimiter:               ",",
		StoreTimeoutMS:          5_000,
		QueueSize:               1_024,
		WorkerCount:             runtime.NumCPU(),
		DefaultLeaderboardLimit: 10,
		MaxLeaderboardLimit:     100,
		MaxUploadBytes:          20 << 20,
		MetricsEnabled:          true,
		MetricsNamespace:        "datacup",
		MetricsRefreshMS:        10_000,
	}
}

// StoreTimeout returns StoreTimeoutMS as a duration.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutMS) * time.Millisecond
}

// MetricsRefresh returns MetricsRefreshMS as a duration.
func (c *Config) MetricsRefresh() time.Duration {
	return time.Duration(c.MetricsRefreshMS) * time.Millisecond
}

// DelimiterRune returns the field delimiter as a rune.
func (c *Config) DelimiterRune() rune {
	for _, r := range c.Delimiter {
		return r
	}
	return ','
}
