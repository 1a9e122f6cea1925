// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the application.
type Config struct {
	Garmin   GarminConfig   `koanf:"garmin"`
	Database DatabaseConfig `koanf:"database"`
	Vault    VaultConfig    `koanf:"vault"`
	Session  SessionConfig  `koanf:"session"`
	Sync     SyncConfig     `koanf:"sync"`
	Publish  PublishConfig  `koanf:"publish"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// GarminConfig holds remote platform connection settings.
type GarminConfig struct {
	// SSOBaseURL is the single sign-on host used for the login handshake.
	SSOBaseURL string `koanf:"sso_base_url" validate:"required,url"`

	// APIBaseURL is the authenticated API host.
	APIBaseURL string `koanf:"api_base_url" validate:"required,url"`

	// Timeout bounds every remote call.
	Timeout time.Duration `koanf:"timeout"`

	// MaxRetries is the per-request retry count for transient failures.
	MaxRetries int `koanf:"max_retries" validate:"min=0,max=10"`

	// RetryDelay is the base delay between request retries.
	RetryDelay time.Duration `koanf:"retry_delay"`

	// RequestsPerSecond paces telemetry reads against the remote API.
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gt=0"`

	// RequestBurst is the rate limiter burst size.
	RequestBurst int `koanf:"request_burst" validate:"min=1"`
}

// DatabaseConfig holds journal store settings.
type DatabaseConfig struct {
	// Path is the DuckDB database file location.
	Path string `koanf:"path" validate:"required"`

	// MaxMemory limits DuckDB memory usage, e.g. "1GB".
	MaxMemory string `koanf:"max_memory"`

	// Threads limits DuckDB worker threads. 0 means runtime.NumCPU().
	Threads int `koanf:"threads" validate:"min=0"`
}

// VaultConfig holds credential vault settings.
type VaultConfig struct {
	// Path is the Badger directory holding the encrypted session record.
	Path string `koanf:"path" validate:"required"`

	// EncryptionKey is the secret the at-rest encryption key is derived
	// from. Sessions are never stored in plaintext.
	EncryptionKey string `koanf:"encryption_key" validate:"required,min=16"`
}

// SessionConfig tunes session refresh behavior.
type SessionConfig struct {
	// RefreshMargin is how long before expiry a proactive refresh starts.
	// Must comfortably exceed the longest expected refresh round trip.
	RefreshMargin time.Duration `koanf:"refresh_margin"`

	// RefreshRetryDelay is the wait before the single refresh retry on a
	// transient failure.
	RefreshRetryDelay time.Duration `koanf:"refresh_retry_delay"`
}

// SyncConfig tunes the telemetry sync scheduler.
type SyncConfig struct {
	// Interval is the base cadence between sync cycles.
	Interval time.Duration `koanf:"interval"`

	// MaxBackoff caps the interval growth under consecutive failures.
	MaxBackoff time.Duration `koanf:"max_backoff"`

	// Lookback bounds the initial sync window when no watermark exists.
	Lookback time.Duration `koanf:"lookback"`

	// FailureWarningThreshold is the consecutive-failure count that
	// escalates to an operator-visible warning.
	FailureWarningThreshold int `koanf:"failure_warning_threshold" validate:"min=1"`
}

// PublishConfig tunes workout publishing.
type PublishConfig struct {
	// ScheduleWorkouts also places each created workout on its plan date
	// in the remote calendar.
	ScheduleWorkouts bool `koanf:"schedule_workouts"`

	// InventoryPageSize is the page size for the remote workout inventory scan.
	InventoryPageSize int `koanf:"inventory_page_size" validate:"min=1,max=200"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `koanf:"enabled"`
	ListenAddr string `koanf:"listen_addr"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for invalid or inconsistent values.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Garmin.Timeout < time.Second {
		return fmt.Errorf("garmin.timeout (%s) must be at least 1s", c.Garmin.Timeout)
	}
	if c.Session.RefreshMargin < 30*time.Second {
		return fmt.Errorf("session.refresh_margin (%s) must be at least 30s", c.Session.RefreshMargin)
	}
	if c.Sync.Interval < 30*time.Second {
		return fmt.Errorf("sync.interval (%s) must be at least 30s", c.Sync.Interval)
	}
	if c.Sync.MaxBackoff > 0 && c.Sync.MaxBackoff < c.Sync.Interval {
		return fmt.Errorf("sync.max_backoff (%s) must be >= sync.interval (%s)",
			c.Sync.MaxBackoff, c.Sync.Interval)
	}

	return nil
}
