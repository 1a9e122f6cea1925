// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

// Package config loads and validates the application configuration.
//
// Configuration is layered with Koanf v2: built-in defaults, then an
// optional YAML file, then environment variables. Precedence is
// ENV > file > defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/fitnessjournal/config.yaml",
	"/etc/fitnessjournal/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "FJ_CONFIG_PATH"

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Garmin: GarminConfig{
			SSOBaseURL:        "https://sso.garmin.com",
			APIBaseURL:        "https://connectapi.garmin.com",
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			RetryDelay:        2 * time.Second,
			RequestsPerSecond: 5,
			RequestBurst:      10,
		},
		Database: DatabaseConfig{
			Path:      "/data/fitnessjournal.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Vault: VaultConfig{
			Path:          "/data/vault",
			EncryptionKey: "",
		},
		Session: SessionConfig{
			RefreshMargin:     5 * time.Minute,
			RefreshRetryDelay: 2 * time.Second,
		},
		Sync: SyncConfig{
			Interval:                5 * time.Minute,
			MaxBackoff:              1 * time.Hour,
			Lookback:                30 * 24 * time.Hour,
			FailureWarningThreshold: 3,
		},
		Publish: PublishConfig{
			ScheduleWorkouts:  true,
			InventoryPageSize: 50,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9465",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in values from defaultConfig
//  2. Config file: optional YAML file (if found)
//  3. Environment variables: override any setting
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile loads configuration from the given file path layered over the
// defaults and under environment variables. An empty path skips the file
// layer.
func LoadFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file, env var override first, then
// the default paths. Returns empty string if none exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc maps environment variable names to koanf config paths.
//
// Examples:
//   - FJ_GARMIN_TIMEOUT -> garmin.timeout
//   - FJ_SYNC_INTERVAL -> sync.interval
//   - LOG_LEVEL -> logging.level
//
// Unmapped variables are dropped so that unrelated environment variables
// never pollute the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Garmin mappings
		"fj_garmin_sso_base_url":        "garmin.sso_base_url",
		"fj_garmin_api_base_url":        "garmin.api_base_url",
		"fj_garmin_timeout":             "garmin.timeout",
		"fj_garmin_max_retries":         "garmin.max_retries",
		"fj_garmin_retry_delay":         "garmin.retry_delay",
		"fj_garmin_requests_per_second": "garmin.requests_per_second",
		"fj_garmin_request_burst":       "garmin.request_burst",

		// Database mappings
		"fj_duckdb_path":       "database.path",
		"fj_duckdb_max_memory": "database.max_memory",
		"fj_duckdb_threads":    "database.threads",

		// Vault mappings
		"fj_vault_path":           "vault.path",
		"fj_vault_encryption_key": "vault.encryption_key",

		// Session mappings
		"fj_session_refresh_margin":      "session.refresh_margin",
		"fj_session_refresh_retry_delay": "session.refresh_retry_delay",

		// Sync mappings
		"fj_sync_interval":          "sync.interval",
		"fj_sync_max_backoff":       "sync.max_backoff",
		"fj_sync_lookback":          "sync.lookback",
		"fj_sync_failure_threshold": "sync.failure_warning_threshold",

		// Publish mappings
		"fj_publish_schedule_workouts":   "publish.schedule_workouts",
		"fj_publish_inventory_page_size": "publish.inventory_page_size",

		// Metrics mappings
		"fj_metrics_enabled":     "metrics.enabled",
		"fj_metrics_listen_addr": "metrics.listen_addr",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	return ""
}
