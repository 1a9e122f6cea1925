// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

/*
store.go - Journal store lifecycle

The journal is an embedded DuckDB database holding everything the daemon
knows: telemetry samples, completed activities with their strength sets,
generated plans, publish records and a small key/value area for sync
watermarks.

Write paths are idempotent by schema design. Telemetry samples key on
(metric_kind, captured_at) and activities on their remote id, so
re-ingesting an overlapping window is a no-op rather than a duplicate.

A CHECKPOINT runs before close to flush the WAL so the next open replays
nothing.
*/
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/CPlusPlus17/FitnessJournal/internal/config"
	"github.com/CPlusPlus17/FitnessJournal/internal/logging"
)

const queryTimeout = 30 * time.Second

// Store wraps the DuckDB connection and provides data access methods.
type Store struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig
}

// Open creates the journal store and initializes the schema.
func Open(cfg *config.DatabaseConfig) (*Store, error) {
	dbDir := filepath.Dir(cfg.Path)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "512MB"
	}

	// Disable auto-install/auto-load: no extensions are needed and probing
	// for them can hang in restricted network environments.
	connStr := fmt.Sprintf(
		"%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, maxMemory,
	)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// DuckDB is embedded; a single writer connection avoids transaction
	// conflicts between concurrent upsert batches.
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn, cfg: cfg}
	if err := s.createTables(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Msg("Journal store opened")
	return s, nil
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	if _, err := s.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		logging.Warn().Err(err).Msg("Failed to checkpoint journal before close")
	}

	return s.conn.Close()
}

// Ping checks if the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if s.conn == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.conn.PingContext(ctx)
}

func (s *Store) createTables() error {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	queries := []string{
		`CREATE TABLE IF NOT EXISTS telemetry_samples (
			metric_kind TEXT NOT NULL,
			value DOUBLE NOT NULL,
			captured_at TIMESTAMP NOT NULL,
			source_id TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (metric_kind, captured_at)
		)`,

		`CREATE TABLE IF NOT EXISTS activities (
			remote_id BIGINT PRIMARY KEY,
			name TEXT,
			sport TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			duration_s DOUBLE NOT NULL,
			distance_m DOUBLE,
			raw_payload TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS exercise_sets (
			activity_id BIGINT NOT NULL,
			set_index INTEGER NOT NULL,
			exercise_name TEXT NOT NULL,
			reps INTEGER NOT NULL,
			weight_g BIGINT NOT NULL,
			duration_s DOUBLE,
			PRIMARY KEY (activity_id, set_index)
		)`,

		`CREATE TABLE IF NOT EXISTS plans (
			plan_id TEXT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL,
			entries TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS publish_records (
			cycle_id TEXT PRIMARY KEY,
			plan_id TEXT NOT NULL,
			remote_workout_ids TEXT NOT NULL,
			stale_remote_ids TEXT NOT NULL,
			published_at TIMESTAMP NOT NULL,
			status TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS kv_store (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_samples_captured_at ON telemetry_samples (captured_at)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_started_at ON activities (started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sets_exercise ON exercise_sets (exercise_name)`,
		`CREATE INDEX IF NOT EXISTS idx_publish_status ON publish_records (status)`,
		`CREATE INDEX IF NOT EXISTS idx_publish_plan ON publish_records (plan_id)`,
	}

	for _, query := range queries {
		if _, err := s.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}

	return nil
}
