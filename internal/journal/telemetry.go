// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/CPlusPlus17/FitnessJournal/internal/metrics"
	"github.com/CPlusPlus17/FitnessJournal/internal/models"
)

// UpsertTelemetrySamples stores a batch of samples inside one transaction.
// Samples already present under the same (metric_kind, captured_at) key are
// left untouched, so overlapping sync windows insert each observation once.
// Returns the number of newly inserted rows.
func (s *Store) UpsertTelemetrySamples(ctx context.Context, samples []models.TelemetrySample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO telemetry_samples (metric_kind, value, captured_at, source_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (metric_kind, captured_at) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	for _, sample := range samples {
		res, err := stmt.ExecContext(ctx,
			string(sample.MetricKind), sample.Value, sample.CapturedAt.UTC(), sample.SourceID)
		if err != nil {
			metrics.RecordDBQuery("insert", "telemetry_samples", time.Since(start), err)
			return 0, fmt.Errorf("failed to insert sample %s@%s: %w",
				sample.MetricKind, sample.CapturedAt.Format(time.RFC3339), err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.RecordDBQuery("insert", "telemetry_samples", time.Since(start), err)
		return 0, fmt.Errorf("failed to commit samples: %w", err)
	}

	metrics.RecordDBQuery("insert", "telemetry_samples", time.Since(start), nil)
	return inserted, nil
}

// LatestRecoverySnapshot returns the most recent value of each recovery
// metric. Metrics with no stored samples are left nil; an entirely empty
// journal yields a snapshot with a zero CapturedAt.
func (s *Store) LatestRecoverySnapshot(ctx context.Context) (*models.RecoverySnapshot, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT metric_kind, value, captured_at
		FROM telemetry_samples
		WHERE metric_kind IN (?, ?, ?, ?, ?, ?)
		QUALIFY row_number() OVER (PARTITION BY metric_kind ORDER BY captured_at DESC) = 1`,
		string(models.MetricBodyBattery), string(models.MetricSleepScore),
		string(models.MetricTrainingReadiness), string(models.MetricHRV),
		string(models.MetricRestingHeartRate), string(models.MetricTrainingLoadSevenD))
	if err != nil {
		metrics.RecordDBQuery("select", "telemetry_samples", time.Since(start), err)
		return nil, fmt.Errorf("failed to query recovery snapshot: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := &models.RecoverySnapshot{}
	for rows.Next() {
		var kind string
		var value float64
		var capturedAt time.Time
		if err := rows.Scan(&kind, &value, &capturedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}

		v := value
		switch models.MetricKind(kind) {
		case models.MetricBodyBattery:
			snapshot.BodyBattery = &v
		case models.MetricSleepScore:
			snapshot.SleepScore = &v
		case models.MetricTrainingReadiness:
			snapshot.TrainingReadiness = &v
		case models.MetricHRV:
			snapshot.HRV = &v
		case models.MetricRestingHeartRate:
			snapshot.RestingHeartRate = &v
		case models.MetricTrainingLoadSevenD:
			snapshot.TrainingLoad7d = &v
		}
		if capturedAt.After(snapshot.CapturedAt) {
			snapshot.CapturedAt = capturedAt
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshot rows: %w", err)
	}

	metrics.RecordDBQuery("select", "telemetry_samples", time.Since(start), nil)
	return snapshot, nil
}

// RecoveryHistory returns all samples of one metric within [from, to],
// ordered oldest first.
func (s *Store) RecoveryHistory(ctx context.Context, kind models.MetricKind, from, to time.Time) ([]models.TelemetrySample, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT metric_kind, value, captured_at, COALESCE(source_id, '')
		FROM telemetry_samples
		WHERE metric_kind = ? AND captured_at >= ? AND captured_at <= ?
		ORDER BY captured_at ASC`,
		string(kind), from.UTC(), to.UTC())
	if err != nil {
		metrics.RecordDBQuery("select", "telemetry_samples", time.Since(start), err)
		return nil, fmt.Errorf("failed to query %s history: %w", kind, err)
	}
	defer func() { _ = rows.Close() }()

	var samples []models.TelemetrySample
	for rows.Next() {
		var sample models.TelemetrySample
		var kindStr string
		if err := rows.Scan(&kindStr, &sample.Value, &sample.CapturedAt, &sample.SourceID); err != nil {
			return nil, fmt.Errorf("failed to scan sample row: %w", err)
		}
		sample.MetricKind = models.MetricKind(kindStr)
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sample rows: %w", err)
	}

	metrics.RecordDBQuery("select", "telemetry_samples", time.Since(start), nil)
	return samples, nil
}

// TelemetryCount returns the stored sample count per metric kind.
func (s *Store) TelemetryCount(ctx context.Context) (map[models.MetricKind]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx,
		`SELECT metric_kind, COUNT(*) FROM telemetry_samples GROUP BY metric_kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to count samples: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[models.MetricKind]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts[models.MetricKind(kind)] = n
	}
	return counts, rows.Err()
}
