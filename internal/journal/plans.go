// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/CPlusPlus17/FitnessJournal/internal/metrics"
	"github.com/CPlusPlus17/FitnessJournal/internal/models"
)

// ErrNotFound is returned when a requested plan or publish record does not
// exist in the journal.
var ErrNotFound = errors.New("journal: not found")

// SavePlan stores a generated plan, replacing any previous version under the
// same plan id.
func (s *Store) SavePlan(ctx context.Context, plan *models.GeneratedPlan) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	entries, err := json.Marshal(plan.Entries)
	if err != nil {
		return fmt.Errorf("failed to encode plan entries: %w", err)
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO plans (plan_id, created_at, entries)
		VALUES (?, ?, ?)
		ON CONFLICT (plan_id) DO UPDATE SET created_at = excluded.created_at, entries = excluded.entries`,
		plan.PlanID, plan.CreatedAt.UTC(), string(entries))
	metrics.RecordDBQuery("insert", "plans", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to save plan %s: %w", plan.PlanID, err)
	}
	return nil
}

// GetPlan loads a stored plan by id.
func (s *Store) GetPlan(ctx context.Context, planID string) (*models.GeneratedPlan, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var plan models.GeneratedPlan
	var entries string
	err := s.conn.QueryRowContext(ctx,
		`SELECT plan_id, created_at, entries FROM plans WHERE plan_id = ?`, planID).
		Scan(&plan.PlanID, &plan.CreatedAt, &entries)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	metrics.RecordDBQuery("select", "plans", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan %s: %w", planID, err)
	}

	if err := json.Unmarshal([]byte(entries), &plan.Entries); err != nil {
		return nil, fmt.Errorf("failed to decode plan entries for %s: %w", planID, err)
	}
	return &plan, nil
}

// SavePublishRecord writes or replaces one cycle's publish record without
// touching other records. Used for pending and failed cycles; records key
// on their cycle id, so a failed cycle can never overwrite the committed
// record of an earlier cycle for the same plan.
func (s *Store) SavePublishRecord(ctx context.Context, rec *models.PublishRecord) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := s.upsertPublishRecord(ctx, s.conn, rec)
	metrics.RecordDBQuery("insert", "publish_records", time.Since(start), err)
	return err
}

// CommitPublishRecord marks a cycle's record committed and, in the same
// transaction, demotes any previously committed record to superseded. The
// invariant that at most one record is committed survives a crash at any
// point.
func (s *Store) CommitPublishRecord(ctx context.Context, rec *models.PublishRecord) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if rec.CycleID == "" {
		rec.CycleID = uuid.NewString()
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE publish_records SET status = ? WHERE status = ? AND cycle_id <> ?`,
		string(models.PublishSuperseded), string(models.PublishCommitted), rec.CycleID); err != nil {
		metrics.RecordDBQuery("update", "publish_records", time.Since(start), err)
		return fmt.Errorf("failed to demote previous publish record: %w", err)
	}

	rec.Status = models.PublishCommitted
	if err := s.upsertPublishRecord(ctx, tx, rec); err != nil {
		metrics.RecordDBQuery("insert", "publish_records", time.Since(start), err)
		return err
	}

	if err := tx.Commit(); err != nil {
		metrics.RecordDBQuery("update", "publish_records", time.Since(start), err)
		return fmt.Errorf("failed to commit publish record: %w", err)
	}

	metrics.RecordDBQuery("update", "publish_records", time.Since(start), nil)
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) upsertPublishRecord(ctx context.Context, db execer, rec *models.PublishRecord) error {
	if rec.CycleID == "" {
		rec.CycleID = uuid.NewString()
	}

	remoteIDs, err := json.Marshal(rec.RemoteWorkoutIDs)
	if err != nil {
		return fmt.Errorf("failed to encode remote ids: %w", err)
	}
	staleIDs, err := json.Marshal(rec.StaleRemoteIDs)
	if err != nil {
		return fmt.Errorf("failed to encode stale ids: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO publish_records (cycle_id, plan_id, remote_workout_ids, stale_remote_ids, published_at, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (cycle_id) DO UPDATE SET
			remote_workout_ids = excluded.remote_workout_ids,
			stale_remote_ids = excluded.stale_remote_ids,
			published_at = excluded.published_at,
			status = excluded.status`,
		rec.CycleID, rec.PlanID, string(remoteIDs), string(staleIDs), rec.PublishedAt.UTC(), string(rec.Status))
	if err != nil {
		return fmt.Errorf("failed to save publish record %s: %w", rec.CycleID, err)
	}
	return nil
}

// PublishRecord loads the most recent record for one plan, or ErrNotFound.
func (s *Store) PublishRecord(ctx context.Context, planID string) (*models.PublishRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	return s.scanPublishRecord(s.conn.QueryRowContext(ctx, `
		SELECT cycle_id, plan_id, remote_workout_ids, stale_remote_ids, published_at, status
		FROM publish_records WHERE plan_id = ?
		ORDER BY published_at DESC LIMIT 1`, planID))
}

// CurrentPublished returns the single committed publish record, or
// ErrNotFound when nothing has been published yet.
func (s *Store) CurrentPublished(ctx context.Context) (*models.PublishRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	return s.scanPublishRecord(s.conn.QueryRowContext(ctx, `
		SELECT cycle_id, plan_id, remote_workout_ids, stale_remote_ids, published_at, status
		FROM publish_records WHERE status = ?
		ORDER BY published_at DESC LIMIT 1`, string(models.PublishCommitted)))
}

// RecordsWithStaleIDs returns every record still carrying remote ids whose
// deletion is outstanding. The cleanup pass drains these.
func (s *Store) RecordsWithStaleIDs(ctx context.Context) ([]models.PublishRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT cycle_id, plan_id, remote_workout_ids, stale_remote_ids, published_at, status
		FROM publish_records
		WHERE stale_remote_ids <> '[]' AND stale_remote_ids <> 'null'
		ORDER BY published_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale publish records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []models.PublishRecord
	for rows.Next() {
		rec, err := s.scanPublishRecordRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// WorkoutsForDate returns the currently published plan's entries falling
// on the given calendar day. An empty slice means a rest day; ErrNotFound
// means no plan is published at all.
func (s *Store) WorkoutsForDate(ctx context.Context, date time.Time) ([]models.PlanEntry, error) {
	rec, err := s.CurrentPublished(ctx)
	if err != nil {
		return nil, err
	}
	plan, err := s.GetPlan(ctx, rec.PlanID)
	if err != nil {
		return nil, err
	}

	y, m, d := date.Date()
	var entries []models.PlanEntry
	for _, entry := range plan.Entries {
		ey, em, ed := entry.Date.Date()
		if ey == y && em == m && ed == d {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanPublishRecord(row *sql.Row) (*models.PublishRecord, error) {
	rec, err := s.scanPublishRecordRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (s *Store) scanPublishRecordRow(row rowScanner) (*models.PublishRecord, error) {
	var rec models.PublishRecord
	var remoteIDs, staleIDs, status string
	if err := row.Scan(&rec.CycleID, &rec.PlanID, &remoteIDs, &staleIDs, &rec.PublishedAt, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan publish record: %w", err)
	}
	rec.Status = models.PublishStatus(status)
	if err := json.Unmarshal([]byte(remoteIDs), &rec.RemoteWorkoutIDs); err != nil {
		return nil, fmt.Errorf("failed to decode remote ids for %s: %w", rec.PlanID, err)
	}
	if err := json.Unmarshal([]byte(staleIDs), &rec.StaleRemoteIDs); err != nil {
		return nil, fmt.Errorf("failed to decode stale ids for %s: %w", rec.PlanID, err)
	}
	return &rec, nil
}
