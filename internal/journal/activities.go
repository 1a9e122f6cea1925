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

// UpsertActivities stores a batch of activities and their exercise sets in
// one transaction. An activity already present under its remote id is left
// untouched together with its sets; activities are observed facts and never
// rewritten locally. Returns the number of newly inserted activities.
func (s *Store) UpsertActivities(ctx context.Context, activities []models.Activity) (int, error) {
	if len(activities) == 0 {
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

	actStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO activities (remote_id, name, sport, started_at, duration_s, distance_m, raw_payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (remote_id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare activity insert: %w", err)
	}
	defer func() { _ = actStmt.Close() }()

	setStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO exercise_sets (activity_id, set_index, exercise_name, reps, weight_g, duration_s)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (activity_id, set_index) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare set insert: %w", err)
	}
	defer func() { _ = setStmt.Close() }()

	inserted := 0
	for _, act := range activities {
		res, err := actStmt.ExecContext(ctx,
			act.RemoteID, act.Name, act.Sport, act.StartedAt.UTC(),
			act.Duration.Seconds(), act.DistanceM, string(act.RawPayload))
		if err != nil {
			metrics.RecordDBQuery("insert", "activities", time.Since(start), err)
			return 0, fmt.Errorf("failed to insert activity %d: %w", act.RemoteID, err)
		}

		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			// Already present; sets were stored with the first observation.
			continue
		}
		inserted++

		for _, set := range act.ExerciseSets {
			if _, err := setStmt.ExecContext(ctx,
				act.RemoteID, set.SetIndex, set.ExerciseName,
				set.Reps, set.WeightGrams, set.Duration.Seconds()); err != nil {
				metrics.RecordDBQuery("insert", "exercise_sets", time.Since(start), err)
				return 0, fmt.Errorf("failed to insert set %d/%d: %w", act.RemoteID, set.SetIndex, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.RecordDBQuery("insert", "activities", time.Since(start), err)
		return 0, fmt.Errorf("failed to commit activities: %w", err)
	}

	metrics.RecordDBQuery("insert", "activities", time.Since(start), nil)
	return inserted, nil
}

// ActivitiesSince returns activities started at or after the given time,
// newest first, with their exercise sets attached.
func (s *Store) ActivitiesSince(ctx context.Context, since time.Time) ([]models.Activity, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT remote_id, COALESCE(name, ''), sport, started_at, duration_s, COALESCE(distance_m, 0)
		FROM activities
		WHERE started_at >= ?
		ORDER BY started_at DESC`, since.UTC())
	if err != nil {
		metrics.RecordDBQuery("select", "activities", time.Since(start), err)
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var activities []models.Activity
	for rows.Next() {
		var act models.Activity
		var durationS float64
		if err := rows.Scan(&act.RemoteID, &act.Name, &act.Sport, &act.StartedAt, &durationS, &act.DistanceM); err != nil {
			return nil, fmt.Errorf("failed to scan activity row: %w", err)
		}
		act.Duration = time.Duration(durationS * float64(time.Second))
		activities = append(activities, act)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read activity rows: %w", err)
	}

	for i := range activities {
		sets, err := s.exerciseSetsFor(ctx, activities[i].RemoteID)
		if err != nil {
			return nil, err
		}
		activities[i].ExerciseSets = sets
	}

	metrics.RecordDBQuery("select", "activities", time.Since(start), nil)
	return activities, nil
}

func (s *Store) exerciseSetsFor(ctx context.Context, activityID int64) ([]models.ExerciseSet, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT activity_id, set_index, exercise_name, reps, weight_g, COALESCE(duration_s, 0)
		FROM exercise_sets
		WHERE activity_id = ?
		ORDER BY set_index ASC`, activityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sets for activity %d: %w", activityID, err)
	}
	defer func() { _ = rows.Close() }()

	var sets []models.ExerciseSet
	for rows.Next() {
		var set models.ExerciseSet
		var durationS float64
		if err := rows.Scan(&set.ActivityID, &set.SetIndex, &set.ExerciseName, &set.Reps, &set.WeightGrams, &durationS); err != nil {
			return nil, fmt.Errorf("failed to scan set row: %w", err)
		}
		set.Duration = time.Duration(durationS * float64(time.Second))
		sets = append(sets, set)
	}
	return sets, rows.Err()
}

// ExerciseProgression returns per-day top weight, the reps lifted at that
// weight and total volume for one exercise since the given time, oldest
// first.
func (s *Store) ExerciseProgression(ctx context.Context, exerciseName string, since time.Time) ([]models.ProgressionPoint, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT CAST(a.started_at AS DATE) AS day,
		       MAX(s.weight_g) AS top_weight,
		       arg_max(s.reps, s.weight_g) AS top_reps,
		       SUM(s.weight_g * s.reps) AS total_volume
		FROM exercise_sets s
		JOIN activities a ON a.remote_id = s.activity_id
		WHERE s.exercise_name = ? AND a.started_at >= ?
		GROUP BY day
		ORDER BY day ASC`, exerciseName, since.UTC())
	if err != nil {
		metrics.RecordDBQuery("select", "exercise_sets", time.Since(start), err)
		return nil, fmt.Errorf("failed to query progression for %s: %w", exerciseName, err)
	}
	defer func() { _ = rows.Close() }()

	var points []models.ProgressionPoint
	for rows.Next() {
		point := models.ProgressionPoint{ExerciseName: exerciseName}
		if err := rows.Scan(&point.Date, &point.TopWeightG, &point.TopReps, &point.TotalVolume); err != nil {
			return nil, fmt.Errorf("failed to scan progression row: %w", err)
		}
		points = append(points, point)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read progression rows: %w", err)
	}

	metrics.RecordDBQuery("select", "exercise_sets", time.Since(start), nil)
	return points, nil
}

// WeeklyVolume is aggregated training work for one calendar week.
type WeeklyVolume struct {
	WeekStart     time.Time `json:"week_start"`
	Activities    int64     `json:"activities"`
	DurationHours float64   `json:"duration_hours"`
	VolumeGrams   int64     `json:"volume_grams"`
}

// TrainingVolumeByWeek aggregates activity count, time and lifted volume per
// calendar week over the most recent weeks, oldest first.
func (s *Store) TrainingVolumeByWeek(ctx context.Context, weeks int) ([]WeeklyVolume, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx, `
		WITH weekly_activities AS (
			SELECT date_trunc('week', started_at) AS week_start,
			       COUNT(*) AS activities,
			       SUM(duration_s) / 3600.0 AS duration_hours
			FROM activities
			GROUP BY week_start
		), weekly_sets AS (
			SELECT date_trunc('week', a.started_at) AS week_start,
			       SUM(s.weight_g * s.reps) AS volume_grams
			FROM exercise_sets s
			JOIN activities a ON a.remote_id = s.activity_id
			GROUP BY week_start
		)
		SELECT week_start, activities, duration_hours, volume_grams FROM (
			SELECT wa.week_start, wa.activities, wa.duration_hours,
			       COALESCE(ws.volume_grams, 0) AS volume_grams
			FROM weekly_activities wa
			LEFT JOIN weekly_sets ws USING (week_start)
			ORDER BY wa.week_start DESC
			LIMIT ?
		) ORDER BY week_start ASC`, weeks)
	if err != nil {
		metrics.RecordDBQuery("select", "activities", time.Since(start), err)
		return nil, fmt.Errorf("failed to query weekly volume: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []WeeklyVolume
	for rows.Next() {
		var wv WeeklyVolume
		if err := rows.Scan(&wv.WeekStart, &wv.Activities, &wv.DurationHours, &wv.VolumeGrams); err != nil {
			return nil, fmt.Errorf("failed to scan weekly volume row: %w", err)
		}
		result = append(result, wv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read weekly volume rows: %w", err)
	}

	metrics.RecordDBQuery("select", "activities", time.Since(start), nil)
	return result, nil
}
