// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

/*
Package publish places generated training plans on the remote calendar
with replace-on-regenerate semantics.

A publish cycle creates every workout of the new plan before deleting
anything, so an interruption can leave duplicates but never a gap. Remote
items are only deleted when their title carries the marker prefix and
they are not part of the cycle that is committing. Deletions that fail
are retained on the publish record and retried by the cleanup pass.
*/
package publish

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/CPlusPlus17/FitnessJournal/internal/config"
	"github.com/CPlusPlus17/FitnessJournal/internal/garmin"
	"github.com/CPlusPlus17/FitnessJournal/internal/journal"
	"github.com/CPlusPlus17/FitnessJournal/internal/logging"
	"github.com/CPlusPlus17/FitnessJournal/internal/metrics"
	"github.com/CPlusPlus17/FitnessJournal/internal/models"
)

var (
	// ErrPublishInProgress is returned when a second publish is attempted
	// while one is still running.
	ErrPublishInProgress = errors.New("publish already in progress")

	// ErrPublishPartial means the cycle failed after creating some remote
	// items. The created ids are recorded for cleanup and the previously
	// committed plan stays live.
	ErrPublishPartial = errors.New("publish incomplete")
)

// RemoteWorkoutAPI is the subset of the connect client the publisher
// consumes. Satisfied by both garmin.Client and garmin.CircuitBreakerClient.
type RemoteWorkoutAPI interface {
	ListWorkouts(ctx context.Context, start, limit int) ([]garmin.WorkoutSummary, error)
	CreateWorkout(ctx context.Context, payload *garmin.WorkoutPayload) (*garmin.CreatedWorkout, error)
	DeleteWorkout(ctx context.Context, workoutID int64) error
	ScheduleWorkout(ctx context.Context, workoutID int64, date time.Time) error
}

// Publisher pushes plans to the remote platform and reconciles what is
// already there.
type Publisher struct {
	remote   RemoteWorkoutAPI
	store    *journal.Store
	cfg      *config.PublishConfig
	inFlight atomic.Bool
}

// NewPublisher creates a publisher.
func NewPublisher(remote RemoteWorkoutAPI, store *journal.Store, cfg *config.PublishConfig) *Publisher {
	return &Publisher{remote: remote, store: store, cfg: cfg}
}

// Publish runs one full publish cycle for the plan and returns the
// committed record. Only one cycle runs at a time.
func (p *Publisher) Publish(ctx context.Context, plan *models.GeneratedPlan) (*models.PublishRecord, error) {
	if !p.inFlight.CompareAndSwap(false, true) {
		return nil, ErrPublishInProgress
	}
	defer p.inFlight.Store(false)

	start := time.Now()
	rec, err := p.publish(ctx, plan)
	metrics.RecordPublishOperation(time.Since(start), err)
	return rec, err
}

func (p *Publisher) publish(ctx context.Context, plan *models.GeneratedPlan) (*models.PublishRecord, error) {
	if len(plan.Entries) == 0 {
		return nil, fmt.Errorf("plan %s has no entries", plan.PlanID)
	}

	if err := p.store.SavePlan(ctx, plan); err != nil {
		return nil, err
	}

	cycleID := uuid.NewString()
	logging.Info().
		Str("plan_id", plan.PlanID).
		Str("cycle_id", cycleID).
		Int("entries", len(plan.Entries)).
		Msg("Starting publish cycle")

	// Create everything first. The old plan stays live until the new one
	// exists in full.
	created, err := p.createWorkouts(ctx, plan)
	if err != nil {
		// The failed cycle gets its own record and never touches the
		// committed one, even when the same plan id is being re-published.
		failedRec := &models.PublishRecord{
			CycleID:          cycleID,
			PlanID:           plan.PlanID,
			RemoteWorkoutIDs: created,
			StaleRemoteIDs:   created,
			PublishedAt:      time.Now().UTC(),
			Status:           models.PublishFailed,
		}
		if saveErr := p.store.SavePublishRecord(ctx, failedRec); saveErr != nil {
			logging.Error().Err(saveErr).
				Str("plan_id", plan.PlanID).
				Ints64("created_ids", created).
				Msg("Failed to record partial publish, created ids may be orphaned")
		}
		return nil, fmt.Errorf("%w: %v", ErrPublishPartial, err)
	}

	// Anything marker-tagged that is not part of this cycle is stale.
	staleCandidates, err := p.staleMarkedWorkouts(ctx, created)
	if err != nil {
		// The new plan is fully live; commit it and leave the old items
		// for the cleanup pass rather than failing the cycle.
		logging.Warn().Err(err).Msg("Inventory scan failed, deferring stale deletion")
		staleCandidates = nil
	}

	var retained []int64
	for _, id := range staleCandidates {
		if err := p.remote.DeleteWorkout(ctx, id); err != nil {
			logging.Warn().Err(err).Int64("workout_id", id).Msg("Failed to delete stale workout, retaining for cleanup")
			metrics.PublishWorkouts.WithLabelValues("stale_retained").Inc()
			retained = append(retained, id)
			continue
		}
		metrics.PublishWorkouts.WithLabelValues("deleted").Inc()
	}

	rec := &models.PublishRecord{
		CycleID:          cycleID,
		PlanID:           plan.PlanID,
		RemoteWorkoutIDs: created,
		StaleRemoteIDs:   retained,
		PublishedAt:      time.Now().UTC(),
	}
	if err := p.store.CommitPublishRecord(ctx, rec); err != nil {
		return nil, err
	}

	logging.Info().
		Str("plan_id", plan.PlanID).
		Int("created", len(created)).
		Int("deleted", len(staleCandidates)-len(retained)).
		Int("stale_retained", len(retained)).
		Msg("Publish cycle committed")

	return rec, nil
}

func (p *Publisher) createWorkouts(ctx context.Context, plan *models.GeneratedPlan) ([]int64, error) {
	var created []int64
	for i := range plan.Entries {
		entry := &plan.Entries[i]

		payload, err := BuildWorkout(entry)
		if err != nil {
			return created, err
		}

		workout, err := p.remote.CreateWorkout(ctx, payload)
		if err != nil {
			return created, fmt.Errorf("failed to create workout %q: %w", entry.Title, err)
		}
		created = append(created, workout.WorkoutID)
		metrics.PublishWorkouts.WithLabelValues("created").Inc()

		if p.cfg.ScheduleWorkouts && !entry.Date.IsZero() {
			if err := p.remote.ScheduleWorkout(ctx, workout.WorkoutID, entry.Date); err != nil {
				return created, fmt.Errorf("failed to schedule workout %q: %w", entry.Title, err)
			}
			metrics.PublishWorkouts.WithLabelValues("scheduled").Inc()
		}
	}
	return created, nil
}

// staleMarkedWorkouts pages through the remote inventory and returns the
// marker-tagged ids that are not part of the current cycle.
func (p *Publisher) staleMarkedWorkouts(ctx context.Context, keep []int64) ([]int64, error) {
	keepSet := make(map[int64]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}

	pageSize := p.cfg.InventoryPageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	var stale []int64
	for start := 0; ; start += pageSize {
		page, err := p.remote.ListWorkouts(ctx, start, pageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list remote workouts: %w", err)
		}
		for _, w := range page {
			if !IsMarked(w.WorkoutName) {
				continue
			}
			if _, ok := keepSet[w.WorkoutID]; ok {
				continue
			}
			stale = append(stale, w.WorkoutID)
		}
		if len(page) < pageSize {
			break
		}
	}
	return stale, nil
}

// CleanupStale retries deletion of every retained stale id across all
// publish records. Returns the number of ids still undeletable.
func (p *Publisher) CleanupStale(ctx context.Context) (int, error) {
	records, err := p.store.RecordsWithStaleIDs(ctx)
	if err != nil {
		return 0, err
	}

	remaining := 0
	for i := range records {
		rec := &records[i]

		var retained []int64
		for _, id := range rec.StaleRemoteIDs {
			err := p.remote.DeleteWorkout(ctx, id)
			if err != nil && !errors.Is(err, garmin.ErrProtocolError) {
				logging.Warn().Err(err).Int64("workout_id", id).Msg("Stale workout still undeletable")
				retained = append(retained, id)
				continue
			}
			// A protocol error here means the item is already gone.
			metrics.PublishWorkouts.WithLabelValues("deleted").Inc()
		}

		rec.StaleRemoteIDs = retained
		if err := p.store.SavePublishRecord(ctx, rec); err != nil {
			return remaining + len(retained), err
		}
		remaining += len(retained)
	}

	return remaining, nil
}
