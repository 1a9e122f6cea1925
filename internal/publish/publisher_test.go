// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

package publish

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CPlusPlus17/FitnessJournal/internal/config"
	"github.com/CPlusPlus17/FitnessJournal/internal/garmin"
	"github.com/CPlusPlus17/FitnessJournal/internal/journal"
	"github.com/CPlusPlus17/FitnessJournal/internal/models"
)

// fakeRemote simulates the workout endpoints with an in-memory inventory.
type fakeRemote struct {
	mu sync.Mutex

	nextID    int64
	inventory map[int64]string
	scheduled map[int64]time.Time

	failCreateAfter   int // fail the Nth create (1-based), 0 disables
	failDeleteIDs     map[int64]bool
	failList          bool
	failScheduleAfter int

	creates int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		nextID:        100,
		inventory:     make(map[int64]string),
		scheduled:     make(map[int64]time.Time),
		failDeleteIDs: make(map[int64]bool),
	}
}

func (f *fakeRemote) seed(name string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.inventory[f.nextID] = name
	return f.nextID
}

func (f *fakeRemote) ListWorkouts(_ context.Context, start, limit int) ([]garmin.WorkoutSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList {
		return nil, garmin.ErrRemoteUnavailable
	}

	var all []garmin.WorkoutSummary
	for id, name := range f.inventory {
		all = append(all, garmin.WorkoutSummary{WorkoutID: id, WorkoutName: name})
	}
	// Stable order so paging across calls is consistent.
	sort.Slice(all, func(i, j int) bool { return all[i].WorkoutID < all[j].WorkoutID })
	if start >= len(all) {
		return nil, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (f *fakeRemote) CreateWorkout(_ context.Context, payload *garmin.WorkoutPayload) (*garmin.CreatedWorkout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.failCreateAfter > 0 && f.creates >= f.failCreateAfter {
		return nil, garmin.ErrRemoteUnavailable
	}
	f.nextID++
	f.inventory[f.nextID] = payload.WorkoutName
	return &garmin.CreatedWorkout{WorkoutID: f.nextID}, nil
}

func (f *fakeRemote) DeleteWorkout(_ context.Context, workoutID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDeleteIDs[workoutID] {
		return garmin.ErrRemoteUnavailable
	}
	if _, ok := f.inventory[workoutID]; !ok {
		return fmt.Errorf("%w: status 404", garmin.ErrProtocolError)
	}
	delete(f.inventory, workoutID)
	return nil
}

func (f *fakeRemote) ScheduleWorkout(_ context.Context, workoutID int64, date time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failScheduleAfter > 0 && len(f.scheduled)+1 >= f.failScheduleAfter {
		return garmin.ErrRemoteUnavailable
	}
	f.scheduled[workoutID] = date
	return nil
}

func openTestJournal(t *testing.T) *journal.Store {
	t.Helper()
	store, err := journal.Open(&config.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "journal.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testPlan(planID string, titles ...string) *models.GeneratedPlan {
	plan := &models.GeneratedPlan{
		PlanID:    planID,
		CreatedAt: time.Now().UTC(),
	}
	for i, title := range titles {
		plan.Entries = append(plan.Entries, models.PlanEntry{
			Date:  time.Date(2026, 3, 16+i, 0, 0, 0, 0, time.UTC),
			Sport: "strength_training",
			Title: title,
			Steps: []models.PlanStep{
				{Type: models.StepInterval, ExerciseName: "SQUAT", Reps: 5, WeightGrams: 100000},
			},
		})
	}
	return plan
}

func testPublishConfig() *config.PublishConfig {
	return &config.PublishConfig{ScheduleWorkouts: true, InventoryPageSize: 2}
}

func TestPublishReplacesPreviousPlan(t *testing.T) {
	remote := newFakeRemote()
	store := openTestJournal(t)
	ctx := context.Background()

	// Remote state before the cycle: two of ours from an old plan, one the
	// athlete made by hand.
	oldA := remote.seed(MarkerPrefix + "Old Day 1")
	oldB := remote.seed(MarkerPrefix + "Old Day 2")
	manual := remote.seed("My Own Intervals")

	p := NewPublisher(remote, store, testPublishConfig())

	rec, err := p.Publish(ctx, testPlan("plan-1", "Day 1", "Day 2", "Day 3"))
	require.NoError(t, err)

	assert.Equal(t, models.PublishCommitted, rec.Status)
	assert.Len(t, rec.RemoteWorkoutIDs, 3)
	assert.Empty(t, rec.StaleRemoteIDs)

	remote.mu.Lock()
	defer remote.mu.Unlock()
	assert.NotContains(t, remote.inventory, oldA)
	assert.NotContains(t, remote.inventory, oldB)
	assert.Contains(t, remote.inventory, manual, "unmarked workouts are never deleted")
	assert.Len(t, remote.inventory, 4)
	assert.Len(t, remote.scheduled, 3)

	current, err := store.CurrentPublished(ctx)
	require.NoError(t, err)
	assert.Equal(t, "plan-1", current.PlanID)
}

func TestPublishPartialKeepsPreviousCommitted(t *testing.T) {
	remote := newFakeRemote()
	store := openTestJournal(t)
	ctx := context.Background()

	p := NewPublisher(remote, store, testPublishConfig())

	first, err := p.Publish(ctx, testPlan("plan-1", "Day 1"))
	require.NoError(t, err)

	// Second cycle fails on its second create.
	remote.mu.Lock()
	remote.failCreateAfter = remote.creates + 2
	remote.mu.Unlock()

	_, err = p.Publish(ctx, testPlan("plan-2", "Day 1", "Day 2"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPublishPartial)

	// The previous plan is still the committed one.
	current, err := store.CurrentPublished(ctx)
	require.NoError(t, err)
	assert.Equal(t, "plan-1", current.PlanID)
	assert.Equal(t, first.RemoteWorkoutIDs, current.RemoteWorkoutIDs)

	// The failed cycle recorded its orphan for cleanup.
	failed, err := store.PublishRecord(ctx, "plan-2")
	require.NoError(t, err)
	assert.Equal(t, models.PublishFailed, failed.Status)
	assert.Len(t, failed.StaleRemoteIDs, 1)

	// The first plan's item survived the failed cycle.
	remote.mu.Lock()
	defer remote.mu.Unlock()
	for _, id := range first.RemoteWorkoutIDs {
		assert.Contains(t, remote.inventory, id)
	}
}

func TestSamePlanRepublishPartialKeepsCommitted(t *testing.T) {
	remote := newFakeRemote()
	store := openTestJournal(t)
	ctx := context.Background()

	p := NewPublisher(remote, store, testPublishConfig())

	first, err := p.Publish(ctx, testPlan("plan-1", "Day 1"))
	require.NoError(t, err)

	// Regenerating the same plan id fails on its second create.
	remote.mu.Lock()
	remote.failCreateAfter = remote.creates + 2
	remote.mu.Unlock()

	_, err = p.Publish(ctx, testPlan("plan-1", "Day 1", "Day 2"))
	assert.ErrorIs(t, err, ErrPublishPartial)

	// The committed record survives the failed cycle untouched.
	current, err := store.CurrentPublished(ctx)
	require.NoError(t, err)
	assert.Equal(t, "plan-1", current.PlanID)
	assert.Equal(t, first.CycleID, current.CycleID)
	assert.Equal(t, first.RemoteWorkoutIDs, current.RemoteWorkoutIDs)

	// Its items are still live remotely.
	remote.mu.Lock()
	for _, id := range first.RemoteWorkoutIDs {
		assert.Contains(t, remote.inventory, id)
	}
	remote.mu.Unlock()

	// The failed cycle left its own record carrying the orphan for cleanup.
	records, err := store.RecordsWithStaleIDs(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.PublishFailed, records[0].Status)
	assert.NotEqual(t, first.CycleID, records[0].CycleID)
	assert.Len(t, records[0].StaleRemoteIDs, 1)

	// Cleanup drains the orphan while the committed plan stays live.
	remaining, err := p.CleanupStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	current, err = store.CurrentPublished(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.CycleID, current.CycleID)
}

func TestPublishSchedulingFailureIsPartial(t *testing.T) {
	remote := newFakeRemote()
	remote.failScheduleAfter = 1
	store := openTestJournal(t)

	p := NewPublisher(remote, store, testPublishConfig())

	_, err := p.Publish(context.Background(), testPlan("plan-1", "Day 1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPublishPartial)
}

func TestPublishInProgress(t *testing.T) {
	remote := newFakeRemote()
	store := openTestJournal(t)

	p := NewPublisher(remote, store, testPublishConfig())
	p.inFlight.Store(true)

	_, err := p.Publish(context.Background(), testPlan("plan-1", "Day 1"))
	assert.ErrorIs(t, err, ErrPublishInProgress)
}

func TestPublishUndeletableStaleRetained(t *testing.T) {
	remote := newFakeRemote()
	store := openTestJournal(t)
	ctx := context.Background()

	stuck := remote.seed(MarkerPrefix + "Stuck Old Day")
	remote.failDeleteIDs[stuck] = true

	p := NewPublisher(remote, store, testPublishConfig())

	rec, err := p.Publish(ctx, testPlan("plan-1", "Day 1"))
	require.NoError(t, err)
	assert.Equal(t, []int64{stuck}, rec.StaleRemoteIDs)

	// Cleanup retries; the delete now succeeds.
	remote.mu.Lock()
	remote.failDeleteIDs[stuck] = false
	remote.mu.Unlock()

	remaining, err := p.CleanupStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	current, err := store.CurrentPublished(ctx)
	require.NoError(t, err)
	assert.Empty(t, current.StaleRemoteIDs)

	remote.mu.Lock()
	defer remote.mu.Unlock()
	assert.NotContains(t, remote.inventory, stuck)
}

func TestCleanupStaleTreatsMissingAsDeleted(t *testing.T) {
	remote := newFakeRemote()
	store := openTestJournal(t)
	ctx := context.Background()

	// A stale id that no longer exists remotely drains without error.
	rec := &models.PublishRecord{
		PlanID:           "plan-x",
		RemoteWorkoutIDs: []int64{900},
		StaleRemoteIDs:   []int64{901},
		PublishedAt:      time.Now().UTC(),
		Status:           models.PublishSuperseded,
	}
	require.NoError(t, store.SavePublishRecord(ctx, rec))

	p := NewPublisher(remote, store, testPublishConfig())
	remaining, err := p.CleanupStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	records, err := store.RecordsWithStaleIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}
