// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CPlusPlus17/FitnessJournal/internal/config"
	"github.com/CPlusPlus17/FitnessJournal/internal/garmin"
	"github.com/CPlusPlus17/FitnessJournal/internal/journal"
	"github.com/CPlusPlus17/FitnessJournal/internal/models"
	"github.com/CPlusPlus17/FitnessJournal/internal/telemetry"
)

// stubRemoteAPI answers telemetry calls with canned data, optionally
// failing the first N body battery calls.
type stubRemoteAPI struct {
	mu sync.Mutex

	bodyBattery []garmin.BodyBatteryReport
	activities  []garmin.ActivitySummary

	failBodyBatteryCalls int
	bodyBatteryCalls     int
	searchCalls          int
}

func (s *stubRemoteAPI) SearchActivities(_ context.Context, start, limit int, _ time.Time) ([]garmin.ActivitySummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchCalls++
	if start >= len(s.activities) {
		return nil, nil
	}
	end := start + limit
	if end > len(s.activities) {
		end = len(s.activities)
	}
	return s.activities[start:end], nil
}

func (s *stubRemoteAPI) GetExerciseSets(context.Context, int64) (*garmin.ExerciseSetsResponse, error) {
	return &garmin.ExerciseSetsResponse{}, nil
}

func (s *stubRemoteAPI) GetDailySleep(context.Context, string, time.Time) (*garmin.DailySleepResponse, error) {
	return &garmin.DailySleepResponse{}, nil
}

func (s *stubRemoteAPI) GetBodyBattery(context.Context, time.Time, time.Time) ([]garmin.BodyBatteryReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodyBatteryCalls++
	if s.bodyBatteryCalls <= s.failBodyBatteryCalls {
		return nil, garmin.ErrRemoteUnavailable
	}
	return s.bodyBattery, nil
}

func (s *stubRemoteAPI) GetTrainingReadiness(context.Context, time.Time) ([]garmin.TrainingReadinessEntry, error) {
	return nil, nil
}

func (s *stubRemoteAPI) GetHRV(context.Context, time.Time) (*garmin.HRVResponse, error) {
	return &garmin.HRVResponse{}, nil
}

func (s *stubRemoteAPI) GetRestingHeartRate(context.Context, string, time.Time, time.Time) ([]garmin.WellnessMetricValue, error) {
	return nil, nil
}

func (s *stubRemoteAPI) GetSocialProfile(context.Context) (*garmin.SocialProfile, error) {
	return &garmin.SocialProfile{DisplayName: "athlete-1"}, nil
}

func testSyncConfig() *config.SyncConfig {
	return &config.SyncConfig{
		Interval:                time.Minute,
		MaxBackoff:              8 * time.Minute,
		Lookback:                48 * time.Hour,
		FailureWarningThreshold: 3,
	}
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

func recentBodyBattery(at time.Time) []garmin.BodyBatteryReport {
	return []garmin.BodyBatteryReport{{
		Date: at.Format("2006-01-02"),
		BodyBatteryValuesArray: [][]float64{
			{float64(at.UnixMilli()), 70},
			{float64(at.Add(time.Hour).UnixMilli()), 64},
		},
	}}
}

func TestTriggerSyncAdvancesWatermark(t *testing.T) {
	store := openTestJournal(t)
	now := time.Now().UTC()

	stub := &stubRemoteAPI{
		bodyBattery: recentBodyBattery(now.Add(-2 * time.Hour)),
		activities: []garmin.ActivitySummary{{
			ActivityID:     5001,
			ActivityName:   "Easy Run",
			StartTimeLocal: now.Add(-3 * time.Hour).In(time.Local).Format("2006-01-02 15:04:05"),
			Duration:       1800,
			Distance:       5000,
			ActivityType:   garmin.ActivityType{TypeKey: "running"},
		}},
	}

	m := NewManager(store, telemetry.NewReader(stub), testSyncConfig())

	result, err := m.TriggerSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Samples)
	assert.Equal(t, 1, result.Activities)

	mark, err := store.SyncWatermark(context.Background())
	require.NoError(t, err)
	assert.False(t, mark.IsZero())
	assert.WithinDuration(t, now, mark, 5*time.Second)
	assert.False(t, m.LastSyncTime().IsZero())

	counts, err := store.TelemetryCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.MetricBodyBattery])
}

func TestFailedCycleLeavesWatermark(t *testing.T) {
	store := openTestJournal(t)

	stub := &stubRemoteAPI{failBodyBatteryCalls: 1}
	m := NewManager(store, telemetry.NewReader(stub), testSyncConfig())

	_, err := m.TriggerSync(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, garmin.ErrRemoteUnavailable))
	assert.Equal(t, 1, m.ConsecutiveFailures())

	mark, err := store.SyncWatermark(context.Background())
	require.NoError(t, err)
	assert.True(t, mark.IsZero(), "watermark must not move on failure")

	// The next cycle succeeds and resets the streak.
	_, err = m.TriggerSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, m.ConsecutiveFailures())
}

func TestNextDelayBacksOffAndCaps(t *testing.T) {
	m := NewManager(nil, nil, testSyncConfig())

	tests := []struct {
		name     string
		failures int
		want     time.Duration
	}{
		{"no failures", 0, time.Minute},
		{"one failure", 1, 2 * time.Minute},
		{"two failures", 2, 4 * time.Minute},
		{"three failures", 3, 8 * time.Minute},
		{"capped", 6, 8 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m.mu.Lock()
			m.failures = tt.failures
			m.mu.Unlock()
			assert.Equal(t, tt.want, m.nextDelay())
		})
	}
}

func TestStartStop(t *testing.T) {
	store := openTestJournal(t)
	stub := &stubRemoteAPI{}
	m := NewManager(store, telemetry.NewReader(stub), testSyncConfig())

	var mu sync.Mutex
	cycles := 0
	m.OnCycleCompleted(func(CycleResult, error) {
		mu.Lock()
		cycles++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, m.Start(ctx))
	assert.Error(t, m.Start(ctx), "second start must fail")

	// The initial cycle runs immediately on start.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return cycles >= 1
	}, 5*time.Second, 10*time.Millisecond)

	m.Stop()
	m.Stop() // second stop is a no-op
}
