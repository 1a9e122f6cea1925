// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

package garmin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CPlusPlus17/FitnessJournal/internal/config"
)

// staticTokens is a TokenSource with a fixed credential and a scriptable
// refresh outcome.
type staticTokens struct {
	token      string
	refreshErr error
	refreshes  atomic.Int32
}

func (s *staticTokens) AccessToken(context.Context) (string, error) {
	return s.token, nil
}

func (s *staticTokens) ForceRefresh(context.Context) error {
	s.refreshes.Add(1)
	if s.refreshErr != nil {
		return s.refreshErr
	}
	s.token = "refreshed-token"
	return nil
}

func testClientConfig(baseURL string) *config.GarminConfig {
	return &config.GarminConfig{
		APIBaseURL:        baseURL,
		Timeout:           5 * time.Second,
		MaxRetries:        2,
		RetryDelay:        time.Millisecond,
		RequestsPerSecond: 1000,
		RequestBurst:      100,
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *staticTokens) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tokens := &staticTokens{token: "token-1"}
	return NewClient(testClientConfig(srv.URL), tokens), tokens
}

func TestSearchActivities(t *testing.T) {
	var gotAuth, gotQuery string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"activityId": 42, "activityName": "Run", "activityType": {"typeKey": "running"}}]`))
	}))

	activities, err := client.SearchActivities(context.Background(), 0, 20, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, int64(42), activities[0].ActivityID)
	assert.Equal(t, "Bearer token-1", gotAuth)
	assert.Contains(t, gotQuery, "startDate=2026-03-01")
}

func TestDoRequestRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream sad", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"displayName": "athlete-1"}`))
	}))

	profile, err := client.GetSocialProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "athlete-1", profile.DisplayName)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoRequestExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))

	_, err := client.GetSocialProfile(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
	// MaxRetries 2 means 3 attempts total.
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoRequestHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	var firstDelay time.Duration
	var lastCall time.Time

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		now := time.Now()
		if calls.Add(1) == 1 {
			lastCall = now
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		firstDelay = now.Sub(lastCall)
		_, _ = w.Write([]byte(`{"displayName": "athlete-1"}`))
	}))

	_, err := client.GetSocialProfile(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, firstDelay, 900*time.Millisecond)
}

func TestDoRequestRefreshesOnceOn401(t *testing.T) {
	var auths []string
	client, tokens := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auths = append(auths, r.Header.Get("Authorization"))
		if r.Header.Get("Authorization") != "Bearer refreshed-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"displayName": "athlete-1"}`))
	}))

	profile, err := client.GetSocialProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "athlete-1", profile.DisplayName)
	assert.Equal(t, int32(1), tokens.refreshes.Load())
	assert.Equal(t, []string{"Bearer token-1", "Bearer refreshed-token"}, auths)
}

func TestDoRequestSecond401IsAuthExpired(t *testing.T) {
	client, tokens := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.GetSocialProfile(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthExpired)
	assert.Equal(t, int32(1), tokens.refreshes.Load(), "refresh is attempted exactly once")
}

func TestDoRequestClientErrorIsProtocolError(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, `{"message": "no such activity"}`, http.StatusNotFound)
	}))

	_, err := client.GetExerciseSets(context.Background(), 999)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocolError)
	assert.Equal(t, int32(1), calls.Load(), "4xx is not retried")
}

func TestGetRestingHeartRateBareArray(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"calendarDate": "2026-03-01", "values": {"restingHR": 47}}]`))
	}))

	values, err := client.GetRestingHeartRate(context.Background(), "athlete-1",
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, values, 1)
	require.NotNil(t, values[0].Values)
	require.NotNil(t, values[0].Values.RestingHR)
	assert.Equal(t, 47.0, *values[0].Values.RestingHR)
}

func TestGetRestingHeartRateMetricsMap(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"allMetrics": {"metricsMap": {"WELLNESS_RESTING_HEART_RATE": [{"calendarDate": "2026-03-01", "value": 46}]}}}`))
	}))

	values, err := client.GetRestingHeartRate(context.Background(), "athlete-1",
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, values, 1)
	require.NotNil(t, values[0].Value)
	assert.Equal(t, 46.0, *values[0].Value)
}

func TestCreateWorkout(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"workoutId": 7001}`))
	}))

	created, err := client.CreateWorkout(context.Background(), &WorkoutPayload{WorkoutName: "[FJ] Day 1"})
	require.NoError(t, err)
	assert.Equal(t, int64(7001), created.WorkoutID)
}

func TestCreateWorkoutMissingID(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))

	_, err := client.CreateWorkout(context.Background(), &WorkoutPayload{WorkoutName: "[FJ] Day 1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocolError)
}

func TestScheduleWorkoutBody(t *testing.T) {
	var gotPath, gotBody string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))

	err := client.ScheduleWorkout(context.Background(), 7001, time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "/workout-service/schedule/7001", gotPath)
	assert.JSONEq(t, `{"date": "2026-03-16"}`, gotBody)
}
