// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

package garmin

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/CPlusPlus17/FitnessJournal/internal/config"
	"github.com/CPlusPlus17/FitnessJournal/internal/logging"
	"github.com/CPlusPlus17/FitnessJournal/internal/metrics"
)

// CircuitBreakerClient wraps Client with circuit breaker protection.
// Prevents cascading failures when the connect API is unavailable or slow.
//
// DETERMINISM NOTE: The circuit breaker uses real time (via sony/gobreaker)
// for its interval and timeout calculations. The timing determines when to
// recover from failures, not data integrity; unit tests should exercise the
// wrapped client directly.
type CircuitBreakerClient struct {
	client *Client
	cb     *gobreaker.CircuitBreaker[interface{}]
	name   string
}

// NewCircuitBreakerClient creates an API client with circuit breaker.
// Circuit breaker configuration:
// - Max 3 concurrent requests in half-open state
// - 1 minute measurement window
// - 2 minute timeout before attempting recovery
// - Opens after 60% failure rate with minimum 10 requests
func NewCircuitBreakerClient(cfg *config.GarminConfig, tokens TokenSource) *CircuitBreakerClient {
	client := NewClient(cfg, tokens)
	cbName := "connect-api"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}

			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6

			if shouldTrip {
				logging.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_rate", failureRatio*100).Msg("[CIRCUIT BREAKER] Opening circuit")
			}

			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()

			if to == gobreaker.StateClosed {
				metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
			}
		},
	})

	return &CircuitBreakerClient{
		client: client,
		cb:     cb,
		name:   cbName,
	}
}

// execute wraps an API call with circuit breaker protection.
// Returns the result or an error if circuit is open or request fails.
func (cbc *CircuitBreakerClient) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := cbc.cb.Execute(func() (interface{}, error) {
		return fn()
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "rejected").Inc()
			logging.Warn().Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "failure").Inc()

			counts := cbc.cb.Counts()
			metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cbc.name).Set(float64(counts.ConsecutiveFailures))
		}
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "success").Inc()
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cbc.name).Set(0)

	return result, nil
}

// castResult safely type-casts the circuit breaker result with error checking.
func castResult[T any](result interface{}, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	typed, ok := result.(*T)
	if !ok {
		return nil, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

// castSlice type-casts a slice-valued circuit breaker result.
func castSlice[T any](result interface{}, err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	typed, ok := result.([]T)
	if !ok {
		return nil, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

// stateToFloat converts circuit breaker state to numeric value for metrics.
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to string for logging.
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// SearchActivities retrieves completed activities with circuit breaker protection.
func (cbc *CircuitBreakerClient) SearchActivities(ctx context.Context, start, limit int, startDate time.Time) ([]ActivitySummary, error) {
	return castSlice[ActivitySummary](cbc.execute(func() (interface{}, error) {
		return cbc.client.SearchActivities(ctx, start, limit, startDate)
	}))
}

// GetExerciseSets retrieves strength set detail with circuit breaker protection.
func (cbc *CircuitBreakerClient) GetExerciseSets(ctx context.Context, activityID int64) (*ExerciseSetsResponse, error) {
	return castResult[ExerciseSetsResponse](cbc.execute(func() (interface{}, error) {
		return cbc.client.GetExerciseSets(ctx, activityID)
	}))
}

// GetDailySleep retrieves a sleep summary with circuit breaker protection.
func (cbc *CircuitBreakerClient) GetDailySleep(ctx context.Context, displayName string, date time.Time) (*DailySleepResponse, error) {
	return castResult[DailySleepResponse](cbc.execute(func() (interface{}, error) {
		return cbc.client.GetDailySleep(ctx, displayName, date)
	}))
}

// GetBodyBattery retrieves body battery reports with circuit breaker protection.
func (cbc *CircuitBreakerClient) GetBodyBattery(ctx context.Context, from, to time.Time) ([]BodyBatteryReport, error) {
	return castSlice[BodyBatteryReport](cbc.execute(func() (interface{}, error) {
		return cbc.client.GetBodyBattery(ctx, from, to)
	}))
}

// GetTrainingReadiness retrieves readiness entries with circuit breaker protection.
func (cbc *CircuitBreakerClient) GetTrainingReadiness(ctx context.Context, date time.Time) ([]TrainingReadinessEntry, error) {
	return castSlice[TrainingReadinessEntry](cbc.execute(func() (interface{}, error) {
		return cbc.client.GetTrainingReadiness(ctx, date)
	}))
}

// GetHRV retrieves the nightly HRV summary with circuit breaker protection.
func (cbc *CircuitBreakerClient) GetHRV(ctx context.Context, date time.Time) (*HRVResponse, error) {
	return castResult[HRVResponse](cbc.execute(func() (interface{}, error) {
		return cbc.client.GetHRV(ctx, date)
	}))
}

// GetRestingHeartRate retrieves daily resting heart rate values with circuit breaker protection.
func (cbc *CircuitBreakerClient) GetRestingHeartRate(ctx context.Context, displayName string, from, to time.Time) ([]WellnessMetricValue, error) {
	return castSlice[WellnessMetricValue](cbc.execute(func() (interface{}, error) {
		return cbc.client.GetRestingHeartRate(ctx, displayName, from, to)
	}))
}

// GetSocialProfile retrieves the account profile with circuit breaker protection.
func (cbc *CircuitBreakerClient) GetSocialProfile(ctx context.Context) (*SocialProfile, error) {
	return castResult[SocialProfile](cbc.execute(func() (interface{}, error) {
		return cbc.client.GetSocialProfile(ctx)
	}))
}

// ListWorkouts retrieves one workout library page with circuit breaker protection.
func (cbc *CircuitBreakerClient) ListWorkouts(ctx context.Context, start, limit int) ([]WorkoutSummary, error) {
	return castSlice[WorkoutSummary](cbc.execute(func() (interface{}, error) {
		return cbc.client.ListWorkouts(ctx, start, limit)
	}))
}

// CreateWorkout creates a workout with circuit breaker protection.
func (cbc *CircuitBreakerClient) CreateWorkout(ctx context.Context, payload *WorkoutPayload) (*CreatedWorkout, error) {
	return castResult[CreatedWorkout](cbc.execute(func() (interface{}, error) {
		return cbc.client.CreateWorkout(ctx, payload)
	}))
}

// DeleteWorkout removes a workout with circuit breaker protection.
func (cbc *CircuitBreakerClient) DeleteWorkout(ctx context.Context, workoutID int64) error {
	_, err := cbc.execute(func() (interface{}, error) {
		return nil, cbc.client.DeleteWorkout(ctx, workoutID)
	})
	return err
}

// ScheduleWorkout places a workout on a calendar date with circuit breaker protection.
func (cbc *CircuitBreakerClient) ScheduleWorkout(ctx context.Context, workoutID int64, date time.Time) error {
	_, err := cbc.execute(func() (interface{}, error) {
		return nil, cbc.client.ScheduleWorkout(ctx, workoutID, date)
	})
	return err
}
