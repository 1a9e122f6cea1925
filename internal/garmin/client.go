// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

/*
client.go - Authenticated API client

This file provides the core Client struct and HTTP communication layer for
the authenticated connect API.

Client Features:
  - Bearer authentication through a pluggable TokenSource
  - Request pacing via a shared rate limiter
  - Automatic retry with exponential backoff on 429/5xx, honoring Retry-After
  - Single transparent retry after a forced token refresh on HTTP 401
  - JSON request/response handling through a generic helper
  - Context support for cancellation and timeouts

Related Files:
  - sso.go: login handshake producing the service ticket
  - oauth.go: OAuth1 signing credential and OAuth2 token exchange
  - breaker.go: circuit breaker wrapper used by the sync and publish paths
*/
package garmin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/CPlusPlus17/FitnessJournal/internal/config"
)

// maxErrorBodySize limits the response body read for error reporting.
// Prevents unbounded allocation on large error responses.
const maxErrorBodySize = 64 * 1024 // 64KB

const dateFormat = "2006-01-02"

// readBodyForError reads the response body for error reporting (max 64KB).
// Returns the body content or a placeholder if reading fails.
func readBodyForError(r io.Reader) []byte {
	limitedReader := io.LimitReader(r, maxErrorBodySize)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}

// TokenSource supplies the bearer credential for API calls. Implemented
// by the session manager; ForceRefresh is invoked on a 401 so the call
// can be retried once with a fresh credential.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) error
}

// Client handles communication with the authenticated connect API.
//
// Thread Safety: safe for concurrent use. Each request creates its own
// HTTP request; pacing is shared through the rate limiter.
type Client struct {
	baseURL        string
	tokens         TokenSource
	client         *http.Client
	limiter        *rate.Limiter
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewClient creates an API client with the provided configuration and
// token source.
func NewClient(cfg *config.GarminConfig, tokens TokenSource) *Client {
	return &Client{
		baseURL: cfg.APIBaseURL,
		tokens:  tokens,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter:        rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestBurst),
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: cfg.RetryDelay,
	}
}

// doRequest performs an authenticated JSON request with rate limiting,
// transient-failure retries and a single refresh-and-retry on 401.
// payload (if non-nil) is marshaled as the JSON body; result (if non-nil)
// receives the decoded response.
func (c *Client) doRequest(ctx context.Context, method, path string, payload, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %s", ErrNetworkError, err.Error())
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s body: %w", path, err)
		}
	}

	refreshed := false
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %s", ErrRemoteUnavailable, ctx.Err().Error())
		}

		resp, err := c.attempt(ctx, method, path, body)
		if err != nil {
			// Transport failure: transient, retry with backoff.
			lastErr = err
			if !c.wait(ctx, c.backoffDelay(attempt, "")) {
				return fmt.Errorf("%w: %s", ErrRemoteUnavailable, ctx.Err().Error())
			}
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			defer resp.Body.Close()
			if result == nil {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
				return fmt.Errorf("%w: decoding %s response: %s", ErrProtocolError, path, err.Error())
			}
			return nil

		case resp.StatusCode == http.StatusUnauthorized:
			_ = resp.Body.Close()
			if refreshed {
				return fmt.Errorf("%w: %s rejected after refresh", ErrAuthExpired, path)
			}
			refreshed = true
			if err := c.tokens.ForceRefresh(ctx); err != nil {
				return fmt.Errorf("refresh after 401 on %s: %w", path, err)
			}
			// The refresh retry does not consume a transient-retry slot.
			attempt--
			continue

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			retryAfter := resp.Header.Get("Retry-After")
			errBody := readBodyForError(resp.Body)
			_ = resp.Body.Close()
			lastErr = classifyStatus(resp.StatusCode, errBody)
			if !c.wait(ctx, c.backoffDelay(attempt, retryAfter)) {
				return fmt.Errorf("%w: %s", ErrRemoteUnavailable, ctx.Err().Error())
			}
			continue

		default:
			errBody := readBodyForError(resp.Body)
			_ = resp.Body.Close()
			return fmt.Errorf("%s %s: %w", method, path, classifyStatus(resp.StatusCode, errBody))
		}
	}

	return fmt.Errorf("%s %s failed after %d attempts: %w", method, path, c.maxRetries+1, lastErr)
}

// attempt executes one HTTP round trip.
func (c *Client) attempt(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring access token: %w", err)
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", path, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %s", ErrNetworkError, method, path, err.Error())
	}
	return resp, nil
}

// backoffDelay computes the exponential backoff delay for an attempt,
// preferring the server's Retry-After hint when present.
func (c *Client) backoffDelay(attempt int, retryAfter string) time.Duration {
	delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
	if retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
			delay = time.Duration(seconds) * time.Second
		}
	}
	return delay
}

// wait sleeps for the delay, returning false if the context ended first.
func (c *Client) wait(ctx context.Context, delay time.Duration) bool {
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

// SearchActivities returns completed activities, newest first, starting
// on or after startDate.
func (c *Client) SearchActivities(ctx context.Context, start, limit int, startDate time.Time) ([]ActivitySummary, error) {
	path := fmt.Sprintf(
		"/activitylist-service/activities/search/activities?limit=%d&start=%d&startDate=%s",
		limit, start, startDate.Format(dateFormat),
	)
	var activities []ActivitySummary
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &activities); err != nil {
		return nil, err
	}
	return activities, nil
}

// GetExerciseSets returns the strength set detail of one activity.
func (c *Client) GetExerciseSets(ctx context.Context, activityID int64) (*ExerciseSetsResponse, error) {
	path := fmt.Sprintf("/activity-service/activity/%d/exerciseSets", activityID)
	sets := &ExerciseSetsResponse{}
	if err := c.doRequest(ctx, http.MethodGet, path, nil, sets); err != nil {
		return nil, err
	}
	return sets, nil
}

// GetDailySleep returns the sleep summary for one date.
func (c *Client) GetDailySleep(ctx context.Context, displayName string, date time.Time) (*DailySleepResponse, error) {
	path := fmt.Sprintf(
		"/wellness-service/wellness/dailySleepData/%s?date=%s&nonSleepBufferMinutes=60",
		displayName, date.Format(dateFormat),
	)
	sleep := &DailySleepResponse{}
	if err := c.doRequest(ctx, http.MethodGet, path, nil, sleep); err != nil {
		return nil, err
	}
	return sleep, nil
}

// GetBodyBattery returns the daily body battery reports in the range.
func (c *Client) GetBodyBattery(ctx context.Context, from, to time.Time) ([]BodyBatteryReport, error) {
	path := fmt.Sprintf(
		"/wellness-service/wellness/bodyBattery/reports/daily?startDate=%s&endDate=%s",
		from.Format(dateFormat), to.Format(dateFormat),
	)
	var reports []BodyBatteryReport
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &reports); err != nil {
		return nil, err
	}
	return reports, nil
}

// GetTrainingReadiness returns the readiness entries for one date.
func (c *Client) GetTrainingReadiness(ctx context.Context, date time.Time) ([]TrainingReadinessEntry, error) {
	path := "/metrics-service/metrics/trainingreadiness/" + date.Format(dateFormat)
	var entries []TrainingReadinessEntry
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetHRV returns the nightly HRV summary for one date.
func (c *Client) GetHRV(ctx context.Context, date time.Time) (*HRVResponse, error) {
	path := "/hrv-service/hrv/" + date.Format(dateFormat)
	hrv := &HRVResponse{}
	if err := c.doRequest(ctx, http.MethodGet, path, nil, hrv); err != nil {
		return nil, err
	}
	return hrv, nil
}

// GetRestingHeartRate returns daily resting heart rate values for the
// range. The endpoint answers with either a bare array or a metricsMap
// wrapper depending on account age; both shapes are handled.
func (c *Client) GetRestingHeartRate(ctx context.Context, displayName string, from, to time.Time) ([]WellnessMetricValue, error) {
	path := fmt.Sprintf(
		"/userstats-service/wellness/daily/%s?fromDate=%s&untilDate=%s&metricId=60",
		displayName, from.Format(dateFormat), to.Format(dateFormat),
	)

	var raw json.RawMessage
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	var values []WellnessMetricValue
	if err := json.Unmarshal(raw, &values); err == nil {
		return values, nil
	}

	wrapper := &RestingHeartRateResponse{}
	if err := json.Unmarshal(raw, wrapper); err != nil {
		return nil, fmt.Errorf("%w: resting heart rate response: %s", ErrProtocolError, err.Error())
	}
	if wrapper.AllMetrics != nil {
		return wrapper.AllMetrics.MetricsMap["WELLNESS_RESTING_HEART_RATE"], nil
	}
	return nil, nil
}

// GetSocialProfile returns the account profile. DisplayName keys the
// wellness endpoints and is cached by the caller.
func (c *Client) GetSocialProfile(ctx context.Context) (*SocialProfile, error) {
	profile := &SocialProfile{}
	if err := c.doRequest(ctx, http.MethodGet, "/userprofile-service/socialProfile", nil, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// ListWorkouts returns one page of the account's workout library.
func (c *Client) ListWorkouts(ctx context.Context, start, limit int) ([]WorkoutSummary, error) {
	path := fmt.Sprintf("/workout-service/workouts?start=%d&limit=%d", start, limit)
	var workouts []WorkoutSummary
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &workouts); err != nil {
		return nil, err
	}
	return workouts, nil
}

// CreateWorkout creates a workout and returns its assigned remote id.
func (c *Client) CreateWorkout(ctx context.Context, payload *WorkoutPayload) (*CreatedWorkout, error) {
	created := &CreatedWorkout{}
	if err := c.doRequest(ctx, http.MethodPost, "/workout-service/workout", payload, created); err != nil {
		return nil, err
	}
	if created.WorkoutID == 0 {
		return nil, fmt.Errorf("%w: workout creation response missing workoutId", ErrProtocolError)
	}
	return created, nil
}

// DeleteWorkout removes a workout from the account's library.
func (c *Client) DeleteWorkout(ctx context.Context, workoutID int64) error {
	path := fmt.Sprintf("/workout-service/workout/%d", workoutID)
	return c.doRequest(ctx, http.MethodDelete, path, nil, nil)
}

// ScheduleWorkout places a workout on the given calendar date.
func (c *Client) ScheduleWorkout(ctx context.Context, workoutID int64, date time.Time) error {
	path := fmt.Sprintf("/workout-service/schedule/%d", workoutID)
	payload := map[string]string{"date": date.Format(dateFormat)}
	return c.doRequest(ctx, http.MethodPost, path, payload, nil)
}
