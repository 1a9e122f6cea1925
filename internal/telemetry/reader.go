// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

/*
Package telemetry normalizes remote wellness and activity data into the
journal's domain types.

The Reader pulls each metric family from its endpoint, flattens the
platform's nested response shapes into flat TelemetrySample rows and
maps activity summaries plus their strength set detail into Activity
records. Individual malformed records are skipped and counted, never
fatal; a failed endpoint fetch aborts the batch so the scheduler can
back off and retry.

The account display name keys the wellness endpoints. It is fetched
once from the profile endpoint and cached, in the journal's kv area
when one is attached so restarts skip the profile round trip.
*/
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/CPlusPlus17/FitnessJournal/internal/garmin"
	"github.com/CPlusPlus17/FitnessJournal/internal/logging"
	"github.com/CPlusPlus17/FitnessJournal/internal/metrics"
	"github.com/CPlusPlus17/FitnessJournal/internal/models"
)

// errSkipRecord is a sentinel error indicating that a record should be skipped gracefully
var errSkipRecord = errors.New("skip record")

const (
	dateLayout      = "2006-01-02"
	startTimeLayout = "2006-01-02 15:04:05"

	sportStrength = "strength_training"
)

// RemoteAPI is the subset of the connect client the reader consumes.
// Satisfied by both garmin.Client and garmin.CircuitBreakerClient.
type RemoteAPI interface {
	SearchActivities(ctx context.Context, start, limit int, startDate time.Time) ([]garmin.ActivitySummary, error)
	GetExerciseSets(ctx context.Context, activityID int64) (*garmin.ExerciseSetsResponse, error)
	GetDailySleep(ctx context.Context, displayName string, date time.Time) (*garmin.DailySleepResponse, error)
	GetBodyBattery(ctx context.Context, from, to time.Time) ([]garmin.BodyBatteryReport, error)
	GetTrainingReadiness(ctx context.Context, date time.Time) ([]garmin.TrainingReadinessEntry, error)
	GetHRV(ctx context.Context, date time.Time) (*garmin.HRVResponse, error)
	GetRestingHeartRate(ctx context.Context, displayName string, from, to time.Time) ([]garmin.WellnessMetricValue, error)
	GetSocialProfile(ctx context.Context) (*garmin.SocialProfile, error)
}

// MetricsBatch is the outcome of one telemetry fetch window.
type MetricsBatch struct {
	Samples []models.TelemetrySample
	Skipped int
}

// KVCache persists small lookup values across restarts. Satisfied by
// the journal store's kv area.
type KVCache interface {
	GetValue(ctx context.Context, key string) (string, error)
	SetValue(ctx context.Context, key, value string) error
}

const displayNameKey = "display_name"

// Reader fetches and normalizes remote telemetry.
//
// Thread Safety: safe for concurrent use.
type Reader struct {
	client RemoteAPI
	cache  KVCache

	mu          sync.Mutex
	displayName string
}

// NewReader creates a telemetry reader over the given API client.
func NewReader(client RemoteAPI) *Reader {
	return &Reader{client: client}
}

// SetCache attaches a persistent cache for the display name lookup.
// Must be called before the first fetch.
func (r *Reader) SetCache(cache KVCache) {
	r.cache = cache
}

// DisplayName returns the account identifier keying the wellness
// endpoints. Resolution order: in-process cache, attached kv cache,
// profile endpoint.
func (r *Reader) DisplayName(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.displayName != "" {
		return r.displayName, nil
	}

	if r.cache != nil {
		if cached, err := r.cache.GetValue(ctx, displayNameKey); err == nil && cached != "" {
			r.displayName = cached
			return cached, nil
		}
	}

	profile, err := r.client.GetSocialProfile(ctx)
	if err != nil {
		return "", fmt.Errorf("fetching profile: %w", err)
	}
	if profile.DisplayName == "" {
		return "", fmt.Errorf("%w: profile missing displayName", garmin.ErrMalformedResponse)
	}

	if r.cache != nil {
		if err := r.cache.SetValue(ctx, displayNameKey, profile.DisplayName); err != nil {
			logging.Warn().Err(err).Msg("Failed to cache display name")
		}
	}

	r.displayName = profile.DisplayName
	logging.Debug().Str("display_name", profile.DisplayName).Msg("Cached account display name")
	return profile.DisplayName, nil
}

// FetchMetrics pulls every metric family for the window [from, to] and
// returns the normalized samples. Days are inclusive on both ends.
func (r *Reader) FetchMetrics(ctx context.Context, from, to time.Time) (*MetricsBatch, error) {
	displayName, err := r.DisplayName(ctx)
	if err != nil {
		return nil, err
	}

	batch := &MetricsBatch{}

	if err := r.collectBodyBattery(ctx, from, to, batch); err != nil {
		return nil, err
	}
	if err := r.collectRestingHeartRate(ctx, displayName, from, to, batch); err != nil {
		return nil, err
	}

	for day := truncateDay(from); !day.After(truncateDay(to)); day = day.AddDate(0, 0, 1) {
		if err := r.collectSleepScore(ctx, displayName, day, batch); err != nil {
			return nil, err
		}
		if err := r.collectTrainingReadiness(ctx, day, batch); err != nil {
			return nil, err
		}
		if err := r.collectHRV(ctx, day, batch); err != nil {
			return nil, err
		}
	}

	logging.Info().
		Int("samples", len(batch.Samples)).
		Int("skipped", batch.Skipped).
		Time("from", from).
		Time("to", to).
		Msg("Telemetry window fetched")

	return batch, nil
}

// collectBodyBattery flattens the per-day level curves. Each wire row is
// [timestamp_ms, level, ...]; rows missing either field are skipped.
func (r *Reader) collectBodyBattery(ctx context.Context, from, to time.Time, batch *MetricsBatch) error {
	reports, err := r.client.GetBodyBattery(ctx, from, to)
	if err != nil {
		return fmt.Errorf("fetching body battery: %w", err)
	}

	for _, report := range reports {
		for _, row := range report.BodyBatteryValuesArray {
			sample, err := bodyBatteryRow(report.Date, row)
			if err != nil {
				if errors.Is(err, errSkipRecord) {
					batch.skip(models.MetricBodyBattery)
					continue
				}
				return err
			}
			batch.add(sample)
		}
	}
	return nil
}

// bodyBatteryRow converts one wire row into a sample.
func bodyBatteryRow(date string, row []float64) (models.TelemetrySample, error) {
	if len(row) < 2 {
		return models.TelemetrySample{}, fmt.Errorf("%w: body battery row has %d fields", errSkipRecord, len(row))
	}
	return models.TelemetrySample{
		MetricKind: models.MetricBodyBattery,
		Value:      row[1],
		CapturedAt: time.UnixMilli(int64(row[0])).UTC(),
		SourceID:   date,
	}, nil
}

func (r *Reader) collectSleepScore(ctx context.Context, displayName string, day time.Time, batch *MetricsBatch) error {
	sleep, err := r.client.GetDailySleep(ctx, displayName, day)
	if err != nil {
		return fmt.Errorf("fetching sleep for %s: %w", day.Format(dateLayout), err)
	}

	scores := sleep.DailySleepDTO.SleepScores
	if scores == nil || scores.Overall == nil || scores.Overall.Value == nil {
		// No sleep recorded for the night. Normal, not malformed.
		return nil
	}

	batch.add(models.TelemetrySample{
		MetricKind: models.MetricSleepScore,
		Value:      *scores.Overall.Value,
		CapturedAt: day,
		SourceID:   sleep.DailySleepDTO.CalendarDate,
	})
	return nil
}

func (r *Reader) collectTrainingReadiness(ctx context.Context, day time.Time, batch *MetricsBatch) error {
	entries, err := r.client.GetTrainingReadiness(ctx, day)
	if err != nil {
		return fmt.Errorf("fetching training readiness for %s: %w", day.Format(dateLayout), err)
	}

	// The endpoint answers with an array; the first scored entry wins.
	for _, entry := range entries {
		if entry.Score == nil {
			continue
		}
		batch.add(models.TelemetrySample{
			MetricKind: models.MetricTrainingReadiness,
			Value:      *entry.Score,
			CapturedAt: day,
			SourceID:   entry.CalendarDate,
		})
		// The same entry carries the 7-day acute training load.
		if entry.AcuteLoad != nil {
			batch.add(models.TelemetrySample{
				MetricKind: models.MetricTrainingLoadSevenD,
				Value:      *entry.AcuteLoad,
				CapturedAt: day,
				SourceID:   entry.CalendarDate,
			})
		}
		return nil
	}
	return nil
}

func (r *Reader) collectHRV(ctx context.Context, day time.Time, batch *MetricsBatch) error {
	hrv, err := r.client.GetHRV(ctx, day)
	if err != nil {
		return fmt.Errorf("fetching hrv for %s: %w", day.Format(dateLayout), err)
	}

	if hrv.HRVSummary == nil || hrv.HRVSummary.LastNightAvg == nil {
		return nil
	}

	batch.add(models.TelemetrySample{
		MetricKind: models.MetricHRV,
		Value:      *hrv.HRVSummary.LastNightAvg,
		CapturedAt: day,
		SourceID:   hrv.HRVSummary.CalendarDate,
	})
	return nil
}

func (r *Reader) collectRestingHeartRate(ctx context.Context, displayName string, from, to time.Time, batch *MetricsBatch) error {
	values, err := r.client.GetRestingHeartRate(ctx, displayName, from, to)
	if err != nil {
		return fmt.Errorf("fetching resting heart rate: %w", err)
	}

	for _, v := range values {
		sample, err := restingHeartRateValue(v)
		if err != nil {
			if errors.Is(err, errSkipRecord) {
				batch.skip(models.MetricRestingHeartRate)
				continue
			}
			return err
		}
		batch.add(sample)
	}
	return nil
}

// restingHeartRateValue handles both wire shapes: a flat value or a
// nested values object.
func restingHeartRateValue(v garmin.WellnessMetricValue) (models.TelemetrySample, error) {
	var value *float64
	switch {
	case v.Values != nil && v.Values.RestingHR != nil:
		value = v.Values.RestingHR
	case v.Value != nil:
		value = v.Value
	default:
		return models.TelemetrySample{}, fmt.Errorf("%w: resting heart rate entry without value", errSkipRecord)
	}

	day, err := time.ParseInLocation(dateLayout, v.CalendarDate, time.UTC)
	if err != nil {
		return models.TelemetrySample{}, fmt.Errorf("%w: bad calendar date %q", errSkipRecord, v.CalendarDate)
	}

	return models.TelemetrySample{
		MetricKind: models.MetricRestingHeartRate,
		Value:      *value,
		CapturedAt: day,
		SourceID:   v.CalendarDate,
	}, nil
}

// FetchActivities pages through completed activities on or after since
// and maps them into journal form. Strength activities carry their set
// detail; other sports keep summary fields only.
func (r *Reader) FetchActivities(ctx context.Context, since time.Time, pageSize int) ([]models.Activity, error) {
	var activities []models.Activity
	start := 0

	for {
		page, err := r.client.SearchActivities(ctx, start, pageSize, since)
		if err != nil {
			return nil, fmt.Errorf("searching activities (start=%d): %w", start, err)
		}
		if len(page) == 0 {
			break
		}

		for i := range page {
			activity, err := r.mapActivity(ctx, &page[i])
			if err != nil {
				if errors.Is(err, errSkipRecord) {
					logging.Warn().Int64("activity_id", page[i].ActivityID).Msg("Skipping malformed activity")
					continue
				}
				return nil, err
			}
			activities = append(activities, *activity)
		}

		if len(page) < pageSize {
			break
		}
		start += pageSize
	}

	return activities, nil
}

// mapActivity converts one summary row, fetching strength set detail
// when the sport carries it.
func (r *Reader) mapActivity(ctx context.Context, summary *garmin.ActivitySummary) (*models.Activity, error) {
	if summary.ActivityID == 0 {
		return nil, fmt.Errorf("%w: activity without id", errSkipRecord)
	}

	startedAt, err := time.ParseInLocation(startTimeLayout, summary.StartTimeLocal, time.Local)
	if err != nil {
		return nil, fmt.Errorf("%w: bad start time %q", errSkipRecord, summary.StartTimeLocal)
	}

	raw, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("marshaling activity %d: %w", summary.ActivityID, err)
	}

	activity := &models.Activity{
		RemoteID:   summary.ActivityID,
		Name:       summary.ActivityName,
		Sport:      summary.ActivityType.TypeKey,
		StartedAt:  startedAt,
		Duration:   time.Duration(summary.Duration * float64(time.Second)),
		DistanceM:  summary.Distance,
		RawPayload: raw,
	}

	if summary.ActivityType.TypeKey == sportStrength {
		sets, err := r.fetchExerciseSets(ctx, summary.ActivityID)
		if err != nil {
			return nil, err
		}
		activity.ExerciseSets = sets
	}

	return activity, nil
}

// fetchExerciseSets pulls and maps the working sets of one strength
// activity. Rest sets are dropped; set indexes are assigned over the
// remaining working sets in wire order.
func (r *Reader) fetchExerciseSets(ctx context.Context, activityID int64) ([]models.ExerciseSet, error) {
	resp, err := r.client.GetExerciseSets(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("fetching exercise sets for %d: %w", activityID, err)
	}

	var sets []models.ExerciseSet
	for _, remote := range resp.ExerciseSets {
		if !strings.EqualFold(remote.SetType, "ACTIVE") {
			continue
		}

		set := models.ExerciseSet{
			ActivityID: activityID,
			SetIndex:   len(sets),
		}
		if len(remote.Exercises) > 0 {
			set.ExerciseName = remote.Exercises[0].Name
		}
		if remote.RepetitionCount != nil {
			set.Reps = *remote.RepetitionCount
		}
		if remote.Weight != nil {
			set.WeightGrams = int64(*remote.Weight)
		}
		if remote.Duration != nil {
			set.Duration = time.Duration(*remote.Duration * float64(time.Second))
		}
		sets = append(sets, set)
	}
	return sets, nil
}

func (b *MetricsBatch) add(sample models.TelemetrySample) {
	b.Samples = append(b.Samples, sample)
}

func (b *MetricsBatch) skip(kind models.MetricKind) {
	b.Skipped++
	metrics.SyncRecordsSkipped.WithLabelValues(string(kind)).Inc()
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
