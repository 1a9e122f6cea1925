// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

package models

import "time"

// MetricKind identifies a telemetry metric series.
type MetricKind string

const (
	MetricBodyBattery        MetricKind = "body_battery"
	MetricSleepScore         MetricKind = "sleep_score"
	MetricTrainingReadiness  MetricKind = "training_readiness"
	MetricHRV                MetricKind = "hrv"
	MetricRestingHeartRate   MetricKind = "resting_heart_rate"
	MetricTrainingLoadSevenD MetricKind = "training_load_7d"
)

// TelemetrySample is one time-stamped metric observation. Samples are
// immutable once stored and uniquely keyed by (MetricKind, CapturedAt),
// which makes re-ingestion of overlapping ranges idempotent.
type TelemetrySample struct {
	MetricKind MetricKind `json:"metric_kind"`
	Value      float64    `json:"value"`
	CapturedAt time.Time  `json:"captured_at"`
	SourceID   string     `json:"source_id"`
}

// Activity is a completed workout observed on the remote platform.
// Uniquely keyed by RemoteID; created on first sync observation and never
// deleted locally.
type Activity struct {
	RemoteID     int64         `json:"remote_id"`
	Name         string        `json:"name"`
	Sport        string        `json:"sport"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	DistanceM    float64       `json:"distance_m"`
	RawPayload   []byte        `json:"raw_payload,omitempty"`
	ExerciseSets []ExerciseSet `json:"exercise_sets,omitempty"`
}

// ExerciseSet is one strength set within an activity, keyed by
// (activity remote id, SetIndex).
type ExerciseSet struct {
	ActivityID   int64         `json:"activity_id"`
	SetIndex     int           `json:"set_index"`
	ExerciseName string        `json:"exercise_name"`
	Reps         int           `json:"reps"`
	WeightGrams  int64         `json:"weight_grams"`
	Duration     time.Duration `json:"duration"`
}

// RecoverySnapshot aggregates the latest value of each recovery metric,
// served to the coaching and dashboard layers.
type RecoverySnapshot struct {
	CapturedAt        time.Time `json:"captured_at"`
	BodyBattery       *float64  `json:"body_battery,omitempty"`
	SleepScore        *float64  `json:"sleep_score,omitempty"`
	TrainingReadiness *float64  `json:"training_readiness,omitempty"`
	HRV               *float64  `json:"hrv,omitempty"`
	RestingHeartRate  *float64  `json:"resting_heart_rate,omitempty"`
	TrainingLoad7d    *float64  `json:"training_load_7d,omitempty"`
}

// ProgressionPoint is one step of an exercise's strength progression,
// derived from the stored set history.
type ProgressionPoint struct {
	Date         time.Time `json:"date"`
	ExerciseName string    `json:"exercise_name"`
	TopWeightG   int64     `json:"top_weight_grams"`
	TopReps      int       `json:"top_reps"`
	TotalVolume  int64     `json:"total_volume_grams"`
}
