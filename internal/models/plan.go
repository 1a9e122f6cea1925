// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

package models

import "time"

// GeneratedPlan is one plan-generation cycle's output: an ordered set of
// workouts to place on the remote calendar. Plans are produced by the
// coaching layer and consumed whole by the publisher.
type GeneratedPlan struct {
	PlanID    string      `json:"plan_id"`
	CreatedAt time.Time   `json:"created_at"`
	Entries   []PlanEntry `json:"entries"`
}

// PlanEntry is a single planned workout.
type PlanEntry struct {
	Date  time.Time  `json:"date"`
	Sport string     `json:"sport"`
	Title string     `json:"title"`
	Steps []PlanStep `json:"steps"`
}

// PlanStepType classifies a step within a planned workout.
type PlanStepType string

const (
	StepWarmup   PlanStepType = "warmup"
	StepInterval PlanStepType = "interval"
	StepRest     PlanStepType = "rest"
	StepCooldown PlanStepType = "cooldown"
)

// PlanStep is one executable step of a planned workout. Exactly one of
// Reps or Duration drives the step's end condition; a zero value for both
// means the step ends on the lap button.
type PlanStep struct {
	Type         PlanStepType  `json:"type"`
	ExerciseName string        `json:"exercise_name,omitempty"`
	Reps         int           `json:"reps,omitempty"`
	WeightGrams  int64         `json:"weight_grams,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	Description  string        `json:"description,omitempty"`
}

// PublishStatus is the lifecycle state of a publish cycle.
type PublishStatus string

const (
	// PublishPending marks a record for a cycle still in flight.
	PublishPending PublishStatus = "pending"

	// PublishCommitted marks the record whose remote items are live. At
	// most one record per plan is ever committed.
	PublishCommitted PublishStatus = "committed"

	// PublishSuperseded marks a previously committed record replaced by a
	// newer committed cycle.
	PublishSuperseded PublishStatus = "superseded"

	// PublishFailed marks a cycle that did not create all of its items.
	// Any items it did create are recorded for later reconciliation.
	PublishFailed PublishStatus = "failed"
)

// PublishRecord is the durable anchor tying a publish cycle to the remote
// items created for it. It is what lets the publisher reconcile remote
// state across restarts and interrupted cycles. Each cycle writes its own
// record, so a failed re-publish never touches the committed record it
// tried to replace.
type PublishRecord struct {
	// CycleID uniquely identifies one publish attempt.
	CycleID string `json:"cycle_id"`

	PlanID string `json:"plan_id"`

	// RemoteWorkoutIDs are the items created remotely for this cycle.
	RemoteWorkoutIDs []int64 `json:"remote_workout_ids"`

	// StaleRemoteIDs are superseded marker-tagged items whose deletion
	// failed; they are retried by the cleanup pass and never silently
	// dropped.
	StaleRemoteIDs []int64 `json:"stale_remote_ids,omitempty"`

	PublishedAt time.Time     `json:"published_at"`
	Status      PublishStatus `json:"status"`
}
