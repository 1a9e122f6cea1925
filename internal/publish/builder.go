// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

package publish

import (
	"fmt"
	"strings"
	"time"

	"github.com/CPlusPlus17/FitnessJournal/internal/garmin"
	"github.com/CPlusPlus17/FitnessJournal/internal/models"
)

// MarkerPrefix tags every workout this system creates. Only marker-tagged
// remote items are ever deleted; anything the athlete created by hand is
// untouchable.
const MarkerPrefix = "[FJ] "

// restBetweenSets is inserted after an interval step that does not carry
// its own rest step.
const restBetweenSets = 90 * time.Second

// IsMarked reports whether a remote workout name carries the marker.
func IsMarked(name string) bool {
	return strings.HasPrefix(name, MarkerPrefix)
}

// BuildWorkout converts one plan entry into the platform's creation
// payload. Interval steps without a following rest step get a timed rest
// inserted after them; the last step of an entry never does.
func BuildWorkout(entry *models.PlanEntry) (*garmin.WorkoutPayload, error) {
	if entry.Title == "" {
		return nil, fmt.Errorf("plan entry for %s has no title", entry.Date.Format("2006-01-02"))
	}
	if len(entry.Steps) == 0 {
		return nil, fmt.Errorf("plan entry %q has no steps", entry.Title)
	}

	sport := garmin.SportTypeDTO{
		SportTypeID:  garmin.SportTypeIDStrength,
		SportTypeKey: garmin.SportTypeKeyStrength,
	}

	var steps []garmin.WorkoutStep
	for i, planStep := range entry.Steps {
		step, err := buildStep(&planStep)
		if err != nil {
			return nil, fmt.Errorf("plan entry %q step %d: %w", entry.Title, i, err)
		}
		steps = append(steps, *step)

		if planStep.Type == models.StepInterval && i < len(entry.Steps)-1 &&
			entry.Steps[i+1].Type != models.StepRest {
			steps = append(steps, restStep(restBetweenSets))
		}
	}
	for i := range steps {
		steps[i].StepOrder = i + 1
	}

	return &garmin.WorkoutPayload{
		WorkoutName: MarkerPrefix + entry.Title,
		SportType:   sport,
		WorkoutSegments: []garmin.WorkoutSegment{{
			SegmentOrder: 1,
			SportType:    sport,
			WorkoutSteps: steps,
		}},
	}, nil
}

func buildStep(planStep *models.PlanStep) (*garmin.WorkoutStep, error) {
	step := garmin.WorkoutStep{
		Type:        "ExecutableStepDTO",
		Description: planStep.Description,
		TargetType: garmin.TargetTypeDTO{
			WorkoutTargetTypeID:  garmin.TargetIDNoTarget,
			WorkoutTargetTypeKey: garmin.TargetKeyNoTarget,
		},
	}

	switch planStep.Type {
	case models.StepWarmup:
		step.StepType = garmin.StepTypeDTO{StepTypeID: garmin.StepTypeIDWarmup, StepTypeKey: "warmup"}
	case models.StepCooldown:
		step.StepType = garmin.StepTypeDTO{StepTypeID: garmin.StepTypeIDCooldown, StepTypeKey: "cooldown"}
	case models.StepInterval:
		step.StepType = garmin.StepTypeDTO{StepTypeID: garmin.StepTypeIDInterval, StepTypeKey: "interval"}
	case models.StepRest:
		step.StepType = garmin.StepTypeDTO{StepTypeID: garmin.StepTypeIDRest, StepTypeKey: "rest"}
	default:
		return nil, fmt.Errorf("unknown step type %q", planStep.Type)
	}

	switch {
	case planStep.Reps > 0:
		value := float64(planStep.Reps)
		step.EndCondition = garmin.ConditionDTO{ConditionTypeID: garmin.ConditionIDReps, ConditionTypeKey: "reps"}
		step.EndConditionValue = &value
	case planStep.Duration > 0:
		value := planStep.Duration.Seconds()
		step.EndCondition = garmin.ConditionDTO{ConditionTypeID: garmin.ConditionIDTime, ConditionTypeKey: "time"}
		step.EndConditionValue = &value
	default:
		step.EndCondition = garmin.ConditionDTO{ConditionTypeID: garmin.ConditionIDLapButton, ConditionTypeKey: "lap.button"}
	}

	if planStep.ExerciseName != "" {
		step.Category = exerciseCategory(planStep.ExerciseName)
		step.ExerciseName = planStep.ExerciseName
	}
	if planStep.WeightGrams > 0 {
		// The platform expects kilograms with a gram conversion factor.
		weight := float64(planStep.WeightGrams) / 1000.0
		step.WeightValue = &weight
		step.WeightUnit = &garmin.WeightUnit{
			UnitID:  garmin.UnitIDKilogram,
			UnitKey: garmin.UnitKeyKilogram,
			Factor:  1000,
		}
	}

	return &step, nil
}

func restStep(d time.Duration) garmin.WorkoutStep {
	value := d.Seconds()
	return garmin.WorkoutStep{
		Type:              "ExecutableStepDTO",
		StepType:          garmin.StepTypeDTO{StepTypeID: garmin.StepTypeIDRest, StepTypeKey: "rest"},
		EndCondition:      garmin.ConditionDTO{ConditionTypeID: garmin.ConditionIDTime, ConditionTypeKey: "time"},
		EndConditionValue: &value,
		TargetType: garmin.TargetTypeDTO{
			WorkoutTargetTypeID:  garmin.TargetIDNoTarget,
			WorkoutTargetTypeKey: garmin.TargetKeyNoTarget,
		},
	}
}

// exerciseCategory derives the platform category from an exercise name
// such as "BARBELL_BENCH_PRESS". The convention is that the name's suffix
// identifies the movement family.
func exerciseCategory(name string) string {
	for _, category := range exerciseCategories {
		if strings.HasSuffix(name, category) || name == category {
			return category
		}
	}
	return name
}

var exerciseCategories = []string{
	"BENCH_PRESS",
	"SHOULDER_PRESS",
	"LEG_PRESS",
	"PUSH_UP",
	"PULL_UP",
	"ROW",
	"SQUAT",
	"DEADLIFT",
	"LUNGE",
	"CURL",
	"CRUNCH",
	"PLANK",
	"HIP_RAISE",
	"LATERAL_RAISE",
	"TRICEPS_EXTENSION",
	"FLYE",
}
