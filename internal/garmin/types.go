// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

// Remote API response and payload shapes. Only the fields the application
// consumes are modeled; everything else passes through untouched.
package garmin

// ActivitySummary is one row from the activity search endpoint.
type ActivitySummary struct {
	ActivityID     int64        `json:"activityId"`
	ActivityName   string       `json:"activityName"`
	StartTimeLocal string       `json:"startTimeLocal"`
	Duration       float64      `json:"duration"`
	Distance       float64      `json:"distance"`
	ActivityType   ActivityType `json:"activityType"`
}

// ActivityType carries the sport key of an activity.
type ActivityType struct {
	TypeKey string `json:"typeKey"`
}

// ExerciseSetsResponse wraps the per-activity strength set detail.
type ExerciseSetsResponse struct {
	ExerciseSets []RemoteExerciseSet `json:"exerciseSets"`
}

// RemoteExerciseSet is one set within a strength activity. Weight is in
// grams on the wire.
type RemoteExerciseSet struct {
	SetType         string           `json:"setType"`
	RepetitionCount *int             `json:"repetitionCount"`
	Weight          *float64         `json:"weight"`
	Duration        *float64         `json:"duration"`
	Exercises       []RemoteExercise `json:"exercises"`
}

// RemoteExercise names the movement performed in a set.
type RemoteExercise struct {
	Category string `json:"category"`
	Name     string `json:"name"`
}

// DailySleepResponse wraps the daily sleep score.
type DailySleepResponse struct {
	DailySleepDTO struct {
		CalendarDate string `json:"calendarDate"`
		SleepScores  *struct {
			Overall *struct {
				Value *float64 `json:"value"`
			} `json:"overall"`
		} `json:"sleepScores"`
	} `json:"dailySleepDTO"`
}

// BodyBatteryReport is one day from the body battery report endpoint.
// Each row of BodyBatteryValuesArray is [timestamp_ms, level, ...].
type BodyBatteryReport struct {
	Date                   string      `json:"date"`
	Charged                int         `json:"charged"`
	Drained                int         `json:"drained"`
	BodyBatteryValuesArray [][]float64 `json:"bodyBatteryValuesArray"`
}

// TrainingReadinessEntry is one row from the readiness endpoint, which
// answers with an array per day.
type TrainingReadinessEntry struct {
	CalendarDate string   `json:"calendarDate"`
	Score        *float64 `json:"score"`
	AcuteLoad    *float64 `json:"acuteLoad"`
}

// HRVResponse wraps the nightly heart rate variability summary.
type HRVResponse struct {
	HRVSummary *struct {
		CalendarDate string   `json:"calendarDate"`
		Status       string   `json:"status"`
		WeeklyAvg    *float64 `json:"weeklyAvg"`
		LastNightAvg *float64 `json:"lastNightAvg"`
	} `json:"hrvSummary"`
}

// WellnessMetricValue is one day's value from the wellness daily stats
// endpoint (resting heart rate uses metricId 60).
type WellnessMetricValue struct {
	CalendarDate string `json:"calendarDate"`
	Values       *struct {
		RestingHR *float64 `json:"restingHR"`
	} `json:"values"`
	Value *float64 `json:"value"`
}

// RestingHeartRateResponse covers both shapes the wellness endpoint is
// known to answer with: a bare array, or a metricsMap wrapper.
type RestingHeartRateResponse struct {
	AllMetrics *struct {
		MetricsMap map[string][]WellnessMetricValue `json:"metricsMap"`
	} `json:"allMetrics"`
}

// SocialProfile identifies the account; DisplayName keys the wellness
// endpoints.
type SocialProfile struct {
	DisplayName string `json:"displayName"`
	FullName    string `json:"fullName"`
}

// WorkoutSummary is one row from the workout list endpoint.
type WorkoutSummary struct {
	WorkoutID   int64  `json:"workoutId"`
	WorkoutName string `json:"workoutName"`
}

// CreatedWorkout is the creation endpoint's response; only the assigned
// id is consumed.
type CreatedWorkout struct {
	WorkoutID int64 `json:"workoutId"`
}

// Workout payload DTOs for the creation endpoint. Ids and keys are the
// platform's fixed vocabulary for strength workouts.

const (
	SportTypeIDStrength  = 5
	SportTypeKeyStrength = "strength_training"

	StepTypeIDWarmup   = 1
	StepTypeIDCooldown = 2
	StepTypeIDInterval = 3
	StepTypeIDRest     = 5

	ConditionIDLapButton = 1
	ConditionIDTime      = 2
	ConditionIDReps      = 10

	TargetIDNoTarget  = 1
	TargetKeyNoTarget = "no.target"

	UnitIDKilogram  = 8
	UnitKeyKilogram = "kilogram"
)

// WorkoutPayload is the creation request body.
type WorkoutPayload struct {
	WorkoutName     string           `json:"workoutName"`
	Description     string           `json:"description,omitempty"`
	SportType       SportTypeDTO     `json:"sportType"`
	WorkoutSegments []WorkoutSegment `json:"workoutSegments"`
}

// SportTypeDTO pairs the sport id with its key.
type SportTypeDTO struct {
	SportTypeID  int    `json:"sportTypeId"`
	SportTypeKey string `json:"sportTypeKey"`
}

// WorkoutSegment groups the executable steps of one sport block.
type WorkoutSegment struct {
	SegmentOrder int           `json:"segmentOrder"`
	SportType    SportTypeDTO  `json:"sportType"`
	WorkoutSteps []WorkoutStep `json:"workoutSteps"`
}

// WorkoutStep is one ExecutableStepDTO in the creation payload.
type WorkoutStep struct {
	Type              string        `json:"type"`
	StepOrder         int           `json:"stepOrder"`
	StepType          StepTypeDTO   `json:"stepType"`
	ChildStepID       *int          `json:"childStepId"`
	Description       string        `json:"description,omitempty"`
	EndCondition      ConditionDTO  `json:"endCondition"`
	EndConditionValue *float64      `json:"endConditionValue"`
	TargetType        TargetTypeDTO `json:"targetType"`
	Category          string        `json:"category,omitempty"`
	ExerciseName      string        `json:"exerciseName,omitempty"`
	WeightValue       *float64      `json:"weightValue,omitempty"`
	WeightUnit        *WeightUnit   `json:"weightUnit,omitempty"`
}

// StepTypeDTO pairs a step type id with its key.
type StepTypeDTO struct {
	StepTypeID  int    `json:"stepTypeId"`
	StepTypeKey string `json:"stepTypeKey"`
}

// ConditionDTO names how a step ends.
type ConditionDTO struct {
	ConditionTypeID  int    `json:"conditionTypeId"`
	ConditionTypeKey string `json:"conditionTypeKey"`
}

// TargetTypeDTO names the step's training target.
type TargetTypeDTO struct {
	WorkoutTargetTypeID  int    `json:"workoutTargetTypeId"`
	WorkoutTargetTypeKey string `json:"workoutTargetTypeKey"`
}

// WeightUnit carries the platform's kilogram unit descriptor.
type WeightUnit struct {
	UnitID  int     `json:"unitId"`
	UnitKey string  `json:"unitKey"`
	Factor  float64 `json:"factor"`
}
