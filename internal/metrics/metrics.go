// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

package metrics

import (
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for:
// - Journal query performance (DuckDB)
// - Telemetry sync operations
// - Session lifecycle
// - Workout publishing
// - Remote API circuit breaker

var (
	// Journal Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "journal_query_duration_seconds",
			Help:    "Duration of journal queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_query_errors_total",
			Help: "Total number of journal query errors",
		},
		[]string{"operation", "table", "error_type"},
	)

	// Sync Operation Metrics
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Duration of telemetry sync operations in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	SyncRecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_records_processed_total",
			Help: "Total number of telemetry records upserted during sync",
		},
		[]string{"metric_kind"},
	)

	SyncRecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_records_skipped_total",
			Help: "Total number of malformed telemetry records skipped",
		},
		[]string{"metric_kind"},
	)

	SyncErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_errors_total",
			Help: "Total number of sync errors",
		},
		[]string{"error_type"}, // "remote_api", "auth", "journal", "validation"
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of last successful sync",
		},
	)

	SyncConsecutiveFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_consecutive_failures",
			Help: "Current number of consecutive sync failures",
		},
	)

	// Session Metrics
	SessionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "session_state",
			Help: "Current session state (0=unauthenticated, 1=challenged, 2=valid, 3=refreshable, 4=dead)",
		},
	)

	SessionRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_refreshes_total",
			Help: "Total number of session refresh attempts",
		},
		[]string{"result"}, // "success", "failure", "reauth_required"
	)

	SessionExpirySeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "session_expiry_seconds",
			Help: "Seconds until the current access credential expires",
		},
	)

	// Publish Metrics
	PublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "publish_duration_seconds",
			Help:    "Duration of plan publish operations in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)

	PublishWorkouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_workouts_total",
			Help: "Total number of remote workout operations during publishing",
		},
		[]string{"operation"}, // "created", "deleted", "scheduled", "stale_retained"
	)

	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_errors_total",
			Help: "Total number of publish errors",
		},
		[]string{"error_type"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// SetAppInfo publishes the build version as a constant-value gauge.
func SetAppInfo(version string) {
	AppInfo.WithLabelValues(version, runtime.Version()).Set(1)
}

// RecordDBQuery records a journal query metric
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		errorType := err.Error()
		// Truncate long error messages
		if len(errorType) > 50 {
			errorType = errorType[:50]
		}
		DBQueryErrors.WithLabelValues(operation, table, errorType).Inc()
	}
}

// RecordSyncOperation records a sync cycle outcome
func RecordSyncOperation(duration time.Duration, err error) {
	SyncDuration.Observe(duration.Seconds())
	if err != nil {
		errorType := "other"
		errorMsg := err.Error()
		switch {
		case strings.Contains(errorMsg, "auth"):
			errorType = "auth"
		case strings.Contains(errorMsg, "remote"), strings.Contains(errorMsg, "network"):
			errorType = "remote_api"
		case strings.Contains(errorMsg, "journal"), strings.Contains(errorMsg, "database"):
			errorType = "journal"
		}
		SyncErrors.WithLabelValues(errorType).Inc()
	} else {
		SyncLastSuccess.Set(float64(time.Now().Unix()))
	}
}

// RecordSessionRefresh records a refresh attempt and its outcome
func RecordSessionRefresh(result string) {
	SessionRefreshes.WithLabelValues(result).Inc()
}

// RecordPublishOperation records a publish run outcome
func RecordPublishOperation(duration time.Duration, err error) {
	PublishDuration.Observe(duration.Seconds())
	if err != nil {
		errorType := "other"
		errorMsg := err.Error()
		switch {
		case strings.Contains(errorMsg, "auth"):
			errorType = "auth"
		case strings.Contains(errorMsg, "remote"), strings.Contains(errorMsg, "network"):
			errorType = "remote_api"
		case strings.Contains(errorMsg, "journal"), strings.Contains(errorMsg, "database"):
			errorType = "journal"
		}
		PublishErrors.WithLabelValues(errorType).Inc()
	}
}
