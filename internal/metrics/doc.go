// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

// Package metrics provides Prometheus instrumentation for the daemon.
//
// Metric families cover the journal store (query durations and errors),
// telemetry sync cycles, session lifecycle, workout publishing and the
// remote API circuit breaker. All collectors are registered at package
// init through promauto; the optional /metrics listener is started by
// the supervisor when enabled in configuration.
//
// Label cardinality is kept deliberately small: error types are coarse
// categories and query labels name operation and table only.
package metrics
