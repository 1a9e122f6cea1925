// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

// Package main is the FitnessJournal command line entry point.
//
// FitnessJournal keeps a local training journal in sync with Garmin
// Connect and publishes generated training plans back onto the watch
// calendar. The daemon (`fitnessjournal run`) periodically pulls
// telemetry (body battery, sleep, readiness, HRV, resting heart rate)
// and completed activities into an embedded DuckDB journal; the
// `publish` command pushes a plan's workouts with replace-on-regenerate
// semantics, never touching workouts the athlete created by hand.
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables (FJ_ prefix), a config file
// (--config or ./config.yaml), built-in defaults.
package main

import "os"

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
