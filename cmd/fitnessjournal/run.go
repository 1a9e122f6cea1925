// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CPlusPlus17/FitnessJournal/internal/logging"
	"github.com/CPlusPlus17/FitnessJournal/internal/metrics"
	"github.com/CPlusPlus17/FitnessJournal/internal/scheduler"
	"github.com/CPlusPlus17/FitnessJournal/internal/supervisor"
	"github.com/CPlusPlus17/FitnessJournal/internal/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon",
	Long: `Run the daemon: periodic telemetry and activity sync under a
supervision tree, with an optional Prometheus metrics listener.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		reader := telemetry.NewReader(a.remote)
		reader.SetCache(a.store)
		manager := scheduler.NewManager(a.store, reader, &a.cfg.Sync)

		tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
		tree.AddSyncService(manager)
		if a.cfg.Metrics.Enabled {
			metrics.SetAppInfo(version)
			tree.AddOpsService(metrics.NewServer(a.cfg.Metrics.ListenAddr))
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logging.Info().
			Str("session_state", a.sessions.State().String()).
			Bool("metrics", a.cfg.Metrics.Enabled).
			Msg("Starting daemon")

		err = tree.Root().Serve(ctx)
		if errors.Is(err, context.Canceled) {
			logging.Info().Msg("Daemon stopped")
			return nil
		}
		return err
	},
}
