// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/CPlusPlus17/FitnessJournal/internal/journal"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session, sync and publish state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()

		fmt.Printf("Session:        %s\n", a.sessions.State())
		if sess := a.sessions.Current(); sess != nil {
			fmt.Printf("  expires:      %s\n", sess.ExpiresAt.Local().Format(time.RFC3339))
		}

		mark, err := a.store.SyncWatermark(ctx)
		if err != nil {
			return err
		}
		if mark.IsZero() {
			fmt.Println("Sync watermark: never synced")
		} else {
			fmt.Printf("Sync watermark: %s\n", mark.Local().Format(time.RFC3339))
		}

		counts, err := a.store.TelemetryCount(ctx)
		if err != nil {
			return err
		}
		var total int64
		for _, n := range counts {
			total += n
		}
		fmt.Printf("Samples stored: %d across %d metrics\n", total, len(counts))

		rec, err := a.store.CurrentPublished(ctx)
		switch {
		case errors.Is(err, journal.ErrNotFound):
			fmt.Println("Published plan: none")
		case err != nil:
			return err
		default:
			fmt.Printf("Published plan: %s (%d workouts, %s)\n",
				rec.PlanID, len(rec.RemoteWorkoutIDs), rec.PublishedAt.Local().Format(time.RFC3339))
			if len(rec.StaleRemoteIDs) > 0 {
				fmt.Printf("  stale ids pending cleanup: %d\n", len(rec.StaleRemoteIDs))
			}

			today, err := a.store.WorkoutsForDate(ctx, time.Now())
			if err != nil {
				return err
			}
			if len(today) == 0 {
				fmt.Println("Today:          rest day")
			} else {
				for _, entry := range today {
					fmt.Printf("Today:          %s (%s)\n", entry.Title, entry.Sport)
				}
			}
		}

		return nil
	},
}
