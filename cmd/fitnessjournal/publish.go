// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

package main

import (
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/CPlusPlus17/FitnessJournal/internal/models"
	"github.com/CPlusPlus17/FitnessJournal/internal/publish"
)

var planFile string

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a generated plan to the remote calendar",
	Long: `Publish a plan: create its workouts remotely, schedule them onto
their dates and delete the previously published plan's workouts. Only
marker-tagged workouts are ever deleted.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		plan, err := loadPlan(planFile)
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		publisher := publish.NewPublisher(a.remote, a.store, &a.cfg.Publish)
		rec, err := publisher.Publish(cmd.Context(), plan)
		if err != nil {
			return err
		}

		fmt.Printf("Published plan %s: %d workouts created, %d stale ids retained\n",
			rec.PlanID, len(rec.RemoteWorkoutIDs), len(rec.StaleRemoteIDs))
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Retry deletion of retained stale remote workouts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		publisher := publish.NewPublisher(a.remote, a.store, &a.cfg.Publish)
		remaining, err := publisher.CleanupStale(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Cleanup done, %d stale ids still undeletable\n", remaining)
		return nil
	},
}

func init() {
	publishCmd.Flags().StringVar(&planFile, "plan", "", "path to plan JSON file")
	_ = publishCmd.MarkFlagRequired("plan")
}

func loadPlan(path string) (*models.GeneratedPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	var plan models.GeneratedPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan file %s: %w", path, err)
	}

	if plan.PlanID == "" {
		plan.PlanID = uuid.NewString()
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}
	return &plan, nil
}
