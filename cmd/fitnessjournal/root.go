// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CPlusPlus17/FitnessJournal/internal/config"
	"github.com/CPlusPlus17/FitnessJournal/internal/garmin"
	"github.com/CPlusPlus17/FitnessJournal/internal/journal"
	"github.com/CPlusPlus17/FitnessJournal/internal/logging"
	"github.com/CPlusPlus17/FitnessJournal/internal/session"
	"github.com/CPlusPlus17/FitnessJournal/internal/vault"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "fitnessjournal",
	Short: "Garmin Connect training sync and workout publishing",
	Long: `FitnessJournal syncs telemetry and activities from Garmin Connect
into a local journal and publishes generated training plans back onto
the calendar.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}


// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		logging.Error().Err(err).Msg("Command failed")
	}
	return err
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(statusCmd)
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	return cfg, nil
}

// app bundles the long-lived components the subcommands share.
type app struct {
	cfg      *config.Config
	vault    *vault.Vault
	store    *journal.Store
	sessions *session.Manager
	remote   *garmin.CircuitBreakerClient
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	v, err := vault.Open(cfg.Vault.Path, cfg.Vault.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential vault: %w", err)
	}

	auth, err := garmin.NewAuthClient(cfg.Garmin.SSOBaseURL, cfg.Garmin.APIBaseURL, cfg.Garmin.Timeout)
	if err != nil {
		_ = v.Close()
		return nil, err
	}

	sessions, err := session.NewManager(auth, v, &cfg.Session)
	if err != nil {
		_ = v.Close()
		return nil, err
	}

	store, err := journal.Open(&cfg.Database)
	if err != nil {
		_ = v.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		vault:    v,
		store:    store,
		sessions: sessions,
		remote:   garmin.NewCircuitBreakerClient(&cfg.Garmin, sessions),
	}, nil
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close journal store")
		}
	}
	if a.vault != nil {
		if err := a.vault.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close vault")
		}
	}
}
