// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CPlusPlus17/FitnessJournal/internal/models"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against Garmin Connect and store the session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		reader := bufio.NewReader(os.Stdin)

		email, err := prompt(reader, "Email: ")
		if err != nil {
			return err
		}
		password, err := prompt(reader, "Password: ")
		if err != nil {
			return err
		}

		solver := func(context.Context) (string, error) {
			return prompt(reader, "MFA code: ")
		}

		creds := models.Credentials{Email: email, Password: password}
		if err := a.sessions.Authenticate(cmd.Context(), creds, solver); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		fmt.Println("Login successful, session stored.")
		return nil
	},
}

func prompt(reader *bufio.Reader, label string) (string, error) {
	fmt.Print(label)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
