// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const syncWatermarkKey = "sync_watermark"

// GetValue reads one key from the kv area, or ErrNotFound.
func (s *Store) GetValue(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var value string
	err := s.conn.QueryRowContext(ctx,
		`SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, nil
}

// SetValue writes one key to the kv area.
func (s *Store) SetValue(ctx context.Context, key, value string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

// SyncWatermark returns the end of the last successfully synced window. A
// zero time means no sync has completed yet.
func (s *Store) SyncWatermark(ctx context.Context) (time.Time, error) {
	value, err := s.GetValue(ctx, syncWatermarkKey)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse sync watermark %q: %w", value, err)
	}
	return t, nil
}

// SetSyncWatermark advances the sync watermark. Written only after a fully
// successful cycle so a failed window is retried whole.
func (s *Store) SetSyncWatermark(ctx context.Context, t time.Time) error {
	return s.SetValue(ctx, syncWatermarkKey, t.UTC().Format(time.RFC3339))
}
