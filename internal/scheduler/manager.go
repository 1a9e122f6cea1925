// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

/*
Package scheduler drives periodic telemetry sync cycles.

Each cycle pulls the window between the stored sync watermark and now from
the remote platform, writes the results to the journal and only then
advances the watermark. A failed cycle leaves the watermark where it was,
so the whole window is retried on the next attempt.

Consecutive failures stretch the cadence: the delay doubles from the base
interval up to the configured maximum and snaps back to the base on the
first success.
*/
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/CPlusPlus17/FitnessJournal/internal/config"
	"github.com/CPlusPlus17/FitnessJournal/internal/journal"
	"github.com/CPlusPlus17/FitnessJournal/internal/logging"
	"github.com/CPlusPlus17/FitnessJournal/internal/metrics"
	"github.com/CPlusPlus17/FitnessJournal/internal/models"
	"github.com/CPlusPlus17/FitnessJournal/internal/telemetry"
)

const activityPageSize = 50

// CycleResult summarizes one completed sync cycle.
type CycleResult struct {
	WindowStart time.Time
	WindowEnd   time.Time
	Samples     int
	Activities  int
	Skipped     int
}

// Manager coordinates periodic sync operations.
type Manager struct {
	store  *journal.Store
	reader *telemetry.Reader
	cfg    *config.SyncConfig

	lastSync time.Time
	failures int
	running  bool
	mu       sync.RWMutex

	// syncMu serializes cycles so a manual trigger never overlaps the
	// periodic loop.
	syncMu sync.Mutex

	stopChan chan struct{}
	wg       sync.WaitGroup

	onCycleCompleted func(CycleResult, error)
}

// NewManager creates a sync manager.
func NewManager(store *journal.Store, reader *telemetry.Reader, cfg *config.SyncConfig) *Manager {
	return &Manager{
		store:    store,
		reader:   reader,
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}
}

// OnCycleCompleted registers a callback invoked after every cycle, success
// or failure. Must be called before Start.
func (m *Manager) OnCycleCompleted(fn func(CycleResult, error)) {
	m.onCycleCompleted = fn
}

// Start begins the periodic sync loop. An immediate cycle runs first.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("sync manager already running")
	}
	m.running = true
	m.mu.Unlock()

	logging.Info().
		Dur("interval", m.cfg.Interval).
		Dur("lookback", m.cfg.Lookback).
		Msg("Starting sync manager")

	m.wg.Add(1)
	go m.syncLoop(ctx)
	return nil
}

// Stop halts the sync loop and waits for an in-flight cycle to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopChan)
	m.wg.Wait()
	logging.Info().Msg("Sync manager stopped")
}

// Serve runs the manager as a supervised service until ctx is cancelled.
func (m *Manager) Serve(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	m.Stop()
	return ctx.Err()
}

func (m *Manager) String() string { return "sync-scheduler" }

// TriggerSync runs one cycle immediately, outside the periodic cadence.
func (m *Manager) TriggerSync(ctx context.Context) (CycleResult, error) {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()
	return m.syncCycle(ctx)
}

// LastSyncTime returns when the last successful cycle completed.
func (m *Manager) LastSyncTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSync
}

// ConsecutiveFailures returns the current failure streak length.
func (m *Manager) ConsecutiveFailures() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failures
}

func (m *Manager) syncLoop(ctx context.Context) {
	defer m.wg.Done()

	m.runCycle(ctx)

	timer := time.NewTimer(m.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-timer.C:
			m.runCycle(ctx)
			timer.Reset(m.nextDelay())
		}
	}
}

func (m *Manager) runCycle(ctx context.Context) {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	result, err := m.syncCycle(ctx)
	if m.onCycleCompleted != nil {
		m.onCycleCompleted(result, err)
	}
}

// nextDelay doubles the base interval per consecutive failure, capped at
// the configured maximum.
func (m *Manager) nextDelay() time.Duration {
	m.mu.RLock()
	failures := m.failures
	m.mu.RUnlock()

	delay := m.cfg.Interval
	maxBackoff := m.cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = delay
	}

	for i := 0; i < failures; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

func (m *Manager) syncCycle(ctx context.Context) (CycleResult, error) {
	start := time.Now()

	result, err := m.runSync(ctx)

	metrics.RecordSyncOperation(time.Since(start), err)

	m.mu.Lock()
	if err != nil {
		m.failures++
	} else {
		m.failures = 0
		m.lastSync = time.Now()
	}
	failures := m.failures
	m.mu.Unlock()

	metrics.SyncConsecutiveFailures.Set(float64(failures))

	switch {
	case err == nil:
		logging.Info().
			Int("samples", result.Samples).
			Int("activities", result.Activities).
			Int("skipped", result.Skipped).
			Time("window_end", result.WindowEnd).
			Dur("duration", time.Since(start)).
			Msg("Sync cycle completed")
	case failures >= m.cfg.FailureWarningThreshold:
		logging.Warn().Err(err).
			Int("consecutive_failures", failures).
			Dur("next_delay", m.nextDelay()).
			Msg("Sync cycle failed repeatedly")
	default:
		logging.Error().Err(err).
			Int("consecutive_failures", failures).
			Msg("Sync cycle failed")
	}

	return result, err
}

func (m *Manager) runSync(ctx context.Context) (CycleResult, error) {
	now := time.Now().UTC()

	watermark, err := m.store.SyncWatermark(ctx)
	if err != nil {
		return CycleResult{}, err
	}

	from := watermark
	if from.IsZero() {
		from = now.Add(-m.cfg.Lookback)
	}

	result := CycleResult{WindowStart: from, WindowEnd: now}

	batch, err := m.reader.FetchMetrics(ctx, from, now)
	if err != nil {
		return result, err
	}

	inserted, err := m.store.UpsertTelemetrySamples(ctx, batch.Samples)
	if err != nil {
		return result, err
	}
	result.Samples = inserted
	result.Skipped = batch.Skipped
	countByKind(batch.Samples)

	activities, err := m.reader.FetchActivities(ctx, from, activityPageSize)
	if err != nil {
		return result, err
	}

	insertedActs, err := m.store.UpsertActivities(ctx, activities)
	if err != nil {
		return result, err
	}
	result.Activities = insertedActs
	metrics.SyncRecordsProcessed.WithLabelValues("activity").Add(float64(insertedActs))

	// The watermark only moves after everything above landed, so a partial
	// cycle is retried whole.
	if err := m.store.SetSyncWatermark(ctx, now); err != nil {
		return result, err
	}

	return result, nil
}

func countByKind(samples []models.TelemetrySample) {
	byKind := make(map[models.MetricKind]int)
	for _, s := range samples {
		byKind[s.MetricKind]++
	}
	for kind, n := range byKind {
		metrics.SyncRecordsProcessed.WithLabelValues(string(kind)).Add(float64(n))
	}
}
