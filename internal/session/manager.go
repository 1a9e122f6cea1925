// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

/*
Package session owns the remote platform session lifecycle.

The Manager is the only component that touches raw credentials. It runs
the multi-step login handshake (including the optional MFA pause),
persists the resulting token pair encrypted in the vault, and hands out
the bearer credential to API callers through the TokenSource contract.

State machine:

	unauthenticated -> challenged -> valid -> refreshable -> valid ...
	                                              |
	                                              v
	                                            dead

A session within the configured margin of expiry is treated as
refreshable so refresh happens proactively. Refreshes are serialized:
concurrent callers needing a fresh credential block on the single
in-flight refresh and all observe its outcome. The vault write always
completes before the refreshed credential is returned to any caller, so
a crash can never lose a token pair that a caller already used.
*/
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/CPlusPlus17/FitnessJournal/internal/config"
	"github.com/CPlusPlus17/FitnessJournal/internal/garmin"
	"github.com/CPlusPlus17/FitnessJournal/internal/logging"
	"github.com/CPlusPlus17/FitnessJournal/internal/metrics"
	"github.com/CPlusPlus17/FitnessJournal/internal/models"
	"github.com/CPlusPlus17/FitnessJournal/internal/vault"
)

// MFASolver supplies the one-time code when the login handshake pauses
// on a multi-factor challenge. Typically an interactive prompt.
type MFASolver func(ctx context.Context) (string, error)

// StateChangeFunc observes session state transitions.
type StateChangeFunc func(from, to models.SessionState)

// Manager drives authentication and refresh. Implements garmin.TokenSource.
//
// Thread Safety: safe for concurrent use.
type Manager struct {
	auth       *garmin.AuthClient
	vault      *vault.Vault
	margin     time.Duration
	retryDelay time.Duration

	mu      sync.RWMutex
	session *models.Session
	state   models.SessionState

	// refreshMu serializes the refresh path. Held across the network
	// exchange and the vault write.
	refreshMu sync.Mutex

	onStateChange StateChangeFunc
}

// NewManager creates a session manager, restoring any persisted session
// from the vault. A restored session is classified immediately so a
// process restart inside the validity window needs no network call.
func NewManager(auth *garmin.AuthClient, v *vault.Vault, cfg *config.SessionConfig) (*Manager, error) {
	m := &Manager{
		auth:       auth,
		vault:      v,
		margin:     cfg.RefreshMargin,
		retryDelay: cfg.RefreshRetryDelay,
		state:      models.SessionUnauthenticated,
	}

	sess, err := v.LoadSession()
	switch {
	case err == nil:
		m.session = sess
		m.state = sess.StateAt(time.Now(), m.margin)
		logging.Info().
			Str("state", m.state.String()).
			Time("expires_at", sess.ExpiresAt).
			Msg("Restored persisted session")
	case errors.Is(err, vault.ErrNotFound):
		logging.Debug().Msg("No persisted session found")
	default:
		return nil, fmt.Errorf("restoring session: %w", err)
	}

	metrics.SessionState.Set(float64(m.state))
	return m, nil
}

// OnStateChange registers a transition observer. Must be called before
// the manager is shared across goroutines.
func (m *Manager) OnStateChange(fn StateChangeFunc) {
	m.onStateChange = fn
}

// State returns the current lifecycle state.
func (m *Manager) State() models.SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return m.state
	}
	return m.session.StateAt(time.Now(), m.margin)
}

// Current returns a copy of the stored session, or nil when none exists.
func (m *Manager) Current() *models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil
	}
	copied := *m.session
	return &copied
}

// Authenticate runs the full login handshake with fresh credentials.
// When the platform answers with an MFA challenge the solver is invoked
// for the one-time code; a nil solver fails with ErrChallengeRequired.
// On success the OAuth1 signing state and the session are persisted
// before the method returns.
func (m *Manager) Authenticate(ctx context.Context, creds models.Credentials, solver MFASolver) error {
	result, err := m.auth.Login(ctx, creds.Email, creds.Password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	ticket := result.Ticket
	if result.Challenge != nil {
		m.setState(models.SessionChallenged)
		if solver == nil {
			return garmin.ErrChallengeRequired
		}

		code, err := solver(ctx)
		if err != nil {
			m.setState(models.SessionUnauthenticated)
			return fmt.Errorf("solving MFA challenge: %w", err)
		}

		ticket, err = m.auth.ResolveMFA(ctx, result.Challenge, code)
		if err != nil {
			m.setState(models.SessionUnauthenticated)
			return fmt.Errorf("resolving MFA challenge: %w", err)
		}
	}

	o1, err := m.auth.FetchOAuth1Token(ctx, ticket)
	if err != nil {
		return fmt.Errorf("fetching signing credential: %w", err)
	}
	if err := m.vault.StoreOAuth1(&vault.OAuth1State{
		Token:       o1.Token,
		TokenSecret: o1.TokenSecret,
		MFAToken:    o1.MFAToken,
	}); err != nil {
		return fmt.Errorf("persisting signing credential: %w", err)
	}

	o2, err := m.auth.ExchangeOAuth2Token(ctx, o1)
	if err != nil {
		return fmt.Errorf("token exchange: %w", err)
	}

	sess := sessionFromToken(o2)
	if err := m.vault.StoreSession(sess); err != nil {
		return fmt.Errorf("persisting session: %w", err)
	}

	m.mu.Lock()
	m.session = sess
	m.mu.Unlock()
	m.setState(models.SessionValid)

	logging.Info().Time("expires_at", sess.ExpiresAt).Msg("Authenticated")
	return nil
}

// AccessToken returns a usable bearer credential, refreshing first when
// the stored one is expired or inside the refresh margin. Implements
// garmin.TokenSource.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	// The state check and the token read share one critical section; the
	// session pointer itself is never dereferenced outside a lock.
	m.mu.RLock()
	state := m.session.StateAt(time.Now(), m.margin)
	var token string
	if m.session != nil {
		token = m.session.AccessToken
	}
	m.mu.RUnlock()

	switch state {
	case models.SessionValid:
		return token, nil
	case models.SessionRefreshable:
		if err := m.refresh(ctx); err != nil {
			return "", err
		}
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.session.AccessToken, nil
	case models.SessionDead:
		return "", garmin.ErrReauthRequired
	default:
		return "", fmt.Errorf("%w: no session", garmin.ErrReauthRequired)
	}
}

// ForceRefresh discards the current access credential and refreshes
// immediately. Called by the API client after an unexpected 401.
// Implements garmin.TokenSource.
func (m *Manager) ForceRefresh(ctx context.Context) error {
	m.mu.Lock()
	if m.session != nil {
		// Swap in an expired copy rather than mutating in place; readers
		// hold their own snapshot of the previous session. The expired
		// copy keeps the serialized refresh path from short-circuiting on
		// an apparently valid session.
		expired := *m.session
		expired.ExpiresAt = time.Now()
		m.session = &expired
	}
	m.mu.Unlock()
	return m.refresh(ctx)
}

// refresh performs one serialized refresh. The caller that acquires the
// lock does the work; later callers observe the refreshed session and
// return without a second network exchange.
func (m *Manager) refresh(ctx context.Context) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	m.mu.RLock()
	state := m.session.StateAt(time.Now(), m.margin)
	m.mu.RUnlock()

	switch state {
	case models.SessionValid:
		return nil
	case models.SessionDead:
		return garmin.ErrReauthRequired
	case models.SessionUnauthenticated:
		return fmt.Errorf("%w: no session", garmin.ErrReauthRequired)
	}

	o1State, err := m.vault.LoadOAuth1()
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			m.markDead()
			return fmt.Errorf("%w: signing credential missing", garmin.ErrReauthRequired)
		}
		return fmt.Errorf("loading signing credential: %w", err)
	}
	o1 := &garmin.OAuth1Token{
		Token:       o1State.Token,
		TokenSecret: o1State.TokenSecret,
		MFAToken:    o1State.MFAToken,
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.retryDelay

	o2, err := backoff.Retry(ctx, func() (*garmin.OAuth2Token, error) {
		tok, err := m.auth.ExchangeOAuth2Token(ctx, o1)
		if err != nil {
			if errors.Is(err, garmin.ErrReauthRequired) {
				return nil, backoff.Permanent(err)
			}
			logging.Warn().Err(err).Msg("Token exchange failed, retrying")
			return nil, err
		}
		return tok, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(2))
	if err != nil {
		if errors.Is(err, garmin.ErrReauthRequired) {
			metrics.RecordSessionRefresh("reauth_required")
			m.markDead()
			return garmin.ErrReauthRequired
		}
		metrics.RecordSessionRefresh("failure")
		return fmt.Errorf("refreshing session: %w", err)
	}

	refreshed := sessionFromToken(o2)
	if err := m.vault.StoreSession(refreshed); err != nil {
		metrics.RecordSessionRefresh("failure")
		return fmt.Errorf("persisting refreshed session: %w", err)
	}

	m.mu.Lock()
	m.session = refreshed
	m.mu.Unlock()
	m.setState(models.SessionValid)
	metrics.RecordSessionRefresh("success")
	metrics.SessionExpirySeconds.Set(time.Until(refreshed.ExpiresAt).Seconds())

	logging.Info().Time("expires_at", refreshed.ExpiresAt).Msg("Session refreshed")
	return nil
}

// Logout clears the persisted session and signing state.
func (m *Manager) Logout() error {
	if err := m.vault.ClearSession(); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
	m.setState(models.SessionUnauthenticated)
	return nil
}

func (m *Manager) markDead() {
	m.mu.Lock()
	if m.session != nil {
		dead := *m.session
		dead.RefreshToken = ""
		dead.RefreshTokenExpiresAt = time.Time{}
		m.session = &dead
	}
	m.mu.Unlock()

	// A dead session is useless for recovery; drop the stored copy so a
	// restart prompts reauthentication instead of replaying rejected tokens.
	if err := m.vault.ClearSession(); err != nil {
		logging.Warn().Err(err).Msg("Failed to clear dead session from vault")
	}
	m.setState(models.SessionDead)
}

func (m *Manager) setState(to models.SessionState) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.mu.Unlock()

	metrics.SessionState.Set(float64(to))
	if from != to && m.onStateChange != nil {
		m.onStateChange(from, to)
	}
}

// sessionFromToken converts an exchange response into the persisted
// session form. When the access credential is a JWT carrying an exp
// claim, the earlier of the claimed and the computed expiry wins.
func sessionFromToken(tok *garmin.OAuth2Token) *models.Session {
	sess := &models.Session{
		AccessToken:           tok.AccessToken,
		RefreshToken:          tok.RefreshToken,
		TokenType:             tok.TokenType,
		Scope:                 tok.Scope,
		IssuedAt:              tok.IssuedAt,
		ExpiresAt:             tok.ExpiresAt,
		RefreshTokenExpiresAt: tok.RefreshTokenExpiresAt,
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			if exp.Time.Before(sess.ExpiresAt) {
				sess.ExpiresAt = exp.Time
			}
		}
	}

	return sess
}
