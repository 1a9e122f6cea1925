// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

// Package models defines the domain types shared across the application:
// sessions, telemetry samples, activities, plans and publish records.
package models

import "time"

// SessionState describes where a session is in its lifecycle.
type SessionState int

const (
	// SessionUnauthenticated means no session exists yet.
	SessionUnauthenticated SessionState = iota

	// SessionChallenged means the login handshake is paused waiting for an
	// interactive MFA code.
	SessionChallenged

	// SessionValid means the access credential is usable.
	SessionValid

	// SessionRefreshable means the access credential has expired but the
	// refresh credential is still expected to work.
	SessionRefreshable

	// SessionDead means the refresh credential itself was rejected. Only a
	// fresh authentication can leave this state.
	SessionDead
)

// String returns the lowercase state name.
func (s SessionState) String() string {
	switch s {
	case SessionUnauthenticated:
		return "unauthenticated"
	case SessionChallenged:
		return "challenged"
	case SessionValid:
		return "valid"
	case SessionRefreshable:
		return "refreshable"
	case SessionDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Session holds the token pair issued by the remote platform. It is owned
// by the session manager and persisted, encrypted, in the vault. Other
// components only ever see the opaque bearer credential.
type Session struct {
	AccessToken           string    `json:"access_token"`
	RefreshToken          string    `json:"refresh_token"`
	TokenType             string    `json:"token_type"`
	Scope                 string    `json:"scope"`
	IssuedAt              time.Time `json:"issued_at"`
	ExpiresAt             time.Time `json:"expires_at"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
}

// StateAt classifies the session at the given instant. A session within
// margin of its expiry counts as refreshable so that refresh happens
// proactively, never in reaction to a rejected call.
func (s *Session) StateAt(now time.Time, margin time.Duration) SessionState {
	if s == nil || s.AccessToken == "" {
		return SessionUnauthenticated
	}
	if now.Before(s.ExpiresAt.Add(-margin)) {
		return SessionValid
	}
	if s.RefreshToken != "" && (s.RefreshTokenExpiresAt.IsZero() || now.Before(s.RefreshTokenExpiresAt)) {
		return SessionRefreshable
	}
	return SessionDead
}

// Credentials are the operator-supplied login inputs. They are used once
// during authentication and never persisted.
type Credentials struct {
	Email    string
	Password string
}
