// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

package garmin

import (
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy for remote platform interaction. Callers branch with
// errors.Is; wrapped errors carry the request detail.
var (
	// ErrAuthRejected means the supplied credentials were refused.
	// Requires operator action, never retried automatically.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrChallengeRequired means the login handshake needs an interactive
	// MFA code before it can continue.
	ErrChallengeRequired = errors.New("mfa challenge required")

	// ErrReauthRequired means the refresh credential was rejected. The
	// session is dead; only a fresh login recovers.
	ErrReauthRequired = errors.New("reauthentication required")

	// ErrAuthExpired means the access credential was rejected on an API
	// call. The session manager refreshes and the call is retried once.
	ErrAuthExpired = errors.New("access credential expired")

	// ErrNetworkError wraps transport-level failures. Transient, retryable.
	ErrNetworkError = errors.New("network error")

	// ErrRemoteUnavailable means the platform answered 429/5xx or a call
	// timed out. Transient, retried with backoff.
	ErrRemoteUnavailable = errors.New("remote platform unavailable")

	// ErrProtocolError means the platform answered in an unexpected shape
	// or status. Non-retryable; surfaced to the operator.
	ErrProtocolError = errors.New("remote protocol error")

	// ErrMalformedResponse means one record in an otherwise valid response
	// could not be decoded. The record is skipped, the batch continues.
	ErrMalformedResponse = errors.New("malformed response record")
)

// classifyStatus maps an unexpected HTTP status to the error taxonomy.
func classifyStatus(status int, body []byte) error {
	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: HTTP 401", ErrAuthExpired)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", ErrRemoteUnavailable, status, body)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", ErrProtocolError, status, body)
	}
}

// IsTransient reports whether the error is worth retrying with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetworkError) || errors.Is(err, ErrRemoteUnavailable)
}
