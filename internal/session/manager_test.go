// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CPlusPlus17/FitnessJournal/internal/config"
	"github.com/CPlusPlus17/FitnessJournal/internal/garmin"
	"github.com/CPlusPlus17/FitnessJournal/internal/models"
	"github.com/CPlusPlus17/FitnessJournal/internal/vault"
)

const testEncryptionSecret = "test-encryption-secret-0123456789"

func testSessionConfig() *config.SessionConfig {
	return &config.SessionConfig{
		RefreshMargin:     5 * time.Minute,
		RefreshRetryDelay: 10 * time.Millisecond,
	}
}

func openTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.Open(filepath.Join(t.TempDir(), "vault"), testEncryptionSecret)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func newTestAuthClient(t *testing.T, baseURL string) *garmin.AuthClient {
	t.Helper()
	auth, err := garmin.NewAuthClient(baseURL, baseURL, 5*time.Second)
	require.NoError(t, err)
	return auth
}

func exchangeResponse(accessToken string) string {
	return fmt.Sprintf(`{
		"scope": "CONNECT_READ CONNECT_WRITE",
		"token_type": "Bearer",
		"access_token": %q,
		"refresh_token": "refresh-opaque",
		"expires_in": 3600,
		"refresh_token_expires_in": 86400
	}`, accessToken)
}

func TestNewManagerRestoresPersistedSession(t *testing.T) {
	v := openTestVault(t)
	now := time.Now()
	require.NoError(t, v.StoreSession(&models.Session{
		AccessToken:           "stored-token",
		RefreshToken:          "stored-refresh",
		TokenType:             "Bearer",
		IssuedAt:              now,
		ExpiresAt:             now.Add(time.Hour),
		RefreshTokenExpiresAt: now.Add(24 * time.Hour),
	}))

	mgr, err := NewManager(newTestAuthClient(t, "http://127.0.0.1:0"), v, testSessionConfig())
	require.NoError(t, err)

	assert.Equal(t, models.SessionValid, mgr.State())

	token, err := mgr.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stored-token", token)
}

func TestNewManagerWithoutPersistedSession(t *testing.T) {
	v := openTestVault(t)

	mgr, err := NewManager(newTestAuthClient(t, "http://127.0.0.1:0"), v, testSessionConfig())
	require.NoError(t, err)

	assert.Equal(t, models.SessionUnauthenticated, mgr.State())

	_, err = mgr.AccessToken(context.Background())
	assert.ErrorIs(t, err, garmin.ErrReauthRequired)
}

func TestAccessTokenRefreshesExpiredSession(t *testing.T) {
	var exchanges atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth-service/oauth/exchange/user/2.0", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.Header.Get("Authorization"), "oauth_signature")
		exchanges.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, exchangeResponse("fresh-token"))
	}))
	defer srv.Close()

	v := openTestVault(t)
	now := time.Now()
	require.NoError(t, v.StoreSession(&models.Session{
		AccessToken:           "expired-token",
		RefreshToken:          "stored-refresh",
		IssuedAt:              now.Add(-2 * time.Hour),
		ExpiresAt:             now.Add(-time.Hour),
		RefreshTokenExpiresAt: now.Add(24 * time.Hour),
	}))
	require.NoError(t, v.StoreOAuth1(&vault.OAuth1State{
		Token:       "o1-token",
		TokenSecret: "o1-secret",
	}))

	mgr, err := NewManager(newTestAuthClient(t, srv.URL), v, testSessionConfig())
	require.NoError(t, err)
	assert.Equal(t, models.SessionRefreshable, mgr.State())

	token, err := mgr.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)
	assert.Equal(t, int32(1), exchanges.Load())

	// The refreshed session must already be in the vault.
	persisted, err := v.LoadSession()
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", persisted.AccessToken)

	// A second call reuses the fresh credential without another exchange.
	token, err = mgr.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)
	assert.Equal(t, int32(1), exchanges.Load())
}

func TestRefreshRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, exchangeResponse("after-retry"))
	}))
	defer srv.Close()

	v := openTestVault(t)
	now := time.Now()
	require.NoError(t, v.StoreSession(&models.Session{
		AccessToken:           "expired-token",
		RefreshToken:          "stored-refresh",
		ExpiresAt:             now.Add(-time.Minute),
		RefreshTokenExpiresAt: now.Add(24 * time.Hour),
	}))
	require.NoError(t, v.StoreOAuth1(&vault.OAuth1State{Token: "o1", TokenSecret: "s1"}))

	mgr, err := NewManager(newTestAuthClient(t, srv.URL), v, testSessionConfig())
	require.NoError(t, err)

	token, err := mgr.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "after-retry", token)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRefreshStopsAfterSingleRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	v := openTestVault(t)
	now := time.Now()
	require.NoError(t, v.StoreSession(&models.Session{
		AccessToken:           "expired-token",
		RefreshToken:          "stored-refresh",
		ExpiresAt:             now.Add(-time.Minute),
		RefreshTokenExpiresAt: now.Add(24 * time.Hour),
	}))
	require.NoError(t, v.StoreOAuth1(&vault.OAuth1State{Token: "o1", TokenSecret: "s1"}))

	mgr, err := NewManager(newTestAuthClient(t, srv.URL), v, testSessionConfig())
	require.NoError(t, err)

	_, err = mgr.AccessToken(context.Background())
	require.Error(t, err)
	// One attempt plus one automatic retry, never more.
	assert.Equal(t, int32(2), calls.Load())
}

func TestConcurrentAccessTokenAndForceRefresh(t *testing.T) {
	var exchanges atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := exchanges.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, exchangeResponse(fmt.Sprintf("token-%d", n)))
	}))
	defer srv.Close()

	v := openTestVault(t)
	now := time.Now()
	require.NoError(t, v.StoreSession(&models.Session{
		AccessToken:           "initial-token",
		RefreshToken:          "stored-refresh",
		ExpiresAt:             now.Add(time.Hour),
		RefreshTokenExpiresAt: now.Add(24 * time.Hour),
	}))
	require.NoError(t, v.StoreOAuth1(&vault.OAuth1State{Token: "o1", TokenSecret: "s1"}))

	mgr, err := NewManager(newTestAuthClient(t, srv.URL), v, testSessionConfig())
	require.NoError(t, err)

	// Readers and forced refreshes race; the race detector verifies the
	// session value is never read and written concurrently.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				token, err := mgr.AccessToken(context.Background())
				assert.NoError(t, err)
				assert.NotEmpty(t, token)
			}
		}()
	}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				assert.NoError(t, mgr.ForceRefresh(context.Background()))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, models.SessionValid, mgr.State())
}

func TestRefreshRejectionMarksSessionDead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	v := openTestVault(t)
	now := time.Now()
	require.NoError(t, v.StoreSession(&models.Session{
		AccessToken:           "expired-token",
		RefreshToken:          "stored-refresh",
		ExpiresAt:             now.Add(-time.Minute),
		RefreshTokenExpiresAt: now.Add(24 * time.Hour),
	}))
	require.NoError(t, v.StoreOAuth1(&vault.OAuth1State{Token: "o1", TokenSecret: "s1"}))

	var transitions []models.SessionState
	mgr, err := NewManager(newTestAuthClient(t, srv.URL), v, testSessionConfig())
	require.NoError(t, err)
	mgr.OnStateChange(func(from, to models.SessionState) {
		transitions = append(transitions, to)
	})

	_, err = mgr.AccessToken(context.Background())
	assert.ErrorIs(t, err, garmin.ErrReauthRequired)
	assert.Equal(t, models.SessionDead, mgr.State())
	assert.Contains(t, transitions, models.SessionDead)

	// Once dead, callers fail fast without touching the network.
	_, err = mgr.AccessToken(context.Background())
	assert.ErrorIs(t, err, garmin.ErrReauthRequired)

	// The rejected tokens are purged so a restart prompts a fresh login.
	_, err = v.LoadSession()
	assert.ErrorIs(t, err, vault.ErrNotFound)
}

func TestForceRefreshDiscardsCurrentCredential(t *testing.T) {
	var exchanges atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, exchangeResponse("forced-token"))
	}))
	defer srv.Close()

	v := openTestVault(t)
	now := time.Now()
	require.NoError(t, v.StoreSession(&models.Session{
		AccessToken:           "still-valid-token",
		RefreshToken:          "stored-refresh",
		ExpiresAt:             now.Add(time.Hour),
		RefreshTokenExpiresAt: now.Add(24 * time.Hour),
	}))
	require.NoError(t, v.StoreOAuth1(&vault.OAuth1State{Token: "o1", TokenSecret: "s1"}))

	mgr, err := NewManager(newTestAuthClient(t, srv.URL), v, testSessionConfig())
	require.NoError(t, err)

	require.NoError(t, mgr.ForceRefresh(context.Background()))
	assert.Equal(t, int32(1), exchanges.Load())

	token, err := mgr.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "forced-token", token)
}

func TestAuthenticateChallengeWithoutSolver(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sso/embed", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><title>Embed</title></html>`)
	})
	mux.HandleFunc("GET /sso/signin", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><title>Sign In</title><input name="_csrf" value="csrf-1"></html>`)
	})
	mux.HandleFunc("POST /sso/signin", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "csrf-1", r.PostForm.Get("_csrf"))
		fmt.Fprint(w, `<html><title>MFA Required</title><input name="_csrf" value="csrf-2"></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	v := openTestVault(t)
	mgr, err := NewManager(newTestAuthClient(t, srv.URL), v, testSessionConfig())
	require.NoError(t, err)

	creds := models.Credentials{Email: "user@example.com", Password: "hunter2"}
	err = mgr.Authenticate(context.Background(), creds, nil)
	assert.ErrorIs(t, err, garmin.ErrChallengeRequired)
	assert.Equal(t, models.SessionChallenged, mgr.State())
}

func TestAuthenticateFullFlowWithMFA(t *testing.T) {
	successPage := `<html><title>Success</title><a href="https://example.com/sso/embed?ticket=ST-77-abc"></a></html>`

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sso/embed", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><title>Embed</title></html>`)
	})
	mux.HandleFunc("GET /sso/signin", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><title>Sign In</title><input name="_csrf" value="csrf-1"></html>`)
	})
	mux.HandleFunc("POST /sso/signin", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><title>MFA Required</title><input name="_csrf" value="csrf-2"></html>`)
	})
	mux.HandleFunc("POST /sso/verifyMFA/loginEnterMfaCode", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "123456", r.PostForm.Get("mfa-code"))
		assert.Equal(t, "csrf-2", r.PostForm.Get("_csrf"))
		fmt.Fprint(w, successPage)
	})
	mux.HandleFunc("GET /oauth-service/oauth/preauthorized", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ST-77-abc", r.URL.Query().Get("ticket"))
		assert.Contains(t, r.Header.Get("Authorization"), "oauth_signature")
		fmt.Fprint(w, "oauth_token=o1-token&oauth_token_secret=o1-secret&mfa_token=mfa-xyz")
	})
	mux.HandleFunc("POST /oauth-service/oauth/exchange/user/2.0", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "mfa-xyz", r.PostForm.Get("mfa_token"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, exchangeResponse("first-access-token"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	v := openTestVault(t)
	mgr, err := NewManager(newTestAuthClient(t, srv.URL), v, testSessionConfig())
	require.NoError(t, err)

	solver := func(ctx context.Context) (string, error) { return "123456", nil }
	creds := models.Credentials{Email: "user@example.com", Password: "hunter2"}
	require.NoError(t, mgr.Authenticate(context.Background(), creds, solver))

	assert.Equal(t, models.SessionValid, mgr.State())

	token, err := mgr.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first-access-token", token)

	// Both the session and the signing credential must be persisted.
	persisted, err := v.LoadSession()
	require.NoError(t, err)
	assert.Equal(t, "first-access-token", persisted.AccessToken)

	o1, err := v.LoadOAuth1()
	require.NoError(t, err)
	assert.Equal(t, "o1-token", o1.Token)
	assert.Equal(t, "mfa-xyz", o1.MFAToken)
}

func TestAuthenticateRejectedCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sso/embed", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><title>Embed</title></html>`)
	})
	mux.HandleFunc("GET /sso/signin", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><title>Sign In</title><input name="_csrf" value="csrf-1"></html>`)
	})
	mux.HandleFunc("POST /sso/signin", func(w http.ResponseWriter, r *http.Request) {
		// Re-rendered signin page means the credentials were refused.
		fmt.Fprint(w, `<html><title>Sign In</title><input name="_csrf" value="csrf-1"></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	v := openTestVault(t)
	mgr, err := NewManager(newTestAuthClient(t, srv.URL), v, testSessionConfig())
	require.NoError(t, err)

	creds := models.Credentials{Email: "user@example.com", Password: "wrong"}
	err = mgr.Authenticate(context.Background(), creds, nil)
	assert.ErrorIs(t, err, garmin.ErrAuthRejected)
	assert.Equal(t, models.SessionUnauthenticated, mgr.State())
}

func TestLogoutClearsSession(t *testing.T) {
	v := openTestVault(t)
	now := time.Now()
	require.NoError(t, v.StoreSession(&models.Session{
		AccessToken: "stored-token",
		ExpiresAt:   now.Add(time.Hour),
	}))

	mgr, err := NewManager(newTestAuthClient(t, "http://127.0.0.1:0"), v, testSessionConfig())
	require.NoError(t, err)
	require.Equal(t, models.SessionValid, mgr.State())

	require.NoError(t, mgr.Logout())
	assert.Equal(t, models.SessionUnauthenticated, mgr.State())

	_, err = v.LoadSession()
	assert.ErrorIs(t, err, vault.ErrNotFound)
}
