// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

package vault

import (
	"path/filepath"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CPlusPlus17/FitnessJournal/internal/models"
)

const testSecret = "vault-test-secret-0123456789abcdef"

func openTestVault(t *testing.T) (*Vault, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vault")
	v, err := Open(path, testSecret)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v, path
}

func testSession() *models.Session {
	return &models.Session{
		AccessToken:           "at-1",
		RefreshToken:          "rt-1",
		ExpiresAt:             time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		RefreshTokenExpiresAt: time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second),
	}
}

func TestSessionRoundTrip(t *testing.T) {
	v, _ := openTestVault(t)

	sess := testSession()
	require.NoError(t, v.StoreSession(sess))

	loaded, err := v.LoadSession()
	require.NoError(t, err)
	assert.Equal(t, sess.AccessToken, loaded.AccessToken)
	assert.Equal(t, sess.RefreshToken, loaded.RefreshToken)
	assert.Equal(t, sess.ExpiresAt, loaded.ExpiresAt)
}

func TestLoadSessionEmpty(t *testing.T) {
	v, _ := openTestVault(t)

	_, err := v.LoadSession()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClearSessionRemovesBothRecords(t *testing.T) {
	v, _ := openTestVault(t)

	require.NoError(t, v.StoreSession(testSession()))
	require.NoError(t, v.StoreOAuth1(&OAuth1State{Token: "o1", TokenSecret: "s1"}))

	require.NoError(t, v.ClearSession())

	_, err := v.LoadSession()
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = v.LoadOAuth1()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClearSessionEmptyVault(t *testing.T) {
	v, _ := openTestVault(t)
	assert.NoError(t, v.ClearSession())
}

func TestOAuth1RoundTrip(t *testing.T) {
	v, _ := openTestVault(t)

	state := &OAuth1State{Token: "o1-token", TokenSecret: "o1-secret", MFAToken: "mfa-1"}
	require.NoError(t, v.StoreOAuth1(state))

	loaded, err := v.LoadOAuth1()
	require.NoError(t, err)
	assert.Equal(t, state, loaded)
}

func TestValuesEncryptedAtRest(t *testing.T) {
	v, path := openTestVault(t)

	require.NoError(t, v.StoreSession(testSession()))
	require.NoError(t, v.Close())

	// Read the raw record back without the encryptor.
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var raw []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("session"))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "at-1", "token must not appear in plaintext")
}

func TestWrongSecretFailsToDecrypt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault")

	v, err := Open(path, testSecret)
	require.NoError(t, err)
	require.NoError(t, v.StoreSession(testSession()))
	require.NoError(t, v.Close())

	v2, err := Open(path, "a-different-secret-9876543210zyxwv")
	require.NoError(t, err)
	defer func() { _ = v2.Close() }()

	_, err = v2.LoadSession()
	assert.Error(t, err)
}

func TestOpenRejectsEmptySecret(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "vault"), "")
	assert.Error(t, err)
}
