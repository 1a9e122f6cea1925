// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

// Package vault is the credential vault: durable, encrypted storage for
// the session token pair. It holds a single session record plus a small
// amount of handshake state and has no logic beyond load/save. Only the
// session manager reads or writes it.
package vault

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/CPlusPlus17/FitnessJournal/internal/config"
	"github.com/CPlusPlus17/FitnessJournal/internal/logging"
	"github.com/CPlusPlus17/FitnessJournal/internal/models"
)

// Storage keys. The vault is a single-record store; keys exist so that
// handshake state can live beside the session without a second store.
const (
	keySession = "session"
	keyOAuth1  = "oauth1"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("vault: record not found")

// Vault is a Badger-backed encrypted store for session credentials.
// All values are encrypted with AES-256-GCM before hitting disk.
type Vault struct {
	db        *badger.DB
	encryptor *config.CredentialEncryptor
}

// Open opens (or creates) the vault at the given path. The encryption
// secret must be stable across restarts or previously stored sessions
// become unreadable.
func Open(path, encryptionSecret string) (*Vault, error) {
	encryptor, err := config.NewCredentialEncryptor(encryptionSecret)
	if err != nil {
		return nil, fmt.Errorf("vault encryptor: %w", err)
	}
	if err := encryptor.ValidateEncryptionSetup(); err != nil {
		return nil, fmt.Errorf("vault encryption validation: %w", err)
	}

	opts := badger.DefaultOptions(path)
	opts.SyncWrites = true

	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}

	logging.Info().Str("path", path).Msg("credential vault opened")

	return &Vault{
		db:        db,
		encryptor: encryptor,
	}, nil
}

// Close closes the underlying store.
func (v *Vault) Close() error {
	return v.db.Close()
}

// StoreSession encrypts and durably persists the session. The write is
// synced before return; callers rely on this ordering to guarantee a
// crash after a refresh never resurrects the superseded token pair.
func (v *Vault) StoreSession(sess *models.Session) error {
	return v.store(keySession, sess)
}

// LoadSession returns the persisted session, or ErrNotFound when the
// vault is empty.
func (v *Vault) LoadSession() (*models.Session, error) {
	var sess models.Session
	if err := v.load(keySession, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// ClearSession removes the persisted session. Called when the session is
// declared dead so a stale token pair is never retried after restart.
func (v *Vault) ClearSession() error {
	return v.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(keySession)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Delete([]byte(keyOAuth1))
	})
}

// OAuth1State is the intermediate signing credential from the login
// handshake. It is kept because token refresh on this platform re-signs
// the exchange request with it.
type OAuth1State struct {
	Token       string `json:"token"`
	TokenSecret string `json:"token_secret"`
	MFAToken    string `json:"mfa_token,omitempty"`
}

// StoreOAuth1 persists the handshake signing state.
func (v *Vault) StoreOAuth1(state *OAuth1State) error {
	return v.store(keyOAuth1, state)
}

// LoadOAuth1 returns the persisted handshake signing state.
func (v *Vault) LoadOAuth1() (*OAuth1State, error) {
	var state OAuth1State
	if err := v.load(keyOAuth1, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (v *Vault) store(key string, value interface{}) error {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("vault marshal %s: %w", key, err)
	}

	ciphertext, err := v.encryptor.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("vault encrypt %s: %w", key, err)
	}

	err = v.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(ciphertext))
	})
	if err != nil {
		return fmt.Errorf("vault write %s: %w", key, err)
	}
	return nil
}

func (v *Vault) load(key string, out interface{}) error {
	var ciphertext []byte
	err := v.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		ciphertext, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("vault read %s: %w", key, err)
	}

	plaintext, err := v.encryptor.Decrypt(string(ciphertext))
	if err != nil {
		return fmt.Errorf("vault decrypt %s: %w", key, err)
	}

	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("vault unmarshal %s: %w", key, err)
	}
	return nil
}
