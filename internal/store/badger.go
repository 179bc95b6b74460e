// OktaGuard - Identity Provider Account-Risk Scanner
// Copyright 2026 OktaGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oktaguard/oktaguard

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/oktaguard/oktaguard/internal/models"
)

// Key layout for BadgerDB storage.
const (
	accountKeyPrefix = "account:"
	cursorKey        = "cursor"
)

// BadgerStore implements AccountStateStore on BadgerDB. Every mutation is
// durable before the call returns; the scan coordinator relies on that for
// its crash-recovery ordering.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the state database at dir.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

// NewBadgerStore wraps an already-open BadgerDB handle.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// GetAccountState retrieves the state for an account. A missing record
// yields a fresh zero state; an unreadable record is ErrCorrupted.
func (s *BadgerStore) GetAccountState(ctx context.Context, email string) (models.AccountState, error) {
	state := models.AccountState{Email: email}

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(accountKeyPrefix + email))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get account state: %w", err)
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &state); err != nil {
				return fmt.Errorf("%w: account state for %s: %v", ErrCorrupted, email, err)
			}
			return nil
		})
	})
	if err != nil {
		return models.AccountState{}, err
	}
	return state, nil
}

// PutAccountState persists the state for state.Email.
func (s *BadgerStore) PutAccountState(ctx context.Context, state models.AccountState) error {
	if state.Email == "" {
		return errors.New("account state requires an email key")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal account state: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(accountKeyPrefix+state.Email), data)
	})
}

// GetCursor loads the persisted scan cursor.
func (s *BadgerStore) GetCursor(ctx context.Context) (time.Time, bool, error) {
	var cursor time.Time
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cursorKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get cursor: %w", err)
		}
		return item.Value(func(val []byte) error {
			t, err := time.Parse(time.RFC3339Nano, string(val))
			if err != nil {
				return fmt.Errorf("%w: cursor %q: %v", ErrCorrupted, string(val), err)
			}
			cursor = t
			found = true
			return nil
		})
	})
	if err != nil {
		return time.Time{}, false, err
	}
	return cursor, found, nil
}

// PutCursor persists the scan cursor.
func (s *BadgerStore) PutCursor(ctx context.Context, cursor time.Time) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(cursorKey), []byte(cursor.UTC().Format(time.RFC3339Nano)))
	})
}
