// OktaGuard - Identity Provider Account-Risk Scanner
// Copyright 2026 OktaGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oktaguard/oktaguard

// Package store provides durable persistence for OktaGuard: per-account
// detection state and the global scan cursor in BadgerDB, and the
// append-only alert log in DuckDB. In-memory implementations back unit
// tests that shouldn't touch disk.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oktaguard/oktaguard/internal/models"
)

var (
	// ErrAlertNotFound is returned when an alert ID does not exist.
	ErrAlertNotFound = errors.New("alert not found")

	// ErrDuplicateAlert is returned when an alert with the same dedupe
	// key has already been appended. Callers treat it as a no-op.
	ErrDuplicateAlert = errors.New("duplicate alert")

	// ErrCorrupted is returned when persisted state fails to load or
	// parse. A scan pass must abort on it rather than silently resetting
	// state to empty.
	ErrCorrupted = errors.New("state corrupted")
)

// AccountStateStore is the durable per-account state plus the single
// global scan cursor.
type AccountStateStore interface {
	// GetAccountState returns the state for an account. A never-seen
	// account yields a zero state with the email set, not an error.
	GetAccountState(ctx context.Context, email string) (models.AccountState, error)

	// PutAccountState persists the state, overwriting any previous value.
	PutAccountState(ctx context.Context, state models.AccountState) error

	// GetCursor returns the persisted scan cursor. ok is false when no
	// cursor has been written yet (first run).
	GetCursor(ctx context.Context) (cursor time.Time, ok bool, err error)

	// PutCursor persists the scan cursor. Cursors are monotonically
	// non-decreasing; callers never move one backwards.
	PutCursor(ctx context.Context, cursor time.Time) error
}

// AlertSink is the durable, append-only alert log.
type AlertSink interface {
	// Append persists a new alert. Returns ErrDuplicateAlert when an
	// alert with the same dedupe key already exists.
	Append(ctx context.Context, alert *models.Alert) error

	// Get retrieves an alert by ID, or ErrAlertNotFound.
	Get(ctx context.Context, id string) (*models.Alert, error)

	// List retrieves alerts matching the filter, most recent first.
	List(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error)

	// Count returns the number of alerts matching the filter.
	Count(ctx context.Context, filter models.AlertFilter) (int, error)
}

// AccountLocks serializes mutations to a single account's state. The scan
// loop is single-flight, so scans alone never contend; the locks exist for
// paths that bypass the scan, like manual remediation.
type AccountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewAccountLocks creates an empty lock table.
func NewAccountLocks() *AccountLocks {
	return &AccountLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the lock for an account and returns its unlock function.
func (a *AccountLocks) Lock(email string) func() {
	a.mu.Lock()
	l, ok := a.locks[email]
	if !ok {
		l = &sync.Mutex{}
		a.locks[email] = l
	}
	a.mu.Unlock()

	l.Lock()
	return l.Unlock
}
