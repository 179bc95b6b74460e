// OktaGuard - Identity Provider Account-Risk Scanner
// Copyright 2026 OktaGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oktaguard/oktaguard

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oktaguard/oktaguard/internal/models"
)

// MemoryStore is an in-memory AccountStateStore and AlertSink used in
// tests and as a fallback when no persistent paths are configured.
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]models.AccountState
	alerts    []models.Alert
	dedupe    map[string]struct{}
	cursor    time.Time
	hasCursor bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]models.AccountState),
		dedupe:   make(map[string]struct{}),
	}
}

func (m *MemoryStore) GetAccountState(_ context.Context, email string) (models.AccountState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.accounts[email]
	if !ok {
		return models.AccountState{Email: email}, nil
	}
	return state.Clone(), nil
}

func (m *MemoryStore) PutAccountState(_ context.Context, state models.AccountState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.accounts[state.Email] = state.Clone()
	return nil
}

func (m *MemoryStore) GetCursor(_ context.Context) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.cursor, m.hasCursor, nil
}

func (m *MemoryStore) PutCursor(_ context.Context, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cursor = ts
	m.hasCursor = true
	return nil
}

func (m *MemoryStore) Append(_ context.Context, alert *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, seen := m.dedupe[alert.DedupeKey]; seen {
		return ErrDuplicateAlert
	}
	m.dedupe[alert.DedupeKey] = struct{}{}
	m.alerts = append(m.alerts, *alert)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.alerts {
		if m.alerts[i].ID == id {
			alert := m.alerts[i]
			return &alert, nil
		}
	}
	return nil, ErrAlertNotFound
}

func (m *MemoryStore) List(_ context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := m.filtered(filter)
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].OccurredAt.After(matched[j].OccurredAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *MemoryStore) Count(_ context.Context, filter models.AlertFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.filtered(filter)), nil
}

func (m *MemoryStore) filtered(filter models.AlertFilter) []models.Alert {
	var matched []models.Alert
	for _, a := range m.alerts {
		if filter.Kind != "" && a.Kind != filter.Kind {
			continue
		}
		if filter.Severity != "" && a.Severity != filter.Severity {
			continue
		}
		if filter.Account != "" && a.AccountID != filter.Account && a.AccountEmail != filter.Account {
			continue
		}
		matched = append(matched, a)
	}
	return matched
}
