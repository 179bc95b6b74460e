// OktaGuard - Identity Provider Account-Risk Scanner
// Copyright 2026 OktaGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oktaguard/oktaguard

// Package models defines the shared domain types for OktaGuard: the
// normalized authentication event, per-account detection state, findings
// produced by the rule engine, and the durable alerts derived from them.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Severity indicates the severity level of a finding or alert.
// The levels form an ordered domain: low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank maps severities to their position in the ordered domain.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the severity's position in the ordered domain, or -1 for an
// unknown severity.
func (s Severity) Rank() int {
	r, ok := severityRank[s]
	if !ok {
		return -1
	}
	return r
}

// Valid reports whether s is one of the defined severity levels.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Escalate returns the severity one level above s, capped at critical.
func (s Severity) Escalate() Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// AtLeast reports whether s is at or above the given severity.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// RemediationStatus records the outcome of remediation for an alert.
// An alert transitions from none at most once.
type RemediationStatus string

const (
	RemediationNone            RemediationStatus = "none"
	RemediationAutoSuspended   RemediationStatus = "auto_suspended"
	RemediationManualSuspended RemediationStatus = "manual_suspended"
	RemediationFailed          RemediationStatus = "failed"
)

// Finding kinds produced by the rule engine and the MFA evaluator.
const (
	KindBruteforceSuccess = "bruteforce_success"
	KindOffHoursLogin     = "off_hours_login"
	KindUnusualGeo        = "unusual_geo"
	KindNoMFA             = "no_mfa"
	KindWeakMFAOnly       = "weak_mfa_only"
	KindManualSuspend     = "manual_suspend"
)

// Kind qualifier suffixes appended by the escalator.
const (
	QualifierNoMFA   = "_no_mfa"
	QualifierWeakSMS = "_weak_sms"
)

// Event outcomes as reported by the identity provider.
const (
	OutcomeSuccess = "SUCCESS"
	OutcomeFailure = "FAILURE"
)

// AuthEvent is a normalized authentication/audit event from the identity
// provider's system log. Read-only once produced by the provider adapter.
type AuthEvent struct {
	Type       string    `json:"type"`
	Outcome    string    `json:"outcome"`
	ActorID    string    `json:"actor_id"`
	ActorEmail string    `json:"actor_email"`
	Timestamp  time.Time `json:"timestamp"`
	SourceIP   string    `json:"source_ip,omitempty"`
	Country    string    `json:"country,omitempty"`
	City       string    `json:"city,omitempty"`
}

// Factor is an enrolled MFA factor for an account.
type Factor struct {
	Type     string `json:"factor_type"`
	Provider string `json:"provider,omitempty"`
}

// Account identifies a provider-managed user. The email is the stable
// human-facing key; the provider ID is what lifecycle and factor APIs want.
type Account struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// AccountState is the durable per-account detection state, keyed by the
// account's email/login. Provider-assigned IDs may rotate, so the email is
// the stable key.
type AccountState struct {
	Email string `json:"email"`

	// RecentFailures holds timestamps of authentication failures inside the
	// active brute-force window, oldest first. Pruned on every evaluation.
	RecentFailures []time.Time `json:"recent_failures,omitempty"`

	// KnownCountries is the learned geo baseline: country codes seen on
	// successful logins, sorted. An empty baseline suppresses unusual-geo
	// detection until the first successful login establishes one.
	KnownCountries []string `json:"known_countries,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the state. The rule engine operates on
// copies so that evaluation stays a pure function of its inputs.
func (s AccountState) Clone() AccountState {
	c := s
	c.RecentFailures = append([]time.Time(nil), s.RecentFailures...)
	c.KnownCountries = append([]string(nil), s.KnownCountries...)
	return c
}

// HasCountry reports whether the country code is part of the geo baseline.
func (s AccountState) HasCountry(country string) bool {
	for _, c := range s.KnownCountries {
		if c == country {
			return true
		}
	}
	return false
}

// AddCountry adds a country code to the geo baseline, keeping it sorted.
// Adding a country already present is a no-op.
func (s *AccountState) AddCountry(country string) {
	if country == "" || s.HasCountry(country) {
		return
	}
	s.KnownCountries = append(s.KnownCountries, country)
	sort.Strings(s.KnownCountries)
}

// PruneFailures drops failure timestamps older than the window relative to
// asOf. A failure exactly at the window edge is excluded.
func (s *AccountState) PruneFailures(asOf time.Time, window time.Duration) {
	cutoff := asOf.Add(-window)
	kept := s.RecentFailures[:0]
	for _, t := range s.RecentFailures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.RecentFailures = kept
}

// Finding is a transient detection result. It may be escalated, merged or
// discarded before it becomes a durable Alert.
type Finding struct {
	Kind              string         `json:"kind"`
	Severity          Severity       `json:"severity"`
	AccountID         string         `json:"account_id,omitempty"`
	AccountEmail      string         `json:"account_email"`
	OccurredAt        time.Time      `json:"occurred_at"`
	Evidence          map[string]any `json:"evidence,omitempty"`
	RecommendedAction string         `json:"recommended_action,omitempty"`
}

// Alert is the durable, queryable record of a finding after escalation and
// remediation. Immutable once written except for the single
// none -> {auto_suspended|manual_suspended|failed} status transition.
type Alert struct {
	ID                string            `json:"id"`
	Kind              string            `json:"kind"`
	Severity          Severity          `json:"severity"`
	AccountID         string            `json:"account_id,omitempty"`
	AccountEmail      string            `json:"account_email"`
	OccurredAt        time.Time         `json:"occurred_at"`
	Evidence          json.RawMessage   `json:"evidence,omitempty"`
	RecommendedAction string            `json:"recommended_action,omitempty"`
	RemediationStatus RemediationStatus `json:"remediation_status"`
	DedupeKey         string            `json:"dedupe_key"`
	CreatedAt         time.Time         `json:"created_at"`
}

// NewAlert builds a durable alert from a finding. The dedupe key is derived
// from the finding's content so that re-evaluating the same event after a
// crash-and-resume produces the same key and the second write is rejected.
func NewAlert(f Finding) (*Alert, error) {
	evidence, err := json.Marshal(f.Evidence)
	if err != nil {
		return nil, err
	}
	if len(f.Evidence) == 0 {
		evidence = nil
	}
	return &Alert{
		ID:                uuid.NewString(),
		Kind:              f.Kind,
		Severity:          f.Severity,
		AccountID:         f.AccountID,
		AccountEmail:      f.AccountEmail,
		OccurredAt:        f.OccurredAt,
		Evidence:          evidence,
		RecommendedAction: f.RecommendedAction,
		RemediationStatus: RemediationNone,
		DedupeKey:         DedupeKey(f.AccountEmail, f.Kind, f.OccurredAt),
		CreatedAt:         time.Now().UTC(),
	}, nil
}

// DedupeKey returns the content-derived idempotency key for an alert:
// account + kind + event timestamp. Callers that qualify kinds after the
// fact (the escalator) derive the key from the base kind so the key stays
// stable across passes even when factor data changes.
func DedupeKey(email, kind string, occurredAt time.Time) string {
	h := sha256.Sum256([]byte(email + "|" + kind + "|" + occurredAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h[:])
}

// AlertFilter defines filtering options for alert queries. Zero values
// match everything. Results are ordered most recent first.
type AlertFilter struct {
	Kind     string   `json:"kind,omitempty"`
	Severity Severity `json:"severity,omitempty"`
	Account  string   `json:"account,omitempty"` // matches account ID or email
	Limit    int      `json:"limit,omitempty"`
	Offset   int      `json:"offset,omitempty"`
}
