// OktaGuard - Identity Provider Account-Risk Scanner
// Copyright 2026 OktaGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oktaguard/oktaguard

// Package detection implements the stateful rule engine that turns
// authentication events into findings.
//
// Evaluate is a pure function of (event, account state): it never mutates
// its inputs and returns the candidate findings together with the next
// account state. Re-running it against the same pre-event state yields
// identical results, which is what makes crash-and-resume re-evaluation
// safe for the scan coordinator.
package detection

import (
	"fmt"
	"strings"
	"time"

	"github.com/oktaguard/oktaguard/internal/config"
	"github.com/oktaguard/oktaguard/internal/models"
)

// Event types whose SUCCESS outcome counts as a login for detection
// purposes: session starts, SSO completions, and MFA-verified logins.
var successEventTypes = map[string]struct{}{
	"user.session.start":               {},
	"user.authentication.sso":          {},
	"user.authentication.auth_via_mfa": {},
}

// authFailurePrefix matches every authentication failure variant the
// provider emits (password, factor challenge, SSO).
const authFailurePrefix = "user.authentication"

// recommendedActions carries the operator guidance attached to each
// finding kind.
var recommendedActions = map[string]string{
	models.KindBruteforceSuccess: "Auto-suspend and require credential reset.",
	models.KindOffHoursLogin:     "Step-up verification or verify business need.",
	models.KindUnusualGeo:        "Step-up auth; confirm with user.",
}

// maxKnownCountriesEvidence caps the baseline excerpt included in
// unusual-geo evidence.
const maxKnownCountriesEvidence = 10

// Engine evaluates authentication events against per-account state.
type Engine struct {
	threshold  int
	window     time.Duration
	hoursStart int
	hoursEnd   int
	loc        *time.Location
}

// NewEngine builds a rule engine from detection configuration. The
// business timezone must resolve to a valid IANA location.
func NewEngine(cfg config.DetectionConfig) (*Engine, error) {
	loc, err := time.LoadLocation(cfg.BusinessTimezone)
	if err != nil {
		return nil, fmt.Errorf("load business timezone %q: %w", cfg.BusinessTimezone, err)
	}
	return &Engine{
		threshold:  cfg.BruteFailThreshold,
		window:     cfg.BruteWindow,
		hoursStart: cfg.BusinessHoursStart,
		hoursEnd:   cfg.BusinessHoursEnd,
		loc:        loc,
	}, nil
}

// Evaluate runs all rules for one event against the account's current
// state. It returns the findings, the next account state, and whether the
// state changed at all (events outside the rule surface leave it intact).
func (e *Engine) Evaluate(evt models.AuthEvent, state models.AccountState) ([]models.Finding, models.AccountState, bool) {
	switch {
	case e.isAuthFailure(evt):
		return nil, e.trackFailure(evt, state), true
	case e.isLoginSuccess(evt):
		return e.evaluateSuccess(evt, state)
	default:
		return nil, state, false
	}
}

func (e *Engine) isAuthFailure(evt models.AuthEvent) bool {
	return strings.HasPrefix(evt.Type, authFailurePrefix) && evt.Outcome == models.OutcomeFailure
}

func (e *Engine) isLoginSuccess(evt models.AuthEvent) bool {
	_, ok := successEventTypes[evt.Type]
	return ok && evt.Outcome == models.OutcomeSuccess
}

// trackFailure appends the failure timestamp to the account's window and
// prunes entries that have aged out relative to this event. A bare
// failure never produces a finding.
func (e *Engine) trackFailure(evt models.AuthEvent, state models.AccountState) models.AccountState {
	next := state.Clone()
	if next.Email == "" {
		next.Email = evt.ActorEmail
	}
	next.RecentFailures = append(next.RecentFailures, evt.Timestamp)
	next.PruneFailures(evt.Timestamp, e.window)
	next.UpdatedAt = evt.Timestamp
	return next
}

// evaluateSuccess runs the brute-force, off-hours and unusual-geo rules
// for a successful login.
func (e *Engine) evaluateSuccess(evt models.AuthEvent, state models.AccountState) ([]models.Finding, models.AccountState, bool) {
	next := state.Clone()
	if next.Email == "" {
		next.Email = evt.ActorEmail
	}

	var findings []models.Finding

	// Brute-force success: count failures still inside the window
	// relative to this event. The window resets on any success, not only
	// a qualifying one, so stale failures cannot linger below threshold
	// indefinitely.
	next.PruneFailures(evt.Timestamp, e.window)
	if len(next.RecentFailures) >= e.threshold {
		findings = append(findings, e.newFinding(models.KindBruteforceSuccess, models.SeverityHigh, evt, map[string]any{
			"failures_in_window": len(next.RecentFailures),
			"window_minutes":     int(e.window.Minutes()),
			"source_ip":          evt.SourceIP,
		}))
	}
	next.RecentFailures = nil

	offHours := e.isOffHours(evt.Timestamp)
	if offHours {
		findings = append(findings, e.newFinding(models.KindOffHoursLogin, models.SeverityMedium, evt, map[string]any{
			"hour_local": evt.Timestamp.In(e.loc).Hour(),
			"source_ip":  evt.SourceIP,
			"country":    evt.Country,
			"city":       evt.City,
		}))
	}

	// Unusual geography: only with a non-empty baseline. The very first
	// country an account logs in from establishes the baseline and is
	// never flagged.
	if evt.Country != "" {
		if len(next.KnownCountries) > 0 && !next.HasCountry(evt.Country) {
			severity := models.SeverityMedium
			if offHours {
				severity = models.SeverityHigh
			}
			known := next.KnownCountries
			if len(known) > maxKnownCountriesEvidence {
				known = known[:maxKnownCountriesEvidence]
			}
			findings = append(findings, e.newFinding(models.KindUnusualGeo, severity, evt, map[string]any{
				"new_country":     evt.Country,
				"known_countries": append([]string(nil), known...),
				"source_ip":       evt.SourceIP,
			}))
		}
		// The baseline absorbs every observed country, flagged or not,
		// so a recurring travel pattern is only reported once.
		next.AddCountry(evt.Country)
	}

	next.UpdatedAt = evt.Timestamp
	return findings, next, true
}

// isOffHours reports whether the event time falls outside the half-open
// business-hours interval [start, end) in the configured local timezone.
// The end hour itself is off-hours.
func (e *Engine) isOffHours(t time.Time) bool {
	hour := t.In(e.loc).Hour()
	return hour < e.hoursStart || hour >= e.hoursEnd
}

func (e *Engine) newFinding(kind string, severity models.Severity, evt models.AuthEvent, evidence map[string]any) models.Finding {
	return models.Finding{
		Kind:              kind,
		Severity:          severity,
		AccountID:         evt.ActorID,
		AccountEmail:      evt.ActorEmail,
		OccurredAt:        evt.Timestamp,
		Evidence:          evidence,
		RecommendedAction: recommendedActions[kind],
	}
}
