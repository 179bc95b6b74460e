// OktaGuard - Identity Provider Account-Risk Scanner
// Copyright 2026 OktaGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oktaguard/oktaguard

// Package escalation maps findings to final severities and decides
// auto-remediation. Factor lookups go through a bounded-staleness cache so
// a scan pass costs one provider call per affected account, not one per
// finding.
package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/oktaguard/oktaguard/internal/config"
	"github.com/oktaguard/oktaguard/internal/logging"
	"github.com/oktaguard/oktaguard/internal/metrics"
	"github.com/oktaguard/oktaguard/internal/mfa"
	"github.com/oktaguard/oktaguard/internal/models"
	"github.com/oktaguard/oktaguard/internal/okta"
)

// FactorSource retrieves enrolled factors for an account.
type FactorSource interface {
	ListFactors(ctx context.Context, accountID string) ([]models.Factor, error)
}

// Suspender suspends an account at the identity provider.
type Suspender interface {
	SuspendUser(ctx context.Context, accountID string) error
}

// Escalator applies the MFA escalation table to findings and performs
// auto-suspension for eligible kinds.
type Escalator struct {
	factors        FactorSource
	suspender      Suspender
	autoSuspend    map[string]struct{}
	cache          *expirable.LRU[string, mfa.Enrollment]
	suspendTimeout time.Duration
}

// New creates an escalator. The auto-suspend set is matched against base
// finding kinds, before qualifier suffixing.
func New(factors FactorSource, suspender Suspender, cfg config.DetectionConfig, suspendTimeout time.Duration) *Escalator {
	autoSuspend := make(map[string]struct{}, len(cfg.AutoSuspendKinds))
	for _, kind := range cfg.AutoSuspendKinds {
		autoSuspend[kind] = struct{}{}
	}
	return &Escalator{
		factors:        factors,
		suspender:      suspender,
		autoSuspend:    autoSuspend,
		cache:          expirable.NewLRU[string, mfa.Enrollment](cfg.FactorCacheSize, nil, cfg.FactorCacheTTL),
		suspendTimeout: suspendTimeout,
	}
}

// Decide escalates one finding and, if eligible, suspends the account.
// A transient factor-lookup failure returns a nil alert and an error so
// the caller retries the event on a later pass. A failed suspend returns
// the alert with remediationStatus=failed alongside the error
// (recoverable, for operator attention).
//
// The suspend capability is invoked at most once per alert and never
// retried here: suspension is not idempotent-safe to repeat blindly.
func (e *Escalator) Decide(ctx context.Context, f models.Finding) (*models.Alert, error) {
	baseKind := f.Kind

	// Findings that already report MFA posture are not re-qualified
	// against it.
	if baseKind == models.KindNoMFA || baseKind == models.KindWeakMFAOnly {
		alert, err := models.NewAlert(f)
		if err != nil {
			return nil, fmt.Errorf("build alert: %w", err)
		}
		return alert, nil
	}

	enrollment, known, err := e.lookupEnrollment(ctx, f.AccountID)
	if err != nil {
		return nil, err
	}

	if known {
		switch {
		case !enrollment.Enrolled:
			f.Severity = f.Severity.Escalate()
			f.Kind += models.QualifierNoMFA
		case enrollment.WeakOnly():
			if !f.Severity.AtLeast(models.SeverityHigh) {
				f.Severity = f.Severity.Escalate()
			}
			f.Kind += models.QualifierWeakSMS
		}
	}

	alert, err := models.NewAlert(f)
	if err != nil {
		return nil, fmt.Errorf("build alert: %w", err)
	}
	// The dedupe key stays stable across passes regardless of how factor
	// data shifted between them.
	alert.DedupeKey = models.DedupeKey(f.AccountEmail, baseKind, f.OccurredAt)

	if !e.eligibleForSuspend(baseKind, enrollment, known, f.AccountID) {
		return alert, nil
	}

	suspendCtx, cancel := context.WithTimeout(ctx, e.suspendTimeout)
	defer cancel()

	if err := e.suspender.SuspendUser(suspendCtx, f.AccountID); err != nil {
		alert.RemediationStatus = models.RemediationFailed
		metrics.RemediationActions.WithLabelValues("auto", "failure").Inc()
		return alert, fmt.Errorf("auto-suspend %s: %w", f.AccountEmail, err)
	}

	alert.RemediationStatus = models.RemediationAutoSuspended
	alert.Severity = models.SeverityCritical
	metrics.RemediationActions.WithLabelValues("auto", "success").Inc()
	logging.Info().Str("account", f.AccountEmail).Str("kind", alert.Kind).Msg("account auto-suspended")
	return alert, nil
}

// eligibleForSuspend applies the auto-suspend policy: configured base
// kinds, a verified lack of strong MFA, and a usable provider account ID.
func (e *Escalator) eligibleForSuspend(baseKind string, enrollment mfa.Enrollment, known bool, accountID string) bool {
	if _, ok := e.autoSuspend[baseKind]; !ok {
		return false
	}
	return known && !enrollment.HasStrong && accountID != ""
}

// lookupEnrollment fetches the account's MFA posture through the cache.
// A transient lookup failure is returned as an error so the event is
// retried on a later pass with working factor data. A permanent provider
// rejection returns known=false: the finding goes out unescalated rather
// than not at all.
func (e *Escalator) lookupEnrollment(ctx context.Context, accountID string) (mfa.Enrollment, bool, error) {
	if accountID == "" {
		return mfa.Enrollment{}, false, nil
	}
	if enrollment, ok := e.cache.Get(accountID); ok {
		return enrollment, true, nil
	}

	factors, err := e.factors.ListFactors(ctx, accountID)
	if err != nil {
		if okta.IsTransient(err) {
			return mfa.Enrollment{}, false, fmt.Errorf("factor lookup for %s: %w", accountID, err)
		}
		logging.Warn().Err(err).Str("account_id", accountID).Msg("factor lookup rejected, skipping escalation")
		return mfa.Enrollment{}, false, nil
	}

	enrollment := mfa.Classify(factors)
	e.cache.Add(accountID, enrollment)
	return enrollment, true, nil
}
