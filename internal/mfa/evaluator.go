// OktaGuard - Identity Provider Account-Risk Scanner
// Copyright 2026 OktaGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oktaguard/oktaguard

// Package mfa classifies enrolled MFA factors and audits the account
// population for missing or weak enrollment. The audit is stateless and
// independent of the event stream, so it is safe to run concurrently with
// event-driven scans.
package mfa

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oktaguard/oktaguard/internal/logging"
	"github.com/oktaguard/oktaguard/internal/models"
)

// Normalized factor type names.
const (
	factorTOTP       = "token:software:totp"
	factorWebAuthn   = "webauthn"
	factorOktaVerify = "okta_verify"
)

// strongFactors are phishing-resistant or device-bound factor types.
var strongFactors = map[string]struct{}{
	factorTOTP:       {},
	"token:hardware": {},
	"u2f":            {},
	factorWebAuthn:   {},
	factorOktaVerify: {},
	"push":           {},
	"fido":           {},
	"fido2":          {},
}

// weakFactors are interceptable delivery channels.
var weakFactors = map[string]struct{}{
	"sms":   {},
	"call":  {},
	"email": {},
}

// Enrollment summarizes an account's MFA posture.
type Enrollment struct {
	// Types holds the normalized factor type names, sorted.
	Types []string

	// Enrolled is true when at least one factor exists.
	Enrolled bool

	// HasStrong is true when at least one strong factor exists.
	HasStrong bool
}

// WeakOnly reports whether the account has factors but none of them are
// strong.
func (e Enrollment) WeakOnly() bool {
	return e.Enrolled && !e.HasStrong
}

// Classify normalizes raw provider factors into an enrollment summary.
func Classify(factors []models.Factor) Enrollment {
	types := make(map[string]struct{})
	for _, f := range factors {
		ft := strings.ToLower(f.Type)
		provider := strings.ToLower(f.Provider)
		switch {
		case hasKey(weakFactors, ft):
			types[ft] = struct{}{}
		case ft == factorTOTP || ft == "token:hardware":
			types[factorTOTP] = struct{}{}
		case ft == "u2f" || ft == factorWebAuthn || ft == "fido" || ft == "fido2":
			types[factorWebAuthn] = struct{}{}
		case strings.Contains(provider, "okta") || strings.Contains(ft, "push"):
			types[factorOktaVerify] = struct{}{}
		default:
			if ft != "" {
				types[ft] = struct{}{}
			}
		}
	}

	e := Enrollment{Enrolled: len(types) > 0}
	for t := range types {
		e.Types = append(e.Types, t)
		if hasKey(strongFactors, t) {
			e.HasStrong = true
		}
	}
	sort.Strings(e.Types)
	return e
}

func hasKey(m map[string]struct{}, k string) bool {
	_, ok := m[k]
	return ok
}

// Directory is the provider capability the evaluator needs.
type Directory interface {
	ListUsers(ctx context.Context) ([]models.Account, error)
	ListFactors(ctx context.Context, accountID string) ([]models.Factor, error)
}

// Evaluator audits the whole account population for MFA posture.
type Evaluator struct {
	dir Directory
}

// NewEvaluator creates an MFA evaluator over the given directory.
func NewEvaluator(dir Directory) *Evaluator {
	return &Evaluator{dir: dir}
}

// Audit inspects every account's enrolled factors and reports accounts
// with no MFA or only weak MFA. A single account's factor lookup failing
// does not abort the audit; it is logged and skipped.
func (e *Evaluator) Audit(ctx context.Context) ([]models.Finding, error) {
	accounts, err := e.dir.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	now := time.Now().UTC()
	var findings []models.Finding

	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return findings, err
		}

		factors, err := e.dir.ListFactors(ctx, account.ID)
		if err != nil {
			logging.Warn().Err(err).Str("account", account.Email).Msg("factor lookup failed, skipping account")
			continue
		}

		enrollment := Classify(factors)
		switch {
		case !enrollment.Enrolled:
			findings = append(findings, models.Finding{
				Kind:              models.KindNoMFA,
				Severity:          models.SeverityHigh,
				AccountID:         account.ID,
				AccountEmail:      account.Email,
				OccurredAt:        now,
				Evidence:          map[string]any{"factors": []string{}},
				RecommendedAction: "Require MFA enrollment; block until set.",
			})
		case enrollment.WeakOnly():
			findings = append(findings, models.Finding{
				Kind:              models.KindWeakMFAOnly,
				Severity:          models.SeverityMedium,
				AccountID:         account.ID,
				AccountEmail:      account.Email,
				OccurredAt:        now,
				Evidence:          map[string]any{"factors": enrollment.Types},
				RecommendedAction: "Enroll strong factor (WebAuthn/Okta Verify/TOTP).",
			})
		}
	}

	return findings, nil
}
