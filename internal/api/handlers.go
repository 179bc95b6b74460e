// OktaGuard - Identity Provider Account-Risk Scanner
// Copyright 2026 OktaGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oktaguard/oktaguard

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/oktaguard/oktaguard/internal/logging"
	"github.com/oktaguard/oktaguard/internal/metrics"
	"github.com/oktaguard/oktaguard/internal/models"
	"github.com/oktaguard/oktaguard/internal/scanner"
	"github.com/oktaguard/oktaguard/internal/store"
)

const maxRequestBody = 1 << 20

// ScanController is the coordinator surface the API needs.
type ScanController interface {
	StartScan(lookback time.Duration) error
	StartMfaAudit() error
	Status() scanner.Status
}

// Suspender suspends an account at the identity provider.
type Suspender interface {
	SuspendUser(ctx context.Context, accountID string) error
}

// Handler holds dependencies for all HTTP handlers.
type Handler struct {
	scans          ScanController
	alerts         store.AlertSink
	suspender      Suspender
	locks          *store.AccountLocks
	validate       *validator.Validate
	suspendTimeout time.Duration
	version        string
}

// NewHandler creates an API handler.
func NewHandler(scans ScanController, alerts store.AlertSink, suspender Suspender,
	locks *store.AccountLocks, suspendTimeout time.Duration, version string) *Handler {
	return &Handler{
		scans:          scans,
		alerts:         alerts,
		suspender:      suspender,
		locks:          locks,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		suspendTimeout: suspendTimeout,
		version:        version,
	}
}

// Health reports process liveness and the scan loop status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	rw.Success(map[string]any{
		"status":  "ok",
		"version": h.version,
		"time":    time.Now().UTC(),
		"scan":    h.scans.Status(),
	})
}

// ListAlerts returns alerts filtered by kind, severity, and account,
// most recent first.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	filter, err := parseAlertFilter(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	alerts, err := h.alerts.List(r.Context(), filter)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	total, err := h.alerts.Count(r.Context(), filter)
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	if alerts == nil {
		alerts = []models.Alert{}
	}
	rw.SuccessWithPagination(alerts, &PaginationMeta{
		Total:   total,
		Count:   len(alerts),
		Offset:  filter.Offset,
		Limit:   filter.Limit,
		HasMore: filter.Offset+len(alerts) < total,
	})
}

// GetAlert returns a single alert by ID.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id := chi.URLParam(r, "id")
	alert, err := h.alerts.Get(r.Context(), id)
	if errors.Is(err, store.ErrAlertNotFound) {
		rw.NotFound("alert not found")
		return
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(alert)
}

type scanRequest struct {
	LookbackMinutes int `json:"lookback_minutes" validate:"omitempty,min=1,max=1440"`
}

// TriggerScan starts an audit-log scan in the background. A scan already
// in flight yields 409.
func (h *Handler) TriggerScan(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req scanRequest
	if err := decodeBody(r, &req); err != nil {
		rw.BadRequest("invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		rw.ValidationError("lookback_minutes must be between 1 and 1440", err.Error())
		return
	}

	lookback := time.Duration(req.LookbackMinutes) * time.Minute
	if err := h.scans.StartScan(lookback); err != nil {
		if errors.Is(err, scanner.ErrScanInProgress) {
			rw.Conflict(ErrCodeScanInProgress, "a scan is already running")
			return
		}
		rw.InternalError("failed to start scan")
		return
	}
	rw.Accepted(map[string]any{"status": "started"})
}

// TriggerMfaAudit starts a directory-wide MFA posture sweep.
func (h *Handler) TriggerMfaAudit(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if err := h.scans.StartMfaAudit(); err != nil {
		if errors.Is(err, scanner.ErrScanInProgress) {
			rw.Conflict(ErrCodeScanInProgress, "a scan is already running")
			return
		}
		rw.InternalError("failed to start mfa audit")
		return
	}
	rw.Accepted(map[string]any{"status": "started"})
}

type remediateRequest struct {
	Email  string `json:"email" validate:"required,email"`
	Reason string `json:"reason" validate:"omitempty,max=512"`
}

// Remediate suspends an account on operator request and records a
// manual_suspend alert. The suspend outcome decides the alert's
// remediation status.
func (h *Handler) Remediate(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	accountID := chi.URLParam(r, "accountID")
	if accountID == "" {
		rw.BadRequest("account id is required")
		return
	}

	var req remediateRequest
	if err := decodeBody(r, &req); err != nil {
		rw.BadRequest("invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		rw.ValidationError("invalid remediation request", err.Error())
		return
	}

	unlock := h.locks.Lock(req.Email)
	defer unlock()

	now := time.Now().UTC()
	finding := models.Finding{
		Kind:         models.KindManualSuspend,
		Severity:     models.SeverityHigh,
		AccountID:    accountID,
		AccountEmail: req.Email,
		OccurredAt:   now,
		Evidence:     map[string]any{"reason": req.Reason},
	}

	suspendCtx, cancel := context.WithTimeout(r.Context(), h.suspendTimeout)
	defer cancel()
	suspendErr := h.suspender.SuspendUser(suspendCtx, accountID)

	alert, err := models.NewAlert(finding)
	if err != nil {
		rw.InternalError("failed to build alert")
		return
	}
	if suspendErr != nil {
		alert.RemediationStatus = models.RemediationFailed
		metrics.RemediationActions.WithLabelValues("manual", "failure").Inc()
	} else {
		alert.RemediationStatus = models.RemediationManualSuspended
		metrics.RemediationActions.WithLabelValues("manual", "success").Inc()
	}

	if err := h.alerts.Append(r.Context(), alert); err != nil && !errors.Is(err, store.ErrDuplicateAlert) {
		logging.Error().Err(err).Str("account", req.Email).Msg("failed to record remediation alert")
	}

	if suspendErr != nil {
		logging.Error().Err(suspendErr).Str("account", req.Email).Msg("manual suspend failed")
		rw.ErrorWithDetails(http.StatusBadGateway, ErrCodeRemediationFailed,
			"identity provider rejected the suspend", suspendErr.Error())
		return
	}

	logging.Info().Str("account", req.Email).Str("account_id", accountID).Msg("account manually suspended")
	rw.Success(alert)
}

func parseAlertFilter(r *http.Request) (models.AlertFilter, error) {
	q := r.URL.Query()
	filter := models.AlertFilter{
		Kind:    q.Get("kind"),
		Account: q.Get("account"),
	}

	if sev := q.Get("severity"); sev != "" {
		severity := models.Severity(sev)
		if !severity.Valid() {
			return filter, errors.New("invalid severity: " + sev)
		}
		filter.Severity = severity
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 1000 {
			return filter, errors.New("limit must be an integer between 1 and 1000")
		}
		filter.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, errors.New("offset must be a non-negative integer")
		}
		filter.Offset = offset
	}
	return filter, nil
}

// decodeBody decodes an optional JSON body. An empty body leaves dst at
// its zero value.
func decodeBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, dst)
}
