// OktaGuard - Identity Provider Account-Risk Scanner
// Copyright 2026 OktaGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oktaguard/oktaguard

// Package scanner coordinates periodic audit-log scans. A coordinator
// owns the scan lifecycle: it pulls events from the identity provider,
// runs them through the detection engine, hands findings to the
// escalator, and persists alerts, account state, and the scan cursor.
// At most one scan runs at a time; overlapping triggers are rejected.
package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oktaguard/oktaguard/internal/detection"
	"github.com/oktaguard/oktaguard/internal/logging"
	"github.com/oktaguard/oktaguard/internal/metrics"
	"github.com/oktaguard/oktaguard/internal/models"
	"github.com/oktaguard/oktaguard/internal/okta"
	"github.com/oktaguard/oktaguard/internal/store"
)

// ErrScanInProgress is returned when a scan is triggered while another
// scan is still running.
var ErrScanInProgress = errors.New("scan already in progress")

// EventSource streams authentication events from the identity provider.
type EventSource interface {
	ForEachEvent(ctx context.Context, since time.Time, fn func(models.AuthEvent) error) error
}

// Decider turns a finding into a persisted-ready alert, applying MFA
// escalation and auto-remediation.
type Decider interface {
	Decide(ctx context.Context, finding models.Finding) (*models.Alert, error)
}

// Auditor sweeps the user directory for MFA posture findings.
type Auditor interface {
	Audit(ctx context.Context) ([]models.Finding, error)
}

// Status describes the coordinator's current state for health reporting.
type Status struct {
	Running       bool       `json:"running"`
	LastScanStart *time.Time `json:"last_scan_start,omitempty"`
	LastScanEnd   *time.Time `json:"last_scan_end,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	LastProcessed int        `json:"last_processed"`
}

// Coordinator drives the scan pipeline.
type Coordinator struct {
	source    EventSource
	engine    *detection.Engine
	decider   Decider
	auditor   Auditor
	states    store.AccountStateStore
	alerts    store.AlertSink
	locks     *store.AccountLocks
	interval  time.Duration
	lookback  time.Duration
	clock     func() time.Time

	mu            sync.Mutex
	running       bool
	baseCtx       context.Context
	lastScanStart time.Time
	lastScanEnd   time.Time
	lastErr       error
	lastProcessed int
}

// New creates a scan coordinator. interval is the periodic scan cadence
// and lookback is the window used when no cursor has been persisted yet.
func New(source EventSource, engine *detection.Engine, decider Decider, auditor Auditor,
	states store.AccountStateStore, alerts store.AlertSink, locks *store.AccountLocks,
	interval, lookback time.Duration) *Coordinator {
	return &Coordinator{
		source:   source,
		engine:   engine,
		decider:  decider,
		auditor:  auditor,
		states:   states,
		alerts:   alerts,
		locks:    locks,
		interval: interval,
		lookback: lookback,
		clock:    time.Now,
	}
}

// Serve implements suture.Service. It runs one scan immediately, then on
// every interval tick until the context is canceled.
func (c *Coordinator) Serve(ctx context.Context) error {
	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()

	logging.Info().
		Dur("interval", c.interval).
		Dur("initial_lookback", c.lookback).
		Msg("scan loop started")

	if _, err := c.TriggerScan(ctx, 0); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("initial scan failed")
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("scan loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.TriggerScan(ctx, 0); err != nil {
				switch {
				case errors.Is(err, context.Canceled):
				case errors.Is(err, ErrScanInProgress):
					logging.Warn().Msg("previous scan still running, skipping tick")
				default:
					logging.Error().Err(err).Msg("scheduled scan failed")
				}
			}
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (c *Coordinator) String() string {
	return "scan-coordinator"
}

// begin acquires the single-flight guard without blocking.
func (c *Coordinator) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		metrics.ScansRejected.Inc()
		return ErrScanInProgress
	}
	c.running = true
	c.lastScanStart = c.clock()
	return nil
}

func (c *Coordinator) finish(processed int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	c.lastScanEnd = c.clock()
	c.lastErr = err
	c.lastProcessed = processed
}

// TriggerScan runs a single scan pass. lookback overrides the window
// used when no cursor exists; zero means use the configured default.
// It returns the number of events processed. Only one scan runs at a
// time; a concurrent call gets ErrScanInProgress without blocking.
func (c *Coordinator) TriggerScan(ctx context.Context, lookback time.Duration) (int, error) {
	if err := c.begin(); err != nil {
		return 0, err
	}
	processed, err := c.scan(ctx, lookback)
	c.finish(processed, err)
	return processed, err
}

// StartScan acquires the single-flight guard and runs the scan in the
// background, detached from the caller's request lifetime but tied to
// the coordinator's own lifetime so shutdown stops it between events.
// The guard is held from the moment StartScan returns nil.
func (c *Coordinator) StartScan(lookback time.Duration) error {
	if err := c.begin(); err != nil {
		return err
	}
	go func() {
		processed, err := c.scan(c.background(), lookback)
		c.finish(processed, err)
	}()
	return nil
}

// StartMfaAudit runs the directory MFA sweep in the background under
// the same single-flight guard as event scans.
func (c *Coordinator) StartMfaAudit() error {
	if err := c.begin(); err != nil {
		return err
	}
	go func() {
		generated, err := c.mfaAudit(c.background())
		c.finish(generated, err)
	}()
	return nil
}

// background returns the context for detached scans: the Serve context
// once the loop is running, so canceling the supervisor cancels
// on-demand scans too.
func (c *Coordinator) background() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.baseCtx != nil {
		return c.baseCtx
	}
	return context.Background()
}

// Running reports whether a scan is currently in flight.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Status returns a snapshot of the coordinator state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Running:       c.running,
		LastProcessed: c.lastProcessed,
	}
	if !c.lastScanStart.IsZero() {
		t := c.lastScanStart
		st.LastScanStart = &t
	}
	if !c.lastScanEnd.IsZero() {
		t := c.lastScanEnd
		st.LastScanEnd = &t
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

func (c *Coordinator) scan(ctx context.Context, lookback time.Duration) (int, error) {
	start := c.clock()
	since, cursor, err := c.resolveSince(ctx, lookback)
	if err != nil {
		metrics.ScanErrors.WithLabelValues("cursor").Inc()
		return 0, err
	}

	logging.Info().Time("since", since).Msg("scan started")

	processed := 0
	applied := cursor // running max of fully applied event timestamps
	holdCursor := false
	err = c.source.ForEachEvent(ctx, since, func(evt models.AuthEvent) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if handleErr := c.handleEvent(ctx, evt); handleErr != nil {
			// Corrupted state aborts the pass so the operator can
			// intervene; anything else is isolated to this event.
			if errors.Is(handleErr, store.ErrCorrupted) {
				return handleErr
			}
			logging.Error().Err(handleErr).
				Str("account", evt.ActorEmail).
				Str("event_type", evt.Type).
				Msg("event processing failed")
			metrics.ScanErrors.WithLabelValues("event").Inc()
			if okta.IsTransient(handleErr) {
				// Hold the cursor so the next pass refetches this
				// event; dedupe absorbs the replayed neighbors. A
				// permanent rejection is not worth refetching.
				holdCursor = true
			}
			processed++
			return nil
		}
		processed++
		if !holdCursor && evt.Timestamp.After(applied) {
			applied = evt.Timestamp
			if err := c.states.PutCursor(ctx, applied); err != nil {
				logging.Error().Err(err).Msg("cursor write failed")
				metrics.ScanErrors.WithLabelValues("cursor").Inc()
				holdCursor = true
			}
		}
		return nil
	})

	elapsed := c.clock().Sub(start)
	metrics.ScanDuration.Observe(elapsed.Seconds())
	metrics.ScanEventsProcessed.Add(float64(processed))

	if err != nil {
		metrics.ScanErrors.WithLabelValues("fetch").Inc()
		logging.Error().Err(err).Int("processed", processed).Msg("scan aborted")
		return processed, err
	}

	metrics.ScanLastSuccess.SetToCurrentTime()
	logging.Info().
		Int("processed", processed).
		Dur("elapsed", elapsed).
		Msg("scan completed")
	return processed, nil
}

// resolveSince picks the scan start time: the persisted cursor when one
// exists, otherwise now minus the lookback window. The cursor itself is
// also returned (zero when absent) so the scan loop never writes it
// backwards.
func (c *Coordinator) resolveSince(ctx context.Context, lookback time.Duration) (time.Time, time.Time, error) {
	cursor, ok, err := c.states.GetCursor(ctx)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if ok {
		return cursor, cursor, nil
	}
	if lookback <= 0 {
		lookback = c.lookback
	}
	return c.clock().Add(-lookback), time.Time{}, nil
}

// handleEvent runs one event through detect, escalate, and persist. The
// caller advances the cursor only after this returns nil, so a crash or
// a transient failure replays the event on the next pass and dedupe
// absorbs the repeats.
func (c *Coordinator) handleEvent(ctx context.Context, evt models.AuthEvent) error {
	if evt.ActorEmail == "" {
		return nil
	}

	unlock := c.locks.Lock(evt.ActorEmail)
	defer unlock()

	state, err := c.states.GetAccountState(ctx, evt.ActorEmail)
	if err != nil {
		return err
	}

	findings, newState, changed := c.engine.Evaluate(evt, state)

	for _, finding := range findings {
		finding.AccountID = evt.ActorID
		if err := c.emit(ctx, finding); err != nil {
			return err
		}
	}

	if changed {
		if err := c.states.PutAccountState(ctx, newState); err != nil {
			return err
		}
	}
	return nil
}

// emit escalates a finding and appends the resulting alert. Duplicate
// alerts are counted and dropped. A failed auto-suspend still persists
// the alert, so only the suspend error surfaces.
func (c *Coordinator) emit(ctx context.Context, finding models.Finding) error {
	alert, decideErr := c.decider.Decide(ctx, finding)
	if alert == nil {
		return decideErr
	}

	if err := c.alerts.Append(ctx, alert); err != nil {
		if errors.Is(err, store.ErrDuplicateAlert) {
			metrics.AlertsDeduplicated.Inc()
			return nil
		}
		return err
	}

	metrics.AlertsGenerated.WithLabelValues(alert.Kind, string(alert.Severity)).Inc()
	logging.Info().
		Str("kind", alert.Kind).
		Str("severity", string(alert.Severity)).
		Str("account", alert.AccountEmail).
		Str("remediation", string(alert.RemediationStatus)).
		Msg("alert generated")

	return decideErr
}

// RunMfaAudit sweeps the directory for accounts without strong MFA and
// records a finding per weak account. It shares the single-flight guard
// with event scans.
func (c *Coordinator) RunMfaAudit(ctx context.Context) (int, error) {
	if err := c.begin(); err != nil {
		return 0, err
	}
	generated, err := c.mfaAudit(ctx)
	c.finish(generated, err)
	return generated, err
}

func (c *Coordinator) mfaAudit(ctx context.Context) (int, error) {
	findings, err := c.auditor.Audit(ctx)
	if err != nil {
		metrics.ScanErrors.WithLabelValues("mfa_audit").Inc()
		return 0, err
	}

	generated := 0
	for _, finding := range findings {
		if err := ctx.Err(); err != nil {
			return generated, err
		}
		if err := c.emit(ctx, finding); err != nil {
			logging.Error().Err(err).
				Str("account", finding.AccountEmail).
				Msg("mfa finding processing failed")
			metrics.ScanErrors.WithLabelValues("event").Inc()
			continue
		}
		generated++
	}

	logging.Info().Int("findings", len(findings)).Msg("mfa audit completed")
	return generated, nil
}
