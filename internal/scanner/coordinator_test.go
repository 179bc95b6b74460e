// OktaGuard - Identity Provider Account-Risk Scanner
// Copyright 2026 OktaGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oktaguard/oktaguard

package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oktaguard/oktaguard/internal/config"
	"github.com/oktaguard/oktaguard/internal/detection"
	"github.com/oktaguard/oktaguard/internal/escalation"
	"github.com/oktaguard/oktaguard/internal/models"
	"github.com/oktaguard/oktaguard/internal/okta"
	"github.com/oktaguard/oktaguard/internal/store"
)

type fakeSource struct {
	mu     sync.Mutex
	events []models.AuthEvent
	since  []time.Time
	block  chan struct{} // when set, ForEachEvent waits before returning
	err    error
}

func (s *fakeSource) ForEachEvent(ctx context.Context, since time.Time, fn func(models.AuthEvent) error) error {
	s.mu.Lock()
	s.since = append(s.since, since)
	events := s.events
	block := s.block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, evt := range events {
		if err := fn(evt); err != nil {
			return err
		}
	}
	return s.err
}

// passthroughDecider builds alerts without escalation.
type passthroughDecider struct {
	err error
}

func (d *passthroughDecider) Decide(_ context.Context, f models.Finding) (*models.Alert, error) {
	if d.err != nil {
		return nil, d.err
	}
	return models.NewAlert(f)
}

type fakeAuditor struct {
	findings []models.Finding
	err      error
}

func (a *fakeAuditor) Audit(_ context.Context) ([]models.Finding, error) {
	return a.findings, a.err
}

func newTestEngine(t *testing.T) *detection.Engine {
	t.Helper()
	engine, err := detection.NewEngine(config.DetectionConfig{
		BusinessTimezone:   "UTC",
		BusinessHoursStart: 9,
		BusinessHoursEnd:   18,
		BruteFailThreshold: 3,
		BruteWindow:        15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func newTestCoordinator(t *testing.T, source EventSource, decider Decider, auditor Auditor, mem *store.MemoryStore) *Coordinator {
	t.Helper()
	return New(source, newTestEngine(t), decider, auditor,
		mem, mem, store.NewAccountLocks(), time.Minute, time.Hour)
}

var scanBase = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func authEvent(typ, outcome string, ts time.Time) models.AuthEvent {
	return models.AuthEvent{
		Type:       typ,
		Outcome:    outcome,
		ActorID:    "00u1",
		ActorEmail: "a@example.com",
		Timestamp:  ts,
	}
}

func TestTriggerScanGeneratesAlerts(t *testing.T) {
	mem := store.NewMemoryStore()
	source := &fakeSource{events: []models.AuthEvent{
		authEvent("user.authentication.auth", models.OutcomeFailure, scanBase),
		authEvent("user.authentication.auth", models.OutcomeFailure, scanBase.Add(time.Second)),
		authEvent("user.authentication.auth", models.OutcomeFailure, scanBase.Add(2*time.Second)),
		authEvent("user.session.start", models.OutcomeSuccess, scanBase.Add(time.Minute)),
	}}
	c := newTestCoordinator(t, source, &passthroughDecider{}, &fakeAuditor{}, mem)

	processed, err := c.TriggerScan(context.Background(), 0)
	if err != nil {
		t.Fatalf("TriggerScan: %v", err)
	}
	if processed != 4 {
		t.Errorf("processed = %d, want 4", processed)
	}

	alerts, err := mem.List(context.Background(), models.AlertFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Kind != models.KindBruteforceSuccess {
		t.Errorf("kind = %s", alerts[0].Kind)
	}

	// Cursor landed on the last event.
	cursor, ok, err := mem.GetCursor(context.Background())
	if err != nil || !ok {
		t.Fatalf("GetCursor: ok=%v err=%v", ok, err)
	}
	if !cursor.Equal(scanBase.Add(time.Minute)) {
		t.Errorf("cursor = %v", cursor)
	}

	// Account state was reset by the success.
	state, err := mem.GetAccountState(context.Background(), "a@example.com")
	if err != nil {
		t.Fatalf("GetAccountState: %v", err)
	}
	if len(state.RecentFailures) != 0 {
		t.Errorf("failures not cleared: %d", len(state.RecentFailures))
	}
}

func TestTriggerScanSingleFlight(t *testing.T) {
	block := make(chan struct{})
	source := &fakeSource{block: block}
	mem := store.NewMemoryStore()
	c := newTestCoordinator(t, source, &passthroughDecider{}, &fakeAuditor{}, mem)

	done := make(chan error, 1)
	go func() {
		_, err := c.TriggerScan(context.Background(), 0)
		done <- err
	}()

	// Wait until the first scan holds the guard.
	deadline := time.After(2 * time.Second)
	for !c.Running() {
		select {
		case <-deadline:
			t.Fatal("first scan never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if _, err := c.TriggerScan(context.Background(), 0); !errors.Is(err, ErrScanInProgress) {
		t.Fatalf("expected ErrScanInProgress, got %v", err)
	}
	if err := c.StartScan(0); !errors.Is(err, ErrScanInProgress) {
		t.Fatalf("StartScan: expected ErrScanInProgress, got %v", err)
	}
	if _, err := c.RunMfaAudit(context.Background()); !errors.Is(err, ErrScanInProgress) {
		t.Fatalf("RunMfaAudit: expected ErrScanInProgress, got %v", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first scan failed: %v", err)
	}

	// Guard released: a new scan is accepted.
	if _, err := c.TriggerScan(context.Background(), 0); err != nil {
		t.Fatalf("scan after release failed: %v", err)
	}
}

func TestScanResumesFromCursor(t *testing.T) {
	mem := store.NewMemoryStore()
	cursorTime := scanBase.Add(-10 * time.Minute)
	if err := mem.PutCursor(context.Background(), cursorTime); err != nil {
		t.Fatalf("PutCursor: %v", err)
	}

	source := &fakeSource{}
	c := newTestCoordinator(t, source, &passthroughDecider{}, &fakeAuditor{}, mem)

	if _, err := c.TriggerScan(context.Background(), 0); err != nil {
		t.Fatalf("TriggerScan: %v", err)
	}
	if len(source.since) != 1 || !source.since[0].Equal(cursorTime) {
		t.Errorf("since = %v, want cursor %v", source.since, cursorTime)
	}
}

func TestScanLookbackWithoutCursor(t *testing.T) {
	mem := store.NewMemoryStore()
	source := &fakeSource{}
	c := newTestCoordinator(t, source, &passthroughDecider{}, &fakeAuditor{}, mem)
	c.clock = func() time.Time { return scanBase }

	if _, err := c.TriggerScan(context.Background(), 30*time.Minute); err != nil {
		t.Fatalf("TriggerScan: %v", err)
	}
	if !source.since[0].Equal(scanBase.Add(-30 * time.Minute)) {
		t.Errorf("since = %v", source.since[0])
	}

	// Zero lookback falls back to the configured default (1h).
	mem2 := store.NewMemoryStore()
	source2 := &fakeSource{}
	c2 := newTestCoordinator(t, source2, &passthroughDecider{}, &fakeAuditor{}, mem2)
	c2.clock = func() time.Time { return scanBase }

	if _, err := c2.TriggerScan(context.Background(), 0); err != nil {
		t.Fatalf("TriggerScan: %v", err)
	}
	if !source2.since[0].Equal(scanBase.Add(-time.Hour)) {
		t.Errorf("since = %v", source2.since[0])
	}
}

func TestScanDeduplicatesReplayedEvents(t *testing.T) {
	mem := store.NewMemoryStore()
	events := []models.AuthEvent{
		authEvent("user.authentication.auth", models.OutcomeFailure, scanBase),
		authEvent("user.authentication.auth", models.OutcomeFailure, scanBase.Add(time.Second)),
		authEvent("user.authentication.auth", models.OutcomeFailure, scanBase.Add(2*time.Second)),
		authEvent("user.session.start", models.OutcomeSuccess, scanBase.Add(time.Minute)),
	}
	source := &fakeSource{events: events}
	c := newTestCoordinator(t, source, &passthroughDecider{}, &fakeAuditor{}, mem)

	if _, err := c.TriggerScan(context.Background(), 0); err != nil {
		t.Fatalf("first scan: %v", err)
	}

	// Replay the same events, as after a crash before the cursor moved.
	// The rule re-fires with an identical dedupe key and the second
	// write is absorbed.
	if _, err := c.TriggerScan(context.Background(), 0); err != nil {
		t.Fatalf("second scan: %v", err)
	}

	count, err := mem.Count(context.Background(), models.AlertFilter{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("alert count = %d, want 1", count)
	}
}

func TestScanIsolatesPerEventErrors(t *testing.T) {
	mem := store.NewMemoryStore()
	source := &fakeSource{events: []models.AuthEvent{
		authEvent("user.session.start", models.OutcomeSuccess, time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)),
		authEvent("user.session.start", models.OutcomeSuccess, time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC)),
	}}
	c := newTestCoordinator(t, source, &passthroughDecider{err: errors.New("escalation down")}, &fakeAuditor{}, mem)

	processed, err := c.TriggerScan(context.Background(), 0)
	if err != nil {
		t.Fatalf("a failing event must not abort the scan: %v", err)
	}
	if processed != 2 {
		t.Errorf("processed = %d, want 2", processed)
	}

	// The cursor does not advance for failed events, so the next scan
	// replays them.
	if _, ok, _ := mem.GetCursor(context.Background()); ok {
		t.Error("cursor must not move past events that failed downstream")
	}
}

// flakyDecider fails the first decision and succeeds afterwards.
type flakyDecider struct {
	firstErr error
	calls    int
}

func (d *flakyDecider) Decide(_ context.Context, f models.Finding) (*models.Alert, error) {
	d.calls++
	if d.calls == 1 && d.firstErr != nil {
		return nil, d.firstErr
	}
	return models.NewAlert(f)
}

func TestScanHoldsCursorAfterFailedEvent(t *testing.T) {
	mem := store.NewMemoryStore()
	source := &fakeSource{events: []models.AuthEvent{
		authEvent("user.session.start", models.OutcomeSuccess, time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)),
		authEvent("user.session.start", models.OutcomeSuccess, time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC)),
	}}
	decider := &flakyDecider{firstErr: errors.New("escalation briefly down")}
	c := newTestCoordinator(t, source, decider, &fakeAuditor{}, mem)

	if _, err := c.TriggerScan(context.Background(), 0); err != nil {
		t.Fatalf("first scan: %v", err)
	}

	count, _ := mem.Count(context.Background(), models.AlertFilter{})
	if count != 1 {
		t.Fatalf("alerts after first scan = %d, want 1", count)
	}
	// The second event succeeded, but it must not advance the cursor
	// past the failed first event.
	if _, ok, _ := mem.GetCursor(context.Background()); ok {
		t.Fatal("cursor advanced past a failed event")
	}

	// The next pass refetches both events: the failed one finally lands
	// and the replayed one is absorbed by dedupe.
	if _, err := c.TriggerScan(context.Background(), 0); err != nil {
		t.Fatalf("second scan: %v", err)
	}
	count, _ = mem.Count(context.Background(), models.AlertFilter{})
	if count != 2 {
		t.Errorf("alerts after retry = %d, want 2", count)
	}
	cursor, ok, _ := mem.GetCursor(context.Background())
	if !ok || !cursor.Equal(time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC)) {
		t.Errorf("cursor = %v ok=%v after a clean pass", cursor, ok)
	}
}

func TestScanAdvancesPastPermanentRejection(t *testing.T) {
	mem := store.NewMemoryStore()
	second := authEvent("user.session.start", models.OutcomeSuccess, time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC))
	source := &fakeSource{events: []models.AuthEvent{
		authEvent("user.session.start", models.OutcomeSuccess, time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)),
		second,
	}}
	decider := &flakyDecider{firstErr: &okta.APIError{Operation: "list factors", StatusCode: 404}}
	c := newTestCoordinator(t, source, decider, &fakeAuditor{}, mem)

	if _, err := c.TriggerScan(context.Background(), 0); err != nil {
		t.Fatalf("TriggerScan: %v", err)
	}

	// A rejection that a retry cannot fix does not pin the cursor.
	cursor, ok, _ := mem.GetCursor(context.Background())
	if !ok || !cursor.Equal(second.Timestamp) {
		t.Errorf("cursor = %v ok=%v, want %v", cursor, ok, second.Timestamp)
	}
}

func TestScanCursorNeverMovesBackwards(t *testing.T) {
	mem := store.NewMemoryStore()
	newest := authEvent("user.session.start", models.OutcomeSuccess, time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC))
	older := authEvent("user.session.start", models.OutcomeSuccess, time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC))
	source := &fakeSource{events: []models.AuthEvent{newest, older}}
	c := newTestCoordinator(t, source, &passthroughDecider{}, &fakeAuditor{}, mem)

	// Pagination order is not guaranteed; the cursor tracks the maximum
	// applied timestamp, not the last one.
	if _, err := c.TriggerScan(context.Background(), 0); err != nil {
		t.Fatalf("TriggerScan: %v", err)
	}
	cursor, ok, _ := mem.GetCursor(context.Background())
	if !ok || !cursor.Equal(newest.Timestamp) {
		t.Errorf("cursor = %v ok=%v, want %v", cursor, ok, newest.Timestamp)
	}

	// A lookback override replaying events older than the cursor must
	// not drag it back either.
	ahead := time.Date(2026, 3, 10, 5, 0, 0, 0, time.UTC)
	if err := mem.PutCursor(context.Background(), ahead); err != nil {
		t.Fatalf("PutCursor: %v", err)
	}
	if _, err := c.TriggerScan(context.Background(), 30*time.Minute); err != nil {
		t.Fatalf("TriggerScan: %v", err)
	}
	cursor, _, _ = mem.GetCursor(context.Background())
	if !cursor.Equal(ahead) {
		t.Errorf("cursor = %v, want unchanged %v", cursor, ahead)
	}
}

type corruptStateStore struct {
	*store.MemoryStore
}

func (c *corruptStateStore) GetAccountState(context.Context, string) (models.AccountState, error) {
	return models.AccountState{}, store.ErrCorrupted
}

func TestScanAbortsOnCorruptedState(t *testing.T) {
	mem := store.NewMemoryStore()
	source := &fakeSource{events: []models.AuthEvent{
		authEvent("user.session.start", models.OutcomeSuccess, scanBase),
		authEvent("user.session.start", models.OutcomeSuccess, scanBase.Add(time.Minute)),
	}}
	c := New(source, newTestEngine(t), &passthroughDecider{}, &fakeAuditor{},
		&corruptStateStore{mem}, mem, store.NewAccountLocks(), time.Minute, time.Hour)

	processed, err := c.TriggerScan(context.Background(), 0)
	if !errors.Is(err, store.ErrCorrupted) {
		t.Fatalf("expected ErrCorrupted, got %v", err)
	}
	if processed != 0 {
		t.Errorf("processed = %d, want 0 after an aborted pass", processed)
	}
}

// cancelingDecider cancels the scan context after the first finding,
// simulating shutdown arriving mid-pass.
type cancelingDecider struct {
	cancel context.CancelFunc
}

func (d *cancelingDecider) Decide(_ context.Context, f models.Finding) (*models.Alert, error) {
	d.cancel()
	return models.NewAlert(f)
}

func TestScanStopsBetweenEventsOnCancel(t *testing.T) {
	mem := store.NewMemoryStore()
	first := authEvent("user.session.start", models.OutcomeSuccess, time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC))
	second := authEvent("user.session.start", models.OutcomeSuccess, time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC))
	source := &fakeSource{events: []models.AuthEvent{first, second}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := newTestCoordinator(t, source, &cancelingDecider{cancel: cancel}, &fakeAuditor{}, mem)

	processed, err := c.TriggerScan(ctx, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if processed != 1 {
		t.Errorf("processed = %d, want 1", processed)
	}

	// The in-flight event's writes completed before the stop.
	cursor, ok, _ := mem.GetCursor(context.Background())
	if !ok || !cursor.Equal(first.Timestamp) {
		t.Errorf("cursor = %v ok=%v, want %v", cursor, ok, first.Timestamp)
	}
}

func TestScanFetchErrorSurfaces(t *testing.T) {
	mem := store.NewMemoryStore()
	source := &fakeSource{err: errors.New("log api 503")}
	c := newTestCoordinator(t, source, &passthroughDecider{}, &fakeAuditor{}, mem)

	if _, err := c.TriggerScan(context.Background(), 0); err == nil {
		t.Fatal("expected fetch error to surface")
	}

	status := c.Status()
	if status.Running {
		t.Error("guard must be released after a failed scan")
	}
	if status.LastError == "" {
		t.Error("status should carry the last error")
	}
}

func TestScanSkipsEventsWithoutEmail(t *testing.T) {
	mem := store.NewMemoryStore()
	evt := authEvent("user.session.start", models.OutcomeSuccess, scanBase)
	evt.ActorEmail = ""
	source := &fakeSource{events: []models.AuthEvent{evt}}
	c := newTestCoordinator(t, source, &passthroughDecider{}, &fakeAuditor{}, mem)

	if _, err := c.TriggerScan(context.Background(), 0); err != nil {
		t.Fatalf("TriggerScan: %v", err)
	}

	count, _ := mem.Count(context.Background(), models.AlertFilter{})
	if count != 0 {
		t.Errorf("anonymous events must not produce alerts, got %d", count)
	}
	// The cursor still advances past them.
	if _, ok, _ := mem.GetCursor(context.Background()); !ok {
		t.Error("cursor should advance past skipped events")
	}
}

func TestRunMfaAudit(t *testing.T) {
	mem := store.NewMemoryStore()
	auditor := &fakeAuditor{findings: []models.Finding{
		{
			Kind:         models.KindNoMFA,
			Severity:     models.SeverityHigh,
			AccountID:    "00u1",
			AccountEmail: "a@example.com",
			OccurredAt:   scanBase,
		},
		{
			Kind:         models.KindWeakMFAOnly,
			Severity:     models.SeverityMedium,
			AccountID:    "00u2",
			AccountEmail: "b@example.com",
			OccurredAt:   scanBase,
		},
	}}
	c := newTestCoordinator(t, &fakeSource{}, &passthroughDecider{}, auditor, mem)

	generated, err := c.RunMfaAudit(context.Background())
	if err != nil {
		t.Fatalf("RunMfaAudit: %v", err)
	}
	if generated != 2 {
		t.Errorf("generated = %d, want 2", generated)
	}

	count, _ := mem.Count(context.Background(), models.AlertFilter{Kind: models.KindNoMFA})
	if count != 1 {
		t.Errorf("no_mfa alerts = %d, want 1", count)
	}
}

type emptyFactorSource struct{}

func (emptyFactorSource) ListFactors(context.Context, string) ([]models.Factor, error) {
	return nil, nil
}

type recordingSuspender struct {
	mu  sync.Mutex
	ids []string
}

func (s *recordingSuspender) SuspendUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
	return nil
}

// Five failures and a success inside the window, against an account with
// no enrolled factors, end in a single critical auto-suspended alert.
func TestScanBruteforceNoMfaAutoSuspends(t *testing.T) {
	engine, err := detection.NewEngine(config.DetectionConfig{
		BusinessTimezone:   "UTC",
		BusinessHoursStart: 9,
		BusinessHoursEnd:   18,
		BruteFailThreshold: 5,
		BruteWindow:        15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	suspender := &recordingSuspender{}
	escalator := escalation.New(emptyFactorSource{}, suspender, config.DetectionConfig{
		AutoSuspendKinds: []string{models.KindBruteforceSuccess, models.KindUnusualGeo},
		FactorCacheSize:  8,
		FactorCacheTTL:   time.Minute,
	}, time.Second)

	var events []models.AuthEvent
	for i := 0; i < 5; i++ {
		events = append(events, authEvent("user.authentication.auth", models.OutcomeFailure, scanBase.Add(time.Duration(i)*time.Second)))
	}
	events = append(events, authEvent("user.session.start", models.OutcomeSuccess, scanBase.Add(time.Minute)))

	mem := store.NewMemoryStore()
	c := New(&fakeSource{events: events}, engine, escalator, &fakeAuditor{},
		mem, mem, store.NewAccountLocks(), time.Minute, time.Hour)

	if _, err := c.TriggerScan(context.Background(), 0); err != nil {
		t.Fatalf("TriggerScan: %v", err)
	}

	alerts, err := mem.List(context.Background(), models.AlertFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected exactly 1 alert, got %d", len(alerts))
	}
	alert := alerts[0]
	if alert.Kind != models.KindBruteforceSuccess+models.QualifierNoMFA {
		t.Errorf("kind = %s", alert.Kind)
	}
	if alert.Severity != models.SeverityCritical {
		t.Errorf("severity = %s, want critical", alert.Severity)
	}
	if alert.RemediationStatus != models.RemediationAutoSuspended {
		t.Errorf("remediation = %s, want auto_suspended", alert.RemediationStatus)
	}
	if len(suspender.ids) != 1 || suspender.ids[0] != "00u1" {
		t.Errorf("suspend calls = %v, want one for 00u1", suspender.ids)
	}
}

func TestStartScanStopsOnShutdown(t *testing.T) {
	mem := store.NewMemoryStore()
	source := &fakeSource{}
	c := newTestCoordinator(t, source, &passthroughDecider{}, &fakeAuditor{}, mem)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan struct{})
	go func() {
		_ = c.Serve(ctx)
		close(serveDone)
	}()

	// Let the initial scan finish so the on-demand one owns the guard.
	deadline := time.After(2 * time.Second)
	for c.Status().LastScanEnd == nil {
		select {
		case <-deadline:
			t.Fatal("initial scan never completed")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	block := make(chan struct{})
	source.mu.Lock()
	source.block = block
	source.mu.Unlock()

	if err := c.StartScan(0); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	for !c.Running() {
		select {
		case <-deadline:
			t.Fatal("detached scan never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// Shutdown must reach the detached scan, not just the serve loop.
	cancel()
	for c.Running() {
		select {
		case <-deadline:
			t.Fatal("detached scan did not stop on shutdown")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	<-serveDone

	if status := c.Status(); status.LastError == "" {
		t.Error("interrupted scan should record the cancellation")
	}
}

func TestStatusSnapshot(t *testing.T) {
	mem := store.NewMemoryStore()
	c := newTestCoordinator(t, &fakeSource{}, &passthroughDecider{}, &fakeAuditor{}, mem)

	status := c.Status()
	if status.Running || status.LastScanStart != nil || status.LastScanEnd != nil {
		t.Errorf("fresh coordinator status not empty: %+v", status)
	}

	if _, err := c.TriggerScan(context.Background(), 0); err != nil {
		t.Fatalf("TriggerScan: %v", err)
	}

	status = c.Status()
	if status.Running {
		t.Error("scan finished but status says running")
	}
	if status.LastScanStart == nil || status.LastScanEnd == nil {
		t.Error("completed scan should record start and end times")
	}
}
