// OktaGuard - Identity Provider Account-Risk Scanner
// Copyright 2026 OktaGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oktaguard/oktaguard

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"

	"github.com/oktaguard/oktaguard/internal/logging"
	"github.com/oktaguard/oktaguard/internal/models"
)

// defaultListLimit bounds unfiltered alert queries.
const defaultListLimit = 100

// DuckDBSink implements AlertSink using DuckDB as the backend storage.
type DuckDBSink struct {
	db *sql.DB
	mu sync.RWMutex
}

// OpenDuckDB opens (or creates) the alert database at path and ensures
// the schema exists.
func OpenDuckDB(ctx context.Context, path string) (*DuckDBSink, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb at %s: %w", path, err)
	}
	sink := &DuckDBSink{db: db}
	if err := sink.createTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return sink, nil
}

// NewDuckDBSink wraps an already-open DuckDB handle. Callers must run
// createTable via OpenDuckDB or provide the schema themselves.
func NewDuckDBSink(db *sql.DB) *DuckDBSink {
	return &DuckDBSink{db: db}
}

// Close closes the underlying database.
func (s *DuckDBSink) Close() error {
	return s.db.Close()
}

func (s *DuckDBSink) createTable(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			severity TEXT NOT NULL,
			account_id TEXT,
			account_email TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			evidence JSON,
			recommended_action TEXT,
			remediation_status TEXT NOT NULL,
			dedupe_key TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_dedupe ON alerts(dedupe_key);
		CREATE INDEX IF NOT EXISTS idx_alerts_occurred_at ON alerts(occurred_at DESC);
		CREATE INDEX IF NOT EXISTS idx_alerts_kind ON alerts(kind);
		CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity);
		CREATE INDEX IF NOT EXISTS idx_alerts_account_email ON alerts(account_email)
	`

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}

	logging.Info().Msg("alerts table created/verified")
	return nil
}

// Append persists a new alert. An existing alert with the same dedupe key
// makes this a no-op reported as ErrDuplicateAlert.
func (s *DuckDBSink) Append(ctx context.Context, alert *models.Alert) error {
	if alert == nil {
		return errors.New("alert cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var existing int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM alerts WHERE dedupe_key = ?", alert.DedupeKey).Scan(&existing)
	if err != nil {
		return fmt.Errorf("check dedupe key: %w", err)
	}
	if existing > 0 {
		return ErrDuplicateAlert
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts (
			id, kind, severity, account_id, account_email,
			occurred_at, evidence, recommended_action,
			remediation_status, dedupe_key, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.Kind, string(alert.Severity), nullable(alert.AccountID), alert.AccountEmail,
		alert.OccurredAt, nullableJSON(alert.Evidence), nullable(alert.RecommendedAction),
		string(alert.RemediationStatus), alert.DedupeKey, alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append alert: %w", err)
	}
	return nil
}

// Get retrieves an alert by ID.
func (s *DuckDBSink) Get(ctx context.Context, id string) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectColumns+" FROM alerts WHERE id = ?", id)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return alert, nil
}

// List retrieves alerts matching the filter, most recent first.
func (s *DuckDBSink) List(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := buildFilter(filter)
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit, filter.Offset)

	query := selectColumns + " FROM alerts" + where +
		" ORDER BY occurred_at DESC, created_at DESC LIMIT ? OFFSET ?"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			logging.Warn().Err(err).Msg("failed to scan alert row")
			continue
		}
		alerts = append(alerts, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return alerts, nil
}

// Count returns the number of alerts matching the filter.
func (s *DuckDBSink) Count(ctx context.Context, filter models.AlertFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := buildFilter(filter)
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return count, nil
}

const selectColumns = `SELECT
	id, kind, severity, account_id, account_email,
	occurred_at, CAST(evidence AS VARCHAR) as evidence, recommended_action,
	remediation_status, dedupe_key, created_at`

// buildFilter renders the WHERE clause for an alert filter.
func buildFilter(filter models.AlertFilter) (string, []any) {
	var conds []string
	var args []any

	if filter.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.Severity != "" {
		conds = append(conds, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.Account != "" {
		conds = append(conds, "(account_id = ? OR account_email = ?)")
		args = append(args, filter.Account, filter.Account)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		alert             models.Alert
		accountID         sql.NullString
		evidence          sql.NullString
		recommendedAction sql.NullString
		severity          string
		remediation       string
		occurredAt        time.Time
		createdAt         time.Time
	)

	err := row.Scan(
		&alert.ID, &alert.Kind, &severity, &accountID, &alert.AccountEmail,
		&occurredAt, &evidence, &recommendedAction,
		&remediation, &alert.DedupeKey, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	alert.Severity = models.Severity(severity)
	alert.RemediationStatus = models.RemediationStatus(remediation)
	alert.AccountID = accountID.String
	alert.RecommendedAction = recommendedAction.String
	alert.OccurredAt = occurredAt.UTC()
	alert.CreatedAt = createdAt.UTC()
	if evidence.Valid && evidence.String != "" {
		alert.Evidence = json.RawMessage(evidence.String)
	}
	return &alert, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
