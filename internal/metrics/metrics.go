// OktaGuard - Identity Provider Account-Risk Scanner
// Copyright 2026 OktaGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oktaguard/oktaguard

// Package metrics provides Prometheus metrics for OktaGuard, exposed at
// the /metrics endpoint in Prometheus text format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scan metrics
	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scan_duration_seconds",
			Help:    "Duration of scan passes in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
	)

	ScanEventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scan_events_processed_total",
			Help: "Total number of audit events evaluated",
		},
	)

	ScanErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_errors_total",
			Help: "Total number of scan errors",
		},
		[]string{"stage"}, // fetch, evaluate, escalate, persist, cursor
	)

	ScansRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scans_rejected_total",
			Help: "Scan triggers rejected because a scan was already running",
		},
	)

	ScanLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scan_last_success_timestamp",
			Help: "Unix timestamp of the last successful scan pass",
		},
	)

	// Alert metrics
	AlertsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_generated_total",
			Help: "Total number of alerts persisted",
		},
		[]string{"kind", "severity"},
	)

	AlertsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_deduplicated_total",
			Help: "Alert writes skipped because the dedupe key already existed",
		},
	)

	// Remediation metrics
	RemediationActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remediation_actions_total",
			Help: "Suspend attempts by outcome",
		},
		[]string{"mode", "outcome"}, // mode: auto, manual; outcome: success, failure
	)

	// Provider API metrics
	OktaRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "okta_api_requests_total",
			Help: "Total requests to the Okta API",
		},
		[]string{"operation", "status"}, // operation: logs, users, factors, suspend
	)

	OktaRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "okta_api_request_duration_seconds",
			Help:    "Duration of Okta API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)
