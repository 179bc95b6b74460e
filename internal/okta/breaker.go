// OktaGuard - Identity Provider Account-Risk Scanner
// Copyright 2026 OktaGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oktaguard/oktaguard

package okta

import (
	"errors"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/oktaguard/oktaguard/internal/logging"
	"github.com/oktaguard/oktaguard/internal/metrics"
)

// breakerResult carries an HTTP response body and headers through the
// circuit breaker's generic result slot.
type breakerResult struct {
	body   []byte
	header http.Header
}

// breaker wraps every provider HTTP request with a circuit breaker so a
// failing or slow API trips fast instead of burning the scan pass on
// timeouts.
type breaker struct {
	cb   *gobreaker.CircuitBreaker[breakerResult]
	name string
}

// newBreaker creates a circuit breaker with the standard settings:
// opens after a 60% failure rate over at least 10 requests, allows 3
// probe requests in half-open state, and retries after 2 minutes.
func newBreaker(name string) *breaker {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[breakerResult](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("circuit breaker state transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, stateToString(from), stateToString(to)).Inc()
		},

		// 4xx responses are the caller's problem, not provider health.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.IsTransient()
			}
			return false
		},
	})

	return &breaker{cb: cb, name: name}
}

// execute runs one request through the breaker.
func (b *breaker) execute(fn func() ([]byte, http.Header, error)) ([]byte, http.Header, error) {
	result, err := b.cb.Execute(func() (breakerResult, error) {
		body, header, err := fn()
		return breakerResult{body: body, header: header}, err
	})
	if err != nil {
		return nil, nil, err
	}
	return result.body, result.header, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
