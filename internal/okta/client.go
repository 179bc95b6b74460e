// OktaGuard - Identity Provider Account-Risk Scanner
// Copyright 2026 OktaGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oktaguard/oktaguard

// Package okta implements the identity-provider adapter: paginated system
// log retrieval, user and factor listing, and the account suspend action.
//
// All calls go through a shared rate limiter and a circuit breaker so a
// degraded provider API cannot stall scan passes indefinitely.
package okta

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/oktaguard/oktaguard/internal/config"
	"github.com/oktaguard/oktaguard/internal/metrics"
	"github.com/oktaguard/oktaguard/internal/models"
)

const (
	logPageLimit  = 1000
	userPageLimit = 200
)

// APIError is a non-2xx response from the provider API.
type APIError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("okta %s: status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// IsTransient reports whether the error is worth retrying on the next
// scan pass: server errors and rate limiting, but not client errors.
func (e *APIError) IsTransient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsTransient classifies an error from this package. Network-level
// failures (timeouts, connection resets) count as transient; a 4xx API
// response is a permanent rejection.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsTransient()
	}
	// Anything that is not an explicit API rejection came from the
	// transport or the breaker and may clear up on its own.
	return err != nil
}

// Client is the Okta API client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	breaker *breaker
}

// NewClient creates a provider client from configuration.
func NewClient(cfg config.OktaConfig) *Client {
	return &Client{
		baseURL: "https://" + cfg.Domain,
		token:   cfg.APIToken,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		breaker: newBreaker("okta-api"),
	}
}

// do executes one HTTP request through the rate limiter and circuit
// breaker, returning the response body on 2xx and an *APIError otherwise.
func (c *Client) do(ctx context.Context, operation, method, rawURL string, body any) ([]byte, http.Header, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	start := time.Now()
	data, header, err := c.breaker.execute(func() ([]byte, http.Header, error) {
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
		if err != nil {
			return nil, nil, err
		}
		req.Header.Set("Authorization", "SSWS "+c.token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return nil, nil, fmt.Errorf("read response body: %w", err)
		}

		if resp.StatusCode >= 400 {
			return nil, nil, &APIError{
				Operation:  operation,
				StatusCode: resp.StatusCode,
				Body:       truncate(string(data), 200),
			}
		}
		return data, resp.Header, nil
	})
	metrics.OktaRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.OktaRequests.WithLabelValues(operation, status).Inc()

	return data, header, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// systemLogEvent mirrors the provider's system log wire format.
type systemLogEvent struct {
	EventType string `json:"eventType"`
	Published string `json:"published"`
	Outcome   struct {
		Result string `json:"result"`
	} `json:"outcome"`
	Actor struct {
		ID          string `json:"id"`
		AlternateID string `json:"alternateId"`
		DisplayName string `json:"displayName"`
	} `json:"actor"`
	Client struct {
		IPAddress           string `json:"ipAddress"`
		GeographicalContext struct {
			Country string `json:"country"`
			City    string `json:"city"`
		} `json:"geographicalContext"`
	} `json:"client"`
}

func (e *systemLogEvent) toAuthEvent() models.AuthEvent {
	ts, err := time.Parse(time.RFC3339, e.Published)
	if err != nil {
		ts = time.Now().UTC()
	}
	email := e.Actor.AlternateID
	if email == "" {
		email = e.Actor.DisplayName
	}
	return models.AuthEvent{
		Type:       e.EventType,
		Outcome:    strings.ToUpper(e.Outcome.Result),
		ActorID:    e.Actor.ID,
		ActorEmail: email,
		Timestamp:  ts.UTC(),
		SourceIP:   e.Client.IPAddress,
		Country:    strings.ToUpper(e.Client.GeographicalContext.Country),
		City:       e.Client.GeographicalContext.City,
	}
}

// ForEachEvent streams system log events published at or after since,
// following rel="next" pagination links until the log is exhausted at call
// time. The callback's error stops iteration and is returned unchanged.
func (c *Client) ForEachEvent(ctx context.Context, since time.Time, fn func(models.AuthEvent) error) error {
	next := fmt.Sprintf("%s/api/v1/logs?since=%s&limit=%d",
		c.baseURL, url.QueryEscape(since.UTC().Format(time.RFC3339)), logPageLimit)

	for next != "" {
		data, header, err := c.do(ctx, "logs", http.MethodGet, next, nil)
		if err != nil {
			return fmt.Errorf("fetch system log page: %w", err)
		}

		var page []systemLogEvent
		if err := json.Unmarshal(data, &page); err != nil {
			return fmt.Errorf("decode system log page: %w", err)
		}
		if len(page) == 0 {
			return nil
		}

		for i := range page {
			if err := fn(page[i].toAuthEvent()); err != nil {
				return err
			}
		}

		next = parseNextLink(header.Get("Link"))
	}
	return nil
}

// ListUsers returns all active accounts, following pagination.
func (c *Client) ListUsers(ctx context.Context) ([]models.Account, error) {
	type userRecord struct {
		ID      string `json:"id"`
		Profile struct {
			Email string `json:"email"`
			Login string `json:"login"`
		} `json:"profile"`
	}

	var out []models.Account
	next := fmt.Sprintf("%s/api/v1/users?limit=%d", c.baseURL, userPageLimit)

	for next != "" {
		data, header, err := c.do(ctx, "users", http.MethodGet, next, nil)
		if err != nil {
			return nil, fmt.Errorf("fetch users page: %w", err)
		}

		var page []userRecord
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("decode users page: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, u := range page {
			email := u.Profile.Email
			if email == "" {
				email = u.Profile.Login
			}
			out = append(out, models.Account{ID: u.ID, Email: email})
		}

		next = parseNextLink(header.Get("Link"))
	}
	return out, nil
}

// ListFactors returns the enrolled MFA factors for an account.
func (c *Client) ListFactors(ctx context.Context, accountID string) ([]models.Factor, error) {
	type factorRecord struct {
		FactorType string `json:"factorType"`
		Provider   string `json:"provider"`
	}

	u := fmt.Sprintf("%s/api/v1/users/%s/factors", c.baseURL, url.PathEscape(accountID))
	data, _, err := c.do(ctx, "factors", http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch factors for %s: %w", accountID, err)
	}

	var records []factorRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode factors: %w", err)
	}

	factors := make([]models.Factor, 0, len(records))
	for _, r := range records {
		factors = append(factors, models.Factor{
			Type:     strings.ToLower(r.FactorType),
			Provider: strings.ToLower(r.Provider),
		})
	}
	return factors, nil
}

// SuspendUser suspends the account via the provider's lifecycle API.
// Suspension is not safe to blindly repeat; callers invoke this at most
// once per alert and surface failures instead of retrying.
func (c *Client) SuspendUser(ctx context.Context, accountID string) error {
	u := fmt.Sprintf("%s/api/v1/users/%s/lifecycle/suspend", c.baseURL, url.PathEscape(accountID))
	if _, _, err := c.do(ctx, "suspend", http.MethodPost, u, nil); err != nil {
		return fmt.Errorf("suspend user %s: %w", accountID, err)
	}
	return nil
}

// parseNextLink extracts the rel="next" URL from a Link header, or "".
func parseNextLink(link string) string {
	for _, part := range strings.Split(link, ",") {
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		seg := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if strings.HasPrefix(seg, "<") && strings.HasSuffix(seg, ">") {
			return seg[1 : len(seg)-1]
		}
	}
	return ""
}
