// OktaGuard - Identity Provider Account-Risk Scanner
// Copyright 2026 OktaGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oktaguard/oktaguard

// Package config provides layered configuration loading for OktaGuard
// using koanf: struct defaults, then an optional YAML file, then
// environment variables, with validation collecting all errors.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the root configuration for the OktaGuard process.
type Config struct {
	Okta      OktaConfig      `koanf:"okta"`
	Detection DetectionConfig `koanf:"detection"`
	Scan      ScanConfig      `koanf:"scan"`
	Store     StoreConfig     `koanf:"store"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// OktaConfig holds identity-provider API connection settings.
//
// Environment Variables:
//   - OKTA_DOMAIN: Okta org domain (e.g. example.okta.com)
//   - OKTA_API_TOKEN: API token with log read + user lifecycle scopes
type OktaConfig struct {
	Domain   string        `koanf:"domain"`
	APIToken string        `koanf:"api_token"`
	Timeout  time.Duration `koanf:"timeout"`

	// RateLimit caps outbound API calls per second; Okta org-level limits
	// are easy to exhaust during a large backfill.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
}

// DetectionConfig holds the rule engine and escalation parameters.
type DetectionConfig struct {
	// BusinessTimezone is the IANA name of the org's local business
	// timezone used for off-hours evaluation.
	BusinessTimezone string `koanf:"business_timezone"`

	// Business hours form a half-open local-hour interval [start, end).
	BusinessHoursStart int `koanf:"business_hours_start"`
	BusinessHoursEnd   int `koanf:"business_hours_end"`

	// BruteFailThreshold is the failure count at or above which a
	// subsequent success inside BruteWindow triggers a finding.
	BruteFailThreshold int           `koanf:"brute_fail_threshold"`
	BruteWindow        time.Duration `koanf:"brute_window"`

	// AutoSuspendKinds lists base finding kinds eligible for auto-suspend.
	AutoSuspendKinds []string `koanf:"auto_suspend_kinds"`

	// Factor cache bounds staleness of MFA lookups during escalation.
	FactorCacheSize int           `koanf:"factor_cache_size"`
	FactorCacheTTL  time.Duration `koanf:"factor_cache_ttl"`
}

// ScanConfig holds scan coordinator scheduling settings.
type ScanConfig struct {
	// Interval between timer-driven scan passes.
	Interval time.Duration `koanf:"interval"`

	// InitialLookback is how far back the first scan reaches when no
	// cursor has been persisted yet.
	InitialLookback time.Duration `koanf:"initial_lookback"`

	// SuspendTimeout bounds a single suspend call so a slow provider
	// cannot hold the scan lock indefinitely.
	SuspendTimeout time.Duration `koanf:"suspend_timeout"`
}

// StoreConfig holds durable storage paths.
type StoreConfig struct {
	// StateDir is the BadgerDB directory for account state and the cursor.
	StateDir string `koanf:"state_dir"`

	// AlertsPath is the DuckDB database file for the alert log.
	AlertsPath string `koanf:"alerts_path"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Okta: OktaConfig{
			Domain:    "",
			APIToken:  "",
			Timeout:   30 * time.Second,
			RateLimit: 10,
			RateBurst: 20,
		},
		Detection: DetectionConfig{
			BusinessTimezone:   "UTC",
			BusinessHoursStart: 9,
			BusinessHoursEnd:   18,
			BruteFailThreshold: 5,
			BruteWindow:        15 * time.Minute,
			AutoSuspendKinds:   []string{"bruteforce_success", "unusual_geo"},
			FactorCacheSize:    1024,
			FactorCacheTTL:     5 * time.Minute,
		},
		Scan: ScanConfig{
			Interval:        60 * time.Second,
			InitialLookback: 60 * time.Minute,
			SuspendTimeout:  15 * time.Second,
		},
		Store: StoreConfig{
			StateDir:   "/data/state",
			AlertsPath: "/data/alerts.duckdb",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8287,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration for consistency. All problems are
// collected and returned as a single joined error.
func (c *Config) Validate() error {
	var errs []error

	if c.Okta.Domain == "" {
		errs = append(errs, errors.New("okta.domain is required"))
	}
	if c.Okta.APIToken == "" {
		errs = append(errs, errors.New("okta.api_token is required"))
	}
	if c.Okta.Timeout <= 0 {
		errs = append(errs, errors.New("okta.timeout must be positive"))
	}

	if _, err := time.LoadLocation(c.Detection.BusinessTimezone); err != nil {
		errs = append(errs, fmt.Errorf("detection.business_timezone: %w", err))
	}
	if c.Detection.BusinessHoursStart < 0 || c.Detection.BusinessHoursStart > 23 {
		errs = append(errs, fmt.Errorf("detection.business_hours_start %d out of range [0,23]", c.Detection.BusinessHoursStart))
	}
	if c.Detection.BusinessHoursEnd < 1 || c.Detection.BusinessHoursEnd > 24 {
		errs = append(errs, fmt.Errorf("detection.business_hours_end %d out of range [1,24]", c.Detection.BusinessHoursEnd))
	}
	if c.Detection.BusinessHoursStart >= c.Detection.BusinessHoursEnd {
		errs = append(errs, errors.New("detection.business_hours_start must be before business_hours_end"))
	}
	if c.Detection.BruteFailThreshold < 1 {
		errs = append(errs, errors.New("detection.brute_fail_threshold must be at least 1"))
	}
	if c.Detection.BruteWindow <= 0 {
		errs = append(errs, errors.New("detection.brute_window must be positive"))
	}

	if c.Scan.Interval <= 0 {
		errs = append(errs, errors.New("scan.interval must be positive"))
	}
	if c.Scan.InitialLookback <= 0 {
		errs = append(errs, errors.New("scan.initial_lookback must be positive"))
	}

	if c.Store.StateDir == "" {
		errs = append(errs, errors.New("store.state_dir is required"))
	}
	if c.Store.AlertsPath == "" {
		errs = append(errs, errors.New("store.alerts_path is required"))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}

	return errors.Join(errs...)
}

// BusinessLocation resolves the configured business timezone. Validate
// guarantees this succeeds on a validated config.
func (c *Config) BusinessLocation() (*time.Location, error) {
	return time.LoadLocation(c.Detection.BusinessTimezone)
}
