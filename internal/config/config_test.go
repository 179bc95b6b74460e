// OktaGuard - Identity Provider Account-Risk Scanner
// Copyright 2026 OktaGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oktaguard/oktaguard

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OKTA_DOMAIN", "example.okta.com")
	t.Setenv("OKTA_API_TOKEN", "00secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Okta.Domain != "example.okta.com" {
		t.Errorf("domain = %q", cfg.Okta.Domain)
	}
	if cfg.Detection.BruteFailThreshold != 5 {
		t.Errorf("threshold = %d", cfg.Detection.BruteFailThreshold)
	}
	if cfg.Detection.BruteWindow != 15*time.Minute {
		t.Errorf("window = %v", cfg.Detection.BruteWindow)
	}
	if cfg.Detection.BusinessHoursStart != 9 || cfg.Detection.BusinessHoursEnd != 18 {
		t.Errorf("hours = [%d,%d)", cfg.Detection.BusinessHoursStart, cfg.Detection.BusinessHoursEnd)
	}
	if cfg.Scan.Interval != 60*time.Second {
		t.Errorf("interval = %v", cfg.Scan.Interval)
	}
	if cfg.Scan.InitialLookback != 60*time.Minute {
		t.Errorf("lookback = %v", cfg.Scan.InitialLookback)
	}
	if cfg.Server.Port != 8287 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if len(cfg.Detection.AutoSuspendKinds) != 2 {
		t.Errorf("auto_suspend_kinds = %v", cfg.Detection.AutoSuspendKinds)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("OKTA_DOMAIN", "")
	t.Setenv("OKTA_API_TOKEN", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "okta.domain") || !strings.Contains(msg, "okta.api_token") {
		t.Errorf("error should name both missing fields: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ORG_TZ", "America/New_York")
	t.Setenv("BRUTE_FAIL_THRESHOLD", "7")
	t.Setenv("BRUTE_WINDOW", "30m")
	t.Setenv("SCAN_INTERVAL", "5m")
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("AUTO_SUSPEND_KINDS", "bruteforce_success")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Detection.BusinessTimezone != "America/New_York" {
		t.Errorf("tz = %q", cfg.Detection.BusinessTimezone)
	}
	if cfg.Detection.BruteFailThreshold != 7 {
		t.Errorf("threshold = %d", cfg.Detection.BruteFailThreshold)
	}
	if cfg.Detection.BruteWindow != 30*time.Minute {
		t.Errorf("window = %v", cfg.Detection.BruteWindow)
	}
	if cfg.Scan.Interval != 5*time.Minute {
		t.Errorf("interval = %v", cfg.Scan.Interval)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if len(cfg.Detection.AutoSuspendKinds) != 1 || cfg.Detection.AutoSuspendKinds[0] != "bruteforce_success" {
		t.Errorf("auto_suspend_kinds = %v", cfg.Detection.AutoSuspendKinds)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
}

func TestLoadConfigFile(t *testing.T) {
	setRequiredEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
detection:
  brute_fail_threshold: 3
  business_hours_start: 8
scan:
  interval: 2m
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Detection.BruteFailThreshold != 3 {
		t.Errorf("threshold = %d", cfg.Detection.BruteFailThreshold)
	}
	if cfg.Detection.BusinessHoursStart != 8 {
		t.Errorf("start = %d", cfg.Detection.BusinessHoursStart)
	}
	if cfg.Scan.Interval != 2*time.Minute {
		t.Errorf("interval = %v", cfg.Scan.Interval)
	}
	// Untouched fields keep their defaults.
	if cfg.Detection.BusinessHoursEnd != 18 {
		t.Errorf("end = %d", cfg.Detection.BusinessHoursEnd)
	}
}

func TestEnvBeatsConfigFile(t *testing.T) {
	setRequiredEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("detection:\n  brute_fail_threshold: 3\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("BRUTE_FAIL_THRESHOLD", "9")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Detection.BruteFailThreshold != 9 {
		t.Errorf("threshold = %d, env should win", cfg.Detection.BruteFailThreshold)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := defaultConfig()
		c.Okta.Domain = "example.okta.com"
		c.Okta.APIToken = "tok"
		return c
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		substr string
	}{
		{"bad timezone", func(c *Config) { c.Detection.BusinessTimezone = "Nope/Nope" }, "business_timezone"},
		{"hours start out of range", func(c *Config) { c.Detection.BusinessHoursStart = 24 }, "business_hours_start"},
		{"hours inverted", func(c *Config) { c.Detection.BusinessHoursStart = 18; c.Detection.BusinessHoursEnd = 9 }, "before"},
		{"zero threshold", func(c *Config) { c.Detection.BruteFailThreshold = 0 }, "brute_fail_threshold"},
		{"negative window", func(c *Config) { c.Detection.BruteWindow = -time.Minute }, "brute_window"},
		{"zero interval", func(c *Config) { c.Scan.Interval = 0 }, "scan.interval"},
		{"empty state dir", func(c *Config) { c.Store.StateDir = "" }, "state_dir"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "port"},
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.substr) {
				t.Errorf("error %q should mention %q", err, tt.substr)
			}
		})
	}
}
