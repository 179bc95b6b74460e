// OktaGuard - Identity Provider Account-Risk Scanner
// Copyright 2026 OktaGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oktaguard/oktaguard

// Command server runs the OktaGuard scanner: a supervised scan loop
// against the identity provider's audit log plus the HTTP API for
// alerts, scan triggers, and manual remediation.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/oktaguard/oktaguard/internal/api"
	"github.com/oktaguard/oktaguard/internal/config"
	"github.com/oktaguard/oktaguard/internal/detection"
	"github.com/oktaguard/oktaguard/internal/escalation"
	"github.com/oktaguard/oktaguard/internal/logging"
	"github.com/oktaguard/oktaguard/internal/mfa"
	"github.com/oktaguard/oktaguard/internal/okta"
	"github.com/oktaguard/oktaguard/internal/scanner"
	"github.com/oktaguard/oktaguard/internal/server"
	"github.com/oktaguard/oktaguard/internal/store"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("version", version).Msg("oktaguard starting")

	states, err := store.OpenBadger(cfg.Store.StateDir)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer states.Close()

	alerts, err := store.OpenDuckDB(context.Background(), cfg.Store.AlertsPath)
	if err != nil {
		return fmt.Errorf("open alert store: %w", err)
	}
	defer alerts.Close()

	client := okta.NewClient(cfg.Okta)

	engine, err := detection.NewEngine(cfg.Detection)
	if err != nil {
		return fmt.Errorf("build detection engine: %w", err)
	}

	escalator := escalation.New(client, client, cfg.Detection, cfg.Scan.SuspendTimeout)
	auditor := mfa.NewEvaluator(client)
	locks := store.NewAccountLocks()

	coordinator := scanner.New(client, engine, escalator, auditor,
		states, alerts, locks, cfg.Scan.Interval, cfg.Scan.InitialLookback)

	handler := api.NewHandler(coordinator, alerts, client, locks, cfg.Scan.SuspendTimeout, version)
	router := api.NewRouter(handler, cfg.Server)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       120 * time.Second,
	}

	hook := (&sutureslog.Handler{Logger: logging.NewSlogLogger()}).MustHook()
	supervisor := suture.New("oktaguard", suture.Spec{
		EventHook:        hook,
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})
	supervisor.Add(coordinator)
	supervisor.Add(server.NewHTTPService(httpServer, 10*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	logging.Info().
		Str("addr", httpServer.Addr).
		Str("okta_domain", cfg.Okta.Domain).
		Msg("supervisor starting")

	err = supervisor.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info().Msg("oktaguard stopped")
	return nil
}
