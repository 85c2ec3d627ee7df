// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/shadowcheck/internal/config"
	"github.com/tomtom215/shadowcheck/internal/detection"
	"github.com/tomtom215/shadowcheck/internal/logging"
	"github.com/tomtom215/shadowcheck/internal/scheduler"
	"github.com/tomtom215/shadowcheck/internal/supervisor"
	"github.com/tomtom215/shadowcheck/internal/supervisor/services"
)

// journalMaintenanceInterval is how often the journal is garbage collected
// and its backlog gauge refreshed.
const journalMaintenanceInterval = 10 * time.Minute

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		logging.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}

	logging.Init(cfg.Logging.LoggerConfig())
	logging.Info().
		Str("backend", cfg.Database.Backend).
		Str("db_path", cfg.Database.Path).
		Bool("run_once", cfg.Analysis.RunOnce).
		Msg("Starting ShadowCheck")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to initialize")
		return 1
	}
	defer a.Close()

	if cfg.Analysis.RunOnce {
		return runOnce(ctx, a.engine)
	}
	return serve(ctx, a)
}

// runOnce performs a single analysis run. Partial runs exit 0; the report
// records what degraded.
func runOnce(ctx context.Context, engine *detection.Engine) int {
	report, err := engine.Run(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Analysis run failed")
		return 1
	}
	logging.Info().
		Str("run_id", report.RunID).
		Str("status", string(report.Status)).
		Int("findings", report.Findings).
		Int("incidents_created", report.IncidentsCreated).
		Msg("Analysis run finished")
	return 0
}

func serve(ctx context.Context, a *app) int {
	cfg := a.cfg

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout + 5*time.Second,
	})
	if err != nil {
		logging.Error().Err(err).Msg("Failed to create supervisor tree")
		return 1
	}

	// Data layer
	if a.journal != nil {
		tree.AddDataService(services.NewJournalService(a.journal, journalMaintenanceInterval, logging.WithComponent("journal")))
	}

	// Analysis layer
	sched := scheduler.New(a.engine, scheduler.Config{
		Interval:   cfg.Analysis.Interval,
		RunOnStart: cfg.Analysis.RunOnStart,
	})
	tree.AddAnalysisService(services.NewAnalysisService(sched))

	// API layer
	if cfg.Server.Enabled {
		server := &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           a.router().Setup(),
			ReadTimeout:       cfg.Server.ReadTimeout,
			ReadHeaderTimeout: cfg.Server.ReadTimeout,
			WriteTimeout:      cfg.Server.WriteTimeout,
			IdleTimeout:       60 * time.Second,
		}
		tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
		logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")
	} else {
		logging.Info().Msg("HTTP server disabled")
	}

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	var serveErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Received shutdown signal, waiting for supervisor to finish...")
		serveErr = <-errCh
	case serveErr = <-errCh:
	}

	exitCode := 0
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		logging.Error().Err(serveErr).Msg("Supervisor tree error")
		exitCode = 1
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("ShadowCheck stopped")
	return exitCode
}
