// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package main

import (
	"context"
	"fmt"

	"github.com/tomtom215/shadowcheck/internal/api"
	"github.com/tomtom215/shadowcheck/internal/config"
	"github.com/tomtom215/shadowcheck/internal/database"
	"github.com/tomtom215/shadowcheck/internal/detection"
	"github.com/tomtom215/shadowcheck/internal/eventprocessor"
	"github.com/tomtom215/shadowcheck/internal/logging"
	"github.com/tomtom215/shadowcheck/internal/wal"
)

// backendStore is what both storage backends provide.
type backendStore interface {
	detection.Store
	detection.ObservationRepository
}

// app holds every long-lived component so shutdown can release them in
// reverse order.
type app struct {
	cfg     *config.Config
	db      *database.DB
	store   backendStore
	journal *wal.Journal
	events  *detection.EventPublisher
	engine  *detection.Engine
}

// newApp builds the store, journal, publisher and engine described by cfg.
// On error, anything already opened is closed.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	steps := []func() error{
		func() error { return a.openStore(ctx) },
		a.openJournal,
		a.openEvents,
		a.buildEngine,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Database.Backend {
	case config.BackendMemory:
		logging.Warn().Msg("Using in-memory store; anomalies will not survive a restart")
		a.store = detection.NewMemoryStore()
		return nil
	default:
		db, err := database.New(&a.cfg.Database)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		a.db = db
		store := detection.NewDuckDBStore(db.Conn())
		if err := store.InitSchema(ctx); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}
		a.store = store
		return nil
	}
}

func (a *app) openJournal() error {
	if !a.cfg.WAL.Enabled {
		logging.Info().Msg("Write-ahead journal disabled")
		return nil
	}
	j, err := wal.Open(a.cfg.WAL)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	a.journal = j
	return nil
}

func (a *app) openEvents() error {
	if !a.cfg.NATS.Enabled {
		return nil
	}
	if !eventprocessor.NATSAvailable {
		logging.Warn().Msg("NATS enabled in config but binary built without -tags nats; events disabled")
		return nil
	}
	pub, err := eventprocessor.NewNATSPublisher(a.cfg.NATS, eventprocessor.NewZerologAdapter())
	if err != nil {
		return fmt.Errorf("create NATS publisher: %w", err)
	}
	a.events = detection.NewEventPublisher(pub, a.cfg.NATS.TopicPrefix)
	logging.Info().
		Str("url", a.cfg.NATS.URL).
		Str("anomaly_topic", a.events.AnomalyTopic()).
		Str("incident_topic", a.events.IncidentTopic()).
		Msg("Event publishing enabled")
	return nil
}

func (a *app) buildEngine() error {
	engineCfg, err := a.cfg.EngineConfig()
	if err != nil {
		return err
	}
	e := detection.NewEngine(a.store, a.store, engineCfg)
	for _, d := range detection.NewDetectors(a.cfg.Detection) {
		e.RegisterDetector(d)
	}
	if a.journal != nil {
		e.SetJournal(a.journal)
	}
	if a.events != nil {
		e.SetPublisher(a.events)
	}
	if a.cfg.Webhook.Enabled {
		e.RegisterNotifier(detection.NewWebhookNotifier(a.cfg.Webhook))
		logging.Info().Msg("Webhook notifier enabled")
	}
	a.engine = e

	enabled := 0
	for _, d := range e.ListDetectors() {
		if d.Enabled() {
			enabled++
		}
	}
	logging.Info().
		Int("detectors_enabled", enabled).
		Dur("window", engineCfg.Window).
		Float64("promotion_threshold", engineCfg.PromotionThreshold).
		Msg("Analysis engine ready")
	return nil
}

// router builds the HTTP handler tree for the API.
func (a *app) router() *api.Router {
	var pinger api.Pinger
	if a.db != nil {
		pinger = a.db
	}
	mwCfg := api.DefaultChiMiddlewareConfig()
	mwCfg.CORSAllowedOrigins = a.cfg.Server.CORSOrigins
	mwCfg.RateLimitRequests = a.cfg.Server.RateLimitReqs
	mwCfg.RateLimitWindow = a.cfg.Server.RateLimitWindow
	return api.NewRouter(api.NewHandler(a.store, a.engine, pinger), api.NewChiMiddleware(mwCfg))
}

// Close releases components in reverse order of creation.
func (a *app) Close() {
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event publisher")
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing journal")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}
}
