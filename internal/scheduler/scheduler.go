// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

// Package scheduler runs the analysis engine on a fixed interval.
//
// The scheduler owns one goroutine. Ticks, the optional start-up run and
// Trigger requests all execute on it, so scheduled runs never overlap.
// A run already started elsewhere (for example through the API) makes a
// scheduled run skip rather than queue.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/shadowcheck/internal/detection"
	"github.com/tomtom215/shadowcheck/internal/logging"
	"github.com/tomtom215/shadowcheck/internal/metrics"
)

// Runner performs one analysis run. Satisfied by *detection.Engine.
type Runner interface {
	Run(ctx context.Context) (*detection.RunReport, error)
}

// Config holds scheduler configuration.
type Config struct {
	// Interval is the time between runs (default: 1 hour).
	Interval time.Duration

	// RunOnStart runs once as soon as the scheduler starts.
	RunOnStart bool
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:   time.Hour,
		RunOnStart: true,
	}
}

// Scheduler triggers engine runs on a ticker.
type Scheduler struct {
	runner Runner
	config Config
	logger zerolog.Logger

	triggerCh chan struct{}

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a scheduler for runner.
func New(runner Runner, config Config) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	return &Scheduler{
		runner:    runner,
		config:    config,
		logger:    logging.WithComponent("scheduler"),
		triggerCh: make(chan struct{}, 1),
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	s.logger.Info().
		Dur("interval", s.config.Interval).
		Bool("run_on_start", s.config.RunOnStart).
		Msg("Starting analysis scheduler")

	go s.loop(ctx, s.stopCh, s.doneCh)
	return nil
}

// Stop stops the scheduler loop and waits for an in-flight run to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.running = false
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
	s.logger.Info().Msg("Analysis scheduler stopped")
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Trigger requests an immediate run on the scheduler goroutine. It returns
// false if a request is already pending.
func (s *Scheduler) Trigger() bool {
	select {
	case s.triggerCh <- struct{}{}:
		return true
	default:
		metrics.RecordRunSkipped("trigger")
		return false
	}
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	// Stop cancels an in-flight run as well as the loop.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if s.config.RunOnStart {
		s.runOnce(ctx, "startup")
	}

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx, "interval")
		case <-s.triggerCh:
			s.runOnce(ctx, "trigger")
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, trigger string) {
	if ctx.Err() != nil {
		return
	}
	report, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, detection.ErrRunInProgress):
		metrics.RecordRunSkipped(trigger)
		s.logger.Debug().Str("trigger", trigger).Msg("Run skipped, previous run still active")
	case err != nil:
		evt := s.logger.Warn().Err(err).Str("trigger", trigger)
		if report != nil {
			evt = evt.Str("run_id", report.RunID).Str("status", string(report.Status))
		}
		evt.Msg("Scheduled analysis run did not complete")
	default:
		s.logger.Debug().
			Str("trigger", trigger).
			Str("run_id", report.RunID).
			Str("status", string(report.Status)).
			Msg("Scheduled analysis run complete")
	}
}
