// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package services

import (
	"context"
	"fmt"
)

// StartStopper matches the scheduler lifecycle.
//
// Satisfied by *scheduler.Scheduler from internal/scheduler.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop()
	IsRunning() bool
}

// AnalysisService wraps the analysis scheduler as a supervised service.
//
// It adapts the Start/Stop lifecycle pattern to suture's Serve pattern:
//  1. Calls Start(ctx) to begin the ticker loop
//  2. Waits for context cancellation
//  3. Calls Stop(), which waits for an in-flight run to return
//
// Example usage:
//
//	sched := scheduler.New(engine, scheduler.Config{Interval: time.Hour})
//	tree.AddAnalysisService(services.NewAnalysisService(sched))
type AnalysisService struct {
	scheduler StartStopper
	name      string
}

// NewAnalysisService creates a new scheduler service wrapper.
func NewAnalysisService(scheduler StartStopper) *AnalysisService {
	return &AnalysisService{
		scheduler: scheduler,
		name:      "analysis-scheduler",
	}
}

// Serve implements suture.Service.
//
// If Start fails, the error is returned immediately so suture restarts the
// service according to its backoff policy.
func (s *AnalysisService) Serve(ctx context.Context) error {
	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("analysis scheduler start failed: %w", err)
	}

	<-ctx.Done()

	s.scheduler.Stop()

	return ctx.Err()
}

// String implements fmt.Stringer for logging.
// Suture uses this to identify the service in log messages.
func (s *AnalysisService) String() string {
	return s.name
}
