// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/shadowcheck/internal/metrics"
)

// JournalMaintainer matches the maintenance surface of the sink journal.
//
// Satisfied by *wal.Journal from internal/wal.
type JournalMaintainer interface {
	RunGC() error
	Len(ctx context.Context) (int, error)
}

// JournalService periodically reclaims journal space and refreshes the
// pending-entries gauge. Replay itself happens at the start of each
// analysis run.
type JournalService struct {
	journal  JournalMaintainer
	interval time.Duration
	logger   zerolog.Logger
	name     string
}

// NewJournalService creates a journal maintenance service. A non-positive
// interval defaults to 10 minutes.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewJournalService(journal JournalMaintainer, interval time.Duration, logger zerolog.Logger) *JournalService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &JournalService{
		journal:  journal,
		interval: interval,
		logger:   logger.With().Str("service", "journal").Logger(),
		name:     "journal-maintenance",
	}
}

// Serve implements the suture.Service interface.
func (s *JournalService) Serve(ctx context.Context) error {
	s.refreshPending(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			if err := s.journal.RunGC(); err != nil {
				s.logger.Warn().Err(err).Msg("journal value-log GC failed")
			}
			s.refreshPending(ctx)
		}
	}
}

func (s *JournalService) refreshPending(ctx context.Context) {
	n, err := s.journal.Len(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to count pending journal entries")
		return
	}
	metrics.JournalPending.Set(float64(n))
	if n > 0 {
		s.logger.Debug().Int("pending", n).Msg("journal has pending entries")
	}
}

// String returns the service name for logging.
func (s *JournalService) String() string {
	return s.name
}
