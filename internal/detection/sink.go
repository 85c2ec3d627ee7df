// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package detection

import (
	"context"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/shadowcheck/internal/logging"
	"github.com/tomtom215/shadowcheck/internal/metrics"
	"github.com/tomtom215/shadowcheck/internal/wal"
)

const sinkBreakerName = "anomaly-sink"

// SinkConfig tunes retries and the circuit breaker around anomaly writes.
type SinkConfig struct {
	// MaxAttempts is the total number of tries per record, including the first.
	MaxAttempts int `json:"max_attempts" koanf:"max_attempts" validate:"min=1,max=20"`

	// InitialBackoff is the wait before the first retry. It doubles per retry.
	InitialBackoff time.Duration `json:"initial_backoff" koanf:"initial_backoff" validate:"gte=0"`

	// MaxBackoff caps the wait between retries.
	MaxBackoff time.Duration `json:"max_backoff" koanf:"max_backoff" validate:"gtefield=InitialBackoff"`

	// BreakerFailures is the consecutive failure count that opens the breaker.
	BreakerFailures uint32 `json:"breaker_failures" koanf:"breaker_failures" validate:"min=1"`

	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration `json:"breaker_timeout" koanf:"breaker_timeout" validate:"gt=0"`
}

// DefaultSinkConfig returns the sink defaults.
func DefaultSinkConfig() SinkConfig {
	return SinkConfig{
		MaxAttempts:     3,
		InitialBackoff:  200 * time.Millisecond,
		MaxBackoff:      5 * time.Second,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

// Journal holds anomaly writes that exhausted their retries so a later run
// can replay them. Implemented by wal.Journal.
type Journal interface {
	Write(ctx context.Context, id string, payload any) error
	Pending(ctx context.Context) ([]*wal.Entry, error)
	Confirm(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id string, cause error) (int, error)
	Config() wal.Config
}

// Sink writes anomaly records to an AnomalyStore with bounded retries.
// Writes are keyed by DedupKey, so retrying a write that actually landed
// is harmless.
type Sink struct {
	store   AnomalyStore
	config  SinkConfig
	breaker *gobreaker.CircuitBreaker[int64]
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewSink wraps store with retries and a circuit breaker.
func NewSink(store AnomalyStore, cfg SinkConfig) *Sink {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Sink{
		store:   store,
		config:  cfg,
		breaker: newBreaker[int64](sinkBreakerName, cfg.BreakerFailures, cfg.BreakerTimeout),
		sleep:   wal.Sleep,
	}
}

// Upsert writes record, retrying transient failures with exponential
// backoff. On success record.ID is set. A rejected call from an open
// breaker is not retried. The returned error is a *SinkFailure.
func (s *Sink) Upsert(ctx context.Context, record *AnomalyRecord) (int64, error) {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt < s.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			metrics.SinkRetries.Inc()
			delay := wal.Backoff(s.config.InitialBackoff, s.config.MaxBackoff, attempt-1)
			if err := s.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}

		attempts++
		id, err := s.breaker.Execute(func() (int64, error) {
			return s.store.UpsertAnomaly(ctx, record)
		})
		recordBreakerResult(sinkBreakerName, err)
		if err == nil {
			record.ID = id
			metrics.RecordUpsert(string(record.DetectorType), string(record.ClassificationLabel))
			return id, nil
		}

		lastErr = err
		logging.Ctx(ctx).Warn().
			Err(err).
			Str("dedup_key", record.DedupKey).
			Int("attempt", attempts).
			Msg("Anomaly upsert failed")

		if isBreakerRejection(err) || ctx.Err() != nil {
			break
		}
	}

	metrics.SinkFailures.Inc()
	return 0, &SinkFailure{DedupKey: record.DedupKey, Attempts: attempts, Err: lastErr}
}

// State reports the breaker state as a string.
func (s *Sink) State() string {
	return stateToString(s.breaker.State())
}
