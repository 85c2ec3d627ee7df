// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package detection

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoAnomalies is returned when promotion is requested for an empty set.
	ErrNoAnomalies = errors.New("no anomaly ids given")

	// ErrRunInProgress is returned when a run is requested while one is active.
	ErrRunInProgress = errors.New("analysis run already in progress")

	// ErrMissingDedupKey is returned when a record reaches a store unkeyed.
	ErrMissingDedupKey = errors.New("anomaly record has no dedup key")
)

// ConfigurationError means a detector cannot run with the data it was
// given. The detector yields no findings; the run continues.
type ConfigurationError struct {
	Detector DetectorType
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Detector, e.Reason)
}

func missingReference(t DetectorType) error {
	return &ConfigurationError{Detector: t, Reason: "no reference locations configured"}
}

// DetectorFailure wraps an unexpected error or panic inside one detector.
type DetectorFailure struct {
	Detector DetectorType
	Err      error
}

func (e *DetectorFailure) Error() string {
	return fmt.Sprintf("detector %s failed: %v", e.Detector, e.Err)
}

func (e *DetectorFailure) Unwrap() error { return e.Err }

// SinkFailure means an anomaly could not be written after all retries.
type SinkFailure struct {
	DedupKey string
	Attempts int
	Err      error
}

func (e *SinkFailure) Error() string {
	return fmt.Sprintf("upsert %s failed after %d attempts: %v", e.DedupKey, e.Attempts, e.Err)
}

func (e *SinkFailure) Unwrap() error { return e.Err }
