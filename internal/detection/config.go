// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package detection

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/shadowcheck/internal/validation"
)

// DualLocationConfig configures the dual-location detector.
type DualLocationConfig struct {
	Enabled bool `json:"enabled" koanf:"enabled"`

	// FarDistanceMeters is the minimum distance from a reference location
	// that counts as a "far" sighting.
	FarDistanceMeters float64 `json:"far_distance_meters" koanf:"far_distance_meters" validate:"gt=0"`

	// RegionalDistanceMeters and LongRangeDistanceMeters are the graduated
	// severity tiers above FarDistanceMeters.
	RegionalDistanceMeters  float64 `json:"regional_distance_meters" koanf:"regional_distance_meters" validate:"gtfield=FarDistanceMeters"`
	LongRangeDistanceMeters float64 `json:"long_range_distance_meters" koanf:"long_range_distance_meters" validate:"gtfield=RegionalDistanceMeters"`
}

// DefaultDualLocationConfig returns the dual-location defaults.
func DefaultDualLocationConfig() DualLocationConfig {
	return DualLocationConfig{
		Enabled:                 true,
		FarDistanceMeters:       2000,
		RegionalDistanceMeters:  20000,
		LongRangeDistanceMeters: 50000,
	}
}

// IdentifierSequenceConfig configures the identifier-sequence detector.
type IdentifierSequenceConfig struct {
	Enabled bool `json:"enabled" koanf:"enabled"`

	// PrefixOctets is how many leading octets siblings must share.
	PrefixOctets int `json:"prefix_octets" koanf:"prefix_octets" validate:"min=3,max=5"`

	// MaxSuffixGap is the largest suffix difference still considered
	// sequential.
	MaxSuffixGap int `json:"max_suffix_gap" koanf:"max_suffix_gap" validate:"min=1,max=16"`

	// MinSequenceLength is the minimum number of siblings in a chain.
	MinSequenceLength int `json:"min_sequence_length" koanf:"min_sequence_length" validate:"min=2"`

	// FarDistanceMeters is how far from a reference at least one sibling
	// must have been seen.
	FarDistanceMeters float64 `json:"far_distance_meters" koanf:"far_distance_meters" validate:"gt=0"`

	// ElevatedDistanceMeters marks a chain as significant on its own.
	ElevatedDistanceMeters float64 `json:"elevated_distance_meters" koanf:"elevated_distance_meters" validate:"gt=0"`
}

// DefaultIdentifierSequenceConfig returns the identifier-sequence defaults.
func DefaultIdentifierSequenceConfig() IdentifierSequenceConfig {
	return IdentifierSequenceConfig{
		Enabled:                true,
		PrefixOctets:           5,
		MaxSuffixGap:           2,
		MinSequenceLength:      2,
		FarDistanceMeters:      2000,
		ElevatedDistanceMeters: 20000,
	}
}

// CoordinatedMovementConfig configures the coordinated-movement detector.
type CoordinatedMovementConfig struct {
	Enabled bool `json:"enabled" koanf:"enabled"`

	// GridCellMeters is the edge length of a spatial grid cell.
	GridCellMeters float64 `json:"grid_cell_meters" koanf:"grid_cell_meters" validate:"gt=0"`

	// TimeWindow is the width of a time bucket.
	TimeWindow time.Duration `json:"time_window" koanf:"time_window" validate:"gt=0"`

	// MinClusterSize is the distinct transmitter count that makes a
	// (cell, window) bucket a cluster.
	MinClusterSize int `json:"min_cluster_size" koanf:"min_cluster_size" validate:"min=2"`

	// MinRecurrence is the number of distinct cluster windows a transmitter
	// must appear in to count as high-recurrence.
	MinRecurrence int `json:"min_recurrence" koanf:"min_recurrence" validate:"min=2"`

	// MinParticipantMobilityMeters drops participants whose sightings span
	// less than this distance. Zero keeps everyone.
	MinParticipantMobilityMeters float64 `json:"min_participant_mobility_meters" koanf:"min_participant_mobility_meters" validate:"gte=0"`

	// ElevatedClusterSize marks a cluster significant by size alone.
	ElevatedClusterSize int `json:"elevated_cluster_size" koanf:"elevated_cluster_size" validate:"gtefield=MinClusterSize"`
}

// DefaultCoordinatedMovementConfig returns the coordinated-movement defaults.
func DefaultCoordinatedMovementConfig() CoordinatedMovementConfig {
	return CoordinatedMovementConfig{
		Enabled:             true,
		GridCellMeters:      1000,
		TimeWindow:          time.Hour,
		MinClusterSize:      3,
		MinRecurrence:       2,
		ElevatedClusterSize: 5,
	}
}

// TemporalCorrelationConfig configures the temporal-correlation detector.
type TemporalCorrelationConfig struct {
	Enabled bool `json:"enabled" koanf:"enabled"`

	// Window is the half-width of the time window around a transition.
	Window time.Duration `json:"window" koanf:"window" validate:"gt=0"`

	// RadiusMeters bounds sightings around the transition point.
	RadiusMeters float64 `json:"radius_meters" koanf:"radius_meters" validate:"gt=0"`

	// MinTransitions is the number of distinct transitions a transmitter
	// must appear around.
	MinTransitions int `json:"min_transitions" koanf:"min_transitions" validate:"min=2"`

	// ExcludeStationary drops transmitters that never move and sit inside
	// the reference radius, such as the subject's own access point.
	ExcludeStationary bool `json:"exclude_stationary" koanf:"exclude_stationary"`

	// StationaryRangeMeters is the mobility range below which a transmitter
	// counts as stationary.
	StationaryRangeMeters float64 `json:"stationary_range_meters" koanf:"stationary_range_meters" validate:"gte=0"`
}

// DefaultTemporalCorrelationConfig returns the temporal-correlation defaults.
func DefaultTemporalCorrelationConfig() TemporalCorrelationConfig {
	return TemporalCorrelationConfig{
		Enabled:               true,
		Window:                30 * time.Minute,
		RadiusMeters:          2000,
		MinTransitions:        2,
		ExcludeStationary:     true,
		StationaryRangeMeters: 100,
	}
}

// SignalAnomalyConfig configures the signal-anomaly detector.
type SignalAnomalyConfig struct {
	Enabled bool `json:"enabled" koanf:"enabled"`

	// MinSamples is the minimum number of signal readings; sparser
	// transmitters are skipped.
	MinSamples int `json:"min_samples" koanf:"min_samples" validate:"min=2"`

	// StdDevThresholdDBm flags transmitters on variance alone.
	StdDevThresholdDBm float64 `json:"std_dev_threshold_dbm" koanf:"std_dev_threshold_dbm" validate:"gt=0"`

	// StrongSignalDBm is the mean strength considered unusually close.
	StrongSignalDBm float64 `json:"strong_signal_dbm" koanf:"strong_signal_dbm" validate:"lte=30"`

	// ModerateStdDevDBm is the variance a strong transmitter must also show.
	ModerateStdDevDBm float64 `json:"moderate_std_dev_dbm" koanf:"moderate_std_dev_dbm" validate:"gt=0"`
}

// DefaultSignalAnomalyConfig returns the signal-anomaly defaults.
func DefaultSignalAnomalyConfig() SignalAnomalyConfig {
	return SignalAnomalyConfig{
		Enabled:            true,
		MinSamples:         11,
		StdDevThresholdDBm: 10,
		StrongSignalDBm:    -50,
		ModerateStdDevDBm:  5,
	}
}

// Settings groups the tuning of every detector.
type Settings struct {
	DualLocation        DualLocationConfig        `json:"dual_location" koanf:"dual_location"`
	IdentifierSequence  IdentifierSequenceConfig  `json:"identifier_sequence" koanf:"identifier_sequence"`
	CoordinatedMovement CoordinatedMovementConfig `json:"coordinated_movement" koanf:"coordinated_movement"`
	TemporalCorrelation TemporalCorrelationConfig `json:"temporal_correlation" koanf:"temporal_correlation"`
	SignalAnomaly       SignalAnomalyConfig       `json:"signal_anomaly" koanf:"signal_anomaly"`
}

// DefaultSettings returns the default tuning for all detectors.
func DefaultSettings() Settings {
	return Settings{
		DualLocation:        DefaultDualLocationConfig(),
		IdentifierSequence:  DefaultIdentifierSequenceConfig(),
		CoordinatedMovement: DefaultCoordinatedMovementConfig(),
		TemporalCorrelation: DefaultTemporalCorrelationConfig(),
		SignalAnomaly:       DefaultSignalAnomalyConfig(),
	}
}

// NewDetectors builds every detector from s in canonical order.
func NewDetectors(s Settings) []Detector {
	return []Detector{
		NewDualLocationDetector(s.DualLocation),
		NewIdentifierSequenceDetector(s.IdentifierSequence),
		NewCoordinatedMovementDetector(s.CoordinatedMovement),
		NewTemporalCorrelationDetector(s.TemporalCorrelation),
		NewSignalAnomalyDetector(s.SignalAnomaly),
	}
}

// decodeConfig overlays a JSON document on a copy of current and validates
// the result.
func decodeConfig[T any](t DetectorType, raw []byte, current T) (T, error) {
	next := current
	if err := json.Unmarshal(raw, &next); err != nil {
		return current, fmt.Errorf("%s: invalid config: %w", t, err)
	}
	if err := validation.ValidateStruct(&next); err != nil {
		return current, fmt.Errorf("%s: %w", t, err)
	}
	return next, nil
}
