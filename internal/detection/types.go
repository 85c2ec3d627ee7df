// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package detection

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/shadowcheck/internal/geo"
)

// DetectorType identifies the detector that produced an anomaly.
type DetectorType string

const (
	// DetectorDualLocation flags a transmitter seen both at and far from a
	// reference location.
	DetectorDualLocation DetectorType = "dual_location"

	// DetectorIdentifierSequence flags sibling hardware addresses from one
	// sequential block.
	DetectorIdentifierSequence DetectorType = "identifier_sequence"

	// DetectorCoordinatedMovement flags groups of transmitters that keep
	// appearing together.
	DetectorCoordinatedMovement DetectorType = "coordinated_movement"

	// DetectorTemporalCorrelation flags transmitters that show up around the
	// subject's arrivals and departures.
	DetectorTemporalCorrelation DetectorType = "temporal_correlation"

	// DetectorSignalAnomaly flags unstable or suspiciously strong signals.
	DetectorSignalAnomaly DetectorType = "signal_anomaly"
)

// AllDetectorTypes lists detectors in their canonical merge order.
var AllDetectorTypes = []DetectorType{
	DetectorDualLocation,
	DetectorIdentifierSequence,
	DetectorCoordinatedMovement,
	DetectorTemporalCorrelation,
	DetectorSignalAnomaly,
}

// ParseDetectorType validates a detector name.
func ParseDetectorType(s string) (DetectorType, bool) {
	for _, t := range AllDetectorTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// Severity is the classification label derived from a confidence score.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from low (1) to critical (4). Unknown labels rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Observation is one radio sighting as delivered by the repository.
type Observation struct {
	TransmitterID string     `json:"transmitter_id"`
	DisplayName   string     `json:"display_name,omitempty"`
	Location      *geo.Point `json:"location,omitempty"`
	// SignalStrength in dBm. Nil when the scanner did not report it.
	SignalStrength *int `json:"signal_strength,omitempty"`
	// Frequency in MHz, or a channel number for radios without one.
	Frequency *int `json:"frequency,omitempty"`
	// RadioType is the WiGLE network type letter (W, B, E, G, L, N, C).
	RadioType  string    `json:"radio_type,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
	SourceID   string    `json:"source_id,omitempty"`
}

// ReferenceLocation is a protected point of interest such as home.
type ReferenceLocation struct {
	Name         string    `json:"name" validate:"required"`
	Point        geo.Point `json:"point"`
	RadiusMeters float64   `json:"radius_meters" validate:"gte=0"`
}

// DefaultReferenceRadiusMeters applies when a reference has no radius.
const DefaultReferenceRadiusMeters = 200.0

// Radius returns the proximity radius, falling back to the default.
func (r ReferenceLocation) Radius() float64 {
	if r.RadiusMeters <= 0 {
		return DefaultReferenceRadiusMeters
	}
	return r.RadiusMeters
}

// PositionFix is one point of the subject's own movement track.
type PositionFix struct {
	At    time.Time `json:"at"`
	Point geo.Point `json:"point"`
}

// TimeSpan is a closed time interval.
type TimeSpan struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t lies inside the span.
func (s TimeSpan) Contains(t time.Time) bool {
	return !t.Before(s.Start) && !t.After(s.End)
}

// Extend grows the span to cover t. A zero span becomes [t, t].
func (s *TimeSpan) Extend(t time.Time) {
	if s.Start.IsZero() || t.Before(s.Start) {
		s.Start = t
	}
	if s.End.IsZero() || t.After(s.End) {
		s.End = t
	}
}

// Union returns the smallest span covering both s and o.
func (s TimeSpan) Union(o TimeSpan) TimeSpan {
	out := s
	if !o.Start.IsZero() {
		out.Extend(o.Start)
	}
	if !o.End.IsZero() {
		out.Extend(o.End)
	}
	return out
}

// Sighting is a validated observation with distances to every reference
// location precomputed. RefDistances is indexed like Input.References.
type Sighting struct {
	TransmitterID string
	Point         geo.Point
	At            time.Time
	Signal        int
	HasSignal     bool
	RefDistances  []float64
}

// DistanceRange summarises how close and how far a transmitter was seen
// from one reference location.
type DistanceRange struct {
	Reference string  `json:"reference"`
	MinMeters float64 `json:"min_meters"`
	MaxMeters float64 `json:"max_meters"`
	NearCount int     `json:"near_count"`
}

// SignalStats are signal-strength statistics in dBm.
type SignalStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// MobilityPattern buckets a transmitter by how far apart its sightings are.
type MobilityPattern string

const (
	MobilityStationary MobilityPattern = "stationary"
	MobilityLocal      MobilityPattern = "local"
	MobilityRegional   MobilityPattern = "regional"
	MobilityMobile     MobilityPattern = "mobile"
)

// TransmitterSummary is the per-transmitter aggregate rebuilt every run.
type TransmitterSummary struct {
	TransmitterID       string          `json:"transmitter_id"`
	DisplayName         string          `json:"display_name,omitempty"`
	RadioType           string          `json:"radio_type,omitempty"`
	SightingCount       int             `json:"sighting_count"`
	DistinctCoordinates int             `json:"distinct_coordinates"`
	FirstSeen           time.Time       `json:"first_seen"`
	LastSeen            time.Time       `json:"last_seen"`
	ReferenceDistances  []DistanceRange `json:"reference_distances"`
	MobilityRangeMeters float64         `json:"mobility_range_meters"`
	Mobility            MobilityPattern `json:"mobility"`
	Signal              SignalStats     `json:"signal"`

	// Sightings are this transmitter's valid sightings in time order.
	Sightings []*Sighting `json:"-"`
}

// MaxReferenceDistance returns the largest distance from any reference.
func (s *TransmitterSummary) MaxReferenceDistance() float64 {
	var max float64
	for _, r := range s.ReferenceDistances {
		if r.MaxMeters > max {
			max = r.MaxMeters
		}
	}
	return max
}

// AnomalyRecord is the engine's primary output.
type AnomalyRecord struct {
	ID                  int64           `json:"id,omitempty"`
	DedupKey            string          `json:"dedup_key"`
	DetectorType        DetectorType    `json:"detector_type"`
	SubjectTransmitters []string        `json:"subject_transmitters"`
	ConfidenceScore     float64         `json:"confidence_score"`
	ClassificationLabel Severity        `json:"classification_label"`
	Evidence            json.RawMessage `json:"evidence"`
	TimeSpan            TimeSpan        `json:"time_span"`
	// Elevated marks evidence strong enough to justify an incident.
	Elevated        bool      `json:"elevated"`
	RunID           string    `json:"run_id,omitempty"`
	FirstDetectedAt time.Time `json:"first_detected_at"`
	LastDetectedAt  time.Time `json:"last_detected_at"`
}

// Incident is a promoted, investigation-worthy group of anomalies.
type Incident struct {
	ID             int64          `json:"id"`
	Key            string         `json:"key"`
	AnomalyIDs     []int64        `json:"anomaly_ids"`
	RiskLevel      Severity       `json:"risk_level"`
	Confidence     float64        `json:"confidence"`
	TransmitterIDs []string       `json:"transmitter_ids"`
	DetectorTypes  []DetectorType `json:"detector_types"`
	Title          string         `json:"title"`
	Summary        string         `json:"summary"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Input is everything a detector sees for one run.
type Input struct {
	Window     TimeSpan
	References []ReferenceLocation
	// Summaries are sorted by transmitter ID.
	Summaries []*TransmitterSummary
	// Sightings are all valid sightings sorted by time, then transmitter.
	Sightings []*Sighting
	// Track is the subject's own position track sorted by time.
	Track []PositionFix
}

// Detector is one independent anomaly detector. Detect must not mutate
// its input.
type Detector interface {
	Type() DetectorType
	Detect(ctx context.Context, in *Input) ([]*AnomalyRecord, error)
	Configure(config []byte) error
	Enabled() bool
	SetEnabled(enabled bool)
}

// ObservationRepository is the read side the engine consumes.
type ObservationRepository interface {
	FetchObservations(ctx context.Context, start, end time.Time) ([]Observation, error)
	FetchReferenceLocations(ctx context.Context) ([]ReferenceLocation, error)
	FetchPositionTrack(ctx context.Context, start, end time.Time) ([]PositionFix, error)
}

// AnomalyStore persists anomaly records idempotently on their dedup key.
type AnomalyStore interface {
	UpsertAnomaly(ctx context.Context, record *AnomalyRecord) (int64, error)
	GetAnomaly(ctx context.Context, id int64) (*AnomalyRecord, error)
	ListAnomalies(ctx context.Context, filter AnomalyFilter) ([]AnomalyRecord, error)
}

// IncidentStore persists incidents. PromoteIncident returns the existing
// incident, and created=false, when any of the anomalies was already
// promoted.
type IncidentStore interface {
	PromoteIncident(ctx context.Context, anomalyIDs []int64) (incident *Incident, created bool, err error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error)
}

// Store is the combined persistence surface used by the engine.
type Store interface {
	AnomalyStore
	IncidentStore
}

// AnomalyFilter selects anomalies for listing.
type AnomalyFilter struct {
	DetectorTypes []DetectorType
	TransmitterID string
	MinConfidence float64
	Labels        []Severity
	Since         *time.Time
	Until         *time.Time
	OrderBy       string
	OrderDir      string
	Limit         int
	Offset        int
}

// IncidentFilter selects incidents for listing.
type IncidentFilter struct {
	RiskLevels    []Severity
	TransmitterID string
	Since         *time.Time
	Limit         int
	Offset        int
}

// Notifier delivers newly created incidents to an external channel.
type Notifier interface {
	Name() string
	Enabled() bool
	NotifyIncident(ctx context.Context, incident *Incident) error
}

// Publisher emits engine output as events.
type Publisher interface {
	PublishAnomaly(ctx context.Context, record *AnomalyRecord) error
	PublishIncident(ctx context.Context, incident *Incident) error
}
