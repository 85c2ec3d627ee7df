// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package detection

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/shadowcheck/internal/cache"
	"github.com/tomtom215/shadowcheck/internal/geo"
)

// TransitionKind is the direction of a location-context change.
type TransitionKind string

const (
	TransitionArriving TransitionKind = "arriving"
	TransitionLeaving  TransitionKind = "leaving"
)

// Transition is one AWAY→AT_LOCATION or AT_LOCATION→AWAY change in the
// subject's track.
type Transition struct {
	Reference string         `json:"reference"`
	Kind      TransitionKind `json:"kind"`
	At        time.Time      `json:"at"`
	Point     geo.Point      `json:"point"`
}

// Transitions runs the two-state machine per reference location over a
// time-sorted track. The first fix only sets the initial state.
func Transitions(track []PositionFix, refs []ReferenceLocation) []Transition {
	var out []Transition
	for _, ref := range refs {
		var atLocation, started bool
		for _, fix := range track {
			inside := geo.WithinRadius(ref.Point, fix.Point, ref.Radius())
			if !started {
				atLocation, started = inside, true
				continue
			}
			if inside == atLocation {
				continue
			}
			kind := TransitionLeaving
			if inside {
				kind = TransitionArriving
			}
			out = append(out, Transition{Reference: ref.Name, Kind: kind, At: fix.At, Point: fix.Point})
			atLocation = inside
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// TemporalCorrelationDetector flags transmitters that repeatedly appear
// close in time and space to the subject arriving at or leaving a
// reference location.
type TemporalCorrelationDetector struct {
	config  TemporalCorrelationConfig
	enabled bool
	mu      sync.RWMutex
}

// TransitionMatch is one transition a transmitter was seen around.
type TransitionMatch struct {
	Transition
	OffsetSeconds  float64 `json:"offset_seconds"`
	DistanceMeters float64 `json:"distance_meters"`
}

// TemporalCorrelationEvidence is the evidence payload of a correlation anomaly.
type TemporalCorrelationEvidence struct {
	MatchedTransitions int               `json:"matched_transitions"`
	TotalTransitions   int               `json:"total_transitions"`
	MeanOffsetSeconds  float64           `json:"mean_offset_seconds"`
	WindowSeconds      float64           `json:"window_seconds"`
	RadiusMeters       float64           `json:"radius_meters"`
	Matches            []TransitionMatch `json:"matches"`
}

// NewTemporalCorrelationDetector creates a temporal-correlation detector.
func NewTemporalCorrelationDetector(config TemporalCorrelationConfig) *TemporalCorrelationDetector {
	return &TemporalCorrelationDetector{config: config, enabled: config.Enabled}
}

// Type returns the detector type.
func (d *TemporalCorrelationDetector) Type() DetectorType { return DetectorTemporalCorrelation }

type transmitterMatches struct {
	matches map[int]TransitionMatch
	span    TimeSpan
}

// Detect implements Detector.
func (d *TemporalCorrelationDetector) Detect(ctx context.Context, in *Input) ([]*AnomalyRecord, error) {
	d.mu.RLock()
	cfg := d.config
	d.mu.RUnlock()

	if len(in.References) == 0 {
		return nil, missingReference(d.Type())
	}
	if len(in.Track) < 2 {
		return nil, &ConfigurationError{Detector: d.Type(), Reason: "position track has fewer than two fixes"}
	}

	transitions := Transitions(in.Track, in.References)
	if len(transitions) == 0 {
		return nil, nil
	}

	excluded := make(map[string]bool)
	if cfg.ExcludeStationary {
		for _, sum := range in.Summaries {
			if sum.MobilityRangeMeters < cfg.StationaryRangeMeters && nearAnyReference(sum) {
				excluded[sum.TransmitterID] = true
			}
		}
	}

	grid := cache.NewSpatialHashGrid(cfg.RadiusMeters)
	for _, s := range in.Sightings {
		if !excluded[s.TransmitterID] {
			grid.Insert(s.TransmitterID, s.Point, s.At, nil)
		}
	}

	byTransmitter := make(map[string]*transmitterMatches)
	for ti, tr := range transitions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hits := grid.QueryRadiusWithin(tr.Point, cfg.RadiusMeters, tr.At.Add(-cfg.Window), tr.At.Add(cfg.Window))
		for _, h := range hits {
			tm, ok := byTransmitter[h.ID]
			if !ok {
				tm = &transmitterMatches{matches: make(map[int]TransitionMatch)}
				byTransmitter[h.ID] = tm
			}
			offset := h.At.Sub(tr.At).Seconds()
			prev, seen := tm.matches[ti]
			if !seen || math.Abs(offset) < math.Abs(prev.OffsetSeconds) {
				tm.matches[ti] = TransitionMatch{
					Transition:     tr,
					OffsetSeconds:  offset,
					DistanceMeters: round2(geo.Distance(tr.Point, h.Point)),
				}
			}
			tm.span.Extend(h.At)
		}
	}

	ids := make([]string, 0, len(byTransmitter))
	for id, tm := range byTransmitter {
		if len(tm.matches) >= cfg.MinTransitions {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]*AnomalyRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := d.buildRecord(cfg, id, byTransmitter[id], len(transitions))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func nearAnyReference(sum *TransmitterSummary) bool {
	for _, r := range sum.ReferenceDistances {
		if r.NearCount > 0 {
			return true
		}
	}
	return false
}

func (d *TemporalCorrelationDetector) buildRecord(cfg TemporalCorrelationConfig, id string, tm *transmitterMatches, total int) (*AnomalyRecord, error) {
	keys := make([]int, 0, len(tm.matches))
	for k := range tm.matches {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	ev := &TemporalCorrelationEvidence{
		MatchedTransitions: len(keys),
		TotalTransitions:   total,
		WindowSeconds:      cfg.Window.Seconds(),
		RadiusMeters:       cfg.RadiusMeters,
		Matches:            make([]TransitionMatch, len(keys)),
	}
	var sumAbs float64
	for i, k := range keys {
		m := tm.matches[k]
		ev.Matches[i] = m
		sumAbs += math.Abs(m.OffsetSeconds)
	}
	ev.MeanOffsetSeconds = round2(sumAbs / float64(len(keys)))

	conf := temporalConfidence(len(keys), ev.MeanOffsetSeconds, ev.WindowSeconds)
	rec, err := newRecord(d.Type(), []string{id}, conf, tm.span, len(keys) >= 3, ev)
	if err != nil {
		return nil, fmt.Errorf("build record for %s: %w", id, err)
	}
	return rec, nil
}

// temporalConfidence combines recurrence (0.4, 0.64, 0.78, ... for 2, 3, 4
// transitions) with how tightly sightings cluster on the transition instant.
func temporalConfidence(matched int, meanOffset, window float64) float64 {
	recurrence := 1 - math.Pow(0.6, float64(matched-1))
	tightness := 0.0
	if window > 0 {
		tightness = math.Max(0, 1-meanOffset/window)
	}
	return math.Min(0.99, 0.2+0.45*recurrence+0.3*tightness)
}

// Configure applies a JSON config overlay.
func (d *TemporalCorrelationDetector) Configure(raw []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	next, err := decodeConfig(d.Type(), raw, d.config)
	if err != nil {
		return err
	}
	d.config = next
	d.enabled = next.Enabled
	return nil
}

// Config returns the current configuration.
func (d *TemporalCorrelationDetector) Config() TemporalCorrelationConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// Enabled reports whether the detector runs.
func (d *TemporalCorrelationDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled turns the detector on or off.
func (d *TemporalCorrelationDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
	d.config.Enabled = enabled
}
