// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package detection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/shadowcheck/internal/geo"
)

// Distance tiers reported in dual-location evidence.
const (
	TierDisplaced = "displaced"
	TierRegional  = "regional"
	TierLongRange = "long_range"
)

// DualLocationDetector flags a transmitter seen inside a reference
// location's radius and also far away from it in the same window. Ordinary
// consumer radios do not cover that range, so the same identity at both
// places suggests a device being carried or relocated.
type DualLocationDetector struct {
	config  DualLocationConfig
	enabled bool
	mu      sync.RWMutex
}

// DualLocationEvidence is the evidence payload of a dual-location anomaly.
type DualLocationEvidence struct {
	Reference           string    `json:"reference"`
	RadiusMeters        float64   `json:"radius_meters"`
	NearestMeters       float64   `json:"nearest_meters"`
	FarthestMeters      float64   `json:"farthest_meters"`
	FarthestPoint       geo.Point `json:"farthest_point"`
	BearingDegrees      float64   `json:"bearing_degrees"`
	NearSightings       int       `json:"near_sightings"`
	FarSightings        int       `json:"far_sightings"`
	FirstNearAt         time.Time `json:"first_near_at"`
	FirstFarAt          time.Time `json:"first_far_at"`
	Tier                string    `json:"tier"`
	MobilityRangeMeters float64   `json:"mobility_range_meters"`
}

// NewDualLocationDetector creates a dual-location detector.
func NewDualLocationDetector(config DualLocationConfig) *DualLocationDetector {
	return &DualLocationDetector{config: config, enabled: config.Enabled}
}

// Type returns the detector type.
func (d *DualLocationDetector) Type() DetectorType { return DetectorDualLocation }

// Detect implements Detector.
func (d *DualLocationDetector) Detect(ctx context.Context, in *Input) ([]*AnomalyRecord, error) {
	d.mu.RLock()
	cfg := d.config
	d.mu.RUnlock()

	if len(in.References) == 0 {
		return nil, missingReference(d.Type())
	}

	var out []*AnomalyRecord
	for _, sum := range in.Summaries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ev, span, ok := d.bestReference(cfg, in.References, sum)
		if !ok {
			continue
		}

		conf := dualLocationConfidence(ev.FarthestMeters, cfg)
		elevated := ev.FarthestMeters >= cfg.RegionalDistanceMeters
		rec, err := newRecord(d.Type(), []string{sum.TransmitterID}, conf, span, elevated, ev)
		if err != nil {
			return nil, fmt.Errorf("build record for %s: %w", sum.TransmitterID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// bestReference evaluates every reference and keeps the one with the
// largest far distance.
func (d *DualLocationDetector) bestReference(cfg DualLocationConfig, refs []ReferenceLocation, sum *TransmitterSummary) (*DualLocationEvidence, TimeSpan, bool) {
	var (
		best     *DualLocationEvidence
		bestSpan TimeSpan
	)
	for ri, ref := range refs {
		r := sum.ReferenceDistances[ri]
		if r.NearCount == 0 || r.MaxMeters < cfg.FarDistanceMeters {
			continue
		}

		ev := &DualLocationEvidence{
			Reference:           ref.Name,
			RadiusMeters:        ref.Radius(),
			NearestMeters:       round2(r.MinMeters),
			FarthestMeters:      round2(r.MaxMeters),
			MobilityRangeMeters: sum.MobilityRangeMeters,
		}
		var span TimeSpan
		for _, s := range sum.Sightings {
			dist := s.RefDistances[ri]
			switch {
			case dist <= ref.Radius():
				ev.NearSightings++
				if ev.FirstNearAt.IsZero() {
					ev.FirstNearAt = s.At
				}
				span.Extend(s.At)
			case dist >= cfg.FarDistanceMeters:
				ev.FarSightings++
				if ev.FirstFarAt.IsZero() {
					ev.FirstFarAt = s.At
				}
				if round2(dist) == ev.FarthestMeters {
					ev.FarthestPoint = s.Point
				}
				span.Extend(s.At)
			}
		}
		ev.BearingDegrees = round2(geo.Bearing(ref.Point, ev.FarthestPoint))
		ev.Tier = distanceTier(r.MaxMeters, cfg)

		if best == nil || ev.FarthestMeters > best.FarthestMeters {
			best, bestSpan = ev, span
		}
	}
	return best, bestSpan, best != nil
}

func distanceTier(meters float64, cfg DualLocationConfig) string {
	switch {
	case meters >= cfg.LongRangeDistanceMeters:
		return TierLongRange
	case meters >= cfg.RegionalDistanceMeters:
		return TierRegional
	default:
		return TierDisplaced
	}
}

// dualLocationConfidence is piecewise linear through 0.50 at the far
// threshold, 0.75 at the regional tier and 0.90 at the long-range tier,
// then rises toward 0.99 with a 100 km scale.
func dualLocationConfidence(farMeters float64, cfg DualLocationConfig) float64 {
	switch {
	case farMeters < cfg.FarDistanceMeters:
		return 0
	case farMeters < cfg.RegionalDistanceMeters:
		return lerp(farMeters, cfg.FarDistanceMeters, cfg.RegionalDistanceMeters, 0.50, 0.75)
	case farMeters < cfg.LongRangeDistanceMeters:
		return lerp(farMeters, cfg.RegionalDistanceMeters, cfg.LongRangeDistanceMeters, 0.75, 0.90)
	default:
		return 0.90 + 0.09*saturate(farMeters-cfg.LongRangeDistanceMeters, 100000)
	}
}

// Configure applies a JSON config overlay.
func (d *DualLocationDetector) Configure(raw []byte) error {
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
func (d *DualLocationDetector) Config() DualLocationConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// Enabled reports whether the detector runs.
func (d *DualLocationDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled turns the detector on or off.
func (d *DualLocationDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
	d.config.Enabled = enabled
}
