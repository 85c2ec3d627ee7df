// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package detection

import (
	"math"
	"sort"
	"time"

	"github.com/tomtom215/shadowcheck/internal/geo"
)

const (
	// DefaultMinSignalDBm and DefaultMaxSignalDBm bound plausible readings.
	DefaultMinSignalDBm = -120
	DefaultMaxSignalDBm = 30

	// maxExactMobilityPoints caps the O(n²) pairwise mobility computation.
	maxExactMobilityPoints = 512

	stationaryMeters = 100.0
	localMeters      = 2000.0
	regionalMeters   = 50000.0
)

// DataQualityReport counts what the aggregator accepted and why it dropped
// the rest. Dropped observations never reach a detector.
type DataQualityReport struct {
	Total             int `json:"total"`
	Accepted          int `json:"accepted"`
	Transmitters      int `json:"transmitters"`
	InvalidIdentifier int `json:"invalid_identifier"`
	MissingLocation   int `json:"missing_location"`
	NullIsland        int `json:"null_island"`
	OutOfRange        int `json:"out_of_range"`
	InvalidTimestamp  int `json:"invalid_timestamp"`
	OutsideWindow     int `json:"outside_window"`
	// ZeroSignal and SignalOutOfRange count sightings kept for location
	// but excluded from signal statistics.
	ZeroSignal       int `json:"zero_signal"`
	SignalOutOfRange int `json:"signal_out_of_range"`
}

// Rejected returns the number of observations dropped entirely.
func (r DataQualityReport) Rejected() int {
	return r.Total - r.Accepted
}

// Reasons returns the non-zero counters keyed by reason.
func (r DataQualityReport) Reasons() map[string]int {
	all := map[string]int{
		"invalid_identifier":  r.InvalidIdentifier,
		"missing_location":    r.MissingLocation,
		"null_island":         r.NullIsland,
		"out_of_range":        r.OutOfRange,
		"invalid_timestamp":   r.InvalidTimestamp,
		"outside_window":      r.OutsideWindow,
		"zero_signal":         r.ZeroSignal,
		"signal_out_of_range": r.SignalOutOfRange,
	}
	for k, v := range all {
		if v == 0 {
			delete(all, k)
		}
	}
	return all
}

// AggregateOptions controls observation filtering.
type AggregateOptions struct {
	// Window restricts observations to [Start, End]. A zero window accepts
	// any valid time.
	Window TimeSpan
	// TimestampFloor rejects older timestamps. Zero uses geo.DefaultTimestampFloor.
	TimestampFloor time.Time
	// TimestampCeiling rejects later timestamps as corrupt. Zero disables it.
	TimestampCeiling time.Time
	MinSignalDBm     int
	MaxSignalDBm     int
}

// Aggregation is the aggregator's output for one run.
type Aggregation struct {
	Summaries []*TransmitterSummary
	Sightings []*Sighting
	Quality   DataQualityReport
}

type transmitterAcc struct {
	summary     *TransmitterSummary
	coords      map[geo.Point]struct{}
	nameAt      time.Time
	radioAt     time.Time
	mean, m2    float64
	signalCount int
}

// Aggregate validates observations and builds one summary per transmitter
// with at least one valid sighting. Distances to every reference location
// are computed here, once per sighting.
func Aggregate(obs []Observation, refs []ReferenceLocation, opts AggregateOptions) *Aggregation {
	if opts.TimestampFloor.IsZero() {
		opts.TimestampFloor = geo.DefaultTimestampFloor
	}
	if opts.MinSignalDBm == 0 && opts.MaxSignalDBm == 0 {
		opts.MinSignalDBm, opts.MaxSignalDBm = DefaultMinSignalDBm, DefaultMaxSignalDBm
	}

	agg := &Aggregation{}
	q := &agg.Quality
	q.Total = len(obs)
	accs := make(map[string]*transmitterAcc)

	for i := range obs {
		o := &obs[i]

		id, _ := NormalizeIdentifier(o.TransmitterID)
		if id == "" {
			q.InvalidIdentifier++
			continue
		}
		if o.Location == nil {
			q.MissingLocation++
			continue
		}
		p := *o.Location
		if geo.IsNullIsland(p) {
			q.NullIsland++
			continue
		}
		if !geo.IsValid(p) {
			q.OutOfRange++
			continue
		}
		at := o.ObservedAt.UTC()
		if !geo.IsValidTimestamp(at, opts.TimestampFloor, opts.TimestampCeiling) {
			q.InvalidTimestamp++
			continue
		}
		if !opts.Window.Start.IsZero() && !opts.Window.Contains(at) {
			q.OutsideWindow++
			continue
		}

		s := &Sighting{
			TransmitterID: id,
			Point:         p,
			At:            at,
			RefDistances:  make([]float64, len(refs)),
		}
		for ri, ref := range refs {
			s.RefDistances[ri] = geo.Distance(ref.Point, p)
		}
		if o.SignalStrength != nil {
			switch v := *o.SignalStrength; {
			case v == 0:
				q.ZeroSignal++
			case v < opts.MinSignalDBm || v > opts.MaxSignalDBm:
				q.SignalOutOfRange++
			default:
				s.Signal, s.HasSignal = v, true
			}
		}

		q.Accepted++
		agg.Sightings = append(agg.Sightings, s)

		acc, ok := accs[id]
		if !ok {
			acc = newTransmitterAcc(id, refs)
			accs[id] = acc
		}
		acc.add(s, o, refs)
	}

	sort.Slice(agg.Sightings, func(i, j int) bool {
		return lessSighting(agg.Sightings[i], agg.Sightings[j])
	})

	agg.Summaries = make([]*TransmitterSummary, 0, len(accs))
	for _, acc := range accs {
		agg.Summaries = append(agg.Summaries, acc.finish())
	}
	sort.Slice(agg.Summaries, func(i, j int) bool {
		return agg.Summaries[i].TransmitterID < agg.Summaries[j].TransmitterID
	})
	q.Transmitters = len(agg.Summaries)

	return agg
}

func lessSighting(a, b *Sighting) bool {
	if !a.At.Equal(b.At) {
		return a.At.Before(b.At)
	}
	if a.TransmitterID != b.TransmitterID {
		return a.TransmitterID < b.TransmitterID
	}
	if a.Point.Lat != b.Point.Lat {
		return a.Point.Lat < b.Point.Lat
	}
	return a.Point.Lon < b.Point.Lon
}

func newTransmitterAcc(id string, refs []ReferenceLocation) *transmitterAcc {
	ranges := make([]DistanceRange, len(refs))
	for i, r := range refs {
		ranges[i] = DistanceRange{Reference: r.Name, MinMeters: math.Inf(1)}
	}
	return &transmitterAcc{
		summary: &TransmitterSummary{
			TransmitterID:      id,
			ReferenceDistances: ranges,
			Signal:             SignalStats{Min: math.Inf(1), Max: math.Inf(-1)},
		},
		coords: make(map[geo.Point]struct{}),
	}
}

func (a *transmitterAcc) add(s *Sighting, o *Observation, refs []ReferenceLocation) {
	sum := a.summary
	sum.SightingCount++
	sum.Sightings = append(sum.Sightings, s)
	if sum.FirstSeen.IsZero() || s.At.Before(sum.FirstSeen) {
		sum.FirstSeen = s.At
	}
	if s.At.After(sum.LastSeen) {
		sum.LastSeen = s.At
	}
	if o.DisplayName != "" && !s.At.Before(a.nameAt) {
		sum.DisplayName, a.nameAt = o.DisplayName, s.At
	}
	if o.RadioType != "" && !s.At.Before(a.radioAt) {
		sum.RadioType, a.radioAt = RadioTypeName(o.RadioType), s.At
	}

	a.coords[geo.Point{Lat: roundCoord(s.Point.Lat), Lon: roundCoord(s.Point.Lon)}] = struct{}{}

	for i, d := range s.RefDistances {
		r := &sum.ReferenceDistances[i]
		r.MinMeters = math.Min(r.MinMeters, d)
		r.MaxMeters = math.Max(r.MaxMeters, d)
		if d <= refs[i].Radius() {
			r.NearCount++
		}
	}

	if s.HasSignal {
		v := float64(s.Signal)
		a.signalCount++
		delta := v - a.mean
		a.mean += delta / float64(a.signalCount)
		a.m2 += delta * (v - a.mean)
		sum.Signal.Min = math.Min(sum.Signal.Min, v)
		sum.Signal.Max = math.Max(sum.Signal.Max, v)
	}
}

func (a *transmitterAcc) finish() *TransmitterSummary {
	sum := a.summary
	sort.Slice(sum.Sightings, func(i, j int) bool { return lessSighting(sum.Sightings[i], sum.Sightings[j]) })

	points := make([]geo.Point, 0, len(a.coords))
	for p := range a.coords {
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].Lat != points[j].Lat {
			return points[i].Lat < points[j].Lat
		}
		return points[i].Lon < points[j].Lon
	})
	sum.DistinctCoordinates = len(points)
	sum.MobilityRangeMeters = round2(mobilityRange(points))
	sum.Mobility = classifyMobility(sum.MobilityRangeMeters)

	sum.Signal.Count = a.signalCount
	if a.signalCount == 0 {
		sum.Signal.Min, sum.Signal.Max = 0, 0
	} else {
		sum.Signal.Mean = round2(a.mean)
		sum.Signal.StdDev = round2(math.Sqrt(a.m2 / float64(a.signalCount)))
	}
	return sum
}

// mobilityRange returns the largest pairwise distance between points. Above
// maxExactMobilityPoints it uses a double farthest-point sweep, which is a
// close lower bound on the true diameter.
func mobilityRange(points []geo.Point) float64 {
	n := len(points)
	if n < 2 {
		return 0
	}
	var best float64
	if n <= maxExactMobilityPoints {
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if d := geo.Distance(points[i], points[j]); d > best {
					best = d
				}
			}
		}
		return best
	}

	anchor := points[0]
	for sweep := 0; sweep < 3; sweep++ {
		far, farDist := anchor, 0.0
		for _, p := range points {
			if d := geo.Distance(anchor, p); d > farDist {
				far, farDist = p, d
			}
		}
		if farDist > best {
			best = farDist
		}
		anchor = far
	}
	return best
}

func classifyMobility(meters float64) MobilityPattern {
	switch {
	case meters < stationaryMeters:
		return MobilityStationary
	case meters < localMeters:
		return MobilityLocal
	case meters < regionalMeters:
		return MobilityRegional
	default:
		return MobilityMobile
	}
}

func roundCoord(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
