// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package detection

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/shadowcheck/internal/cache"
	"github.com/tomtom215/shadowcheck/internal/geo"
)

// CoordinatedMovementDetector finds groups of distinct transmitters that
// share a grid cell within one time bucket, and weights the group by how
// often its members keep turning up in such clusters.
type CoordinatedMovementDetector struct {
	config  CoordinatedMovementConfig
	enabled bool
	mu      sync.RWMutex
}

// ClusterParticipant is one member of a coordinated cluster.
type ClusterParticipant struct {
	TransmitterID string `json:"transmitter_id"`
	// Recurrence is the number of distinct cluster windows the transmitter
	// appeared in across the whole analysis window.
	Recurrence int `json:"recurrence"`
}

// ClusterOccurrence is one (time bucket, cell) where the cluster formed.
type ClusterOccurrence struct {
	WindowStart time.Time `json:"window_start"`
	Cell        geo.Point `json:"cell_center"`
	Sightings   int       `json:"sightings"`
}

// CoordinatedMovementEvidence is the evidence payload of a cluster anomaly.
type CoordinatedMovementEvidence struct {
	ClusterSize    int                  `json:"cluster_size"`
	HighRecurrence int                  `json:"high_recurrence"`
	CellMeters     float64              `json:"cell_meters"`
	WindowMinutes  float64              `json:"window_minutes"`
	Participants   []ClusterParticipant `json:"participants"`
	Occurrences    []ClusterOccurrence  `json:"occurrences"`
}

// NewCoordinatedMovementDetector creates a coordinated-movement detector.
func NewCoordinatedMovementDetector(config CoordinatedMovementConfig) *CoordinatedMovementDetector {
	return &CoordinatedMovementDetector{config: config, enabled: config.Enabled}
}

// Type returns the detector type.
func (d *CoordinatedMovementDetector) Type() DetectorType { return DetectorCoordinatedMovement }

type gridBucket struct {
	window time.Time
	cell   cache.CellKey
}

type bucketContents struct {
	members   map[string]struct{}
	sightings int
	span      TimeSpan
}

type clusterGroup struct {
	ids         []string
	occurrences []gridBucket
	span        TimeSpan
}

// Detect implements Detector.
func (d *CoordinatedMovementDetector) Detect(ctx context.Context, in *Input) ([]*AnomalyRecord, error) {
	d.mu.RLock()
	cfg := d.config
	d.mu.RUnlock()

	grid := cache.NewSpatialHashGrid(cfg.GridCellMeters)

	eligible := make(map[string]bool, len(in.Summaries))
	for _, sum := range in.Summaries {
		eligible[sum.TransmitterID] = sum.MobilityRangeMeters >= cfg.MinParticipantMobilityMeters
	}

	buckets := make(map[gridBucket]*bucketContents)
	for _, s := range in.Sightings {
		if !eligible[s.TransmitterID] {
			continue
		}
		k := gridBucket{window: s.At.UTC().Truncate(cfg.TimeWindow), cell: grid.CellOf(s.Point)}
		b, ok := buckets[k]
		if !ok {
			b = &bucketContents{members: make(map[string]struct{})}
			buckets[k] = b
		}
		b.members[s.TransmitterID] = struct{}{}
		b.sightings++
		b.span.Extend(s.At)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qualifying := make([]gridBucket, 0)
	for k, b := range buckets {
		if len(b.members) >= cfg.MinClusterSize {
			qualifying = append(qualifying, k)
		}
	}
	sort.Slice(qualifying, func(i, j int) bool { return lessBucket(qualifying[i], qualifying[j]) })

	recurrence := clusterRecurrence(qualifying, buckets)

	groups := make(map[string]*clusterGroup)
	var order []string
	for _, k := range qualifying {
		b := buckets[k]
		ids := make([]string, 0, len(b.members))
		for id := range b.members {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		key := strings.Join(ids, ",")

		g, ok := groups[key]
		if !ok {
			g = &clusterGroup{ids: ids}
			groups[key] = g
			order = append(order, key)
		}
		g.occurrences = append(g.occurrences, k)
		g.span = g.span.Union(b.span)
	}

	out := make([]*AnomalyRecord, 0, len(order))
	for _, key := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := d.buildRecord(cfg, grid, groups[key], buckets, recurrence)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// clusterRecurrence counts, per transmitter, the distinct time windows in
// which it was part of a qualifying cluster.
func clusterRecurrence(qualifying []gridBucket, buckets map[gridBucket]*bucketContents) map[string]int {
	windows := make(map[string]map[time.Time]struct{})
	for _, k := range qualifying {
		for id := range buckets[k].members {
			w, ok := windows[id]
			if !ok {
				w = make(map[time.Time]struct{})
				windows[id] = w
			}
			w[k.window] = struct{}{}
		}
	}
	out := make(map[string]int, len(windows))
	for id, w := range windows {
		out[id] = len(w)
	}
	return out
}

func (d *CoordinatedMovementDetector) buildRecord(cfg CoordinatedMovementConfig, grid *cache.SpatialHashGrid, g *clusterGroup, buckets map[gridBucket]*bucketContents, recurrence map[string]int) (*AnomalyRecord, error) {
	ev := &CoordinatedMovementEvidence{
		ClusterSize:   len(g.ids),
		CellMeters:    cfg.GridCellMeters,
		WindowMinutes: cfg.TimeWindow.Minutes(),
		Participants:  make([]ClusterParticipant, len(g.ids)),
		Occurrences:   make([]ClusterOccurrence, len(g.occurrences)),
	}
	for i, id := range g.ids {
		ev.Participants[i] = ClusterParticipant{TransmitterID: id, Recurrence: recurrence[id]}
		if recurrence[id] >= cfg.MinRecurrence {
			ev.HighRecurrence++
		}
	}
	for i, k := range g.occurrences {
		center := grid.CellCenter(k.cell)
		ev.Occurrences[i] = ClusterOccurrence{
			WindowStart: k.window,
			Cell:        geo.Point{Lat: roundCoord(center.Lat), Lon: roundCoord(center.Lon)},
			Sightings:   buckets[k].sightings,
		}
	}

	conf := clusterConfidence(ev.ClusterSize, ev.HighRecurrence, cfg.MinClusterSize)
	elevated := ev.ClusterSize >= cfg.ElevatedClusterSize || len(g.occurrences) >= 2
	rec, err := newRecord(d.Type(), g.ids, conf, g.span, elevated, ev)
	if err != nil {
		return nil, fmt.Errorf("build cluster record: %w", err)
	}
	return rec, nil
}

// clusterConfidence rises with cluster size above the minimum and with the
// share of participants that recur across clusters.
func clusterConfidence(size, highRecurrence, minSize int) float64 {
	if size <= 0 {
		return 0
	}
	sizeScore := saturate(float64(size-minSize+1), 3)
	recurrenceShare := float64(highRecurrence) / float64(size)
	return 0.15 + 0.4*sizeScore + 0.4*recurrenceShare
}

func lessBucket(a, b gridBucket) bool {
	if !a.window.Equal(b.window) {
		return a.window.Before(b.window)
	}
	if a.cell.Y != b.cell.Y {
		return a.cell.Y < b.cell.Y
	}
	return a.cell.X < b.cell.X
}

// Configure applies a JSON config overlay.
func (d *CoordinatedMovementDetector) Configure(raw []byte) error {
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
func (d *CoordinatedMovementDetector) Config() CoordinatedMovementConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// Enabled reports whether the detector runs.
func (d *CoordinatedMovementDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled turns the detector on or off.
func (d *CoordinatedMovementDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
	d.config.Enabled = enabled
}
