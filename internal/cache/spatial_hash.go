// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

// Package cache provides in-memory indexes built once per analysis run.
package cache

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/shadowcheck/internal/geo"
)

// metersPerDegree is the length of one degree of latitude on the mean
// earth sphere.
const metersPerDegree = geo.EarthRadiusMeters * math.Pi / 180

// SpatialHashGrid buckets points into square lat/lon cells so that radius
// queries only touch nearby cells instead of every point.
//
// Cells are sized in degrees of latitude, so they narrow in true width
// toward the poles. QueryRadius compensates when choosing how many
// longitude columns to scan.
type SpatialHashGrid struct {
	mu      sync.RWMutex
	cellDeg float64
	cells   map[CellKey][]*SpatialEntry
	size    int
}

// CellKey identifies one grid cell.
type CellKey struct {
	X, Y int
}

// SpatialEntry is one indexed point.
type SpatialEntry struct {
	ID    string
	Point geo.Point
	At    time.Time
	Data  any
}

// NewSpatialHashGrid creates a grid with cells roughly cellMeters on a side.
// A non-positive size falls back to 1 km.
func NewSpatialHashGrid(cellMeters float64) *SpatialHashGrid {
	if cellMeters <= 0 {
		cellMeters = 1000
	}
	return &SpatialHashGrid{
		cellDeg: cellMeters / metersPerDegree,
		cells:   make(map[CellKey][]*SpatialEntry),
	}
}

// CellSizeDegrees returns the cell edge in degrees.
func (g *SpatialHashGrid) CellSizeDegrees() float64 {
	return g.cellDeg
}

// CellOf returns the cell containing p.
func (g *SpatialHashGrid) CellOf(p geo.Point) CellKey {
	return CellKey{
		X: int(math.Floor(p.Lon / g.cellDeg)),
		Y: int(math.Floor(p.Lat / g.cellDeg)),
	}
}

// CellCenter returns the center coordinate of cell k.
func (g *SpatialHashGrid) CellCenter(k CellKey) geo.Point {
	return geo.Point{
		Lat: (float64(k.Y) + 0.5) * g.cellDeg,
		Lon: (float64(k.X) + 0.5) * g.cellDeg,
	}
}

// Insert adds an entry. Duplicate IDs are allowed; the grid is an index,
// not a set.
func (g *SpatialHashGrid) Insert(id string, p geo.Point, at time.Time, data any) {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := g.CellOf(p)
	g.cells[k] = append(g.cells[k], &SpatialEntry{ID: id, Point: p, At: at, Data: data})
	g.size++
}

// Size returns the number of indexed entries.
func (g *SpatialHashGrid) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.size
}

// NumCells returns the number of non-empty cells.
func (g *SpatialHashGrid) NumCells() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.cells)
}

// QueryCell returns the entries in the cell containing p.
func (g *SpatialHashGrid) QueryCell(p geo.Point) []*SpatialEntry {
	g.mu.RLock()
	defer g.mu.RUnlock()

	src := g.cells[g.CellOf(p)]
	out := make([]*SpatialEntry, len(src))
	copy(out, src)
	return out
}

// QueryRadius returns entries within radiusMeters of center.
func (g *SpatialHashGrid) QueryRadius(center geo.Point, radiusMeters float64) []*SpatialEntry {
	return g.QueryRadiusWithin(center, radiusMeters, time.Time{}, time.Time{})
}

// QueryRadiusWithin returns entries within radiusMeters of center whose
// timestamp lies in [from, to]. Zero bounds are open. Results are ordered
// by timestamp, then ID.
func (g *SpatialHashGrid) QueryRadiusWithin(center geo.Point, radiusMeters float64, from, to time.Time) []*SpatialEntry {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rows := int(math.Ceil(radiusMeters/metersPerDegree/g.cellDeg)) + 1
	cols := rows
	if c := math.Cos(center.Lat * math.Pi / 180); c > 0.01 {
		cols = int(math.Ceil(radiusMeters/(metersPerDegree*c)/g.cellDeg)) + 1
	}
	origin := g.CellOf(center)

	var out []*SpatialEntry
	for dy := -rows; dy <= rows; dy++ {
		for dx := -cols; dx <= cols; dx++ {
			for _, e := range g.cells[CellKey{X: origin.X + dx, Y: origin.Y + dy}] {
				if !from.IsZero() && e.At.Before(from) {
					continue
				}
				if !to.IsZero() && e.At.After(to) {
					continue
				}
				if geo.Distance(center, e.Point) <= radiusMeters {
					out = append(out, e)
				}
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
