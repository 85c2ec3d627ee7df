// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

// Package geo holds the spherical-earth math used by the detectors:
// great-circle distance, initial bearing, radius tests and coordinate
// sanity checks. Everything here is pure.
package geo

import (
	"math"
	"time"
)

const (
	// EarthRadiusMeters is the IUGG mean earth radius.
	EarthRadiusMeters = 6371008.8

	// CoordinateEpsilon is the tolerance used to recognise the (0,0)
	// placeholder that scanners emit when they have no GPS fix.
	CoordinateEpsilon = 1e-7
)

// DefaultTimestampFloor is the earliest observation time accepted when no
// floor is configured. Anything older is a corrupt or unset device clock.
var DefaultTimestampFloor = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// IsNullIsland reports whether p is the (0,0) artifact.
func IsNullIsland(p Point) bool {
	return math.Abs(p.Lat) < CoordinateEpsilon && math.Abs(p.Lon) < CoordinateEpsilon
}

// IsValid reports whether p is a usable coordinate: finite, in range and
// not the (0,0) artifact.
func IsValid(p Point) bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	if math.Abs(p.Lat) > 90 || math.Abs(p.Lon) > 180 {
		return false
	}
	return !IsNullIsland(p)
}

// IsValidTimestamp reports whether t lies in [floor, ceiling]. A zero
// ceiling means no upper bound.
func IsValidTimestamp(t, floor, ceiling time.Time) bool {
	if t.IsZero() || t.Before(floor) {
		return false
	}
	return ceiling.IsZero() || !t.After(ceiling)
}

// Distance returns the haversine great-circle distance between a and b in
// meters.
func Distance(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := lat2 - lat1
	dLon := toRadians(b.Lon - a.Lon)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	// Rounding can push h slightly outside [0,1] for antipodal points.
	h = math.Min(1, math.Max(0, h))

	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// WithinRadius reports whether p lies within radiusMeters of center.
func WithinRadius(center, p Point, radiusMeters float64) bool {
	return Distance(center, p) <= radiusMeters
}

// Bearing returns the initial compass bearing from a to b in degrees,
// normalised to [0, 360). Identical points yield 0.
func Bearing(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	if x == 0 && y == 0 {
		return 0
	}

	deg := math.Mod(toDegrees(math.Atan2(y, x))+360, 360)
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// Destination returns the point reached by travelling meters from origin
// along the given initial bearing.
func Destination(origin Point, bearingDeg, meters float64) Point {
	delta := meters / EarthRadiusMeters
	theta := toRadians(bearingDeg)
	lat1 := toRadians(origin.Lat)
	lon1 := toRadians(origin.Lon)

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(delta) + math.Cos(lat1)*math.Sin(delta)*math.Cos(theta))
	lon2 := lon1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(lat1),
		math.Cos(delta)-math.Sin(lat1)*math.Sin(lat2),
	)

	lon := math.Mod(toDegrees(lon2)+540, 360) - 180
	return Point{Lat: toDegrees(lat2), Lon: lon}
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }
