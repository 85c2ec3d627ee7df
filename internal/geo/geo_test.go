// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package geo

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

func TestDistanceKnownValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		a, b    Point
		want    float64
		epsilon float64
	}{
		{"identical", Point{40.7128, -74.0060}, Point{40.7128, -74.0060}, 0, 1e-9},
		{"nyc to london", Point{40.7128, -74.0060}, Point{51.5074, -0.1278}, 5570222, 2000},
		{"one degree latitude", Point{10, 20}, Point{11, 20}, 111195, 5},
		{"across antimeridian", Point{0.5, 179.9}, Point{0.5, -179.9}, 22236, 10},
		{"antipodal", Point{0, 0.5}, Point{0, -179.5}, math.Pi * EarthRadiusMeters, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Distance(tt.a, tt.b)
			if math.Abs(got-tt.want) > tt.epsilon {
				t.Errorf("Distance() = %.2f, want %.2f ± %.2f", got, tt.want, tt.epsilon)
			}
		})
	}
}

func randomPoint(r *rand.Rand) Point {
	return Point{Lat: r.Float64()*180 - 90, Lon: r.Float64()*360 - 180}
}

func TestDistanceProperties(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		a, b, c := randomPoint(r), randomPoint(r), randomPoint(r)

		if d := Distance(a, a); d != 0 {
			t.Fatalf("Distance(a,a) = %v for %+v", d, a)
		}
		ab, ba := Distance(a, b), Distance(b, a)
		if math.Abs(ab-ba) > 1e-6 {
			t.Fatalf("asymmetric distance %v vs %v for %+v %+v", ab, ba, a, b)
		}
		if ab < 0 || ab > math.Pi*EarthRadiusMeters+1e-6 {
			t.Fatalf("distance %v out of range", ab)
		}
		if ac, cb := Distance(a, c), Distance(c, b); ab > ac+cb+1e-6 {
			t.Fatalf("triangle inequality violated: %v > %v + %v", ab, ac, cb)
		}
	}
}

func TestBearing(t *testing.T) {
	t.Parallel()

	origin := Point{Lat: 10, Lon: 10}
	tests := []struct {
		name string
		to   Point
		want float64
	}{
		{"north", Point{11, 10}, 0},
		{"east", Point{10, 11}, 89.9},
		{"south", Point{9, 10}, 180},
		{"west", Point{10, 9}, 270.1},
		{"same point", origin, 0},
	}
	for _, tt := range tests {
		got := Bearing(origin, tt.to)
		if math.Abs(got-tt.want) > 0.2 {
			t.Errorf("%s: Bearing() = %.3f, want ~%.1f", tt.name, got, tt.want)
		}
	}

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		if b := Bearing(randomPoint(r), randomPoint(r)); b < 0 || b >= 360 {
			t.Fatalf("Bearing() = %v, want [0,360)", b)
		}
	}
}

func TestDestinationRoundTrip(t *testing.T) {
	t.Parallel()

	origin := Point{Lat: 47.6062, Lon: -122.3321}
	for _, meters := range []float64{1, 150, 2000, 20000, 100000} {
		for _, bearing := range []float64{0, 45, 133, 270} {
			p := Destination(origin, bearing, meters)
			if got := Distance(origin, p); math.Abs(got-meters) > meters*1e-6+1e-3 {
				t.Errorf("Destination(%v m, %v°) landed %v m away", meters, bearing, got)
			}
		}
	}
}

func TestWithinRadius(t *testing.T) {
	t.Parallel()

	center := Point{Lat: 40, Lon: -75}
	if !WithinRadius(center, Destination(center, 90, 199), 200) {
		t.Error("199 m should be within 200 m")
	}
	if WithinRadius(center, Destination(center, 90, 201), 200) {
		t.Error("201 m should be outside 200 m")
	}
}

func TestIsValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    Point
		want bool
	}{
		{"normal", Point{40.7, -74.0}, true},
		{"null island", Point{0, 0}, false},
		{"near null island", Point{1e-9, -1e-9}, false},
		{"equator only", Point{0, 12.5}, true},
		{"prime meridian only", Point{51.4, 0}, true},
		{"lat too high", Point{90.0001, 0.5}, false},
		{"lon too low", Point{10, -180.0001}, false},
		{"poles are fine", Point{-90, 180}, true},
		{"nan", Point{math.NaN(), 1}, false},
		{"inf", Point{1, math.Inf(1)}, false},
	}
	for _, tt := range tests {
		if got := IsValid(tt.p); got != tt.want {
			t.Errorf("%s: IsValid(%+v) = %v, want %v", tt.name, tt.p, got, tt.want)
		}
	}
}

func TestIsValidTimestamp(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ceiling := now.Add(time.Hour)

	tests := []struct {
		name string
		ts   time.Time
		want bool
	}{
		{"zero", time.Time{}, false},
		{"unix epoch", time.Unix(0, 0), false},
		{"floor itself", DefaultTimestampFloor, true},
		{"recent", now.Add(-time.Hour), true},
		{"future beyond skew", now.Add(2 * time.Hour), false},
	}
	for _, tt := range tests {
		if got := IsValidTimestamp(tt.ts, DefaultTimestampFloor, ceiling); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
	if !IsValidTimestamp(now.Add(48*time.Hour), DefaultTimestampFloor, time.Time{}) {
		t.Error("zero ceiling should impose no upper bound")
	}
}

func FuzzDistanceSymmetry(f *testing.F) {
	f.Add(40.0, -74.0, 51.5, -0.12)
	f.Add(0.0, 0.0, 0.0, 0.0)
	f.Add(-89.9, 179.9, 89.9, -179.9)

	f.Fuzz(func(t *testing.T, lat1, lon1, lat2, lon2 float64) {
		a, b := Point{lat1, lon1}, Point{lat2, lon2}
		if math.IsNaN(lat1+lon1+lat2+lon2) || math.IsInf(lat1+lon1+lat2+lon2, 0) {
			t.Skip()
		}
		if math.Abs(lat1) > 90 || math.Abs(lat2) > 90 || math.Abs(lon1) > 180 || math.Abs(lon2) > 180 {
			t.Skip()
		}
		ab, ba := Distance(a, b), Distance(b, a)
		if math.Abs(ab-ba) > 1e-6 {
			t.Fatalf("asymmetric: %v vs %v", ab, ba)
		}
		if Distance(a, a) != 0 {
			t.Fatalf("Distance(a,a) != 0 for %+v", a)
		}
	})
}
