// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package detection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/shadowcheck/internal/geo"
)

var (
	testHome = geo.Point{Lat: 43.0125, Lon: -83.6875}
	testBase = time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
)

func intPtr(v int) *int { return &v }

func homeRef() ReferenceLocation {
	return ReferenceLocation{Name: "home", Point: testHome, RadiusMeters: 150}
}

// awayFrom returns a point the given distance north-east of home.
func awayFrom(meters float64) geo.Point {
	return geo.Destination(testHome, 45, meters)
}

func sighting(id string, p geo.Point, at time.Time) Observation {
	loc := p
	return Observation{TransmitterID: id, Location: &loc, ObservedAt: at, RadioType: "W"}
}

func signalSighting(id string, p geo.Point, at time.Time, dbm int) Observation {
	o := sighting(id, p, at)
	o.SignalStrength = intPtr(dbm)
	return o
}

// buildInput runs the aggregator the same way the engine does and wraps
// the result for a detector.
func buildInput(t *testing.T, obs []Observation, refs []ReferenceLocation, track []PositionFix) *Input {
	t.Helper()
	agg := Aggregate(obs, refs, AggregateOptions{})
	return &Input{
		Window:     TimeSpan{Start: testBase.Add(-30 * 24 * time.Hour), End: testBase.Add(30 * 24 * time.Hour)},
		References: refs,
		Summaries:  agg.Summaries,
		Sightings:  agg.Sightings,
		Track:      track,
	}
}

func decodeEvidence[T any](t *testing.T, rec *AnomalyRecord) T {
	t.Helper()
	var ev T
	if err := json.Unmarshal(rec.Evidence, &ev); err != nil {
		t.Fatalf("decode evidence: %v", err)
	}
	return ev
}

// keyedRecord returns a classified, keyed record ready for a store.
func keyedRecord(t DetectorType, ids []string, confidence float64, elevated bool) *AnomalyRecord {
	span := TimeSpan{Start: testBase, End: testBase.Add(time.Hour)}
	return &AnomalyRecord{
		DedupKey:            DedupKey(t, ids, span.Start, DefaultDedupBucket),
		DetectorType:        t,
		SubjectTransmitters: sortedUnique(ids),
		ConfidenceScore:     confidence,
		ClassificationLabel: Classify(confidence),
		Evidence:            json.RawMessage(`{"test":true}`),
		TimeSpan:            span,
		Elevated:            elevated,
		RunID:               "run-1",
		FirstDetectedAt:     testBase.Add(2 * time.Hour),
		LastDetectedAt:      testBase.Add(2 * time.Hour),
	}
}

var errStoreDown = errors.New("store unavailable")

// flakyStore fails the first failN upserts, or every upsert when failN is
// negative.
type flakyStore struct {
	*MemoryStore
	mu     sync.Mutex
	failN  int
	calls  int
	failed int
}

func newFlakyStore(failN int) *flakyStore {
	return &flakyStore{MemoryStore: NewMemoryStore(), failN: failN}
}

func (f *flakyStore) UpsertAnomaly(ctx context.Context, record *AnomalyRecord) (int64, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failN < 0 || f.failed < f.failN
	if fail {
		f.failed++
	}
	f.mu.Unlock()
	if fail {
		return 0, errStoreDown
	}
	return f.MemoryStore.UpsertAnomaly(ctx, record)
}

func (f *flakyStore) setFailures(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failN, f.failed = n, 0
}

func (f *flakyStore) upsertCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}
