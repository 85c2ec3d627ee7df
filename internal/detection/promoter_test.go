// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package detection

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestPromoter_Qualifies(t *testing.T) {
	t.Parallel()

	p := NewPromoter(NewMemoryStore(), 0.6)

	tests := []struct {
		name       string
		confidence float64
		elevated   bool
		id         int64
		want       bool
	}{
		{"above threshold and elevated", 0.7, true, 1, true},
		{"at threshold", 0.6, true, 1, true},
		{"below threshold", 0.59, true, 1, false},
		{"not elevated", 0.95, false, 1, false},
		{"not persisted", 0.95, true, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := keyedRecord(DetectorDualLocation, []string{"AA:00:00:00:00:01"}, tt.confidence, tt.elevated)
			r.ID = tt.id
			if got := p.Qualifies(r); got != tt.want {
				t.Errorf("Qualifies = %v, want %v", got, tt.want)
			}
		})
	}
	if p.Qualifies(nil) {
		t.Error("nil record qualified")
	}
}

func TestNewPromoter_InvalidThreshold(t *testing.T) {
	t.Parallel()

	for _, th := range []float64{0, -1, 1.5} {
		if got := NewPromoter(NewMemoryStore(), th).Threshold(); got != DefaultPromotionThreshold {
			t.Errorf("threshold %v -> %v, want default", th, got)
		}
	}
}

func TestPromoter_Promote(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	p := NewPromoter(store, DefaultPromotionThreshold)

	strong := keyedRecord(DetectorDualLocation, []string{"AA:00:00:00:00:01"}, 0.93, true)
	weak := keyedRecord(DetectorSignalAnomaly, []string{"AA:00:00:00:00:02"}, 0.3, true)
	quiet := keyedRecord(DetectorCoordinatedMovement, []string{"AA:00:00:00:00:03", "AA:00:00:00:00:04", "AA:00:00:00:00:05"}, 0.8, false)
	for _, r := range []*AnomalyRecord{strong, weak, quiet} {
		id, err := store.UpsertAnomaly(ctx, r)
		if err != nil {
			t.Fatalf("UpsertAnomaly: %v", err)
		}
		r.ID = id
	}

	created, err := p.Promote(ctx, []*AnomalyRecord{strong, weak, quiet})
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created %d incidents, want 1", len(created))
	}
	inc := created[0]
	if inc.RiskLevel != SeverityCritical {
		t.Errorf("RiskLevel = %s", inc.RiskLevel)
	}
	if len(inc.AnomalyIDs) != 1 || inc.AnomalyIDs[0] != strong.ID {
		t.Errorf("AnomalyIDs = %v", inc.AnomalyIDs)
	}
	if inc.Title != detectorTitles[DetectorDualLocation] {
		t.Errorf("Title = %q", inc.Title)
	}

	again, err := p.Promote(ctx, []*AnomalyRecord{strong})
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("re-promotion created %d incidents", len(again))
	}
	all, _ := store.ListIncidents(ctx, IncidentFilter{})
	if len(all) != 1 {
		t.Errorf("store holds %d incidents, want 1", len(all))
	}
}

func TestPromoter_PromoteUnknownAnomaly(t *testing.T) {
	t.Parallel()

	p := NewPromoter(NewMemoryStore(), DefaultPromotionThreshold)
	r := keyedRecord(DetectorDualLocation, []string{"AA:00:00:00:00:01"}, 0.9, true)
	r.ID = 77

	created, err := p.Promote(context.Background(), []*AnomalyRecord{r})
	if err == nil {
		t.Fatal("expected error for unknown anomaly")
	}
	if len(created) != 0 {
		t.Errorf("created %d incidents", len(created))
	}
}

func TestIncidentKey(t *testing.T) {
	t.Parallel()

	if got := IncidentKey([]int64{9, 3, 3, 12}); got != "3,9,12" {
		t.Errorf("IncidentKey = %q", got)
	}
	if IncidentKey([]int64{2, 1}) != IncidentKey([]int64{1, 2}) {
		t.Error("IncidentKey depends on order")
	}
}

func TestBuildIncident(t *testing.T) {
	t.Parallel()

	a := *keyedRecord(DetectorSignalAnomaly, []string{"BB:00:00:00:00:01"}, 0.5, true)
	a.ID = 4
	b := *keyedRecord(DetectorDualLocation, []string{"AA:00:00:00:00:01", "BB:00:00:00:00:01"}, 0.7, true)
	b.ID = 2
	b.TimeSpan.End = testBase.Add(5 * time.Hour)

	inc := buildIncident([]AnomalyRecord{a, b}, testBase)

	if inc.Key != "2,4" {
		t.Errorf("Key = %q", inc.Key)
	}
	if inc.Confidence != 0.7 || inc.RiskLevel != SeverityHigh {
		t.Errorf("Confidence = %v, RiskLevel = %s", inc.Confidence, inc.RiskLevel)
	}
	if len(inc.DetectorTypes) != 2 || inc.DetectorTypes[0] != DetectorDualLocation {
		t.Errorf("DetectorTypes = %v", inc.DetectorTypes)
	}
	if len(inc.TransmitterIDs) != 2 {
		t.Errorf("TransmitterIDs = %v", inc.TransmitterIDs)
	}
	if inc.Title != "Multiple surveillance indicators" {
		t.Errorf("Title = %q", inc.Title)
	}
	if !strings.Contains(inc.Summary, "2025-06-10T13:00:00Z") {
		t.Errorf("Summary = %q, want span end", inc.Summary)
	}
}
