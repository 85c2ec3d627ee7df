// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package detection

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/shadowcheck/internal/geo"
)

func clusterAt(ids []string, p geo.Point, at time.Time) []Observation {
	out := make([]Observation, 0, len(ids))
	for i, id := range ids {
		out = append(out, sighting(id, p, at.Add(time.Duration(i)*time.Minute)))
	}
	return out
}

func TestCoordinatedMovementDetector_Detect(t *testing.T) {
	t.Parallel()

	recurring := []string{"10:00:00:00:00:01", "10:00:00:00:00:02", "10:00:00:00:00:03"}
	single := []string{"20:00:00:00:00:01", "20:00:00:00:00:02", "20:00:00:00:00:03"}

	var obs []Observation
	obs = append(obs, clusterAt(recurring, awayFrom(5000), testBase.Add(10*time.Minute))...)
	obs = append(obs, clusterAt(recurring, awayFrom(40000), testBase.Add(3*time.Hour+10*time.Minute))...)
	obs = append(obs, clusterAt(single, awayFrom(80000), testBase.Add(10*time.Minute))...)
	// Two transmitters are not a cluster.
	obs = append(obs, clusterAt([]string{"30:00:00:00:00:01", "30:00:00:00:00:02"}, awayFrom(120000), testBase.Add(10*time.Minute))...)

	d := NewCoordinatedMovementDetector(DefaultCoordinatedMovementConfig())
	records, err := d.Detect(context.Background(), buildInput(t, obs, nil, nil))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	byFirst := make(map[string]*AnomalyRecord)
	for _, r := range records {
		byFirst[r.SubjectTransmitters[0]] = r
	}
	rec, ok := byFirst[recurring[0]]
	if !ok {
		t.Fatal("recurring cluster not reported")
	}
	one, ok := byFirst[single[0]]
	if !ok {
		t.Fatal("single cluster not reported")
	}

	if rec.ConfidenceScore <= one.ConfidenceScore {
		t.Errorf("recurring confidence %.4f should exceed single %.4f", rec.ConfidenceScore, one.ConfidenceScore)
	}
	if !rec.Elevated {
		t.Error("recurring cluster should be elevated")
	}
	if one.Elevated {
		t.Error("single small cluster should not be elevated")
	}

	ev := decodeEvidence[CoordinatedMovementEvidence](t, rec)
	if ev.ClusterSize != 3 || ev.HighRecurrence != 3 || len(ev.Occurrences) != 2 {
		t.Errorf("evidence = %+v", ev)
	}
	for _, p := range ev.Participants {
		if p.Recurrence != 2 {
			t.Errorf("participant %s recurrence = %d, want 2", p.TransmitterID, p.Recurrence)
		}
	}
	if !rec.TimeSpan.Start.Equal(testBase.Add(10*time.Minute)) || !rec.TimeSpan.End.Equal(testBase.Add(3*time.Hour+12*time.Minute)) {
		t.Errorf("span = %v..%v", rec.TimeSpan.Start, rec.TimeSpan.End)
	}
}

func TestCoordinatedMovementDetector_LargeClusterElevated(t *testing.T) {
	t.Parallel()

	ids := []string{"10:00:00:00:00:01", "10:00:00:00:00:02", "10:00:00:00:00:03", "10:00:00:00:00:04", "10:00:00:00:00:05"}
	obs := clusterAt(ids, awayFrom(5000), testBase.Add(5*time.Minute))

	records, err := NewCoordinatedMovementDetector(DefaultCoordinatedMovementConfig()).Detect(context.Background(), buildInput(t, obs, nil, nil))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(records) != 1 || !records[0].Elevated {
		t.Fatalf("want one elevated record, got %+v", records)
	}
}

func TestCoordinatedMovementDetector_MobilityFilter(t *testing.T) {
	t.Parallel()

	ids := []string{"10:00:00:00:00:01", "10:00:00:00:00:02", "10:00:00:00:00:03"}
	obs := clusterAt(ids, awayFrom(5000), testBase.Add(5*time.Minute))

	cfg := DefaultCoordinatedMovementConfig()
	cfg.MinParticipantMobilityMeters = 500
	records, err := NewCoordinatedMovementDetector(cfg).Detect(context.Background(), buildInput(t, obs, nil, nil))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("stationary participants should be dropped, got %d records", len(records))
	}
}

func TestClusterConfidence(t *testing.T) {
	t.Parallel()

	if clusterConfidence(0, 0, 3) != 0 {
		t.Error("empty cluster should score 0")
	}
	if a, b := clusterConfidence(3, 0, 3), clusterConfidence(6, 0, 3); b <= a {
		t.Errorf("bigger cluster should score higher: %v <= %v", b, a)
	}
	if a, b := clusterConfidence(3, 1, 3), clusterConfidence(3, 3, 3); b <= a {
		t.Errorf("more recurrence should score higher: %v <= %v", b, a)
	}
	if got := clusterConfidence(100, 100, 3); got > 0.951 {
		t.Errorf("confidence %v above cap", got)
	}
}
