// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package detection

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// severityBand maps a lower confidence bound to a label.
type severityBand struct {
	Min   float64
	Label Severity
}

// severityPolicy is the single confidence-to-label table shared by every
// detector. Bands are checked top-down; the first match wins.
var severityPolicy = []severityBand{
	{Min: 0.85, Label: SeverityCritical},
	{Min: 0.65, Label: SeverityHigh},
	{Min: 0.40, Label: SeverityMedium},
	{Min: 0, Label: SeverityLow},
}

// Classify maps a confidence score to its severity label.
func Classify(confidence float64) Severity {
	c := ClampConfidence(confidence)
	for _, band := range severityPolicy {
		if c >= band.Min {
			return band.Label
		}
	}
	return SeverityLow
}

// ClampConfidence forces a score into [0,1] and rounds it to 4 decimals so
// that identical inputs always persist identical values. NaN becomes 0.
func ClampConfidence(c float64) float64 {
	if math.IsNaN(c) || c <= 0 {
		return 0
	}
	if c >= 1 {
		return 1
	}
	return math.Round(c*1e4) / 1e4
}

// DefaultDedupBucket is the time-bucket width of the dedup key.
const DefaultDedupBucket = 24 * time.Hour

// DedupKey builds the natural key of an anomaly: detector type, sorted
// transmitter set, and the start of the evidence span truncated to bucket.
func DedupKey(t DetectorType, transmitters []string, spanStart time.Time, bucket time.Duration) string {
	if bucket <= 0 {
		bucket = DefaultDedupBucket
	}
	ids := sortedUnique(transmitters)
	b := spanStart.UTC().Truncate(bucket)
	return string(t) + "|" + strings.Join(ids, ",") + "|" + b.Format(time.RFC3339)
}

func sortedUnique(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// newRecord assembles an unclassified record with a marshaled evidence
// payload. The engine assigns label, key and run metadata later.
func newRecord(t DetectorType, transmitters []string, confidence float64, span TimeSpan, elevated bool, evidence any) (*AnomalyRecord, error) {
	payload, err := json.Marshal(evidence)
	if err != nil {
		return nil, err
	}
	return &AnomalyRecord{
		DetectorType:        t,
		SubjectTransmitters: sortedUnique(transmitters),
		ConfidenceScore:     ClampConfidence(confidence),
		Evidence:            payload,
		TimeSpan:            TimeSpan{Start: span.Start.UTC(), End: span.End.UTC()},
		Elevated:            elevated,
	}, nil
}

// lerp maps x in [x0,x1] linearly onto [y0,y1], clamping outside.
func lerp(x, x0, x1, y0, y1 float64) float64 {
	if x1 <= x0 || x <= x0 {
		return y0
	}
	if x >= x1 {
		return y1
	}
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}

// saturate returns 1 - exp(-x/scale), a smooth 0→1 ramp for x ≥ 0.
func saturate(x, scale float64) float64 {
	if x <= 0 || scale <= 0 {
		return 0
	}
	return 1 - math.Exp(-x/scale)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
