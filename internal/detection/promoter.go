// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package detection

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/shadowcheck/internal/logging"
	"github.com/tomtom215/shadowcheck/internal/metrics"
)

// DefaultPromotionThreshold is the minimum confidence for promotion.
const DefaultPromotionThreshold = 0.5

// Promoter turns strong, elevated anomalies into incidents.
type Promoter struct {
	store     IncidentStore
	threshold float64
}

// NewPromoter creates a promoter writing to store.
func NewPromoter(store IncidentStore, threshold float64) *Promoter {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultPromotionThreshold
	}
	return &Promoter{store: store, threshold: threshold}
}

// Threshold returns the minimum confidence for promotion.
func (p *Promoter) Threshold() float64 {
	return p.threshold
}

// Qualifies reports whether a persisted record should become an incident.
func (p *Promoter) Qualifies(r *AnomalyRecord) bool {
	return r != nil && r.ID != 0 && r.Elevated && r.ConfidenceScore >= p.threshold
}

// Promote creates one incident per qualifying record and returns the
// incidents that did not exist before. Records already promoted by an
// earlier run are skipped. A store error stops promotion for that record
// only; the first error is returned after all records are tried.
func (p *Promoter) Promote(ctx context.Context, records []*AnomalyRecord) ([]*Incident, error) {
	var created []*Incident
	var firstErr error

	for _, r := range records {
		if !p.Qualifies(r) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return created, err
		}

		incident, isNew, err := p.store.PromoteIncident(ctx, []int64{r.ID})
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Int64("anomaly_id", r.ID).Msg("Incident promotion failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("promote anomaly %d: %w", r.ID, err)
			}
			continue
		}
		if !isNew {
			continue
		}

		metrics.IncidentsCreated.WithLabelValues(string(incident.RiskLevel)).Inc()
		logging.Ctx(ctx).Info().
			Int64("incident_id", incident.ID).
			Str("risk_level", string(incident.RiskLevel)).
			Strs("transmitters", incident.TransmitterIDs).
			Msg("Incident created")
		created = append(created, incident)
	}

	return created, firstErr
}

// IncidentKey is the stable identity of an incident: its sorted anomaly IDs.
func IncidentKey(anomalyIDs []int64) string {
	ids := append([]int64(nil), anomalyIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	parts := make([]string, 0, len(ids))
	var prev int64
	for i, id := range ids {
		if i > 0 && id == prev {
			continue
		}
		parts = append(parts, strconv.FormatInt(id, 10))
		prev = id
	}
	return strings.Join(parts, ",")
}

// buildIncident derives an incident from its contributing anomalies.
// ID is left for the store to assign.
func buildIncident(anomalies []AnomalyRecord, now time.Time) *Incident {
	inc := &Incident{CreatedAt: now.UTC()}

	ids := make([]int64, 0, len(anomalies))
	var transmitters []string
	seenType := make(map[DetectorType]bool)
	for _, a := range anomalies {
		ids = append(ids, a.ID)
		transmitters = append(transmitters, a.SubjectTransmitters...)
		if a.ConfidenceScore > inc.Confidence {
			inc.Confidence = a.ConfidenceScore
		}
		if !seenType[a.DetectorType] {
			seenType[a.DetectorType] = true
			inc.DetectorTypes = append(inc.DetectorTypes, a.DetectorType)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	sort.Slice(inc.DetectorTypes, func(i, j int) bool {
		return detectorOrder(inc.DetectorTypes[i]) < detectorOrder(inc.DetectorTypes[j])
	})

	inc.AnomalyIDs = ids
	inc.Key = IncidentKey(ids)
	inc.TransmitterIDs = sortedUnique(transmitters)
	inc.Confidence = ClampConfidence(inc.Confidence)
	inc.RiskLevel = Classify(inc.Confidence)
	inc.Title = incidentTitle(inc)
	inc.Summary = incidentSummary(inc, anomalies)
	return inc
}

var detectorTitles = map[DetectorType]string{
	DetectorDualLocation:        "Transmitter followed subject away from reference location",
	DetectorIdentifierSequence:  "Sequential hardware identifiers seen near and far",
	DetectorCoordinatedMovement: "Transmitters moving as a coordinated group",
	DetectorTemporalCorrelation: "Transmitter appearing around subject arrivals and departures",
	DetectorSignalAnomaly:       "Unstable transmitter signal",
}

func incidentTitle(inc *Incident) string {
	if len(inc.DetectorTypes) == 1 {
		if t, ok := detectorTitles[inc.DetectorTypes[0]]; ok {
			return t
		}
	}
	return "Multiple surveillance indicators"
}

func incidentSummary(inc *Incident, anomalies []AnomalyRecord) string {
	var start, end time.Time
	for _, a := range anomalies {
		if start.IsZero() || a.TimeSpan.Start.Before(start) {
			start = a.TimeSpan.Start
		}
		if a.TimeSpan.End.After(end) {
			end = a.TimeSpan.End
		}
	}

	types := make([]string, len(inc.DetectorTypes))
	for i, t := range inc.DetectorTypes {
		types[i] = string(t)
	}

	return fmt.Sprintf("%s risk (confidence %.2f): %d transmitter(s) [%s] flagged by %s between %s and %s",
		inc.RiskLevel, inc.Confidence, len(inc.TransmitterIDs), strings.Join(inc.TransmitterIDs, ", "),
		strings.Join(types, ", "), start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
}

// detectorOrder is the canonical position of t, used for stable ordering.
func detectorOrder(t DetectorType) int {
	for i, dt := range AllDetectorTypes {
		if dt == t {
			return i
		}
	}
	return len(AllDetectorTypes)
}
