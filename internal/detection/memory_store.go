// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package detection

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process ObservationRepository and Store. It backs
// tests and the "memory" database backend.
type MemoryStore struct {
	mu sync.RWMutex

	observations []Observation
	references   []ReferenceLocation
	track        []PositionFix

	anomalies      map[int64]*AnomalyRecord
	anomalyByKey   map[string]int64
	nextAnomalyID  int64
	incidents      map[int64]*Incident
	incidentByAnom map[int64]int64
	nextIncidentID int64

	now func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		anomalies:      make(map[int64]*AnomalyRecord),
		anomalyByKey:   make(map[string]int64),
		incidents:      make(map[int64]*Incident),
		incidentByAnom: make(map[int64]int64),
		now:            time.Now,
	}
}

// AddObservations appends raw observations.
func (m *MemoryStore) AddObservations(obs ...Observation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observations = append(m.observations, obs...)
}

// SetReferenceLocations replaces the reference locations.
func (m *MemoryStore) SetReferenceLocations(refs ...ReferenceLocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.references = append([]ReferenceLocation(nil), refs...)
}

// AddPositionFixes appends fixes to the subject's track.
func (m *MemoryStore) AddPositionFixes(fixes ...PositionFix) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.track = append(m.track, fixes...)
}

// FetchObservations returns observations with ObservedAt in [start, end].
func (m *MemoryStore) FetchObservations(ctx context.Context, start, end time.Time) ([]Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Observation, 0, len(m.observations))
	for _, o := range m.observations {
		if o.ObservedAt.Before(start) || o.ObservedAt.After(end) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// FetchReferenceLocations returns all reference locations.
func (m *MemoryStore) FetchReferenceLocations(ctx context.Context) ([]ReferenceLocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ReferenceLocation(nil), m.references...), nil
}

// FetchPositionTrack returns fixes in [start, end] sorted by time.
func (m *MemoryStore) FetchPositionTrack(ctx context.Context, start, end time.Time) ([]PositionFix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]PositionFix, 0, len(m.track))
	for _, f := range m.track {
		if f.At.Before(start) || f.At.After(end) {
			continue
		}
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

// UpsertAnomaly inserts record or refreshes the existing record with the
// same dedup key. The stored ID and FirstDetectedAt never change.
func (m *MemoryStore) UpsertAnomaly(ctx context.Context, record *AnomalyRecord) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if record.DedupKey == "" {
		return 0, ErrMissingDedupKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.anomalyByKey[record.DedupKey]; ok {
		existing := m.anomalies[id]
		refreshAnomaly(existing, record)
		return id, nil
	}

	m.nextAnomalyID++
	stored := cloneAnomaly(record)
	stored.ID = m.nextAnomalyID
	if stored.FirstDetectedAt.IsZero() {
		stored.FirstDetectedAt = m.now().UTC()
	}
	if stored.LastDetectedAt.IsZero() {
		stored.LastDetectedAt = stored.FirstDetectedAt
	}
	m.anomalies[stored.ID] = stored
	m.anomalyByKey[stored.DedupKey] = stored.ID
	return stored.ID, nil
}

// refreshAnomaly copies the mutable fields of next onto existing.
func refreshAnomaly(existing, next *AnomalyRecord) {
	existing.ConfidenceScore = next.ConfidenceScore
	existing.ClassificationLabel = next.ClassificationLabel
	existing.Evidence = append(existing.Evidence[:0:0], next.Evidence...)
	existing.TimeSpan = next.TimeSpan
	existing.Elevated = next.Elevated
	existing.RunID = next.RunID
	if !next.LastDetectedAt.IsZero() {
		existing.LastDetectedAt = next.LastDetectedAt
	}
}

func cloneAnomaly(r *AnomalyRecord) *AnomalyRecord {
	c := *r
	c.SubjectTransmitters = append([]string(nil), r.SubjectTransmitters...)
	c.Evidence = append(r.Evidence[:0:0], r.Evidence...)
	return &c
}

// GetAnomaly returns the record with id or ErrNotFound.
func (m *MemoryStore) GetAnomaly(ctx context.Context, id int64) (*AnomalyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.anomalies[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAnomaly(r), nil
}

// ListAnomalies returns records matching filter.
func (m *MemoryStore) ListAnomalies(ctx context.Context, filter AnomalyFilter) ([]AnomalyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]AnomalyRecord, 0, len(m.anomalies))
	for _, r := range m.anomalies {
		if matchesAnomalyFilter(r, filter) {
			out = append(out, *cloneAnomaly(r))
		}
	}
	m.mu.RUnlock()

	sortAnomalies(out, filter.OrderBy, filter.OrderDir)
	return paginate(out, filter.Limit, filter.Offset), nil
}

func matchesAnomalyFilter(r *AnomalyRecord, f AnomalyFilter) bool {
	if len(f.DetectorTypes) > 0 && !slices.Contains(f.DetectorTypes, r.DetectorType) {
		return false
	}
	if f.TransmitterID != "" && !slices.Contains(r.SubjectTransmitters, f.TransmitterID) {
		return false
	}
	if r.ConfidenceScore < f.MinConfidence {
		return false
	}
	if len(f.Labels) > 0 && !slices.Contains(f.Labels, r.ClassificationLabel) {
		return false
	}
	if f.Since != nil && r.LastDetectedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && r.LastDetectedAt.After(*f.Until) {
		return false
	}
	return true
}

func sortAnomalies(rs []AnomalyRecord, orderBy, orderDir string) {
	column, desc := resolveOrder(orderBy, orderDir)
	compare := func(a, b *AnomalyRecord) int {
		switch column {
		case "id":
			return cmp.Compare(a.ID, b.ID)
		case "confidence_score":
			return cmp.Compare(a.ConfidenceScore, b.ConfidenceScore)
		case "detector_type":
			return cmp.Compare(string(a.DetectorType), string(b.DetectorType))
		case "span_start":
			return a.TimeSpan.Start.Compare(b.TimeSpan.Start)
		case "first_detected_at":
			return a.FirstDetectedAt.Compare(b.FirstDetectedAt)
		default:
			return a.LastDetectedAt.Compare(b.LastDetectedAt)
		}
	}
	sort.SliceStable(rs, func(i, j int) bool {
		c := compare(&rs[i], &rs[j])
		if c == 0 {
			return rs[i].ID < rs[j].ID
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

// PromoteIncident creates an incident from anomalyIDs, or returns the
// incident that already holds any of them.
func (m *MemoryStore) PromoteIncident(ctx context.Context, anomalyIDs []int64) (*Incident, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if len(anomalyIDs) == 0 {
		return nil, false, ErrNoAnomalies
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range anomalyIDs {
		if incID, ok := m.incidentByAnom[id]; ok {
			return cloneIncident(m.incidents[incID]), false, nil
		}
	}

	anomalies := make([]AnomalyRecord, 0, len(anomalyIDs))
	for _, id := range anomalyIDs {
		r, ok := m.anomalies[id]
		if !ok {
			return nil, false, fmt.Errorf("anomaly %d: %w", id, ErrNotFound)
		}
		anomalies = append(anomalies, *r)
	}

	inc := buildIncident(anomalies, m.now())
	m.nextIncidentID++
	inc.ID = m.nextIncidentID
	m.incidents[inc.ID] = inc
	for _, id := range inc.AnomalyIDs {
		m.incidentByAnom[id] = inc.ID
	}
	return cloneIncident(inc), true, nil
}

// ListIncidents returns incidents newest first.
func (m *MemoryStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]Incident, 0, len(m.incidents))
	for _, inc := range m.incidents {
		if len(filter.RiskLevels) > 0 && !slices.Contains(filter.RiskLevels, inc.RiskLevel) {
			continue
		}
		if filter.TransmitterID != "" && !slices.Contains(inc.TransmitterIDs, filter.TransmitterID) {
			continue
		}
		if filter.Since != nil && inc.CreatedAt.Before(*filter.Since) {
			continue
		}
		out = append(out, *cloneIncident(inc))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return paginate(out, filter.Limit, filter.Offset), nil
}

func cloneIncident(inc *Incident) *Incident {
	c := *inc
	c.AnomalyIDs = append([]int64(nil), inc.AnomalyIDs...)
	c.TransmitterIDs = append([]string(nil), inc.TransmitterIDs...)
	c.DetectorTypes = append([]DetectorType(nil), inc.DetectorTypes...)
	return &c
}

const defaultListLimit = 100

func paginate[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset >= len(items) {
		return []T{}
	}
	if offset > 0 {
		items = items[offset:]
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
