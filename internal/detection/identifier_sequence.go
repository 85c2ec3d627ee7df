// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package detection

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// IdentifierSequenceDetector looks for "address walking": distinct hardware
// addresses that share a vendor prefix and have near-consecutive suffixes,
// with at least one of them seen away from a reference location. Hardware
// provisioned from one address block and swapped between deployments shows
// up this way.
type IdentifierSequenceDetector struct {
	config  IdentifierSequenceConfig
	enabled bool
	mu      sync.RWMutex
}

// SequenceMember describes one address in a detected sequence.
type SequenceMember struct {
	TransmitterID       string  `json:"transmitter_id"`
	Suffix              uint64  `json:"suffix"`
	Sightings           int     `json:"sightings"`
	MaxDistanceMeters   float64 `json:"max_distance_meters"`
	LocallyAdministered bool    `json:"locally_administered,omitempty"`
}

// IdentifierSequenceEvidence is the evidence payload of a sequence anomaly.
type IdentifierSequenceEvidence struct {
	Prefix            string           `json:"prefix"`
	SequenceLength    int              `json:"sequence_length"`
	SuffixSpan        uint64           `json:"suffix_span"`
	MaxDistanceMeters float64          `json:"max_distance_meters"`
	FarMembers        int              `json:"far_members"`
	Members           []SequenceMember `json:"members"`
}

// NewIdentifierSequenceDetector creates an identifier-sequence detector.
func NewIdentifierSequenceDetector(config IdentifierSequenceConfig) *IdentifierSequenceDetector {
	return &IdentifierSequenceDetector{config: config, enabled: config.Enabled}
}

// Type returns the detector type.
func (d *IdentifierSequenceDetector) Type() DetectorType { return DetectorIdentifierSequence }

type sequenceCandidate struct {
	summary *TransmitterSummary
	suffix  uint64
}

// Detect implements Detector.
func (d *IdentifierSequenceDetector) Detect(ctx context.Context, in *Input) ([]*AnomalyRecord, error) {
	d.mu.RLock()
	cfg := d.config
	d.mu.RUnlock()

	if len(in.References) == 0 {
		return nil, missingReference(d.Type())
	}

	groups := make(map[string][]sequenceCandidate)
	for _, sum := range in.Summaries {
		prefix, suffix, ok := splitMAC(sum.TransmitterID, cfg.PrefixOctets)
		if !ok {
			continue
		}
		groups[prefix] = append(groups[prefix], sequenceCandidate{summary: sum, suffix: suffix})
	}

	prefixes := make([]string, 0, len(groups))
	for p, members := range groups {
		if len(members) >= cfg.MinSequenceLength {
			prefixes = append(prefixes, p)
		}
	}
	sort.Strings(prefixes)

	var out []*AnomalyRecord
	for _, prefix := range prefixes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, chain := range sequentialChains(groups[prefix], uint64(cfg.MaxSuffixGap)) {
			if len(chain) < cfg.MinSequenceLength {
				continue
			}
			rec, err := d.evaluate(cfg, prefix, chain)
			if err != nil {
				return nil, err
			}
			if rec != nil {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

// sequentialChains sorts members by suffix and splits them wherever two
// neighbours are more than maxGap apart.
func sequentialChains(members []sequenceCandidate, maxGap uint64) [][]sequenceCandidate {
	sorted := append([]sequenceCandidate(nil), members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].suffix < sorted[j].suffix })

	var chains [][]sequenceCandidate
	var cur []sequenceCandidate
	for _, m := range sorted {
		if len(cur) > 0 && m.suffix-cur[len(cur)-1].suffix > maxGap {
			chains = append(chains, cur)
			cur = nil
		}
		cur = append(cur, m)
	}
	if len(cur) > 0 {
		chains = append(chains, cur)
	}
	return chains
}

func (d *IdentifierSequenceDetector) evaluate(cfg IdentifierSequenceConfig, prefix string, chain []sequenceCandidate) (*AnomalyRecord, error) {
	ev := &IdentifierSequenceEvidence{
		Prefix:         prefix,
		SequenceLength: len(chain),
		SuffixSpan:     chain[len(chain)-1].suffix - chain[0].suffix,
		Members:        make([]SequenceMember, len(chain)),
	}

	ids := make([]string, len(chain))
	var span TimeSpan
	for i, m := range chain {
		maxDist := m.summary.MaxReferenceDistance()
		ids[i] = m.summary.TransmitterID
		ev.Members[i] = SequenceMember{
			TransmitterID:       m.summary.TransmitterID,
			Suffix:              m.suffix,
			Sightings:           m.summary.SightingCount,
			MaxDistanceMeters:   round2(maxDist),
			LocallyAdministered: isLocallyAdministered(m.summary.TransmitterID),
		}
		if maxDist >= cfg.FarDistanceMeters {
			ev.FarMembers++
		}
		ev.MaxDistanceMeters = math.Max(ev.MaxDistanceMeters, round2(maxDist))
		span.Extend(m.summary.FirstSeen)
		span.Extend(m.summary.LastSeen)
	}
	if ev.FarMembers == 0 {
		return nil, nil
	}

	conf := sequenceConfidence(len(chain), ev.MaxDistanceMeters)
	elevated := len(chain) >= 3 || ev.MaxDistanceMeters >= cfg.ElevatedDistanceMeters
	rec, err := newRecord(d.Type(), ids, conf, span, elevated, ev)
	if err != nil {
		return nil, fmt.Errorf("build record for prefix %s: %w", prefix, err)
	}
	return rec, nil
}

// sequenceConfidence grows with chain length (0.5, 0.75, 0.875, ... for
// 2, 3, 4 members) and with the log of the farthest distance, reaching
// full weight at 100 km.
func sequenceConfidence(length int, maxDistMeters float64) float64 {
	lengthScore := 1 - math.Pow(0.5, float64(length-1))
	distScore := math.Min(1, math.Log1p(maxDistMeters/1000)/math.Log1p(100))
	return math.Min(0.99, 0.15+0.45*lengthScore+0.4*distScore)
}

// Configure applies a JSON config overlay.
func (d *IdentifierSequenceDetector) Configure(raw []byte) error {
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
func (d *IdentifierSequenceDetector) Config() IdentifierSequenceConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// Enabled reports whether the detector runs.
func (d *IdentifierSequenceDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled turns the detector on or off.
func (d *IdentifierSequenceDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
	d.config.Enabled = enabled
}
