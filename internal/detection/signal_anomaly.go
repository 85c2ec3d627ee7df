// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package detection

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// Reasons reported in signal-anomaly evidence.
const (
	SignalReasonHighVariance   = "high_variance"
	SignalReasonStrongVariable = "strong_and_variable"
)

// SignalAnomalyDetector flags transmitters whose signal strength swings
// widely, which suggests a moving source or inconsistent transmit power,
// and transmitters that are unusually strong yet still variable, which
// suggests close and intermittent proximity.
type SignalAnomalyDetector struct {
	config  SignalAnomalyConfig
	enabled bool
	mu      sync.RWMutex
}

// SignalAnomalyEvidence is the evidence payload of a signal anomaly.
type SignalAnomalyEvidence struct {
	Reasons         []string        `json:"reasons"`
	Samples         int             `json:"samples"`
	MeanDBm         float64         `json:"mean_dbm"`
	StdDevDBm       float64         `json:"std_dev_dbm"`
	MinDBm          float64         `json:"min_dbm"`
	MaxDBm          float64         `json:"max_dbm"`
	StdDevThreshold float64         `json:"std_dev_threshold"`
	Mobility        MobilityPattern `json:"mobility"`
}

// NewSignalAnomalyDetector creates a signal-anomaly detector.
func NewSignalAnomalyDetector(config SignalAnomalyConfig) *SignalAnomalyDetector {
	return &SignalAnomalyDetector{config: config, enabled: config.Enabled}
}

// Type returns the detector type.
func (d *SignalAnomalyDetector) Type() DetectorType { return DetectorSignalAnomaly }

// Detect implements Detector.
func (d *SignalAnomalyDetector) Detect(ctx context.Context, in *Input) ([]*AnomalyRecord, error) {
	d.mu.RLock()
	cfg := d.config
	d.mu.RUnlock()

	var out []*AnomalyRecord
	for _, sum := range in.Summaries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st := sum.Signal
		if st.Count < cfg.MinSamples {
			continue
		}

		highVariance := st.StdDev >= cfg.StdDevThresholdDBm
		strongVariable := st.Mean >= cfg.StrongSignalDBm && st.StdDev >= cfg.ModerateStdDevDBm
		if !highVariance && !strongVariable {
			continue
		}

		ev := &SignalAnomalyEvidence{
			Samples:         st.Count,
			MeanDBm:         st.Mean,
			StdDevDBm:       st.StdDev,
			MinDBm:          st.Min,
			MaxDBm:          st.Max,
			StdDevThreshold: cfg.StdDevThresholdDBm,
			Mobility:        sum.Mobility,
		}
		if highVariance {
			ev.Reasons = append(ev.Reasons, SignalReasonHighVariance)
		}
		if strongVariable {
			ev.Reasons = append(ev.Reasons, SignalReasonStrongVariable)
		}

		conf := signalConfidence(cfg, st, highVariance, strongVariable)
		span := TimeSpan{Start: sum.FirstSeen, End: sum.LastSeen}
		rec, err := newRecord(d.Type(), []string{sum.TransmitterID}, conf, span, highVariance && strongVariable, ev)
		if err != nil {
			return nil, fmt.Errorf("build record for %s: %w", sum.TransmitterID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// signalConfidence scores the variance excess over the threshold and the
// mean strength above the strong-signal level, plus a small bonus for
// larger sample sizes. It stays below 0.9 because signal behaviour alone
// is weak evidence.
func signalConfidence(cfg SignalAnomalyConfig, st SignalStats, highVariance, strongVariable bool) float64 {
	var varianceScore, strengthScore float64
	if highVariance {
		varianceScore = 0.5 + 0.5*saturate(st.StdDev-cfg.StdDevThresholdDBm, cfg.StdDevThresholdDBm)
	}
	if strongVariable {
		strengthScore = 0.5 + 0.5*saturate(st.Mean-cfg.StrongSignalDBm, 15)
	}
	sampleScore := saturate(float64(st.Count-cfg.MinSamples), 50)
	return math.Min(0.89, 0.2+0.35*varianceScore+0.25*strengthScore+0.1*sampleScore)
}

// Configure applies a JSON config overlay.
func (d *SignalAnomalyDetector) Configure(raw []byte) error {
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
func (d *SignalAnomalyDetector) Config() SignalAnomalyConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// Enabled reports whether the detector runs.
func (d *SignalAnomalyDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled turns the detector on or off.
func (d *SignalAnomalyDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
	d.config.Enabled = enabled
}
