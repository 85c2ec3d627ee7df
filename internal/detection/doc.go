// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

// Package detection is the surveillance anomaly-detection engine. It turns
// geotagged transmitter observations and the subject's reference locations
// into scored, classified anomaly records and promoted incidents.
//
// Detection Architecture:
//
//	ObservationRepository -> Aggregate -> Detectors (parallel) -> merge/classify
//	                                                                 |
//	                                                                 v
//	                         Journal <- Sink (retry + breaker) -> AnomalyStore
//	                                                                 |
//	                                                                 v
//	                                    Notifiers/Publisher <- Promoter -> IncidentStore
//
// Detectors:
//   - Dual Location: a transmitter seen near a reference location and far from it
//   - Identifier Sequence: sibling MAC addresses from one sequential block
//   - Coordinated Movement: groups of transmitters recurring in the same place and time
//   - Temporal Correlation: transmitters appearing around the subject's arrivals and departures
//   - Signal Anomaly: unstable or suspiciously strong signals
//
// Records are keyed by detector type, sorted transmitter IDs and a span-start
// bucket, so repeated runs refresh rather than duplicate them.
package detection
