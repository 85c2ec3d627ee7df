// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

// Package metrics holds the Prometheus instruments for ShadowCheck. All
// collectors register with the default registry through promauto and are
// exposed on /metrics by the API server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Analysis run metrics
	AnalysisRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shadowcheck_analysis_runs_total",
			Help: "Total number of analysis runs by final status",
		},
		[]string{"status"}, // succeeded, partial, failed, aborted
	)

	AnalysisRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shadowcheck_analysis_run_duration_seconds",
			Help:    "Wall-clock duration of analysis runs",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	AnalysisLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shadowcheck_analysis_last_success_timestamp",
			Help: "Unix timestamp of the last analysis run that wrote all findings",
		},
	)

	// Data quality metrics
	ObservationsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shadowcheck_observations_accepted_total",
			Help: "Observations that passed validation",
		},
	)

	ObservationsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shadowcheck_observations_rejected_total",
			Help: "Observations excluded from analysis by reason",
		},
		[]string{"reason"},
	)

	// Detector metrics
	DetectorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shadowcheck_detector_duration_seconds",
			Help:    "Duration of a single detector pass",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"detector"},
	)

	DetectorRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shadowcheck_detector_runs_total",
			Help: "Detector passes by outcome",
		},
		[]string{"detector", "status"}, // ok, skipped, failed
	)

	DetectorFindings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shadowcheck_detector_findings_total",
			Help: "Anomaly records produced by each detector",
		},
		[]string{"detector"},
	)

	// Sink metrics
	AnomaliesUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shadowcheck_anomalies_upserted_total",
			Help: "Anomaly records written to the store",
		},
		[]string{"detector", "label"},
	)

	SinkRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shadowcheck_sink_retries_total",
			Help: "Upsert attempts retried after a transient failure",
		},
	)

	SinkFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shadowcheck_sink_failures_total",
			Help: "Upserts that failed after all retries",
		},
	)

	IncidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shadowcheck_incidents_created_total",
			Help: "Incidents promoted from anomalies",
		},
		[]string{"risk_level"},
	)

	// Journal metrics
	JournalPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shadowcheck_journal_pending_entries",
			Help: "Anomaly writes waiting in the journal for replay",
		},
	)

	JournalReplayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shadowcheck_journal_replayed_total",
			Help: "Journal entries replayed by outcome",
		},
		[]string{"result"}, // success, failure, expired
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Notification and event metrics
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shadowcheck_notifications_total",
			Help: "Incident notifications by notifier and outcome",
		},
		[]string{"notifier", "status"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shadowcheck_events_published_total",
			Help: "Events published to the message bus",
		},
		[]string{"topic", "status"},
	)

	ScheduledRunsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shadowcheck_scheduled_runs_skipped_total",
			Help: "Scheduled or triggered runs skipped because a run was already active",
		},
		[]string{"trigger"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shadowcheck_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shadowcheck_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordRun records a finished analysis run.
func RecordRun(status string, duration time.Duration) {
	AnalysisRunsTotal.WithLabelValues(status).Inc()
	AnalysisRunDuration.Observe(duration.Seconds())
	if status == "succeeded" {
		AnalysisLastSuccess.Set(float64(time.Now().Unix()))
	}
}

// RecordRunSkipped records a run request dropped due to overlap.
func RecordRunSkipped(trigger string) {
	ScheduledRunsSkipped.WithLabelValues(trigger).Inc()
}

// RecordDataQuality records the accepted count and per-reason rejections
// from one aggregation pass.
func RecordDataQuality(accepted int, rejected map[string]int) {
	ObservationsAccepted.Add(float64(accepted))
	for reason, n := range rejected {
		if n > 0 {
			ObservationsRejected.WithLabelValues(reason).Add(float64(n))
		}
	}
}

// RecordDetector records one detector pass.
func RecordDetector(detector, status string, findings int, duration time.Duration) {
	DetectorRuns.WithLabelValues(detector, status).Inc()
	DetectorDuration.WithLabelValues(detector).Observe(duration.Seconds())
	if findings > 0 {
		DetectorFindings.WithLabelValues(detector).Add(float64(findings))
	}
}

// RecordUpsert records a successful anomaly write.
func RecordUpsert(detector, label string) {
	AnomaliesUpserted.WithLabelValues(detector, label).Inc()
}

// RecordBreakerResult records the outcome of a call through a breaker.
func RecordBreakerResult(name, result string) {
	CircuitBreakerRequests.WithLabelValues(name, result).Inc()
}

// RecordBreakerTransition records a breaker state change.
func RecordBreakerTransition(name, from, to string, state float64) {
	CircuitBreakerState.WithLabelValues(name).Set(state)
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
}

// RecordNotification records a notifier delivery.
func RecordNotification(notifier string, err error) {
	NotificationsSent.WithLabelValues(notifier, statusOf(err)).Inc()
}

// RecordPublish records a message bus publish.
func RecordPublish(topic string, err error) {
	EventsPublished.WithLabelValues(topic, statusOf(err)).Inc()
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
