// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRun(t *testing.T) {
	before := testutil.ToFloat64(AnalysisRunsTotal.WithLabelValues("partial"))
	RecordRun("partial", 2*time.Second)
	if got := testutil.ToFloat64(AnalysisRunsTotal.WithLabelValues("partial")); got != before+1 {
		t.Errorf("partial runs = %v, want %v", got, before+1)
	}

	RecordRun("succeeded", time.Second)
	if testutil.ToFloat64(AnalysisLastSuccess) <= 0 {
		t.Error("last success timestamp not set")
	}
}

func TestRecordDataQuality(t *testing.T) {
	beforeAccepted := testutil.ToFloat64(ObservationsAccepted)
	beforeNull := testutil.ToFloat64(ObservationsRejected.WithLabelValues("null_island"))
	beforeZero := testutil.ToFloat64(ObservationsRejected.WithLabelValues("zero_reason"))

	RecordDataQuality(10, map[string]int{"null_island": 3, "zero_reason": 0})

	if got := testutil.ToFloat64(ObservationsAccepted); got != beforeAccepted+10 {
		t.Errorf("accepted = %v, want %v", got, beforeAccepted+10)
	}
	if got := testutil.ToFloat64(ObservationsRejected.WithLabelValues("null_island")); got != beforeNull+3 {
		t.Errorf("null_island = %v, want %v", got, beforeNull+3)
	}
	if got := testutil.ToFloat64(ObservationsRejected.WithLabelValues("zero_reason")); got != beforeZero {
		t.Errorf("zero counts should not be added, got %v", got)
	}
}

func TestRecordDetector(t *testing.T) {
	tests := []struct {
		name     string
		detector string
		status   string
		findings int
	}{
		{"findings", "dual_location", "ok", 2},
		{"no findings", "signal_anomaly", "ok", 0},
		{"skipped", "temporal_correlation", "skipped", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs := testutil.ToFloat64(DetectorRuns.WithLabelValues(tt.detector, tt.status))
			found := testutil.ToFloat64(DetectorFindings.WithLabelValues(tt.detector))

			RecordDetector(tt.detector, tt.status, tt.findings, 5*time.Millisecond)

			if got := testutil.ToFloat64(DetectorRuns.WithLabelValues(tt.detector, tt.status)); got != runs+1 {
				t.Errorf("runs = %v, want %v", got, runs+1)
			}
			if got := testutil.ToFloat64(DetectorFindings.WithLabelValues(tt.detector)); got != found+float64(tt.findings) {
				t.Errorf("findings = %v, want %v", got, found+float64(tt.findings))
			}
		})
	}
}

func TestRecordNotificationAndPublish(t *testing.T) {
	ok := testutil.ToFloat64(NotificationsSent.WithLabelValues("webhook", "success"))
	failed := testutil.ToFloat64(NotificationsSent.WithLabelValues("webhook", "error"))

	RecordNotification("webhook", nil)
	RecordNotification("webhook", errors.New("timeout"))

	if got := testutil.ToFloat64(NotificationsSent.WithLabelValues("webhook", "success")); got != ok+1 {
		t.Errorf("success = %v, want %v", got, ok+1)
	}
	if got := testutil.ToFloat64(NotificationsSent.WithLabelValues("webhook", "error")); got != failed+1 {
		t.Errorf("error = %v, want %v", got, failed+1)
	}

	pub := testutil.ToFloat64(EventsPublished.WithLabelValues("shadowcheck.incidents", "success"))
	RecordPublish("shadowcheck.incidents", nil)
	if got := testutil.ToFloat64(EventsPublished.WithLabelValues("shadowcheck.incidents", "success")); got != pub+1 {
		t.Errorf("published = %v, want %v", got, pub+1)
	}
}

func TestRecordBreakerTransition(t *testing.T) {
	RecordBreakerTransition("anomaly-sink", "closed", "open", 2)
	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("anomaly-sink")); got != 2 {
		t.Errorf("state = %v, want 2", got)
	}
	before := testutil.ToFloat64(CircuitBreakerRequests.WithLabelValues("anomaly-sink", "rejected"))
	RecordBreakerResult("anomaly-sink", "rejected")
	if got := testutil.ToFloat64(CircuitBreakerRequests.WithLabelValues("anomaly-sink", "rejected")); got != before+1 {
		t.Errorf("rejected = %v, want %v", got, before+1)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/anomalies", "200"))
	RecordAPIRequest("GET", "/api/v1/anomalies", "200", 3*time.Millisecond)
	if got := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/anomalies", "200")); got != before+1 {
		t.Errorf("requests = %v, want %v", got, before+1)
	}
}
