// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

/*
Package api serves ShadowCheck's read API over HTTP using the Chi router.

# Endpoints

	GET  /healthz                    liveness plus store ping
	GET  /metrics                    Prometheus exposition
	GET  /api/v1/anomalies           list anomalies (filters below)
	GET  /api/v1/anomalies/{id}      single anomaly
	GET  /api/v1/incidents           list incidents
	GET  /api/v1/detectors           detector registry and enabled flags
	PATCH /api/v1/detectors/{type}   enable, disable or retune a detector
	GET  /api/v1/runs/latest         most recent run report
	POST /api/v1/runs                run analysis now (409 while one is active)

Anomaly filters: detector (comma-separated), transmitter, label
(comma-separated), min_confidence, since, until (RFC3339), order_by,
order_dir, limit, offset.

Every JSON response uses the APIResponse envelope:

	{"status":"success","data":...,"metadata":{"timestamp":"..."}}
*/
package api
