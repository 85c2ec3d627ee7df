// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/shadowcheck/internal/detection"
	"github.com/tomtom215/shadowcheck/internal/logging"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Engine is the slice of *detection.Engine the handlers use.
type Engine interface {
	Run(ctx context.Context) (*detection.RunReport, error)
	LastReport() *detection.RunReport
	Running() bool
	ListDetectors() []detection.Detector
	GetDetector(t detection.DetectorType) (detection.Detector, bool)
}

// Pinger reports store health. Satisfied by *database.DB.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the read API.
type Handler struct {
	store  detection.Store
	engine Engine
	db     Pinger
}

// NewHandler creates the API handlers. db may be nil for the in-memory
// backend.
func NewHandler(store detection.Store, engine Engine, db Pinger) *Handler {
	return &Handler{store: store, engine: engine, db: db}
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	status := map[string]interface{}{
		"status":        "ok",
		"analysis_busy": h.engine.Running(),
	}
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "DATABASE_UNAVAILABLE", "Database ping failed", err)
			return
		}
		status["database"] = "ok"
	}
	if last := h.engine.LastReport(); last != nil {
		status["last_run_status"] = last.Status
		status["last_run_finished_at"] = last.FinishedAt
	}
	respondSuccess(w, status, started)
}

// ListAnomalies handles GET /api/v1/anomalies.
func (h *Handler) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	filter, err := parseAnomalyFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	anomalies, err := h.store.ListAnomalies(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to fetch anomalies", err)
		return
	}
	respondList(w, anomalies, started)
}

// GetAnomaly handles GET /api/v1/anomalies/{id}.
func (h *Handler) GetAnomaly(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid anomaly ID", nil)
		return
	}

	anomaly, err := h.store.GetAnomaly(r.Context(), id)
	if errors.Is(err, detection.ErrNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Anomaly not found", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to fetch anomaly", err)
		return
	}
	respondSuccess(w, anomaly, started)
}

// ListIncidents handles GET /api/v1/incidents.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	q := r.URL.Query()

	filter := detection.IncidentFilter{TransmitterID: strings.ToUpper(strings.TrimSpace(q.Get("transmitter")))}
	var err error
	if filter.RiskLevels, err = parseSeverities(q.Get("risk_level")); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	if filter.Since, err = parseTimeParam(q.Get("since"), "since"); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	if filter.Limit, filter.Offset, err = parsePagination(r); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	incidents, err := h.store.ListIncidents(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to fetch incidents", err)
		return
	}
	respondList(w, incidents, started)
}

// detectorView is the JSON shape of a registered detector.
type detectorView struct {
	Type    detection.DetectorType `json:"type"`
	Enabled bool                   `json:"enabled"`
}

// ListDetectors handles GET /api/v1/detectors.
func (h *Handler) ListDetectors(w http.ResponseWriter, _ *http.Request) {
	started := time.Now()
	detectors := h.engine.ListDetectors()
	out := make([]detectorView, 0, len(detectors))
	for _, d := range detectors {
		out = append(out, detectorView{Type: d.Type(), Enabled: d.Enabled()})
	}
	respondList(w, out, started)
}

// updateDetectorRequest is the body of PATCH /api/v1/detectors/{type}.
// Config is a partial document overlaid on the current settings.
type updateDetectorRequest struct {
	Enabled *bool           `json:"enabled,omitempty"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// UpdateDetector handles PATCH /api/v1/detectors/{type}.
func (h *Handler) UpdateDetector(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	dt, ok := detection.ParseDetectorType(chi.URLParam(r, "type"))
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Unknown detector type", nil)
		return
	}
	d, ok := h.engine.GetDetector(dt)
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Detector not registered", nil)
		return
	}

	var req updateDetectorRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}
	if len(req.Config) > 0 {
		if err := d.Configure(req.Config); err != nil {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
	}
	if req.Enabled != nil {
		d.SetEnabled(*req.Enabled)
	}

	logging.Ctx(r.Context()).Info().
		Str("detector", string(dt)).
		Bool("enabled", d.Enabled()).
		Bool("reconfigured", len(req.Config) > 0).
		Msg("Detector updated via API")

	respondSuccess(w, detectorView{Type: dt, Enabled: d.Enabled()}, started)
}

// LatestRun handles GET /api/v1/runs/latest.
func (h *Handler) LatestRun(w http.ResponseWriter, _ *http.Request) {
	started := time.Now()
	report := h.engine.LastReport()
	if report == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "No analysis run has completed yet", nil)
		return
	}
	respondSuccess(w, report, started)
}

// TriggerRun handles POST /api/v1/runs. The run is detached from the
// request so a client disconnect does not abort it; the engine's job
// timeout still applies.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	report, err := h.engine.Run(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, detection.ErrRunInProgress):
		respondError(w, http.StatusConflict, "RUN_IN_PROGRESS", "An analysis run is already in progress", nil)
	case err != nil && report == nil:
		respondError(w, http.StatusInternalServerError, "ANALYSIS_ERROR", "Analysis run failed", err)
	case err != nil:
		respondJSON(w, http.StatusInternalServerError, &APIResponse{
			Status: "error",
			Data:   report,
			Metadata: Metadata{
				Timestamp:   time.Now().UTC(),
				QueryTimeMS: time.Since(started).Milliseconds(),
			},
			Error: &APIError{Code: "ANALYSIS_" + strings.ToUpper(string(report.Status)), Message: report.Error},
		})
	default:
		respondSuccess(w, report, started)
	}
}
