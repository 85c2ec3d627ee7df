// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/shadowcheck/internal/detection"
)

var apiBase = time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

// busyEngine wraps a real engine but reports every Run as overlapping.
type busyEngine struct {
	*detection.Engine
}

func (busyEngine) Run(context.Context) (*detection.RunReport, error) {
	return nil, detection.ErrRunInProgress
}

func newTestEngine(store *detection.MemoryStore) *detection.Engine {
	cfg := detection.DefaultEngineConfig()
	cfg.Sink.InitialBackoff = 0
	cfg.Sink.MaxBackoff = 0
	engine := detection.NewEngine(store, store, cfg)
	for _, d := range detection.NewDetectors(detection.DefaultSettings()) {
		engine.RegisterDetector(d)
	}
	return engine
}

func seedAnomaly(t *testing.T, store *detection.MemoryStore, dt detection.DetectorType, ids []string, conf float64) int64 {
	t.Helper()
	r := &detection.AnomalyRecord{
		DedupKey:            detection.DedupKey(dt, ids, apiBase, detection.DefaultDedupBucket),
		DetectorType:        dt,
		SubjectTransmitters: ids,
		ConfidenceScore:     conf,
		ClassificationLabel: detection.Classify(conf),
		Evidence:            json.RawMessage(`{}`),
		TimeSpan:            detection.TimeSpan{Start: apiBase, End: apiBase.Add(time.Hour)},
		Elevated:            true,
	}
	id, err := store.UpsertAnomaly(context.Background(), r)
	if err != nil {
		t.Fatalf("seed anomaly: %v", err)
	}
	return id
}

type testServer struct {
	store   *detection.MemoryStore
	engine  *detection.Engine
	handler http.Handler
}

func newTestServer(t *testing.T, mwCfg *ChiMiddlewareConfig, pinger Pinger) *testServer {
	t.Helper()
	store := detection.NewMemoryStore()
	engine := newTestEngine(store)
	h := NewHandler(store, engine, pinger)
	return &testServer{
		store:   store,
		engine:  engine,
		handler: NewRouter(h, NewChiMiddleware(mwCfg)).Setup(),
	}
}

func (s *testServer) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var resp APIResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode %s %s: %v", method, target, err)
		}
	}
	return rec, resp
}

func TestHealth(t *testing.T) {
	t.Parallel()

	t.Run("healthy", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, nil, fakePinger{})
		rec, resp := s.do(t, http.MethodGet, "/healthz", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if resp.Status != "success" {
			t.Errorf("status field = %q", resp.Status)
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Error("missing X-Request-ID header")
		}
	})

	t.Run("database down", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, nil, fakePinger{err: errors.New("closed")})
		rec, resp := s.do(t, http.MethodGet, "/healthz", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
		if resp.Error == nil || resp.Error.Code != "DATABASE_UNAVAILABLE" {
			t.Errorf("error = %+v", resp.Error)
		}
	})

	t.Run("memory backend has no pinger", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, nil, nil)
		if rec, _ := s.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})
}

func TestListAnomalies(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, nil)
	seedAnomaly(t, s.store, detection.DetectorDualLocation, []string{"AA:BB:CC:00:00:01"}, 0.92)
	seedAnomaly(t, s.store, detection.DetectorSignalAnomaly, []string{"AA:BB:CC:00:00:02"}, 0.45)

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantCount int
	}{
		{"all", "", http.StatusOK, 2},
		{"by detector", "?detector=dual_location", http.StatusOK, 1},
		{"by label", "?label=critical,high", http.StatusOK, 1},
		{"by transmitter lower-case", "?transmitter=aa:bb:cc:00:00:02", http.StatusOK, 1},
		{"min confidence", "?min_confidence=0.5", http.StatusOK, 1},
		{"paged", "?limit=1&offset=1", http.StatusOK, 1},
		{"unknown detector", "?detector=ghost", http.StatusBadRequest, 0},
		{"unknown label", "?label=severe", http.StatusBadRequest, 0},
		{"bad confidence", "?min_confidence=2", http.StatusBadRequest, 0},
		{"bad since", "?since=yesterday", http.StatusBadRequest, 0},
		{"inverted range", "?since=2025-06-10T00:00:00Z&until=2025-06-09T00:00:00Z", http.StatusBadRequest, 0},
		{"bad order dir", "?order_dir=sideways", http.StatusBadRequest, 0},
		{"limit too large", "?limit=5000", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec, resp := s.do(t, http.MethodGet, "/api/v1/anomalies"+tt.query, "")
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				if resp.Error == nil || resp.Error.Code != "VALIDATION_ERROR" {
					t.Errorf("error = %+v, want VALIDATION_ERROR", resp.Error)
				}
				return
			}
			if resp.Metadata.Count == nil || *resp.Metadata.Count != tt.wantCount {
				t.Errorf("count = %v, want %d", resp.Metadata.Count, tt.wantCount)
			}
		})
	}
}

func TestGetAnomaly(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, nil)
	id := seedAnomaly(t, s.store, detection.DetectorDualLocation, []string{"AA:BB:CC:00:00:01"}, 0.92)

	rec, _ := s.do(t, http.MethodGet, "/api/v1/anomalies/"+strconv.FormatInt(id, 10), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Data detection.AnomalyRecord `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Data.ID != id || body.Data.DetectorType != detection.DetectorDualLocation {
		t.Errorf("anomaly = %+v", body.Data)
	}

	if rec, _ := s.do(t, http.MethodGet, "/api/v1/anomalies/999", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing id status = %d, want 404", rec.Code)
	}
	if rec, _ := s.do(t, http.MethodGet, "/api/v1/anomalies/abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rec.Code)
	}
}

func TestListIncidents(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, nil)
	id := seedAnomaly(t, s.store, detection.DetectorDualLocation, []string{"AA:BB:CC:00:00:01"}, 0.92)
	if _, _, err := s.store.PromoteIncident(context.Background(), []int64{id}); err != nil {
		t.Fatalf("PromoteIncident: %v", err)
	}

	rec, resp := s.do(t, http.MethodGet, "/api/v1/incidents", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp.Metadata.Count == nil || *resp.Metadata.Count != 1 {
		t.Errorf("count = %v, want 1", resp.Metadata.Count)
	}

	rec, _ = s.do(t, http.MethodGet, "/api/v1/incidents?risk_level=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad risk_level status = %d, want 400", rec.Code)
	}
}

func TestDetectors(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, nil)

	rec, resp := s.do(t, http.MethodGet, "/api/v1/detectors", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp.Metadata.Count == nil || *resp.Metadata.Count != len(detection.AllDetectorTypes) {
		t.Errorf("count = %v, want %d", resp.Metadata.Count, len(detection.AllDetectorTypes))
	}

	rec, _ = s.do(t, http.MethodPatch, "/api/v1/detectors/signal_anomaly", `{"enabled":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("disable status = %d (%s)", rec.Code, rec.Body.String())
	}
	d, _ := s.engine.GetDetector(detection.DetectorSignalAnomaly)
	if d.Enabled() {
		t.Error("signal_anomaly still enabled after PATCH")
	}

	rec, _ = s.do(t, http.MethodPatch, "/api/v1/detectors/dual_location", `{"config":{"far_distance_meters":-5}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid config status = %d, want 400", rec.Code)
	}

	rec, _ = s.do(t, http.MethodPatch, "/api/v1/detectors/dual_location", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}

	rec, _ = s.do(t, http.MethodPatch, "/api/v1/detectors/ghost", `{"enabled":true}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown detector status = %d, want 404", rec.Code)
	}
}

func TestRuns(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, nil)

	if rec, _ := s.do(t, http.MethodGet, "/api/v1/runs/latest", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("latest before any run = %d, want 404", rec.Code)
	}

	rec, _ := s.do(t, http.MethodPost, "/api/v1/runs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /runs = %d (%s)", rec.Code, rec.Body.String())
	}

	rec, _ = s.do(t, http.MethodGet, "/api/v1/runs/latest", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("latest after run = %d", rec.Code)
	}
	var body struct {
		Data detection.RunReport `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Data.RunID == "" {
		t.Error("latest report has no run ID")
	}
}

func TestTriggerRun_Conflict(t *testing.T) {
	t.Parallel()

	store := detection.NewMemoryStore()
	h := NewHandler(store, busyEngine{newTestEngine(store)}, nil)
	handler := NewRouter(h, nil).Setup()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "RUN_IN_PROGRESS") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	cfg := DefaultChiMiddlewareConfig()
	cfg.RateLimitRequests = 2
	cfg.RateLimitWindow = time.Minute
	s := newTestServer(t, cfg, nil)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec, _ := s.do(t, http.MethodGet, "/api/v1/detectors", "")
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}

	// Health checks are outside the limited group.
	if rec, _ := s.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, nil)
	s.do(t, http.MethodGet, "/api/v1/detectors", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `shadowcheck_api_requests_total{endpoint="/api/v1/detectors"`) {
		t.Error("request metric with route pattern label not exported")
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	cfg := DefaultChiMiddlewareConfig()
	cfg.CORSAllowedOrigins = []string{"https://ui.example.com"}
	s := newTestServer(t, cfg, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/anomalies", nil)
	req.Header.Set("Origin", "https://ui.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://ui.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
