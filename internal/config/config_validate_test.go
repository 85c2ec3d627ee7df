// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Database.Backend = "postgres" },
			wantErr: "database.backend",
		},
		{
			name:    "duckdb without path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "DUCKDB_PATH",
		},
		{
			name: "memory backend without path",
			mutate: func(c *Config) {
				c.Database.Backend = BackendMemory
				c.Database.Path = ""
			},
		},
		{
			name:    "bad timestamp floor",
			mutate:  func(c *Config) { c.Analysis.TimestampFloor = "01/01/2000" },
			wantErr: "timestamp_floor",
		},
		{
			name:    "job timeout longer than window",
			mutate:  func(c *Config) { c.Analysis.JobTimeout = c.Analysis.Window + time.Hour },
			wantErr: "ANALYSIS_JOB_TIMEOUT",
		},
		{
			name:    "zero threshold",
			mutate:  func(c *Config) { c.Promotion.Threshold = 0 },
			wantErr: "promotion.threshold",
		},
		{
			name:    "detector thresholds out of order",
			mutate:  func(c *Config) { c.Detection.DualLocation.RegionalDistanceMeters = 1000 },
			wantErr: "regional_distance_meters",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name: "nats enabled with http url",
			mutate: func(c *Config) {
				c.NATS.Enabled = true
				c.NATS.URL = "http://127.0.0.1:4222"
			},
			wantErr: "NATS_URL",
		},
		{
			name:    "webhook enabled without url",
			mutate:  func(c *Config) { c.Webhook.Enabled = true },
			wantErr: "WEBHOOK_URL",
		},
		{
			name: "webhook with path",
			mutate: func(c *Config) {
				c.Webhook.Enabled = true
				c.Webhook.WebhookURL = "https://hooks.example.com/services/abc?token=x"
			},
		},
		{
			name: "wal enabled without path",
			mutate: func(c *Config) {
				c.WAL.Enabled = true
				c.WAL.Path = ""
			},
			wantErr: "wal path",
		},
		{
			name: "wal disabled without path",
			mutate: func(c *Config) {
				c.WAL.Enabled = false
				c.WAL.Path = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestEngineConfig(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.Analysis.TimestampFloor = "2010-03-15"
	cfg.Promotion.Threshold = 0.75

	ec, err := cfg.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig: %v", err)
	}
	wantFloor := time.Date(2010, 3, 15, 0, 0, 0, 0, time.UTC)
	if !ec.TimestampFloor.Equal(wantFloor) {
		t.Errorf("TimestampFloor = %v, want %v", ec.TimestampFloor, wantFloor)
	}
	if ec.PromotionThreshold != 0.75 {
		t.Errorf("PromotionThreshold = %v, want 0.75", ec.PromotionThreshold)
	}
	if ec.Window != cfg.Analysis.Window || ec.JobTimeout != cfg.Analysis.JobTimeout {
		t.Errorf("window/timeout not carried over: %+v", ec)
	}
	if ec.Sink != cfg.Sink {
		t.Errorf("Sink = %+v, want %+v", ec.Sink, cfg.Sink)
	}

	cfg.Analysis.TimestampFloor = ""
	ec, err = cfg.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig with empty floor: %v", err)
	}
	if !ec.TimestampFloor.IsZero() {
		t.Errorf("empty floor should map to zero time, got %v", ec.TimestampFloor)
	}
}

func TestServerAddr(t *testing.T) {
	t.Parallel()

	s := ServerConfig{Host: "127.0.0.1", Port: 9000}
	if got := s.Addr(); got != "127.0.0.1:9000" {
		t.Errorf("Addr() = %q", got)
	}
}
