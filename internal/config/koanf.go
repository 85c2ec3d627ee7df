// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/shadowcheck/internal/detection"
	"github.com/tomtom215/shadowcheck/internal/eventprocessor"
	"github.com/tomtom215/shadowcheck/internal/wal"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/shadowcheck/config.yaml",
	"/etc/shadowcheck/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	walCfg := wal.DefaultConfig()
	walCfg.Path = "/data/wal"

	return &Config{
		Database: DatabaseConfig{
			Backend:   BackendDuckDB,
			Path:      "/data/shadowcheck.duckdb",
			MaxMemory: "2GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Analysis: AnalysisConfig{
			Window:         30 * 24 * time.Hour,
			Interval:       time.Hour,
			JobTimeout:     10 * time.Minute,
			RunOnStart:     true,
			RunOnce:        false,
			DedupBucket:    detection.DefaultDedupBucket,
			TimestampFloor: "2000-01-01",
			MaxClockSkew:   5 * time.Minute,
		},
		Detection: detection.DefaultSettings(),
		Sink:      detection.DefaultSinkConfig(),
		Promotion: PromotionConfig{
			Threshold: detection.DefaultPromotionThreshold,
		},
		WAL:     walCfg,
		NATS:    eventprocessor.DefaultPublisherConfig(), // Disabled until nats.enabled is set
		Webhook: detection.DefaultWebhookConfig(),
		Server: ServerConfig{
			Enabled:         true,
			Host:            "0.0.0.0",
			Port:            8089,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
//
// Precedence is ENV > File > Defaults.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// DUCKDB_PATH -> database.path
	// SIGNAL_ANOMALY_MIN_SAMPLES -> detection.signal_anomaly.min_samples
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Post-process slice fields from comma-separated strings
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// Env vars arrive as strings; YAML lists are left alone.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps lower-cased environment variable names to koanf paths.
var envMappings = map[string]string{
	// Database mappings
	"database_backend":  "database.backend",
	"duckdb_path":       "database.path",
	"duckdb_max_memory": "database.max_memory",
	"duckdb_threads":    "database.threads",

	// Analysis mappings
	"analysis_window":          "analysis.window",
	"analysis_interval":        "analysis.interval",
	"analysis_job_timeout":     "analysis.job_timeout",
	"analysis_run_on_start":    "analysis.run_on_start",
	"analysis_run_once":        "analysis.run_once",
	"analysis_dedup_bucket":    "analysis.dedup_bucket",
	"analysis_timestamp_floor": "analysis.timestamp_floor",
	"analysis_max_clock_skew":  "analysis.max_clock_skew",

	// Detector mappings
	"dual_location_enabled":                   "detection.dual_location.enabled",
	"dual_location_far_distance_meters":       "detection.dual_location.far_distance_meters",
	"dual_location_regional_meters":           "detection.dual_location.regional_distance_meters",
	"dual_location_long_range_meters":         "detection.dual_location.long_range_distance_meters",
	"identifier_sequence_enabled":             "detection.identifier_sequence.enabled",
	"identifier_sequence_prefix_octets":       "detection.identifier_sequence.prefix_octets",
	"identifier_sequence_max_suffix_gap":      "detection.identifier_sequence.max_suffix_gap",
	"identifier_sequence_min_length":          "detection.identifier_sequence.min_sequence_length",
	"coordinated_movement_enabled":            "detection.coordinated_movement.enabled",
	"coordinated_movement_grid_meters":        "detection.coordinated_movement.grid_cell_meters",
	"coordinated_movement_time_window":        "detection.coordinated_movement.time_window",
	"coordinated_movement_min_cluster":        "detection.coordinated_movement.min_cluster_size",
	"coordinated_movement_min_recurrence":     "detection.coordinated_movement.min_recurrence",
	"temporal_correlation_enabled":            "detection.temporal_correlation.enabled",
	"temporal_correlation_window":             "detection.temporal_correlation.window",
	"temporal_correlation_radius_meters":      "detection.temporal_correlation.radius_meters",
	"temporal_correlation_min_transitions":    "detection.temporal_correlation.min_transitions",
	"temporal_correlation_exclude_stationary": "detection.temporal_correlation.exclude_stationary",
	"signal_anomaly_enabled":                  "detection.signal_anomaly.enabled",
	"signal_anomaly_min_samples":              "detection.signal_anomaly.min_samples",
	"signal_anomaly_std_dev_threshold":        "detection.signal_anomaly.std_dev_threshold_dbm",
	"signal_anomaly_strong_signal_dbm":        "detection.signal_anomaly.strong_signal_dbm",

	// Sink mappings
	"sink_max_attempts":     "sink.max_attempts",
	"sink_initial_backoff":  "sink.initial_backoff",
	"sink_max_backoff":      "sink.max_backoff",
	"sink_breaker_failures": "sink.breaker_failures",
	"sink_breaker_timeout":  "sink.breaker_timeout",

	// Promotion mappings
	"promotion_threshold": "promotion.threshold",

	// WAL mappings
	"wal_enabled":      "wal.enabled",
	"wal_path":         "wal.path",
	"wal_sync_writes":  "wal.sync_writes",
	"wal_max_attempts": "wal.max_attempts",
	"wal_entry_ttl":    "wal.entry_ttl",

	// NATS mappings
	"nats_enabled":      "nats.enabled",
	"nats_url":          "nats.url",
	"nats_topic_prefix": "nats.topic_prefix",

	// Webhook mappings
	"webhook_enabled":    "webhook.enabled",
	"webhook_url":        "webhook.url",
	"webhook_rate_limit": "webhook.rate_limit",
	"webhook_timeout":    "webhook.timeout",

	// Server mappings
	"http_enabled":       "server.enabled",
	"http_host":          "server.host",
	"http_port":          "server.port",
	"http_read_timeout":  "server.read_timeout",
	"http_write_timeout": "server.write_timeout",
	"rate_limit_reqs":    "server.rate_limit_reqs",
	"rate_limit_window":  "server.rate_limit_window",
	"cors_origins":       "server.cors_origins",

	// Logging mappings
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - DUCKDB_PATH -> database.path
//   - ANALYSIS_INTERVAL -> analysis.interval
//   - PROMOTION_THRESHOLD -> promotion.threshold
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// For unmapped keys, return empty string to skip them
	// This prevents random environment variables from polluting config
	return ""
}
