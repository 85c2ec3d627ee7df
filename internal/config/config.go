// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package config

import (
	"fmt"
	"time"

	"github.com/tomtom215/shadowcheck/internal/detection"
	"github.com/tomtom215/shadowcheck/internal/eventprocessor"
	"github.com/tomtom215/shadowcheck/internal/logging"
	"github.com/tomtom215/shadowcheck/internal/wal"
)

// Database backends.
const (
	BackendDuckDB = "duckdb"
	BackendMemory = "memory"
)

// TimestampFloorLayout is the date format of analysis.timestamp_floor.
const TimestampFloorLayout = "2006-01-02"

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig                 `koanf:"database"`
	Analysis  AnalysisConfig                 `koanf:"analysis"`
	Detection detection.Settings             `koanf:"detection"`
	Sink      detection.SinkConfig           `koanf:"sink"`
	Promotion PromotionConfig                `koanf:"promotion"`
	WAL       wal.Config                     `koanf:"wal"`
	NATS      eventprocessor.PublisherConfig `koanf:"nats"` // Optional: requires a build with -tags nats
	Webhook   detection.WebhookConfig        `koanf:"webhook"`
	Server    ServerConfig                   `koanf:"server"`
	Logging   LoggingConfig                  `koanf:"logging"`
}

// DatabaseConfig holds the analytical store settings
type DatabaseConfig struct {
	Backend   string `koanf:"backend" validate:"oneof=duckdb memory"`
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads" validate:"gte=0"` // Number of DuckDB threads (0 = use NumCPU)
}

// AnalysisConfig controls when and over what data the engine runs.
type AnalysisConfig struct {
	// Window is how far back each run looks.
	Window time.Duration `koanf:"window" validate:"gt=0"`

	// Interval is the time between scheduled runs.
	Interval time.Duration `koanf:"interval" validate:"gt=0"`

	JobTimeout time.Duration `koanf:"job_timeout" validate:"gt=0"`

	// RunOnStart triggers a run as soon as the scheduler starts.
	RunOnStart bool `koanf:"run_on_start"`

	// RunOnce performs a single run and exits.
	RunOnce bool `koanf:"run_once"`

	DedupBucket time.Duration `koanf:"dedup_bucket" validate:"gt=0"`

	// TimestampFloor is a YYYY-MM-DD date; older observations are rejected.
	TimestampFloor string `koanf:"timestamp_floor"`

	MaxClockSkew time.Duration `koanf:"max_clock_skew" validate:"gte=0"`
}

// PromotionConfig holds incident promotion settings
type PromotionConfig struct {
	Threshold float64 `koanf:"threshold" validate:"gt=0,lte=1"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"gte=0"` // 0 disables rate limiting
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info
	Level string `koanf:"level" validate:"oneof=trace debug info warn error"`

	// Format is the output format: json or console.
	// Default: json
	Format string `koanf:"format" validate:"oneof=json console"`

	// Caller includes caller file and line number in logs.
	Caller bool `koanf:"caller"`
}

// LoggerConfig converts the section into the logging package's config.
func (c LoggingConfig) LoggerConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Level
	cfg.Format = c.Format
	cfg.Caller = c.Caller
	return cfg
}

// ParseTimestampFloor parses analysis.timestamp_floor. An empty value yields the
// zero time, which the aggregator replaces with its own default.
func (a AnalysisConfig) ParseTimestampFloor() (time.Time, error) {
	if a.TimestampFloor == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(TimestampFloorLayout, a.TimestampFloor, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("analysis.timestamp_floor must be YYYY-MM-DD: %w", err)
	}
	return t, nil
}

// EngineConfig assembles the detection engine settings.
func (c *Config) EngineConfig() (detection.EngineConfig, error) {
	floor, err := c.Analysis.ParseTimestampFloor()
	if err != nil {
		return detection.EngineConfig{}, err
	}
	return detection.EngineConfig{
		Window:             c.Analysis.Window,
		JobTimeout:         c.Analysis.JobTimeout,
		DedupBucket:        c.Analysis.DedupBucket,
		TimestampFloor:     floor,
		MaxClockSkew:       c.Analysis.MaxClockSkew,
		PromotionThreshold: c.Promotion.Threshold,
		Sink:               c.Sink,
	}, nil
}

// Load reads configuration from defaults, file and environment.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
