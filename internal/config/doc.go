// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

/*
Package config loads ShadowCheck configuration.

Configuration is layered with koanf. Later layers override earlier ones:

 1. Built-in defaults (defaultConfig)
 2. An optional YAML file, taken from CONFIG_PATH or the first of
    DefaultConfigPaths that exists
 3. Environment variables listed in envTransformFunc

Unlisted environment variables are ignored.

# Sections

  - database: analytical store backend (duckdb or memory) and DuckDB tuning
  - analysis: run window, schedule, job timeout, dedup bucket and timestamp bounds
  - detection: per-detector thresholds, each with an enabled flag
  - sink: retry and circuit breaker settings for anomaly upserts
  - promotion: confidence threshold for incident promotion
  - wal: badger journal for upserts that exhausted their retries
  - nats: optional event publishing (requires the nats build tag)
  - webhook: optional incident webhook
  - server: read API
  - logging: zerolog level and format

# Example

	database:
	  backend: duckdb
	  path: /data/shadowcheck.duckdb
	analysis:
	  interval: 1h
	  window: 720h
	detection:
	  temporal_correlation:
	    exclude_stationary: true
	promotion:
	  threshold: 0.7

Equivalent environment overrides:

	DUCKDB_PATH=/data/shadowcheck.duckdb
	ANALYSIS_INTERVAL=1h
	PROMOTION_THRESHOLD=0.7
*/
package config
