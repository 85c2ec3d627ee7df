// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

// Package wal is a small BadgerDB-backed journal for anomaly writes that
// could not reach the anomaly store. Entries are keyed by the record's
// dedup key, so journaling the same anomaly twice keeps one entry, and
// they are replayed at the start of the next analysis run.
package wal

import (
	"errors"
	"time"
)

// Config configures the journal.
type Config struct {
	Enabled bool `koanf:"enabled"`

	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string `koanf:"path"`

	// InMemory keeps the journal in memory only. Intended for tests.
	InMemory bool `koanf:"in_memory"`

	// SyncWrites fsyncs every write.
	SyncWrites bool `koanf:"sync_writes"`

	// Compression enables Snappy compression of values.
	Compression bool `koanf:"compression"`

	// MaxAttempts is how many replays an entry gets before it is dropped.
	MaxAttempts int `koanf:"max_attempts" validate:"min=1"`

	// EntryTTL drops entries older than this regardless of attempts.
	EntryTTL time.Duration `koanf:"entry_ttl" validate:"gt=0"`
}

// DefaultConfig returns the journal defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		Path:        "/data/wal",
		SyncWrites:  true,
		Compression: true,
		MaxAttempts: 20,
		EntryTTL:    7 * 24 * time.Hour,
	}
}

// Validate checks settings Open depends on.
func (c *Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return errors.New("wal path is required")
	}
	if c.MaxAttempts < 1 {
		return errors.New("wal max_attempts must be at least 1")
	}
	if c.EntryTTL <= 0 {
		return errors.New("wal entry_ttl must be positive")
	}
	return nil
}
