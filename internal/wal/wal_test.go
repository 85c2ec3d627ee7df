// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package wal

import (
	"context"
	"errors"
	"testing"
	"time"
)

func createTestJournal(t *testing.T) *Journal {
	t.Helper()
	cfg := DefaultConfig()
	cfg.InMemory = true
	cfg.Path = ""
	cfg.SyncWrites = false
	cfg.MaxAttempts = 3
	j, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

type testPayload struct {
	Key        string  `json:"key"`
	Confidence float64 `json:"confidence"`
}

func TestJournal_WritePendingConfirm(t *testing.T) {
	t.Parallel()
	j := createTestJournal(t)
	ctx := context.Background()

	if err := j.Write(ctx, "b", testPayload{Key: "b", Confidence: 0.5}); err != nil {
		t.Fatalf("Write b: %v", err)
	}
	if err := j.Write(ctx, "a", testPayload{Key: "a", Confidence: 0.9}); err != nil {
		t.Fatalf("Write a: %v", err)
	}

	entries, err := j.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].ID != "a" || entries[1].ID != "b" {
		t.Errorf("entries not ordered by id: %s, %s", entries[0].ID, entries[1].ID)
	}

	var p testPayload
	if err := entries[0].UnmarshalPayload(&p); err != nil {
		t.Fatalf("UnmarshalPayload: %v", err)
	}
	if p.Confidence != 0.9 {
		t.Errorf("payload confidence = %v, want 0.9", p.Confidence)
	}

	if err := j.Confirm(ctx, "a"); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if n, _ := j.Len(ctx); n != 1 {
		t.Errorf("Len after confirm = %d, want 1", n)
	}
}

func TestJournal_RewriteKeepsAttempts(t *testing.T) {
	t.Parallel()
	j := createTestJournal(t)
	ctx := context.Background()

	if err := j.Write(ctx, "k", testPayload{Key: "k", Confidence: 0.1}); err != nil {
		t.Fatal(err)
	}
	n, err := j.RecordFailure(ctx, "k", errors.New("store down"))
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if n != 1 {
		t.Errorf("attempts = %d, want 1", n)
	}
	if err := j.Write(ctx, "k", testPayload{Key: "k", Confidence: 0.7}); err != nil {
		t.Fatal(err)
	}

	entries, err := j.Pending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Attempts != 1 {
		t.Errorf("attempts after rewrite = %d, want 1", e.Attempts)
	}
	if e.LastError != "store down" {
		t.Errorf("last error = %q", e.LastError)
	}
	var p testPayload
	if err := e.UnmarshalPayload(&p); err != nil {
		t.Fatal(err)
	}
	if p.Confidence != 0.7 {
		t.Errorf("payload not replaced: %v", p.Confidence)
	}
}

func TestJournal_RecordFailureMissing(t *testing.T) {
	t.Parallel()
	j := createTestJournal(t)
	if _, err := j.RecordFailure(context.Background(), "nope", nil); err == nil {
		t.Fatal("expected error for missing entry")
	}
}

func TestJournal_Closed(t *testing.T) {
	t.Parallel()
	j := createTestJournal(t)
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := j.Write(context.Background(), "x", 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Write after close = %v, want ErrClosed", err)
	}
	if _, err := j.Pending(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Pending after close = %v, want ErrClosed", err)
	}
}

func TestEntry_Expired(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	cfg.EntryTTL = time.Hour
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		entry Entry
		want  bool
	}{
		{"fresh", Entry{CreatedAt: now.Add(-time.Minute), Attempts: 0}, false},
		{"attempts exhausted", Entry{CreatedAt: now, Attempts: 3}, true},
		{"too old", Entry{CreatedAt: now.Add(-2 * time.Hour), Attempts: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.entry.Expired(cfg, now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"in memory without path", func(c *Config) { c.Path = ""; c.InMemory = true }, false},
		{"missing path", func(c *Config) { c.Path = "" }, true},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }, true},
		{"zero ttl", func(c *Config) { c.EntryTTL = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBackoff(t *testing.T) {
	t.Parallel()
	base := 100 * time.Millisecond
	maxDelay := time.Second
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{100, time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(base, maxDelay, tt.attempt); got != tt.want {
			t.Errorf("Backoff(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
	if got := Backoff(0, maxDelay, 3); got != 0 {
		t.Errorf("zero base = %v, want 0", got)
	}
}

func TestSleep_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep = %v, want context.Canceled", err)
	}
}
