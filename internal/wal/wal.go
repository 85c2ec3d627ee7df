// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package wal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"

	"github.com/tomtom215/shadowcheck/internal/logging"
)

const prefixPending = "pending:"

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("wal: journal closed")

// Entry is one journaled payload.
type Entry struct {
	ID            string          `json:"id"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt time.Time       `json:"last_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
}

// UnmarshalPayload decodes the payload into v.
func (e *Entry) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Expired reports whether the entry has exhausted its attempts or TTL.
func (e *Entry) Expired(cfg Config, now time.Time) bool {
	return e.Attempts >= cfg.MaxAttempts || now.Sub(e.CreatedAt) > cfg.EntryTTL
}

// Journal is a BadgerDB-backed pending-write journal.
type Journal struct {
	db     *badger.DB
	config Config
	mu     sync.RWMutex
	closed bool
	now    func() time.Time
}

// Open opens (or creates) the journal described by cfg.
func Open(cfg Config) (*Journal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid wal config: %w", err)
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts.SyncWrites = cfg.SyncWrites
	if cfg.Compression {
		opts.Compression = options.Snappy
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("WAL opened")

	return &Journal{db: db, config: cfg, now: time.Now}, nil
}

// Config returns the journal configuration.
func (j *Journal) Config() Config {
	return j.config
}

func (j *Journal) checkOpen() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return ErrClosed
	}
	return nil
}

// Write stores payload under id. Rewriting an existing id replaces the
// payload but keeps its creation time and attempt count.
func (j *Journal) Write(ctx context.Context, id string, payload any) error {
	if err := j.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal wal payload: %w", err)
	}

	key := []byte(prefixPending + id)
	return j.db.Update(func(txn *badger.Txn) error {
		entry := Entry{ID: id, CreatedAt: j.now().UTC()}
		if existing, err := readEntry(txn, key); err == nil {
			entry = *existing
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		entry.Payload = raw
		return writeEntry(txn, key, &entry)
	})
}

// Pending returns all journaled entries ordered by id.
func (j *Journal) Pending(ctx context.Context) ([]*Entry, error) {
	if err := j.checkOpen(); err != nil {
		return nil, err
	}

	var entries []*Entry
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e Entry
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &e) }); err != nil {
				logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("WAL skipping malformed entry")
				continue
			}
			entries = append(entries, &e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate wal entries: %w", err)
	}
	return entries, nil
}

// Confirm removes an entry once its write has succeeded.
func (j *Journal) Confirm(ctx context.Context, id string) error {
	if err := j.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefixPending + id))
	})
}

// RecordFailure bumps an entry's attempt count and returns the new count.
func (j *Journal) RecordFailure(ctx context.Context, id string, cause error) (int, error) {
	if err := j.checkOpen(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var attempts int
	key := []byte(prefixPending + id)
	err := j.db.Update(func(txn *badger.Txn) error {
		e, err := readEntry(txn, key)
		if err != nil {
			return err
		}
		e.Attempts++
		e.LastAttemptAt = j.now().UTC()
		if cause != nil {
			e.LastError = cause.Error()
		}
		attempts = e.Attempts
		return writeEntry(txn, key, e)
	})
	if err != nil {
		return 0, fmt.Errorf("record wal failure for %s: %w", id, err)
	}
	return attempts, nil
}

// Len returns the number of pending entries.
func (j *Journal) Len(ctx context.Context) (int, error) {
	entries, err := j.Pending(ctx)
	return len(entries), err
}

// RunGC reclaims value-log space. Badger reports ErrNoRewrite when there
// is nothing to collect; that is not an error here.
func (j *Journal) RunGC() error {
	if err := j.checkOpen(); err != nil {
		return err
	}
	if j.config.InMemory {
		return nil
	}
	if err := j.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return err
	}
	return nil
}

// Close closes the journal. Further calls return ErrClosed.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}

func readEntry(txn *badger.Txn, key []byte) (*Entry, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &e) }); err != nil {
		return nil, err
	}
	return &e, nil
}

func writeEntry(txn *badger.Txn, key []byte, e *Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return txn.Set(key, raw)
}
