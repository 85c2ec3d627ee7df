// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

// Package main is the entry point for the ShadowCheck analysis server.
//
// ShadowCheck scans wardriving observations for transmitters that appear to
// follow the surveyor: devices seen both at home and far away, sibling
// identifiers, groups that move together, arrivals timed to the surveyor's
// own movements, and implausible signal behaviour. Findings are scored,
// stored idempotently and promoted to incidents.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: defaults, config.yaml, then environment (Koanf v2)
//  2. Store: DuckDB (or the in-memory backend for trials)
//  3. Journal (optional): BadgerDB write-ahead journal for failed writes
//  4. Events (optional): NATS JetStream publisher, requires -tags nats
//  5. Engine: the five detectors, sink, promoter and webhook notifier
//  6. Scheduler: periodic and on-demand analysis runs
//  7. HTTP Server: read API, detector management and Prometheus metrics
//
// With analysis.run_once set, a single run is executed and the process
// exits with a non-zero status if the run failed.
//
// # Build Tags
//
//	go build ./cmd/shadowcheck                # default build
//	go build -tags "nats" ./cmd/shadowcheck   # enable the NATS publisher
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the supervisor tree. The scheduler waits for an
// in-flight run to stop, the HTTP server drains for server.shutdown_timeout
// and the database is checkpointed before exit.
package main
