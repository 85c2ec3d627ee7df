// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

// Package services adapts ShadowCheck components to suture.Service.
//
// Each wrapper turns a component lifecycle (Start/Stop, ListenAndServe/
// Shutdown, or a periodic task) into a Serve(ctx) method that blocks until
// the context is canceled:
//
//   - AnalysisService: the analysis scheduler
//   - JournalService: periodic value-log GC and backlog gauge for the journal
//   - HTTPServerService: the read API server
package services
