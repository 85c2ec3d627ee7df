// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

//go:build !nats

package main

import "testing"

func TestOpenEvents_WithoutNATSBuild(t *testing.T) {
	cfg := testConfig()
	cfg.NATS.Enabled = true

	a := &app{cfg: cfg}
	if err := a.openEvents(); err != nil {
		t.Fatalf("openEvents: %v", err)
	}
	if a.events != nil {
		t.Error("publisher created in a build without NATS")
	}
}
