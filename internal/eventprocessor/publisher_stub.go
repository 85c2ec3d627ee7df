// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

//go:build !nats

package eventprocessor

import (
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// NATSAvailable reports whether the NATS transport is compiled in.
const NATSAvailable = false

// ErrNATSUnavailable is returned when the binary was built without NATS.
var ErrNATSUnavailable = errors.New("NATS publisher not available: build with -tags=nats")

// NewNATSPublisher returns ErrNATSUnavailable.
// Build with -tags=nats to enable the JetStream publisher.
func NewNATSPublisher(_ PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
	return nil, ErrNATSUnavailable
}
