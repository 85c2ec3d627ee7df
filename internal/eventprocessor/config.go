// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

// Package eventprocessor wires the message bus used to publish anomaly and
// incident events. The NATS JetStream transport is compiled in with the
// "nats" build tag; without it only in-process transports are available.
package eventprocessor

import "time"

// PublisherConfig holds publisher configuration.
type PublisherConfig struct {
	Enabled          bool          `koanf:"enabled"`
	URL              string        `koanf:"url" validate:"omitempty,url"`
	TopicPrefix      string        `koanf:"topic_prefix"`
	MaxReconnects    int           `koanf:"max_reconnects"`
	ReconnectWait    time.Duration `koanf:"reconnect_wait" validate:"gte=0"`
	ReconnectBuffer  int           `koanf:"reconnect_buffer" validate:"gte=0"`
	EnableTrackMsgID bool          `koanf:"track_msg_id"` // nolint:revive // ID is correct per Go conventions
}

// DefaultPublisherConfig returns production defaults for publisher.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		URL:              "nats://127.0.0.1:4222",
		TopicPrefix:      "shadowcheck",
		MaxReconnects:    -1, // Unlimited
		ReconnectWait:    2 * time.Second,
		ReconnectBuffer:  8 * 1024 * 1024, // 8MB
		EnableTrackMsgID: true,
	}
}
