// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package config

import (
	"fmt"
	"net/url"

	"github.com/tomtom215/shadowcheck/internal/validation"
)

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateAnalysis(); err != nil {
		return err
	}

	if err := c.validateWAL(); err != nil {
		return err
	}

	if err := c.validateNATS(); err != nil {
		return err
	}

	return c.validateWebhook()
}

func (c *Config) validateDatabase() error {
	if c.Database.Backend == BackendDuckDB && c.Database.Path == "" {
		return fmt.Errorf("DUCKDB_PATH is required when DATABASE_BACKEND=duckdb")
	}
	return nil
}

func (c *Config) validateAnalysis() error {
	if _, err := c.Analysis.ParseTimestampFloor(); err != nil {
		return err
	}
	if c.Analysis.JobTimeout > c.Analysis.Window {
		return fmt.Errorf("ANALYSIS_JOB_TIMEOUT (%s) must not exceed ANALYSIS_WINDOW (%s)",
			c.Analysis.JobTimeout, c.Analysis.Window)
	}
	return nil
}

// validateWAL validates the journal only when enabled.
func (c *Config) validateWAL() error {
	if !c.WAL.Enabled {
		return nil
	}
	return c.WAL.Validate()
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("NATS_URL is required when NATS_ENABLED=true")
	}
	if err := validateNATSURL(c.NATS.URL); err != nil {
		return fmt.Errorf("NATS_URL is invalid: %w", err)
	}
	return nil
}

func (c *Config) validateWebhook() error {
	if !c.Webhook.Enabled {
		return nil
	}
	if c.Webhook.WebhookURL == "" {
		return fmt.Errorf("WEBHOOK_URL is required when WEBHOOK_ENABLED=true")
	}
	if err := validateHTTPURL(c.Webhook.WebhookURL); err != nil {
		return fmt.Errorf("WEBHOOK_URL is invalid: %w", err)
	}
	return nil
}

// validateHTTPURL checks for an http or https URL with a host. Paths and
// query strings are allowed since webhook endpoints usually carry both.
func validateHTTPURL(rawURL string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got: %s", parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("host is required")
	}

	return nil
}

// validateNATSURL validates that the NATS URL is properly formatted
// Supports: nats://, tls://, and ws:// schemes with IP addresses/hostnames and optional ports
func validateNATSURL(rawURL string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}

	validSchemes := map[string]bool{"nats": true, "tls": true, "ws": true, "wss": true}
	if !validSchemes[parsedURL.Scheme] {
		return fmt.Errorf("scheme must be nats, tls, ws, or wss, got: %s", parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("host is required (e.g., localhost:4222, 192.168.1.100:4222, nats.example.com)")
	}

	return nil
}
