// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package detection

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// WebhookNotifier posts new incidents to a generic webhook endpoint.
type WebhookNotifier struct {
	webhookURL string
	headers    map[string]string
	client     *http.Client
	enabled    bool
	limiter    *rate.Limiter
	mu         sync.RWMutex
}

// WebhookConfig configures the generic webhook notifier.
type WebhookConfig struct {
	Enabled    bool              `json:"enabled" koanf:"enabled"`
	WebhookURL string            `json:"webhook_url" koanf:"url" validate:"omitempty,url"`
	Headers    map[string]string `json:"headers,omitempty" koanf:"headers"` // Custom headers (e.g., auth)

	// RateLimit is the minimum spacing between deliveries.
	RateLimit time.Duration `json:"rate_limit" koanf:"rate_limit" validate:"gte=0"`

	// Timeout bounds a single delivery.
	Timeout time.Duration `json:"timeout" koanf:"timeout" validate:"gte=0"`
}

// DefaultWebhookConfig returns the webhook defaults. The notifier is off
// until a URL is configured.
func DefaultWebhookConfig() WebhookConfig {
	return WebhookConfig{
		RateLimit: 500 * time.Millisecond,
		Timeout:   10 * time.Second,
	}
}

// WebhookPayload is the JSON payload sent to the webhook endpoint.
type WebhookPayload struct {
	Incident  *Incident `json:"incident"`
	EventType string    `json:"event_type"` // incident_created
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // shadowcheck
}

// NewWebhookNotifier creates a new generic webhook notifier.
func NewWebhookNotifier(config WebhookConfig) *WebhookNotifier {
	if config.RateLimit <= 0 {
		config.RateLimit = 500 * time.Millisecond
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	headers := make(map[string]string, len(config.Headers))
	for k, v := range config.Headers {
		headers[k] = v
	}

	return &WebhookNotifier{
		webhookURL: config.WebhookURL,
		headers:    headers,
		enabled:    config.Enabled,
		limiter:    rate.NewLimiter(rate.Every(config.RateLimit), 1),
		client: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the notifier name.
func (n *WebhookNotifier) Name() string {
	return "webhook"
}

// Enabled returns whether this notifier is enabled.
func (n *WebhookNotifier) Enabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled && n.webhookURL != ""
}

// SetEnabled enables or disables the notifier.
func (n *WebhookNotifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// SetWebhookURL updates the webhook URL.
func (n *WebhookNotifier) SetWebhookURL(url string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.webhookURL = url
}

// NotifyIncident delivers an incident to the webhook endpoint. Calls are
// spaced by the configured rate limit.
func (n *WebhookNotifier) NotifyIncident(ctx context.Context, incident *Incident) error {
	n.mu.RLock()
	if !n.enabled || n.webhookURL == "" {
		n.mu.RUnlock()
		return nil
	}
	webhookURL := n.webhookURL
	headers := make(map[string]string, len(n.headers))
	for k, v := range n.headers {
		headers[k] = v
	}
	n.mu.RUnlock()

	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate limit wait: %w", err)
	}

	payload := WebhookPayload{
		Incident:  incident,
		EventType: "incident_created",
		Timestamp: time.Now().UTC(),
		Source:    "shadowcheck",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
