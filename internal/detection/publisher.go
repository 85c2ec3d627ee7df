// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package detection

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/shadowcheck/internal/logging"
	"github.com/tomtom215/shadowcheck/internal/metrics"
)

const publisherBreakerName = "event-publisher"

// Event types carried in the "event_type" metadata field.
const (
	EventAnomalyDetected = "anomaly_detected"
	EventIncidentCreated = "incident_created"
)

// EventPublisher publishes anomaly and incident events to a Watermill
// publisher behind a circuit breaker.
type EventPublisher struct {
	publisher     message.Publisher
	anomalyTopic  string
	incidentTopic string
	breaker       *gobreaker.CircuitBreaker[struct{}]
}

// NewEventPublisher publishes to "<prefix>.anomalies" and "<prefix>.incidents".
func NewEventPublisher(pub message.Publisher, topicPrefix string) *EventPublisher {
	if topicPrefix == "" {
		topicPrefix = "shadowcheck"
	}
	return &EventPublisher{
		publisher:     pub,
		anomalyTopic:  topicPrefix + ".anomalies",
		incidentTopic: topicPrefix + ".incidents",
		breaker:       newBreaker[struct{}](publisherBreakerName, 5, 30*time.Second),
	}
}

// AnomalyTopic returns the topic anomalies are published on.
func (p *EventPublisher) AnomalyTopic() string { return p.anomalyTopic }

// IncidentTopic returns the topic incidents are published on.
func (p *EventPublisher) IncidentTopic() string { return p.incidentTopic }

// PublishAnomaly publishes a persisted anomaly record. The message UUID is
// derived from the dedup key and run, so redelivery of the same write can
// be dropped by the broker.
func (p *EventPublisher) PublishAnomaly(ctx context.Context, record *AnomalyRecord) error {
	msgID := uuid.NewSHA1(uuid.NameSpaceURL, []byte(record.DedupKey+"#"+record.RunID)).String()
	msg, err := newMessage(ctx, msgID, record)
	if err != nil {
		return err
	}
	msg.Metadata.Set("event_type", EventAnomalyDetected)
	msg.Metadata.Set("detector_type", string(record.DetectorType))
	msg.Metadata.Set("classification_label", string(record.ClassificationLabel))
	return p.publish(p.anomalyTopic, msg)
}

// PublishIncident publishes a newly created incident.
func (p *EventPublisher) PublishIncident(ctx context.Context, incident *Incident) error {
	msgID := uuid.NewSHA1(uuid.NameSpaceURL, []byte("incident#"+incident.Key)).String()
	msg, err := newMessage(ctx, msgID, incident)
	if err != nil {
		return err
	}
	msg.Metadata.Set("event_type", EventIncidentCreated)
	msg.Metadata.Set("risk_level", string(incident.RiskLevel))
	msg.Metadata.Set("incident_id", strconv.FormatInt(incident.ID, 10))
	return p.publish(p.incidentTopic, msg)
}

// Close closes the underlying publisher.
func (p *EventPublisher) Close() error {
	return p.publisher.Close()
}

func (p *EventPublisher) publish(topic string, msg *message.Message) error {
	_, err := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.publisher.Publish(topic, msg)
	})
	recordBreakerResult(publisherBreakerName, err)
	metrics.RecordPublish(topic, err)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func newMessage(ctx context.Context, id string, payload any) (*message.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	msg := message.NewMessage(id, data)
	msg.Metadata.Set("source", "shadowcheck")
	if runID := logging.RunIDFromContext(ctx); runID != "" {
		msg.Metadata.Set("run_id", runID)
	}
	return msg, nil
}
