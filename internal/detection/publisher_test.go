// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package detection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/tomtom215/shadowcheck/internal/logging"
)

func receive(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestEventPublisher_PublishAnomaly(t *testing.T) {
	t.Parallel()

	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 8}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	p := NewEventPublisher(pubSub, "test")
	if p.AnomalyTopic() != "test.anomalies" || p.IncidentTopic() != "test.incidents" {
		t.Fatalf("topics = %s, %s", p.AnomalyTopic(), p.IncidentTopic())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages, err := pubSub.Subscribe(ctx, p.AnomalyTopic())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	rec := keyedRecord(DetectorDualLocation, []string{"AA:00:00:00:00:01"}, 0.9, true)
	rec.ID = 7
	runCtx := logging.ContextWithRunID(context.Background(), rec.RunID)

	if err := p.PublishAnomaly(runCtx, rec); err != nil {
		t.Fatalf("PublishAnomaly: %v", err)
	}
	first := receive(t, messages)

	if err := p.PublishAnomaly(runCtx, rec); err != nil {
		t.Fatalf("PublishAnomaly: %v", err)
	}
	second := receive(t, messages)

	if first.UUID != second.UUID {
		t.Errorf("same write produced different message ids: %s vs %s", first.UUID, second.UUID)
	}
	if got := first.Metadata.Get("event_type"); got != EventAnomalyDetected {
		t.Errorf("event_type = %q", got)
	}
	if got := first.Metadata.Get("detector_type"); got != string(DetectorDualLocation) {
		t.Errorf("detector_type = %q", got)
	}
	if got := first.Metadata.Get("run_id"); got != rec.RunID {
		t.Errorf("run_id = %q, want %q", got, rec.RunID)
	}

	var decoded AnomalyRecord
	if err := json.Unmarshal(first.Payload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.ID != 7 || decoded.DedupKey != rec.DedupKey {
		t.Errorf("payload = %+v", decoded)
	}
}

func TestEventPublisher_PublishIncident(t *testing.T) {
	t.Parallel()

	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 8}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	p := NewEventPublisher(pubSub, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages, err := pubSub.Subscribe(ctx, "shadowcheck.incidents")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	inc := testIncident()
	if err := p.PublishIncident(context.Background(), inc); err != nil {
		t.Fatalf("PublishIncident: %v", err)
	}
	msg := receive(t, messages)
	if got := msg.Metadata.Get("risk_level"); got != string(inc.RiskLevel) {
		t.Errorf("risk_level = %q", got)
	}
	if got := msg.Metadata.Get("source"); got != "shadowcheck" {
		t.Errorf("source = %q", got)
	}
}

type brokenPublisher struct{}

func (brokenPublisher) Publish(topic string, messages ...*message.Message) error {
	return errors.New("broker unreachable")
}
func (brokenPublisher) Close() error { return nil }

func TestEventPublisher_Failure(t *testing.T) {
	t.Parallel()

	p := NewEventPublisher(brokenPublisher{}, "test")
	err := p.PublishIncident(context.Background(), testIncident())
	if err == nil {
		t.Fatal("expected publish error")
	}
}
