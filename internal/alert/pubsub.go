package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
)

// PubSubSink publishes alerts as JSON messages to a Pub/Sub topic.
type PubSubSink struct {
	topic *pubsub.Topic
}

// NewPubSubSink returns a sink publishing to topicID through client.
func NewPubSubSink(client *pubsub.Client, topicID string) (*PubSubSink, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if topicID == "" {
		return nil, fmt.Errorf("topic id is required")
	}
	return &PubSubSink{topic: client.Topic(topicID)}, nil
}

// Alert publishes a and waits for the server to acknowledge it. Severity and
// component are copied into message attributes for subscription filters.
func (s *PubSubSink) Alert(ctx context.Context, a gazette.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"severity":  string(a.Severity),
			"component": a.Component,
		},
	}
	if _, err := s.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Close flushes pending publishes.
func (s *PubSubSink) Close() {
	s.topic.Stop()
}
