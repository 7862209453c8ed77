package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub/v2"

	"github.com/voxgate/voxgate/internal/provider/orchestrator"
)

// Publisher publishes one message and waits for the server id.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error)
}

// topicPublisher adapts a Pub/Sub publisher to Publisher.
type topicPublisher struct {
	publisher *pubsub.Publisher
}

func (t topicPublisher) Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error) {
	result := t.publisher.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attributes,
	})
	return result.Get(ctx)
}

// PubSubSink publishes switch events as JSON to a Pub/Sub topic.
type PubSubSink struct {
	publisher Publisher
	stop      func()
}

var _ Sink = (*PubSubSink)(nil)

// NewPubSubSink creates a sink publishing to topic through client.
func NewPubSubSink(client *pubsub.Client, topic string) *PubSubSink {
	p := client.Publisher(topic)
	return &PubSubSink{
		publisher: topicPublisher{publisher: p},
		stop:      p.Stop,
	}
}

// NewPubSubSinkWithPublisher creates a sink over an arbitrary Publisher.
func NewPubSubSinkWithPublisher(p Publisher) *PubSubSink {
	return &PubSubSink{publisher: p}
}

// Name identifies the sink.
func (s *PubSubSink) Name() string {
	return "pubsub"
}

// Write publishes ev. Attributes allow subscription filters on session and
// outcome without decoding the payload.
func (s *PubSubSink) Write(ctx context.Context, ev orchestrator.ProviderSwitchEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode switch event: %w", err)
	}

	attrs := map[string]string{
		"event_type":   "provider_switch",
		"session_id":   ev.SessionID,
		"new_provider": ev.NewProvider,
		"success":      strconv.FormatBool(ev.Success),
	}
	if _, err := s.publisher.Publish(ctx, data, attrs); err != nil {
		return fmt.Errorf("publish switch event %s: %w", ev.ID, err)
	}
	return nil
}

// Close flushes pending messages.
func (s *PubSubSink) Close() {
	if s.stop != nil {
		s.stop()
	}
}
