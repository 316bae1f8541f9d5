// Package kafka publishes turn events to a Kafka topic keyed by session,
// so consumers observe each session's turns in order.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	segmentio "github.com/segmentio/kafka-go"

	"github.com/chatunreal/unreal/pkg/eventstream"
)

// Publisher writes turn events to Kafka.
type Publisher struct {
	writer *segmentio.Writer
}

// NewPublisher creates a Kafka publisher for the given brokers and topic.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &segmentio.Writer{
			Addr:     segmentio.TCP(brokers...),
			Topic:    topic,
			Balancer: &segmentio.LeastBytes{},
			// Turn events are small and infrequent; send them as they come.
			BatchSize: 1,
		},
	}
}

// PublishTurn writes the event as a JSON message keyed by session.
func (p *Publisher) PublishTurn(ctx context.Context, event *eventstream.TurnCompletedEvent) error {
	if event == nil {
		return eventstream.ErrNilTurnEvent
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("could not encode turn event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, segmentio.Message{
		Key:   []byte(event.Session),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("could not publish turn event: %w", err)
	}

	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
