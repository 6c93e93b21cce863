package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ResultPublisher publishes call result events.
type ResultPublisher struct {
	writer MessageWriter
}

// NewResultPublisher constructs a publisher for the given topic.
func NewResultPublisher(k *Kafka, topic string) *ResultPublisher {
	return &ResultPublisher{writer: k.NewWriter(topic)}
}

// NewResultPublisherWithWriter wraps an existing writer.
func NewResultPublisherWithWriter(w MessageWriter) *ResultPublisher {
	return &ResultPublisher{writer: w}
}

// Publish emits a result message keyed by session id.
func (p *ResultPublisher) Publish(ctx context.Context, msg ResultMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("result publisher: marshal message: %w", err)
	}
	record := kafka.Message{
		Key:   msg.SessionID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("result publisher: write message: %w", err)
	}
	return nil
}

// Close closes the publisher.
func (p *ResultPublisher) Close() error {
	return p.writer.Close()
}
