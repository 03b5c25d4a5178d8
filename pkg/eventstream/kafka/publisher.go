// Package kafka publishes scalar events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/quillml/distill/pkg/eventstream"
)

// Config holds configuration for the Kafka publisher.
type Config struct {
	// Brokers is the list of bootstrap broker addresses.
	Brokers []string

	// Topic is the topic scalar events are written to.
	Topic string
}

// Publisher writes scalar events as JSON messages keyed by run ID, so
// every run's events land in one partition and stay ordered.
type Publisher struct {
	writer *kafkago.Writer
	log    *slog.Logger
}

// NewPublisher builds a publisher over the given brokers.
func NewPublisher(c Config, log *slog.Logger) (*Publisher, error) {
	if len(c.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if c.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	writer := &kafkago.Writer{
		Addr:     kafkago.TCP(c.Brokers...),
		Topic:    c.Topic,
		Balancer: &kafkago.LeastBytes{},
	}

	log.Info("kafka publisher initialized", "brokers", c.Brokers, "topic", c.Topic)
	return &Publisher{writer: writer, log: log}, nil
}

// PublishScalars writes one event.
func (p *Publisher) PublishScalars(ctx context.Context, event *eventstream.ScalarsEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling scalars event: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(event.RunID),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("writing scalars event: %w", err)
	}

	p.log.Debug("published scalars event",
		"run_id", event.RunID,
		"step", event.Step,
		"scalars", len(event.Scalars),
	)
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error { return p.writer.Close() }

var _ eventstream.Publisher = (*Publisher)(nil)
