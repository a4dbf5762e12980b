// Package events publishes hold, order and payment lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/EngLamisKhaled/Flashsale/internal/app"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes each event as one JSON message. Messages are keyed by
// order, then hold, then product so one entity's events stay ordered within
// a partition.
type Publisher struct {
	w messageWriter
}

const batchTimeout = 10 * time.Millisecond

// NewPublisher connects to brokers lazily; the first write dials. Writes are
// asynchronous: Publish only enqueues, so a slow or unreachable broker never
// holds up a request. Delivery failures are logged from the completion hook.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		Async:                  true,
		BatchTimeout:           batchTimeout,
		Completion:             deliveryLogger(logger, topic),
	}}
}

func deliveryLogger(logger *slog.Logger, topic string) func([]kafka.Message, error) {
	return func(msgs []kafka.Message, err error) {
		if err == nil {
			return
		}
		logger.Warn("event delivery failed",
			slog.String("topic", topic),
			slog.Int("messages", len(msgs)),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Publisher) Publish(ctx context.Context, evt app.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode %s: %w", evt.Type, err)
	}
	msg := kafka.Message{
		Key:   []byte(messageKey(evt)),
		Value: data,
		Time:  evt.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(evt.Type)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s: %w", evt.Type, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.w.Close()
}

func messageKey(evt app.Event) string {
	switch {
	case evt.OrderID != "":
		return evt.OrderID
	case evt.HoldID != "":
		return evt.HoldID
	case evt.ProductID != "":
		return evt.ProductID
	}
	return evt.Type
}

var _ app.EventPublisher = (*Publisher)(nil)
