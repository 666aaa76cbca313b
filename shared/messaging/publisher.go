package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/stratlab/stratlab-be/shared/metrics"
	"github.com/stratlab/stratlab-be/shared/rabbitmq"
)

// EventPublisher publishes one message under a routing key and returns
// the published message's id.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, msg Message) (string, error)
}

// Publisher sends messages through the shared topic exchange. Each call
// fetches the channel from the broker client, so a reconnected client
// is picked up automatically. There is no retry here: publish errors
// propagate, and since consumers tolerate duplicates the caller decides
// whether trying again is worth it.
type Publisher struct {
	broker *rabbitmq.Client
	logger *slog.Logger
}

// NewPublisher creates a publisher on top of a broker client.
func NewPublisher(broker *rabbitmq.Client, logger *slog.Logger) *Publisher {
	return &Publisher{
		broker: broker,
		logger: logger,
	}
}

// Publish validates, marshals, and publishes msg under routingKey.
func (p *Publisher) Publish(ctx context.Context, routingKey string, msg Message) (string, error) {
	body, err := Encode(msg)
	if err != nil {
		return "", err
	}

	ch, err := p.broker.Channel(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get channel: %w", err)
	}

	err = ch.PublishWithContext(
		ctx,
		p.broker.Exchange(), // exchange
		routingKey,          // routing key
		false,               // mandatory
		false,               // immediate
		buildPublishing(msg, body),
	)
	if err != nil {
		return "", fmt.Errorf("failed to publish to %s: %w", routingKey, err)
	}

	metrics.MessagesPublished.WithLabelValues(routingKey).Inc()
	p.logger.Debug("Message published",
		slog.String("message_id", msg.ID()),
		slog.String("routing_key", routingKey),
		slog.Int("body_size", len(body)),
	)

	return msg.ID(), nil
}

// buildPublishing maps a message onto the AMQP publishing frame.
// Deliveries are persistent so queued work survives a broker restart.
func buildPublishing(msg Message, body []byte) amqp.Publishing {
	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     msg.ID(),
		CorrelationId: msg.Correlation(),
		Timestamp:     time.Now(),
		Body:          body,
	}
}
