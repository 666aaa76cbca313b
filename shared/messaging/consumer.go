package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sourcegraph/conc/pool"

	"github.com/stratlab/stratlab-be/shared/metrics"
	"github.com/stratlab/stratlab-be/shared/rabbitmq"
)

// Handler processes one work message and returns an explicit outcome.
// Handlers are invoked concurrently and must be safe for that.
type Handler func(ctx context.Context, msg *WorkMessage) Outcome

// ConsumerConfig holds consumer tuning.
type ConsumerConfig struct {
	Queue       string
	ConsumerTag string

	// Prefetch bounds unacknowledged deliveries and the size of the
	// processing pool, so the broker applies backpressure when all
	// workers are busy.
	Prefetch int

	// MaxRetries is the number of additional attempts a transiently
	// failing message gets before it is dead-lettered. 2 means three
	// processing attempts in total.
	MaxRetries int

	// JobTimeout caps a single handler invocation. Zero means no cap.
	JobTimeout time.Duration

	// ReconnectMaxInterval caps the backoff between resubscribe
	// attempts after a lost connection.
	ReconnectMaxInterval time.Duration
}

// Consumer drives the per-message lifecycle: received, processing, then
// acked, retried, or dead-lettered. Retries are republished copies with
// the retry counter incremented; the application counter is
// authoritative, the broker's redelivery flag is ignored. Messages that
// cannot be decoded are rejected without requeue so the broker routes
// them to the dead letter queue.
type Consumer struct {
	broker   *rabbitmq.Client
	pub      EventPublisher
	logger   *slog.Logger
	config   ConsumerConfig
	handlers map[string]Handler

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewConsumer creates a consumer. Register handlers before Start.
func NewConsumer(broker *rabbitmq.Client, pub EventPublisher, config ConsumerConfig, logger *slog.Logger) *Consumer {
	if config.Prefetch <= 0 {
		config.Prefetch = 1
	}
	if config.ReconnectMaxInterval <= 0 {
		config.ReconnectMaxInterval = 30 * time.Second
	}
	return &Consumer{
		broker:   broker,
		pub:      pub,
		logger:   logger,
		config:   config,
		handlers: make(map[string]Handler),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Register installs the handler for a work message kind. Not safe to
// call after Start.
func (c *Consumer) Register(kind string, h Handler) {
	c.handlers[kind] = h
}

// Start subscribes and blocks until Stop is called or ctx is canceled.
// A lost connection is resubscribed under exponential backoff.
func (c *Consumer) Start(ctx context.Context) error {
	defer close(c.doneCh)

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = c.config.ReconnectMaxInterval

	for {
		deliveries, err := c.subscribe(ctx)
		if err != nil {
			sleep := bo.NextBackOff()
			c.logger.Error("Failed to subscribe, will retry",
				slog.Any("error", err),
				slog.Duration("retry_in", sleep),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-c.stopCh:
				return nil
			case <-time.After(sleep):
				continue
			}
		}
		bo.Reset()

		if lost := c.run(ctx, deliveries); !lost {
			return nil
		}

		// The delivery channel closed under us. Reset the broker
		// handles so the next subscribe dials fresh.
		c.logger.Warn("Connection to broker lost, reconnecting")
		c.broker.Disconnect()
	}
}

// Stop signals the consumer to stop and waits for in-flight work to
// drain, bounded by ctx. When the window elapses the remaining work is
// abandoned; its unacked deliveries are requeued by the broker once the
// connection closes.
func (c *Consumer) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })

	select {
	case <-c.doneCh:
		c.logger.Info("Consumer drained")
		return nil
	case <-ctx.Done():
		c.logger.Warn("Consumer drain window elapsed, abandoning in-flight work")
		return ctx.Err()
	}
}

// subscribe ensures a connection, applies QoS, and starts consuming.
func (c *Consumer) subscribe(ctx context.Context) (<-chan amqp.Delivery, error) {
	ch, err := c.broker.Channel(ctx)
	if err != nil {
		return nil, err
	}

	if err := ch.Qos(c.config.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := ch.Consume(
		c.config.Queue,       // queue
		c.config.ConsumerTag, // consumer tag
		false,                // auto-ack
		false,                // exclusive
		false,                // no-local
		false,                // no-wait
		nil,                  // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume from %s: %w", c.config.Queue, err)
	}

	c.logger.Info("Consuming work messages",
		slog.String("queue", c.config.Queue),
		slog.String("consumer_tag", c.config.ConsumerTag),
		slog.Int("prefetch", c.config.Prefetch),
	)

	return deliveries, nil
}

// run dispatches deliveries into a bounded pool until the channel
// closes or a stop is requested. Returns true when the channel closed,
// meaning the connection was lost. In-flight handlers finish before run
// returns.
func (c *Consumer) run(ctx context.Context, deliveries <-chan amqp.Delivery) (lost bool) {
	p := pool.New().WithMaxGoroutines(c.config.Prefetch)
	defer p.Wait()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-c.stopCh:
			return false
		case d, ok := <-deliveries:
			if !ok {
				return true
			}
			p.Go(func() {
				c.handleDelivery(ctx, d)
			})
		}
	}
}

// handleDelivery runs the full lifecycle for one delivery.
func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	msg, err := DecodeWork(d.Body)
	if err != nil {
		c.logger.Error("Rejecting poison message",
			slog.String("routing_key", d.RoutingKey),
			slog.Any("error", err),
		)
		metrics.MessagesConsumed.WithLabelValues(d.RoutingKey, metrics.DispositionPoison).Inc()
		c.nack(d, false)
		return
	}

	handler, ok := c.handlers[msg.Kind]
	if !ok {
		c.logger.Error("Rejecting message with unhandled kind",
			slog.String("message_id", msg.MessageID),
			slog.String("kind", msg.Kind),
		)
		metrics.MessagesConsumed.WithLabelValues(msg.Kind, metrics.DispositionPoison).Inc()
		c.nack(d, false)
		return
	}

	c.logger.Info("Processing work message",
		slog.String("message_id", msg.MessageID),
		slog.String("kind", msg.Kind),
		slog.Int("retry_count", msg.RetryCount),
	)

	c.publishEvent(ctx, EventKey(msg.Kind, PhaseStarted), NewStartedResult(msg))

	jobCtx := ctx
	if c.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, c.config.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	outcome := handler(jobCtx, msg)
	elapsed := time.Since(start)
	metrics.ProcessingDuration.WithLabelValues(msg.Kind).Observe(elapsed.Seconds())

	switch {
	case outcome.Succeeded():
		c.publishEvent(ctx, EventKey(msg.Kind, PhaseCompleted), NewCompletedResult(msg, outcome.Result(), elapsed))
		c.ack(d)
		metrics.MessagesConsumed.WithLabelValues(msg.Kind, metrics.DispositionCompleted).Inc()
		c.logger.Info("Work message completed",
			slog.String("message_id", msg.MessageID),
			slog.String("kind", msg.Kind),
			slog.Duration("elapsed", elapsed),
		)

	case outcome.Transient() && msg.RetryCount < c.config.MaxRetries:
		c.retry(ctx, d, msg, outcome)

	default:
		reason := outcome.Reason()
		if outcome.Transient() {
			reason = fmt.Sprintf("retries exhausted after %d attempts: %s", msg.RetryCount+1, reason)
		}
		c.publishEvent(ctx, EventKey(msg.Kind, PhaseFailed), NewFailedResult(msg, reason, elapsed))
		c.nack(d, false)
		metrics.MessagesConsumed.WithLabelValues(msg.Kind, metrics.DispositionDeadLettered).Inc()
		c.logger.Error("Work message dead-lettered",
			slog.String("message_id", msg.MessageID),
			slog.String("kind", msg.Kind),
			slog.Int("retry_count", msg.RetryCount),
			slog.String("reason", reason),
		)
	}
}

// retry republishes a copy with the retry counter incremented, then
// acks the original. If the republish fails the original delivery is
// requeued instead so the message is not lost.
func (c *Consumer) retry(ctx context.Context, d amqp.Delivery, msg *WorkMessage, outcome Outcome) {
	cp := msg.RetryCopy()

	if _, err := c.pub.Publish(ctx, cp.Kind, cp); err != nil {
		c.logger.Error("Failed to republish for retry, requeueing delivery",
			slog.String("message_id", msg.MessageID),
			slog.Any("error", err),
		)
		metrics.MessagesConsumed.WithLabelValues(msg.Kind, metrics.DispositionRequeued).Inc()
		c.nack(d, true)
		return
	}

	c.publishEvent(ctx, EventKey(msg.Kind, PhaseRetrying), NewRetryingResult(msg, outcome.Reason()))
	c.ack(d)
	metrics.MessagesConsumed.WithLabelValues(msg.Kind, metrics.DispositionRetried).Inc()
	c.logger.Warn("Work message scheduled for retry",
		slog.String("message_id", msg.MessageID),
		slog.String("kind", msg.Kind),
		slog.Int("retry_count", cp.RetryCount),
		slog.Int("max_retries", c.config.MaxRetries),
		slog.String("reason", outcome.Reason()),
	)
}

// publishEvent publishes a result event best-effort. Event delivery
// must never change the fate of the work message itself.
func (c *Consumer) publishEvent(ctx context.Context, key string, res *ResultMessage) {
	if _, err := c.pub.Publish(ctx, key, res); err != nil {
		c.logger.Warn("Failed to publish result event",
			slog.String("routing_key", key),
			slog.String("correlation_id", res.CorrelationID),
			slog.Any("error", err),
		)
	}
}

func (c *Consumer) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		c.logger.Error("Failed to ACK delivery",
			slog.Uint64("delivery_tag", d.DeliveryTag),
			slog.Any("error", err),
		)
	}
}

func (c *Consumer) nack(d amqp.Delivery, requeue bool) {
	if err := d.Nack(false, requeue); err != nil {
		c.logger.Error("Failed to NACK delivery",
			slog.Uint64("delivery_tag", d.DeliveryTag),
			slog.Bool("requeue", requeue),
			slog.Any("error", err),
		)
	}
}
