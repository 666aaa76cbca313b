package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/stratlab/stratlab-be/internal/api/notify"
	"github.com/stratlab/stratlab-be/shared/messaging"
	"github.com/stratlab/stratlab-be/shared/rabbitmq"
)

// Listener consumes worker result events from the events queue and
// turns them into client notifications. Events are auto-acked: a push
// notification lost during a crash is not worth redelivery machinery,
// clients can always poll the job status.
type Listener struct {
	broker       *rabbitmq.Client
	notifier     *notify.Notifier
	logger       *slog.Logger
	consumerTag  string
	reconnectMax time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewListener(broker *rabbitmq.Client, notifier *notify.Notifier, consumerTag string, reconnectMax time.Duration, logger *slog.Logger) *Listener {
	if reconnectMax <= 0 {
		reconnectMax = 30 * time.Second
	}
	return &Listener{
		broker:       broker,
		notifier:     notifier,
		logger:       logger,
		consumerTag:  consumerTag,
		reconnectMax: reconnectMax,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start blocks consuming events until ctx is canceled or Stop is
// called, resubscribing with backoff when the broker drops us.
func (l *Listener) Start(ctx context.Context) error {
	defer close(l.doneCh)

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = l.reconnectMax

	for {
		deliveries, err := l.subscribe(ctx)
		if err != nil {
			wait := bo.NextBackOff()
			l.logger.Warn("Event subscription failed, retrying",
				slog.Any("error", err),
				slog.Duration("retry_in", wait),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.stopCh:
				return nil
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()

		lost := l.run(ctx, deliveries)
		if !lost {
			return nil
		}

		l.logger.Warn("Event stream lost, reconnecting")
		l.broker.Disconnect()
	}
}

// Stop ends the listener and waits for it to wind down.
func (l *Listener) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})

	select {
	case <-l.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Listener) subscribe(ctx context.Context) (<-chan amqp.Delivery, error) {
	ch, err := l.broker.Channel(ctx)
	if err != nil {
		return nil, err
	}

	deliveries, err := ch.Consume(
		l.broker.EventQueue(),
		l.consumerTag,
		true,  // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume events: %w", err)
	}

	l.logger.Info("Listening for job events",
		slog.String("queue", l.broker.EventQueue()),
	)
	return deliveries, nil
}

// run pumps deliveries until the channel closes (true) or shutdown is
// requested (false).
func (l *Listener) run(ctx context.Context, deliveries <-chan amqp.Delivery) (lost bool) {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-l.stopCh:
			return false
		case d, ok := <-deliveries:
			if !ok {
				return true
			}
			l.dispatch(d.RoutingKey, d.Body)
		}
	}
}

// dispatch maps one broker event onto a client notification. Unknown
// or malformed events are logged and skipped.
func (l *Listener) dispatch(routingKey string, body []byte) {
	res, err := messaging.DecodeResult(body)
	if err != nil {
		l.logger.Warn("Dropping undecodable event",
			slog.String("routing_key", routingKey),
			slog.Any("error", err),
		)
		return
	}

	if res.UserID == "" {
		l.logger.Warn("Dropping event without user",
			slog.String("routing_key", routingKey),
			slog.String("subject_id", res.SubjectID),
		)
		return
	}

	jobType := subjectOf(res.Kind)
	_, phase, _ := strings.Cut(routingKey, ".")

	switch {
	case routingKey == messaging.KeyStrategyExtracted:
		l.notifier.Notify(res.UserID, notify.StrategyExtracted(
			res.SubjectID,
			stringField(res.Result, "strategy_id"),
			stringField(res.Result, "name"),
		))
	case phase == messaging.PhaseStarted:
		l.notifier.Notify(res.UserID, notify.ProcessingStarted(jobType, res.SubjectID))
	case phase == messaging.PhaseProgress:
		l.notifier.Notify(res.UserID, notify.ProcessingProgress(jobType, res.SubjectID, res.Progress, res.Message))
	case phase == messaging.PhaseCompleted:
		l.notifier.Notify(res.UserID, notify.ProcessingCompleted(jobType, res.SubjectID, res.Result))
	case phase == messaging.PhaseFailed:
		l.notifier.Notify(res.UserID, notify.ProcessingFailed(jobType, res.SubjectID, res.Error))
	case phase == messaging.PhaseRetrying:
		l.notifier.Notify(res.UserID, notify.ProcessingRetrying(jobType, res.SubjectID, res.Message))
	default:
		l.logger.Debug("Ignoring event",
			slog.String("routing_key", routingKey),
		)
	}
}

func subjectOf(kind string) string {
	subject, _, _ := strings.Cut(kind, ".")
	return subject
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
