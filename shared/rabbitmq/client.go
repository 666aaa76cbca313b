package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds RabbitMQ connection configuration
type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	VHost       string
	Heartbeat   time.Duration
	DialTimeout time.Duration
	Topology    Topology
}

// Topology describes the exchanges, queues, and bindings the client
// declares on every connect. Declarations are idempotent on the broker
// as long as the attributes match.
type Topology struct {
	Exchange           string
	DeadLetterExchange string
	DeadLetterQueue    string

	// WorkQueue is the durable queue work messages land on. Messages
	// rejected without requeue are routed to the dead letter queue.
	WorkQueue    string
	WorkBindings []string

	// EventQueue receives result and progress events for client push.
	// Empty means the consuming process does not declare one.
	EventQueue    string
	EventBindings []string
}

// Client owns one AMQP connection and one channel. It is constructed
// disconnected; Connect must be called before use. All supervision
// (initial retry, reconnect) belongs to the caller.
type Client struct {
	config *Config
	logger *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewClient creates a disconnected RabbitMQ client.
func NewClient(config *Config, logger *slog.Logger) *Client {
	return &Client{
		config: config,
		logger: logger,
	}
}

// Connect dials the broker, opens a channel, and declares the topology.
// It is a no-op when the client is already connected. On partial failure
// every handle is closed and cleared before the error is returned, so
// the client is never observable in a half-connected state. Errors
// propagate to the caller unchanged; there is no retry here.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected() {
		return nil
	}

	// A previous connection may have died; drop its handles first.
	c.teardown()

	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.config.User,
		c.config.Password,
		c.config.Host,
		c.config.Port,
		c.config.VHost,
	)

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Dial:      amqp.DefaultDial(c.config.DialTimeout),
		Locale:    "en_US",
	}

	conn, err := amqp.DialConfig(dsn, amqpConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ at %s:%d: %w", c.config.Host, c.config.Port, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareTopology(channel, c.config.Topology); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare topology: %w", err)
	}

	c.conn = conn
	c.channel = channel

	c.logger.Info("Connected to RabbitMQ",
		slog.String("host", c.config.Host),
		slog.Int("port", c.config.Port),
		slog.String("exchange", c.config.Topology.Exchange),
	)

	return nil
}

// declareTopology declares exchanges first, then queues, then bindings.
func declareTopology(ch *amqp.Channel, t Topology) error {
	if err := ch.ExchangeDeclare(
		t.Exchange, // name
		"topic",    // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", t.Exchange, err)
	}

	if err := ch.ExchangeDeclare(
		t.DeadLetterExchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare dead letter exchange %s: %w", t.DeadLetterExchange, err)
	}

	// Rejected work messages are dead-lettered by the broker.
	workArgs := amqp.Table{
		"x-dead-letter-exchange":    t.DeadLetterExchange,
		"x-dead-letter-routing-key": t.DeadLetterQueue,
	}

	if _, err := ch.QueueDeclare(
		t.WorkQueue, // name
		true,        // durable
		false,       // auto-delete
		false,       // exclusive
		false,       // no-wait
		workArgs,
	); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", t.WorkQueue, err)
	}

	if _, err := ch.QueueDeclare(
		t.DeadLetterQueue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare dead letter queue %s: %w", t.DeadLetterQueue, err)
	}

	if t.EventQueue != "" {
		if _, err := ch.QueueDeclare(
			t.EventQueue,
			true,
			false,
			false,
			false,
			nil,
		); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", t.EventQueue, err)
		}
	}

	if err := ch.QueueBind(
		t.DeadLetterQueue,    // queue name
		t.DeadLetterQueue,    // routing key
		t.DeadLetterExchange, // exchange
		false,                // no-wait
		nil,                  // arguments
	); err != nil {
		return fmt.Errorf("failed to bind dead letter queue: %w", err)
	}

	for _, key := range t.WorkBindings {
		if err := ch.QueueBind(t.WorkQueue, key, t.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s to %s: %w", t.WorkQueue, key, err)
		}
	}

	for _, key := range t.EventBindings {
		if err := ch.QueueBind(t.EventQueue, key, t.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s to %s: %w", t.EventQueue, key, err)
		}
	}

	return nil
}

// Disconnect closes the channel and then the connection. Close errors
// are logged and swallowed; the handles are always cleared so a later
// Connect starts from a clean slate. Safe to call when not connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil && c.channel == nil {
		return
	}

	c.logger.Info("Closing RabbitMQ connection")
	c.teardown()
}

// teardown closes and clears both handles. Callers must hold c.mu.
func (c *Client) teardown() {
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ channel", slog.Any("error", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ connection", slog.Any("error", err))
		}
	}
	c.channel = nil
	c.conn = nil
}

// Channel returns the client's channel, connecting first if needed.
// Callers must not cache the returned channel across operations.
func (c *Client) Channel(ctx context.Context) (*amqp.Channel, error) {
	if !c.IsConnected() {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil {
		return nil, fmt.Errorf("not connected to RabbitMQ")
	}
	return c.channel, nil
}

// Exchange returns the name of the topic exchange all messages flow
// through.
func (c *Client) Exchange() string {
	return c.config.Topology.Exchange
}

// WorkQueue returns the name of the durable work queue.
func (c *Client) WorkQueue() string {
	return c.config.Topology.WorkQueue
}

// EventQueue returns the name of the event queue, if configured.
func (c *Client) EventQueue() string {
	return c.config.Topology.EventQueue
}

// IsConnected reports whether both the connection and the channel are
// live. The state is computed on every call, never cached, so it stays
// truthful after an unnoticed broker-side close.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected()
}

// connected is IsConnected without locking. Callers must hold c.mu.
func (c *Client) connected() bool {
	return c.conn != nil && !c.conn.IsClosed() &&
		c.channel != nil && !c.channel.IsClosed()
}
