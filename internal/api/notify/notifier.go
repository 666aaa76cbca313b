package notify

import (
	"log/slog"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/stratlab/stratlab-be/shared/metrics"
)

const defaultQueueSize = 256

// Sender delivers a payload to live connections and reports how many
// received it.
type Sender interface {
	SendToUser(userID string, payload []byte) int
	Broadcast(payload []byte) int
}

type delivery struct {
	userID string
	event  Event
}

// Notifier decouples request handling from WebSocket delivery. Events
// are queued and pushed by a single dispatcher goroutine; when the
// queue is full the event is dropped, never the caller blocked. Push
// notifications are best-effort by contract, so a drop is a logged
// metric, not an error.
type Notifier struct {
	sender Sender
	logger *slog.Logger
	queue  chan delivery
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewNotifier(sender Sender, queueSize int, logger *slog.Logger) *Notifier {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	n := &Notifier{
		sender: sender,
		logger: logger,
		queue:  make(chan delivery, queueSize),
		done:   make(chan struct{}),
	}
	go n.dispatch()
	return n
}

// Notify queues event for delivery to all of userID's connections.
func (n *Notifier) Notify(userID string, event Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return
	}

	select {
	case n.queue <- delivery{userID: userID, event: event}:
	default:
		metrics.NotificationsDropped.Inc()
		n.logger.Warn("Notification queue full, dropping event",
			slog.String("event_type", event.Type),
			slog.String("user_id", userID),
		)
	}
}

func (n *Notifier) dispatch() {
	defer close(n.done)

	for d := range n.queue {
		payload, err := json.Marshal(d.event)
		if err != nil {
			n.logger.Error("Failed to marshal notification",
				slog.String("event_type", d.event.Type),
				slog.Any("error", err),
			)
			continue
		}

		// Events without an addressee go to every connection.
		var delivered int
		if d.userID == "" {
			delivered = n.sender.Broadcast(payload)
		} else {
			delivered = n.sender.SendToUser(d.userID, payload)
		}
		metrics.NotificationsSent.WithLabelValues(d.event.Type).Inc()
		n.logger.Debug("Notification dispatched",
			slog.String("event_type", d.event.Type),
			slog.String("user_id", d.userID),
			slog.Int("delivered", delivered),
		)
	}
}

// Close stops accepting events, lets the dispatcher drain what is
// already queued, and waits for it to finish.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return
	}
	n.closed = true
	n.mu.Unlock()

	close(n.queue)
	<-n.done
}
