package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Messaging metrics.
var (
	MessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stratlab",
		Subsystem: "messaging",
		Name:      "published_total",
		Help:      "Messages published to the broker, by routing key.",
	}, []string{"routing_key"})

	MessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stratlab",
		Subsystem: "messaging",
		Name:      "consumed_total",
		Help:      "Work deliveries by kind and disposition.",
	}, []string{"kind", "disposition"})

	ProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stratlab",
		Subsystem: "messaging",
		Name:      "processing_duration_seconds",
		Help:      "Time spent processing one work message.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})
)

// Delivery dispositions for MessagesConsumed.
const (
	DispositionCompleted    = "completed"
	DispositionRetried      = "retried"
	DispositionDeadLettered = "dead_lettered"
	DispositionPoison       = "poison"
	DispositionRequeued     = "requeued"
)

// WebSocket metrics.
var (
	WSConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "stratlab",
		Subsystem: "ws",
		Name:      "connections_active",
		Help:      "Open WebSocket connections.",
	})

	WSUsersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "stratlab",
		Subsystem: "ws",
		Name:      "users_active",
		Help:      "Users with at least one open WebSocket connection.",
	})

	WSSendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stratlab",
		Subsystem: "ws",
		Name:      "send_failures_total",
		Help:      "Writes that failed and caused the connection to be dropped.",
	})
)

// Notification metrics.
var (
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stratlab",
		Subsystem: "notify",
		Name:      "sent_total",
		Help:      "Notification events dispatched to clients, by event type.",
	}, []string{"event_type"})

	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stratlab",
		Subsystem: "notify",
		Name:      "dropped_total",
		Help:      "Notification events dropped because the dispatch queue was full.",
	})
)

// Janitor metrics.
var (
	StaleJobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stratlab",
		Subsystem: "janitor",
		Name:      "stale_jobs_failed_total",
		Help:      "Jobs marked failed because their heartbeat went stale.",
	})
)
