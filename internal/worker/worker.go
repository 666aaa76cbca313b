package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/stratlab/stratlab-be/internal/worker/jobs"
	"github.com/stratlab/stratlab-be/internal/worker/storage"
	"github.com/stratlab/stratlab-be/shared/messaging"
	"github.com/stratlab/stratlab-be/shared/objectstore"
	"github.com/stratlab/stratlab-be/shared/postgresql"
	"github.com/stratlab/stratlab-be/shared/rabbitmq"
)

// Config holds worker configuration
type Config struct {
	Logger *slog.Logger
	DB     *postgresql.Client
	Broker *rabbitmq.Client
	Files  *objectstore.Store

	Queue                string
	ConsumerTag          string
	Concurrency          int
	MaxRetries           int
	JobTimeout           time.Duration
	HeartbeatInterval    time.Duration
	ReconnectMaxInterval time.Duration
}

// Worker consumes work messages and dispatches them to the job
// handlers.
type Worker struct {
	logger      *slog.Logger
	consumer    *messaging.Consumer
	concurrency int
	jobTimeout  time.Duration
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	store := storage.NewStorage(cfg.DB, cfg.Logger)
	pub := messaging.NewPublisher(cfg.Broker, cfg.Logger)

	consumer := messaging.NewConsumer(cfg.Broker, pub, messaging.ConsumerConfig{
		Queue:                cfg.Queue,
		ConsumerTag:          cfg.ConsumerTag,
		Prefetch:             cfg.Concurrency,
		MaxRetries:           cfg.MaxRetries,
		JobTimeout:           cfg.JobTimeout,
		ReconnectMaxInterval: cfg.ReconnectMaxInterval,
	}, cfg.Logger)

	document := jobs.NewDocumentJob(store, cfg.Files, pub, cfg.MaxRetries, cfg.HeartbeatInterval, cfg.Logger)
	backtest := jobs.NewBacktestJob(store, pub, cfg.MaxRetries, cfg.HeartbeatInterval, cfg.Logger)

	consumer.Register(messaging.KindDocumentProcess, document.Handle)
	consumer.Register(messaging.KindBacktestExecute, backtest.Handle)

	return &Worker{
		logger:      cfg.Logger,
		consumer:    consumer,
		concurrency: cfg.Concurrency,
		jobTimeout:  cfg.JobTimeout,
	}
}

// Start begins processing jobs. It blocks until Stop is called or ctx
// is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)
	return w.consumer.Start(ctx)
}

// Stop gracefully stops the worker, waiting for in-flight jobs until
// ctx expires.
func (w *Worker) Stop(ctx context.Context) error {
	w.logger.Info("Stopping worker...")
	return w.consumer.Stop(ctx)
}
