package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stratlab/stratlab-be/internal/config"
	"github.com/stratlab/stratlab-be/internal/worker"
	"github.com/stratlab/stratlab-be/shared/logger"
	"github.com/stratlab/stratlab-be/shared/objectstore"
	"github.com/stratlab/stratlab-be/shared/postgresql"
	"github.com/stratlab/stratlab-be/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	// Initialize RabbitMQ client and connect with startup retry
	rabbitClient := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err := connectBroker(context.Background(), rabbitClient); err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer rabbitClient.Disconnect()

	// Initialize S3 object storage
	objStore, err := initObjectStore(context.Background(), &cfg.Storage, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize object storage: %w", err)
	}

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:               appLogger.Logger,
		DB:                   dbClient,
		Broker:               rabbitClient,
		Files:                objStore,
		Queue:                cfg.RabbitMQ.Topology.WorkQueue,
		ConsumerTag:          cfg.RabbitMQ.Consumer.Tag,
		Concurrency:          cfg.Worker.Concurrency,
		MaxRetries:           cfg.RabbitMQ.Consumer.MaxRetries,
		JobTimeout:           cfg.Worker.JobTimeout,
		HeartbeatInterval:    cfg.Worker.HeartbeatInterval,
		ReconnectMaxInterval: cfg.RabbitMQ.Consumer.ReconnectMaxInterval,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	// Expose health and metrics over HTTP
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      initHealthRouter(cfg.App.Environment, cfg.App.Name, dbClient, rabbitClient),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Health server failed to start",
				slog.Any("error", err),
			)
		}
	}()

	appLogger.Info("Worker service started successfully",
		slog.String("health_address", addr),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	// Let in-flight jobs finish before tearing anything down
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer drainCancel()

	if err := workerInstance.Stop(drainCtx); err != nil {
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit",
			slog.Any("error", err),
		)
	} else {
		appLogger.Info("Worker stopped gracefully")
	}

	if err := srv.Shutdown(drainCtx); err != nil {
		appLogger.Error("Health server forced to shutdown",
			slog.Any("error", err),
		)
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ builds the RabbitMQ client with the shared topology.
// The worker declares the event queue too, so results published before
// the API service ever starts are not dropped by the exchange.
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) *rabbitmq.Client {
	rabbitConfig := &rabbitmq.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		User:        cfg.User,
		Password:    cfg.Password,
		VHost:       cfg.VHost,
		Heartbeat:   cfg.Heartbeat,
		DialTimeout: cfg.DialTimeout,
		Topology: rabbitmq.Topology{
			Exchange:           cfg.Topology.Exchange,
			DeadLetterExchange: cfg.Topology.DeadLetterExchange,
			DeadLetterQueue:    cfg.Topology.DeadLetterQueue,
			WorkQueue:          cfg.Topology.WorkQueue,
			WorkBindings:       cfg.Topology.WorkBindings,
			EventQueue:         cfg.Topology.EventQueue,
			EventBindings:      cfg.Topology.EventBindings,
		},
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// connectBroker dials the broker under exponential backoff so the
// service survives starting before RabbitMQ does.
func connectBroker(ctx context.Context, client *rabbitmq.Client) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, client.Connect(ctx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(time.Minute))
	return err
}

// initObjectStore initializes the S3 document store
func initObjectStore(ctx context.Context, cfg *config.StorageConfig, logger *slog.Logger) (*objectstore.Store, error) {
	storeConfig := &objectstore.Config{
		Region:          cfg.Region,
		Bucket:          cfg.Bucket,
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		UsePathStyle:    cfg.UsePathStyle,
	}

	return objectstore.NewStore(ctx, storeConfig, logger)
}

// initHealthRouter builds the worker's small HTTP surface: liveness
// plus Prometheus metrics.
func initHealthRouter(environment, service string, db *postgresql.Client, broker *rabbitmq.Client) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		checks := gin.H{}
		healthy := true

		if err := db.HealthCheck(c.Request.Context()); err != nil {
			checks["database"] = "unreachable"
			healthy = false
		} else {
			checks["database"] = "ok"
		}

		if broker.IsConnected() {
			checks["rabbitmq"] = "ok"
		} else {
			checks["rabbitmq"] = "disconnected"
			healthy = false
		}

		status := http.StatusOK
		state := "healthy"
		if !healthy {
			status = http.StatusServiceUnavailable
			state = "degraded"
		}
		c.JSON(status, gin.H{
			"status":  state,
			"service": service,
			"checks":  checks,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
