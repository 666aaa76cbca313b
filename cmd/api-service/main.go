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

	"github.com/stratlab/stratlab-be/internal/api/events"
	"github.com/stratlab/stratlab-be/internal/api/handler"
	"github.com/stratlab/stratlab-be/internal/api/janitor"
	"github.com/stratlab/stratlab-be/internal/api/notify"
	"github.com/stratlab/stratlab-be/internal/api/router"
	"github.com/stratlab/stratlab-be/internal/api/storage"
	"github.com/stratlab/stratlab-be/internal/api/ws"
	"github.com/stratlab/stratlab-be/internal/auth"
	"github.com/stratlab/stratlab-be/internal/config"
	"github.com/stratlab/stratlab-be/shared/logger"
	"github.com/stratlab/stratlab-be/shared/messaging"
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
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting API service",
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

	store := storage.NewStorage(dbClient)
	publisher := messaging.NewPublisher(rabbitClient, appLogger.Logger)
	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	// WebSocket registry and the notifier that feeds it
	registry := ws.NewRegistry(cfg.WebSocket.WriteTimeout, appLogger.Logger)
	notifier := notify.NewNotifier(registry, cfg.Notifier.QueueSize, appLogger.Logger)
	wsHandler := ws.NewHandler(registry, verifier, cfg.WebSocket.ReadLimit, appLogger.Logger)

	// Relay worker events from the broker to connected clients
	listener := events.NewListener(rabbitClient, notifier, cfg.App.Name, cfg.RabbitMQ.Consumer.ReconnectMaxInterval, appLogger.Logger)
	go func() {
		if err := listener.Start(context.Background()); err != nil {
			appLogger.Error("Event listener stopped",
				slog.Any("error", err),
			)
		}
	}()

	// Sweep jobs whose worker died mid-processing
	sweeper := janitor.New(store, notifier, cfg.Scheduler.SweepSchedule, cfg.Scheduler.StaleAfter, appLogger.Logger)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start janitor: %w", err)
	}

	// Initialize router
	r := initRouter(cfg.App.Environment, &router.Dependencies{
		Handler: &handler.Dependencies{
			Logger:        appLogger.Logger,
			Store:         store,
			Files:         objStore,
			Publisher:     publisher,
			Notifier:      notifier,
			MaxUploadSize: cfg.Storage.MaxUploadSize,
		},
		Health:   handler.NewHealthHandler(cfg.App.Name, dbClient, rabbitClient, appLogger.Logger),
		WS:       wsHandler,
		Verifier: verifier,
	})

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
	}

	// Stop producers before the things they feed: the sweeper and the
	// listener enqueue notifications, the notifier pushes to the
	// registry.
	sweeper.Stop()
	if err := listener.Stop(ctx); err != nil {
		appLogger.Warn("Event listener did not drain in time",
			slog.Any("error", err),
		)
	}
	notifier.Close()
	registry.CloseAll()

	appLogger.Info("Server shutdown complete")
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

// initRabbitMQ builds the RabbitMQ client with the shared topology
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

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *router.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
