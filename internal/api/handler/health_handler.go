package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// DatabaseHealth reports whether the database is reachable.
// *postgresql.Client implements it.
type DatabaseHealth interface {
	HealthCheck(ctx context.Context) error
}

// BrokerHealth reports whether the message broker connection is up.
// *rabbitmq.Client implements it.
type BrokerHealth interface {
	IsConnected() bool
}

// HealthHandler reports service liveness and dependency status
type HealthHandler struct {
	logger  *slog.Logger
	service string
	db      DatabaseHealth
	broker  BrokerHealth
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(service string, db DatabaseHealth, broker BrokerHealth, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		logger:  logger,
		service: service,
		db:      db,
		broker:  broker,
	}
}

// Health handles GET /health
// Returns 200 when all dependencies are reachable, 503 otherwise.
func (h *HealthHandler) Health(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	if h.db != nil {
		if err := h.db.HealthCheck(c.Request.Context()); err != nil {
			h.logger.Warn("Database health check failed", slog.String("error", err.Error()))
			checks["database"] = "unreachable"
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}

	if h.broker != nil {
		if h.broker.IsConnected() {
			checks["rabbitmq"] = "ok"
		} else {
			checks["rabbitmq"] = "disconnected"
			healthy = false
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":  status,
		"service": h.service,
		"checks":  checks,
	})
}
