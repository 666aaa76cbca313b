package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stratlab/stratlab-be/internal/api/handler"
	"github.com/stratlab/stratlab-be/internal/api/ws"
	"github.com/stratlab/stratlab-be/internal/auth"
)

// Dependencies holds everything the router wires together.
type Dependencies struct {
	Handler  *handler.Dependencies
	Health   *handler.HealthHandler
	WS       *ws.Handler
	Verifier auth.Verifier
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Handler.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", deps.Health.Health)

	// Prometheus metrics endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// WebSocket endpoint, authenticates via token query parameter after
	// the upgrade
	r.GET("/ws", deps.WS.Serve)

	documentHandler := handler.NewDocumentHandler(deps.Handler)
	backtestHandler := handler.NewBacktestHandler(deps.Handler)
	strategyHandler := handler.NewStrategyHandler(deps.Handler)

	// API v1 routes
	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(deps.Verifier, deps.Handler.Logger))
	{
		documents := v1.Group("/documents")
		{
			// POST /api/v1/documents - Upload a document for processing
			documents.POST("", documentHandler.UploadDocument)

			// GET /api/v1/documents - List documents with filtering and pagination
			documents.GET("", documentHandler.ListDocuments)

			// GET /api/v1/documents/:document_id - Get document details
			documents.GET("/:document_id", documentHandler.GetDocument)
		}

		backtests := v1.Group("/backtests")
		{
			// POST /api/v1/backtests - Queue a backtest run
			backtests.POST("", backtestHandler.CreateBacktest)

			// GET /api/v1/backtests - List backtests with filtering and pagination
			backtests.GET("", backtestHandler.ListBacktests)

			// GET /api/v1/backtests/:backtest_id - Get backtest details
			backtests.GET("/:backtest_id", backtestHandler.GetBacktest)
		}

		strategies := v1.Group("/strategies")
		{
			// GET /api/v1/strategies - List extracted strategies
			strategies.GET("", strategyHandler.ListStrategies)

			// GET /api/v1/strategies/:strategy_id - Get strategy details
			strategies.GET("/:strategy_id", strategyHandler.GetStrategy)
		}
	}

	return r
}
