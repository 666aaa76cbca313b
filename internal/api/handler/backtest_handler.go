package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stratlab/stratlab-be/internal/api/domain"
	"github.com/stratlab/stratlab-be/internal/api/dto"
	"github.com/stratlab/stratlab-be/internal/api/model"
	"github.com/stratlab/stratlab-be/internal/api/storage"
	"github.com/stratlab/stratlab-be/internal/auth"
	"github.com/stratlab/stratlab-be/shared/messaging"
)

// CreateBacktest handles POST /api/v1/backtests
// Validates the referenced strategy, records the backtest and queues it
// for execution.
func (h *BacktestHandler) CreateBacktest(c *gin.Context) {
	userID := c.GetString(auth.ContextUserKey)

	h.logger.Info("CreateBacktest called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("user_id", userID),
	)

	var req dto.CreateBacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	strat, err := h.store.GetStrategy(c.Request.Context(), req.StrategyID)
	if err != nil {
		if errors.Is(err, domain.ErrStrategyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "strategy not found",
			})
			return
		}
		h.logger.Error("Failed to get strategy", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get strategy",
		})
		return
	}
	if strat.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "strategy not found",
		})
		return
	}

	params := "{}"
	if req.Params != nil {
		raw, err := json.Marshal(req.Params)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "params must be a JSON object",
			})
			return
		}
		params = string(raw)
	}

	now := time.Now()
	bt := model.Backtest{
		BacktestID: uuid.New().String(),
		UserID:     userID,
		StrategyID: strat.StrategyID,
		Status:     domain.StatusPending,
		Params:     params,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := h.store.CreateBacktest(c.Request.Context(), &bt); err != nil {
		h.logger.Error("Failed to create backtest", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create backtest",
		})
		return
	}

	work := messaging.NewBacktestWork(messaging.BacktestPayload{
		BacktestID: bt.BacktestID,
		UserID:     userID,
		StrategyID: strat.StrategyID,
	}, req.Params)

	if _, err := h.publisher.Publish(c.Request.Context(), work.Kind, work); err != nil {
		h.logger.Error("Failed to queue backtest",
			slog.String("backtest_id", bt.BacktestID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to queue backtest",
		})
		return
	}

	h.logger.Info("Backtest queued",
		slog.String("backtest_id", bt.BacktestID),
		slog.String("strategy_id", strat.StrategyID),
	)

	c.JSON(http.StatusCreated, backtestDTO(&bt))
}

// GetBacktest handles GET /api/v1/backtests/:backtest_id
// Retrieves one of the caller's backtests, including results when done.
func (h *BacktestHandler) GetBacktest(c *gin.Context) {
	userID := c.GetString(auth.ContextUserKey)
	backtestID := c.Param("backtest_id")

	h.logger.Info("GetBacktest called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("backtest_id", backtestID),
	)

	if _, err := uuid.Parse(backtestID); err != nil {
		h.logger.Error("Invalid backtest_id format", slog.String("backtest_id", backtestID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "backtest_id must be a valid UUID",
		})
		return
	}

	bt, err := h.store.GetBacktest(c.Request.Context(), backtestID)
	if err != nil {
		if errors.Is(err, domain.ErrBacktestNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "backtest not found",
			})
			return
		}
		h.logger.Error("Failed to get backtest", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get backtest",
		})
		return
	}

	if bt.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "backtest not found",
		})
		return
	}

	c.JSON(http.StatusOK, backtestDTO(bt))
}

// ListBacktests handles GET /api/v1/backtests
// Lists the caller's backtests with optional filtering and pagination.
func (h *BacktestHandler) ListBacktests(c *gin.Context) {
	userID := c.GetString(auth.ContextUserKey)

	h.logger.Info("ListBacktests called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
	)

	var req dto.ListBacktestsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.BacktestFilter{
		UserID:     userID,
		Status:     req.Status,
		StrategyID: req.StrategyID,
		PageSize:   req.PageSize,
		Cursor:     cursor,
	}

	backtests, err := h.store.ListBacktests(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list backtests", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list backtests",
		})
		return
	}

	hasMore := len(backtests) > req.PageSize
	if hasMore {
		backtests = backtests[:req.PageSize]
	}

	btResponse := make([]dto.BacktestDTO, len(backtests))
	for i := range backtests {
		btResponse[i] = backtestDTO(&backtests[i])
	}

	var nextCursor string
	if hasMore {
		last := backtests[len(backtests)-1]
		nextCursor, err = EncodeCursor(&storage.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.BacktestID,
		})
		if err != nil {
			h.logger.Error("Failed to encode next cursor", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to encode next cursor",
			})
			return
		}
	}

	c.JSON(http.StatusOK, dto.ListBacktestsResponse{
		Backtests:  btResponse,
		NextCursor: nextCursor,
	})
}

func backtestDTO(bt *model.Backtest) dto.BacktestDTO {
	d := dto.BacktestDTO{
		BacktestID:       bt.BacktestID,
		StrategyID:       bt.StrategyID,
		Status:           bt.Status,
		Params:           json.RawMessage(bt.Params),
		ProcessingTimeMs: bt.ProcessingTimeMs,
		CreatedAt:        bt.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        bt.UpdatedAt.Format(time.RFC3339),
	}
	if bt.Result != nil {
		d.Result = json.RawMessage(*bt.Result)
	}
	if bt.Error != nil {
		d.Error = *bt.Error
	}
	return d
}
