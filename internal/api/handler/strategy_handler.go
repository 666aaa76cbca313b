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
	"github.com/stratlab/stratlab-be/internal/auth"
)

const maxStrategiesPerList = 200

// GetStrategy handles GET /api/v1/strategies/:strategy_id
func (h *StrategyHandler) GetStrategy(c *gin.Context) {
	userID := c.GetString(auth.ContextUserKey)
	strategyID := c.Param("strategy_id")

	h.logger.Info("GetStrategy called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("strategy_id", strategyID),
	)

	if _, err := uuid.Parse(strategyID); err != nil {
		h.logger.Error("Invalid strategy_id format", slog.String("strategy_id", strategyID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "strategy_id must be a valid UUID",
		})
		return
	}

	strat, err := h.store.GetStrategy(c.Request.Context(), strategyID)
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

	c.JSON(http.StatusOK, strategyDTO(strat))
}

// ListStrategies handles GET /api/v1/strategies
// Lists strategies extracted from the caller's documents, newest first.
func (h *StrategyHandler) ListStrategies(c *gin.Context) {
	userID := c.GetString(auth.ContextUserKey)

	h.logger.Info("ListStrategies called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	strategies, err := h.store.ListStrategies(c.Request.Context(), userID, maxStrategiesPerList)
	if err != nil {
		h.logger.Error("Failed to list strategies", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list strategies",
		})
		return
	}

	stratResponse := make([]dto.StrategyDTO, len(strategies))
	for i := range strategies {
		stratResponse[i] = strategyDTO(&strategies[i])
	}

	c.JSON(http.StatusOK, dto.ListStrategiesResponse{
		Strategies: stratResponse,
	})
}

func strategyDTO(strat *model.Strategy) dto.StrategyDTO {
	return dto.StrategyDTO{
		StrategyID:  strat.StrategyID,
		DocumentID:  strat.DocumentID,
		Name:        strat.Name,
		Description: strat.Description,
		Params:      json.RawMessage(strat.Params),
		CreatedAt:   strat.CreatedAt.Format(time.RFC3339),
	}
}
