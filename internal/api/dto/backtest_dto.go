package dto

import "encoding/json"

type CreateBacktestRequest struct {
	StrategyID string         `json:"strategy_id" binding:"required"`
	Params     map[string]any `json:"params"`
}

type ListBacktestsRequest struct {
	Status     string `form:"status"`
	StrategyID string `form:"strategy_id"`
	PageSize   int    `form:"page_size"`
	Cursor     string `form:"cursor"`
}

type ListBacktestsResponse struct {
	Backtests  []BacktestDTO `json:"backtests"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type BacktestDTO struct {
	BacktestID       string          `json:"backtest_id"`
	StrategyID       string          `json:"strategy_id"`
	Status           string          `json:"status"`
	Params           json.RawMessage `json:"params,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`
	Error            string          `json:"error,omitempty"`
	ProcessingTimeMs *int64          `json:"processing_time_ms,omitempty"`
	CreatedAt        string          `json:"created_at"`
	UpdatedAt        string          `json:"updated_at"`
}
