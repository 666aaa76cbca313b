package dto

import "encoding/json"

type ListStrategiesResponse struct {
	Strategies []StrategyDTO `json:"strategies"`
}

type StrategyDTO struct {
	StrategyID  string          `json:"strategy_id"`
	DocumentID  string          `json:"document_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Params      json.RawMessage `json:"params,omitempty"`
	CreatedAt   string          `json:"created_at"`
}
