package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/stratlab/stratlab-be/internal/api/domain"
	"github.com/stratlab/stratlab-be/internal/api/model"
)

func (s *Storage) GetStrategy(ctx context.Context, strategyID string) (*model.Strategy, error) {
	var st model.Strategy
	query := `
		SELECT
			strategy_id, document_id, user_id, name, description,
			params, created_at
		FROM strategies
		WHERE strategy_id = $1
	`

	err := s.db.GetContext(ctx, &st, query, strategyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrStrategyNotFound
		}
		return nil, fmt.Errorf("failed to get strategy: %w", err)
	}

	return &st, nil
}

func (s *Storage) ListStrategies(ctx context.Context, userID string, limit int) ([]model.Strategy, error) {
	query := `
		SELECT
			strategy_id, document_id, user_id, name, description,
			params, created_at
		FROM strategies
		WHERE user_id = $1
		ORDER BY created_at DESC, strategy_id DESC
		LIMIT $2
	`

	var strategies []model.Strategy
	err := s.db.SelectContext(ctx, &strategies, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list strategies: %w", err)
	}

	return strategies, nil
}
