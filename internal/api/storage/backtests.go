package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/stratlab/stratlab-be/internal/api/domain"
	"github.com/stratlab/stratlab-be/internal/api/model"
)

func (s *Storage) CreateBacktest(ctx context.Context, bt *model.Backtest) error {
	query := `
		INSERT INTO backtests (
			backtest_id, user_id, strategy_id, status, params,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		bt.BacktestID,
		bt.UserID,
		bt.StrategyID,
		bt.Status,
		bt.Params,
		bt.CreatedAt,
		bt.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create backtest: %w", err)
	}

	return nil
}

func (s *Storage) GetBacktest(ctx context.Context, backtestID string) (*model.Backtest, error) {
	var bt model.Backtest
	query := `
		SELECT
			backtest_id, user_id, strategy_id, status, params,
			result, error, processing_time_ms,
			created_at, updated_at, heartbeat_at
		FROM backtests
		WHERE backtest_id = $1
	`

	err := s.db.GetContext(ctx, &bt, query, backtestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBacktestNotFound
		}
		return nil, fmt.Errorf("failed to get backtest: %w", err)
	}

	return &bt, nil
}

type BacktestFilter struct {
	UserID     string
	Status     string
	StrategyID string
	PageSize   int
	Cursor     *Cursor
}

func (s *Storage) ListBacktests(ctx context.Context, filter BacktestFilter) ([]model.Backtest, error) {
	query := `
		SELECT
			backtest_id, user_id, strategy_id, status, params,
			result, error, processing_time_ms,
			created_at, updated_at, heartbeat_at
		FROM backtests
		WHERE user_id = $1
	`
	args := []interface{}{filter.UserID}
	argIdx := 2

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.StrategyID != "" {
		query += fmt.Sprintf(" AND strategy_id = $%d", argIdx)
		args = append(args, filter.StrategyID)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, backtest_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, backtest_id DESC"

	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var backtests []model.Backtest
	err := s.db.SelectContext(ctx, &backtests, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list backtests: %w", err)
	}

	return backtests, nil
}
