package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/stratlab/stratlab-be/internal/worker/domain"
	"github.com/stratlab/stratlab-be/shared/postgresql"
)

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// ClaimedDocument is the slice of a document row the worker needs to
// process it.
type ClaimedDocument struct {
	DocumentID     string `db:"document_id"`
	UserID         string `db:"user_id"`
	Filename       string `db:"filename"`
	FileKey        string `db:"file_key"`
	ProcessingType string `db:"processing_type"`
}

// ClaimedBacktest is the slice of a backtest row the worker needs to
// execute it.
type ClaimedBacktest struct {
	BacktestID string `db:"backtest_id"`
	UserID     string `db:"user_id"`
	StrategyID string `db:"strategy_id"`
	Params     string `db:"params"`
}

// ExtractedStrategy is one strategy found in a document, ready to be
// persisted.
type ExtractedStrategy struct {
	StrategyID  string
	Name        string
	Description string
	Params      string
}

// ClaimDocument moves a pending or retrying document to processing
// using optimistic locking. Returns ErrJobNotFound when the row does
// not exist, ErrAlreadyClaimed when it is not claimable.
func (s *Storage) ClaimDocument(ctx context.Context, documentID string) (*ClaimedDocument, error) {
	query := `
		UPDATE documents
		SET status = $1,
		    heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE document_id = $2
		  AND status IN ($3, $4)
		RETURNING document_id, user_id, filename, file_key, processing_type
	`

	var doc ClaimedDocument
	err := s.db.GetContext(ctx, &doc, query,
		domain.StatusProcessing, documentID, domain.StatusPending, domain.StatusRetrying)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.claimMiss(ctx, "documents", "document_id", documentID)
		}
		return nil, fmt.Errorf("failed to claim document: %w", err)
	}

	s.logger.Info("Document claimed",
		slog.String("document_id", documentID),
		slog.String("processing_type", doc.ProcessingType),
	)
	return &doc, nil
}

// ClaimBacktest moves a pending or retrying backtest to processing
// using optimistic locking.
func (s *Storage) ClaimBacktest(ctx context.Context, backtestID string) (*ClaimedBacktest, error) {
	query := `
		UPDATE backtests
		SET status = $1,
		    heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE backtest_id = $2
		  AND status IN ($3, $4)
		RETURNING backtest_id, user_id, strategy_id, params
	`

	var bt ClaimedBacktest
	err := s.db.GetContext(ctx, &bt, query,
		domain.StatusProcessing, backtestID, domain.StatusPending, domain.StatusRetrying)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.claimMiss(ctx, "backtests", "backtest_id", backtestID)
		}
		return nil, fmt.Errorf("failed to claim backtest: %w", err)
	}

	s.logger.Info("Backtest claimed",
		slog.String("backtest_id", backtestID),
		slog.String("strategy_id", bt.StrategyID),
	)
	return &bt, nil
}

// claimMiss distinguishes a missing row from one another worker holds.
// table and idColumn are trusted literals, never user input.
func (s *Storage) claimMiss(ctx context.Context, table, idColumn, id string) error {
	var status string
	query := fmt.Sprintf("SELECT status FROM %s WHERE %s = $1", table, idColumn)

	err := s.db.GetContext(ctx, &status, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrJobNotFound
		}
		return fmt.Errorf("failed to check job status: %w", err)
	}
	return fmt.Errorf("%w: status is %s", domain.ErrAlreadyClaimed, status)
}

// GetStrategyParams returns the stored parameters of a strategy.
func (s *Storage) GetStrategyParams(ctx context.Context, strategyID string) (string, error) {
	var params string
	err := s.db.GetContext(ctx, &params,
		`SELECT params FROM strategies WHERE strategy_id = $1`, strategyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrStrategyNotFound
		}
		return "", fmt.Errorf("failed to get strategy params: %w", err)
	}
	return params, nil
}

// HeartbeatDocument refreshes the heartbeat of a processing document.
func (s *Storage) HeartbeatDocument(ctx context.Context, documentID string) error {
	return s.heartbeat(ctx, "documents", "document_id", documentID)
}

// HeartbeatBacktest refreshes the heartbeat of a processing backtest.
func (s *Storage) HeartbeatBacktest(ctx context.Context, backtestID string) error {
	return s.heartbeat(ctx, "backtests", "backtest_id", backtestID)
}

func (s *Storage) heartbeat(ctx context.Context, table, idColumn, id string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE %s = $1 AND status = $2
	`, table, idColumn)

	result, err := s.db.ExecContext(ctx, query, id, domain.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		s.logger.Warn("Heartbeat update - no rows affected (job may not be processing)",
			slog.String("job_id", id),
		)
	}
	return nil
}

// SaveExtraction stores the extracted text and any strategies found in
// one transaction, and marks the document completed.
func (s *Storage) SaveExtraction(ctx context.Context, documentID, userID, text string, strategies []ExtractedStrategy) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE documents
		SET status = $1,
		    extracted_text = $2,
		    error = NULL,
		    updated_at = NOW()
		WHERE document_id = $3
	`, domain.StatusCompleted, text, documentID)
	if err != nil {
		return fmt.Errorf("failed to store extracted text: %w", err)
	}

	for _, strat := range strategies {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO strategies (
				strategy_id, document_id, user_id, name, description, params, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		`, strat.StrategyID, documentID, userID, strat.Name, strat.Description, strat.Params)
		if err != nil {
			return fmt.Errorf("failed to store strategy %q: %w", strat.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit extraction: %w", err)
	}

	s.logger.Info("Extraction saved",
		slog.String("document_id", documentID),
		slog.Int("strategies", len(strategies)),
	)
	return nil
}

// SaveBacktestResult stores the result JSON and marks the backtest
// completed.
func (s *Storage) SaveBacktestResult(ctx context.Context, backtestID, result string, processingTimeMs int64) error {
	query := `
		UPDATE backtests
		SET status = $1,
		    result = $2,
		    processing_time_ms = $3,
		    error = NULL,
		    updated_at = NOW()
		WHERE backtest_id = $4
	`

	_, err := s.db.ExecContext(ctx, query, domain.StatusCompleted, result, processingTimeMs, backtestID)
	if err != nil {
		return fmt.Errorf("failed to save backtest result: %w", err)
	}

	s.logger.Info("Backtest result saved",
		slog.String("backtest_id", backtestID),
		slog.Int64("processing_time_ms", processingTimeMs),
	)
	return nil
}

// MarkDocumentRetrying records a transient failure ahead of a retry.
func (s *Storage) MarkDocumentRetrying(ctx context.Context, documentID, reason string) error {
	return s.setStatus(ctx, "documents", "document_id", documentID, domain.StatusRetrying, reason)
}

// MarkDocumentFailed records a terminal failure.
func (s *Storage) MarkDocumentFailed(ctx context.Context, documentID, reason string) error {
	return s.setStatus(ctx, "documents", "document_id", documentID, domain.StatusFailed, reason)
}

// MarkBacktestRetrying records a transient failure ahead of a retry.
func (s *Storage) MarkBacktestRetrying(ctx context.Context, backtestID, reason string) error {
	return s.setStatus(ctx, "backtests", "backtest_id", backtestID, domain.StatusRetrying, reason)
}

// MarkBacktestFailed records a terminal failure.
func (s *Storage) MarkBacktestFailed(ctx context.Context, backtestID, reason string) error {
	return s.setStatus(ctx, "backtests", "backtest_id", backtestID, domain.StatusFailed, reason)
}

func (s *Storage) setStatus(ctx context.Context, table, idColumn, id, status, reason string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1,
		    error = $2,
		    updated_at = NOW()
		WHERE %s = $3
	`, table, idColumn)

	_, err := s.db.ExecContext(ctx, query, status, reason, id)
	if err != nil {
		return fmt.Errorf("failed to mark job %s: %w", status, err)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", id),
		slog.String("status", status),
	)
	return nil
}
