package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/stratlab/stratlab-be/internal/api/domain"
	"github.com/stratlab/stratlab-be/shared/postgresql"
)

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

// Cursor marks a position in a created_at DESC, id DESC listing.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// StaleJob identifies a row the sweeper just failed.
type StaleJob struct {
	ID     string `db:"id"`
	UserID string `db:"user_id"`
}

// FailStaleDocuments marks documents as failed when their worker has
// not reported progress since cutoff, and returns the affected rows.
// Pending rows count too: their last sign of life is creation.
func (s *Storage) FailStaleDocuments(ctx context.Context, cutoff time.Time, reason string) ([]StaleJob, error) {
	query := `
		UPDATE documents
		SET status = $1, error = $2, updated_at = NOW()
		WHERE status IN ($3, $4, $5)
		  AND COALESCE(heartbeat_at, created_at) < $6
		RETURNING document_id AS id, user_id
	`

	var stale []StaleJob
	err := s.db.SelectContext(ctx, &stale, query,
		domain.StatusFailed,
		reason,
		domain.StatusPending,
		domain.StatusProcessing,
		domain.StatusRetrying,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep stale documents: %w", err)
	}

	return stale, nil
}

// FailStaleBacktests is the backtest counterpart of FailStaleDocuments.
func (s *Storage) FailStaleBacktests(ctx context.Context, cutoff time.Time, reason string) ([]StaleJob, error) {
	query := `
		UPDATE backtests
		SET status = $1, error = $2, updated_at = NOW()
		WHERE status IN ($3, $4, $5)
		  AND COALESCE(heartbeat_at, created_at) < $6
		RETURNING backtest_id AS id, user_id
	`

	var stale []StaleJob
	err := s.db.SelectContext(ctx, &stale, query,
		domain.StatusFailed,
		reason,
		domain.StatusPending,
		domain.StatusProcessing,
		domain.StatusRetrying,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep stale backtests: %w", err)
	}

	return stale, nil
}
