package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/stratlab/stratlab-be/internal/api/domain"
	"github.com/stratlab/stratlab-be/internal/api/model"
)

func (s *Storage) CreateDocument(ctx context.Context, doc *model.Document) error {
	query := `
		INSERT INTO documents (
			document_id, user_id, filename, file_key, content_type,
			size_bytes, processing_type, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		doc.DocumentID,
		doc.UserID,
		doc.Filename,
		doc.FileKey,
		doc.ContentType,
		doc.SizeBytes,
		doc.ProcessingType,
		doc.Status,
		doc.CreatedAt,
		doc.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}

	return nil
}

func (s *Storage) GetDocument(ctx context.Context, documentID string) (*model.Document, error) {
	var doc model.Document
	query := `
		SELECT
			document_id, user_id, filename, file_key, content_type,
			size_bytes, processing_type, status, extracted_text, error,
			created_at, updated_at, heartbeat_at
		FROM documents
		WHERE document_id = $1
	`

	err := s.db.GetContext(ctx, &doc, query, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return &doc, nil
}

type DocumentFilter struct {
	UserID   string
	Status   string
	PageSize int
	Cursor   *Cursor
}

func (s *Storage) ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.Document, error) {
	query := `
		SELECT
			document_id, user_id, filename, file_key, content_type,
			size_bytes, processing_type, status, extracted_text, error,
			created_at, updated_at, heartbeat_at
		FROM documents
		WHERE user_id = $1
	`
	args := []interface{}{filter.UserID}
	argIdx := 2

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, document_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ID)
		argIdx += 2
	}

	// Order by created_at DESC, document_id DESC for consistent pagination
	query += " ORDER BY created_at DESC, document_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var docs []model.Document
	err := s.db.SelectContext(ctx, &docs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	return docs, nil
}
