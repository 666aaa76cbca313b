package handler

import (
	"context"
	"io"
	"log/slog"

	"github.com/stratlab/stratlab-be/internal/api/model"
	"github.com/stratlab/stratlab-be/internal/api/notify"
	"github.com/stratlab/stratlab-be/internal/api/storage"
	"github.com/stratlab/stratlab-be/shared/messaging"
)

// Store is the persistence surface the handlers use. *storage.Storage
// implements it.
type Store interface {
	CreateDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, documentID string) (*model.Document, error)
	ListDocuments(ctx context.Context, filter storage.DocumentFilter) ([]model.Document, error)
	CreateBacktest(ctx context.Context, bt *model.Backtest) error
	GetBacktest(ctx context.Context, backtestID string) (*model.Backtest, error)
	ListBacktests(ctx context.Context, filter storage.BacktestFilter) ([]model.Backtest, error)
	GetStrategy(ctx context.Context, strategyID string) (*model.Strategy, error)
	ListStrategies(ctx context.Context, userID string, limit int) ([]model.Strategy, error)
}

// FileStore is the object storage surface the handlers use.
// *objectstore.Store implements it.
type FileStore interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error
	Delete(ctx context.Context, key string) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger        *slog.Logger
	Store         Store
	Files         FileStore
	Publisher     messaging.EventPublisher
	Notifier      *notify.Notifier
	MaxUploadSize int64
}

// DocumentHandler handles document upload and retrieval requests
type DocumentHandler struct {
	logger        *slog.Logger
	store         Store
	files         FileStore
	publisher     messaging.EventPublisher
	notifier      *notify.Notifier
	maxUploadSize int64
}

// NewDocumentHandler creates a new DocumentHandler instance
func NewDocumentHandler(deps *Dependencies) *DocumentHandler {
	return &DocumentHandler{
		logger:        deps.Logger,
		store:         deps.Store,
		files:         deps.Files,
		publisher:     deps.Publisher,
		notifier:      deps.Notifier,
		maxUploadSize: deps.MaxUploadSize,
	}
}

// BacktestHandler handles backtest submission and retrieval requests
type BacktestHandler struct {
	logger    *slog.Logger
	store     Store
	publisher messaging.EventPublisher
}

// NewBacktestHandler creates a new BacktestHandler instance
func NewBacktestHandler(deps *Dependencies) *BacktestHandler {
	return &BacktestHandler{
		logger:    deps.Logger,
		store:     deps.Store,
		publisher: deps.Publisher,
	}
}

// StrategyHandler serves strategies extracted from uploaded documents
type StrategyHandler struct {
	logger *slog.Logger
	store  Store
}

// NewStrategyHandler creates a new StrategyHandler instance
func NewStrategyHandler(deps *Dependencies) *StrategyHandler {
	return &StrategyHandler{
		logger: deps.Logger,
		store:  deps.Store,
	}
}
